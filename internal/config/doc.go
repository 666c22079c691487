// Package config loads the SkyAgents client configuration from JSON or YAML
// files, resolves relative paths against the file location and fills in
// defaults for every section.
package config
