// Package api exposes the local HTTP surface of the client: agent browsing,
// wallet session control, execution submission and the per-agent status map.
// Browser extensions are allowed as CORS origins so a popup UI can drive the
// same service the command line uses.
package api
