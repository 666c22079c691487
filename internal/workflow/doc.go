// Package workflow holds the data model shared by the catalog client, the
// realtime channel and the execution orchestrator: agents, workflow steps,
// signed execution requests and per-agent execution results.
package workflow
