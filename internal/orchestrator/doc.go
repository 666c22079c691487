// Package orchestrator drives a workflow execution attempt from the user's
// request to its terminal status: fetch the agent's workflow, authenticate,
// sign, submit over the realtime channel, then settle the per-agent status
// entry when the acknowledgment or an out-of-band event arrives.
package orchestrator
