// Package channel implements the realtime execution channel: a Socket.IO v5
// client over a single long-lived websocket with automatic reconnects, plus
// the process-request / execution-result / execution-error event contract.
package channel
