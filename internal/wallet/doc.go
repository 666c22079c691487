// Package wallet adapts wallet providers to the login/sign capability used by
// workflow executions. Connectors cover a remote wallet JSON-RPC endpoint, a
// raw secp256k1 key and an encrypted go-ethereum keystore file.
package wallet
