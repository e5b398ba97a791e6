// Package server wires configuration, logging, metrics, the sandbox, the
// viewer bridge and the shell into one HTTP server.
package server
