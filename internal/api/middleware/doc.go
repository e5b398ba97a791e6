// Package middleware provides gin middleware for the viewer API: CORS limited
// to local origins and per-client rate limiting.
package middleware
