// Package http provides the viewer-facing REST handlers: window lifecycle,
// navigation decisions and health.
package http
