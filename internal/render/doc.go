// Package render holds the content the shell hands back to the viewer:
// pages for frames, their addressed deliveries, and the built-in error and
// notice templates.
package render
