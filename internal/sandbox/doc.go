// Package sandbox builds the reduced environment handed to every script and
// debugger subprocess.
//
// The environment is default-deny: only allow-listed variables from the host
// process survive. DOCUMENT_ROOT and the interpreter library variable are
// always set, and the search path is assembled from configured entries
// resolved against the root, with missing directories skipped.
//
// The live Environment changes only through user actions (a PATH entry
// appended, an interpreter selected, a picked file recorded). Each spawn takes
// a Snapshot so a running script keeps the environment it started with.
package sandbox
