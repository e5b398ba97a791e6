// Package window tracks open browser windows. Each window owns the registry of
// its running scripts and, once used, a debugger session; closing a window
// cancels both and closes its child windows first.
package window
