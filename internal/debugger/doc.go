/*
Package debugger runs an interactive Perl debugger for a window and renders
each step as a page.

A Session owns one debugger process attached to a pseudo-terminal. Output is
buffered until the debugger prints its prompt (or goes quiet) and then becomes
a step. Every step is rendered from two inputs that arrive independently: the
debugger output and the highlighted source around the current line. A join
pairs them; if highlighting does not finish in time the step is rendered with
plain numbered source instead.

Restarting bumps the session generation. Results still in flight from the
previous run are dropped.
*/
package debugger
