/*
Package commands executes the UI commands that pages trigger through special
URL schemes (addtopath://, selectperl://, settheme://name and so on).

Each command is a handler in a table keyed by scheme. Handlers ask the viewer
(ui.Host) for input, then update the live sandbox and persist the change to
the settings file so later scripts and later runs see it. A picker the user
dismisses ends the command quietly.
*/
package commands
