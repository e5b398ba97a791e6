// Package filetype decides what a local file is before the classifier picks
// between loading it and executing it.
//
// A first line matching the interpreter shebang makes a file a script no
// matter its extension, so report.htm with "#!/usr/bin/perl" runs. Otherwise
// the extension decides; files with unknown extensions are sniffed.
package filetype
