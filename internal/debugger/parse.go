package debugger

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// ansiEscape matches terminal control sequences the debugger emits.
	ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]|\x1b[()][A-Za-z0-9]|\x1b[=>]`)
	// promptPattern matches a debugger prompt at the end of buffered output.
	promptPattern = regexp.MustCompile(`DB<+\d+>+\s*$`)
	// locationPattern matches "(file:line):" in a step header such as
	// "main::(/srv/app/report.pl:12):".
	locationPattern = regexp.MustCompile(`\(([^()]+):(\d+)\):`)
)

// Location is a position in a source file.
type Location struct {
	File string
	Line int
}

// String renders the location as the line marker "file:line".
func (l Location) String() string {
	if l.File == "" {
		return ""
	}
	return l.File + ":" + strconv.Itoa(l.Line)
}

// cleanOutput strips terminal control sequences and normalizes line endings.
func cleanOutput(raw string) string {
	s := ansiEscape.ReplaceAllString(raw, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "")
}

// endsWithPrompt reports whether the output stops at a debugger prompt.
func endsWithPrompt(s string) bool {
	return promptPattern.MatchString(s)
}

// lastLocation returns the last location mentioned in the step output.
func lastLocation(s string) (Location, bool) {
	matches := locationPattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return Location{}, false
	}
	m := matches[len(matches)-1]
	line, err := strconv.Atoi(m[2])
	if err != nil {
		return Location{}, false
	}
	return Location{File: m[1], Line: line}, true
}
