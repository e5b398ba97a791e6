package dispatch

import (
	"net/url"
)

// Command scheme vocabulary. Keys are matched exactly against the URL scheme.
const (
	CommandAddToPath    = "addtopath"
	CommandSelectPerl   = "selectperl"
	CommandSetTheme     = "settheme"
	CommandSelectTheme  = "selecttheme"
	CommandOpenFile     = "openfile"
	CommandNewFile      = "newfile"
	CommandOpenFolder   = "openfolder"
	CommandPrintPreview = "printpreview"
	CommandPrint        = "printing"
	CommandPDF          = "pdf"
	CommandCloseWindow  = "closewindow"
	CommandQuit         = "quit"
	CommandDebugger     = "perl-debugger"
)

// Debugger sub-forms.
const (
	DebuggerSelectFile = "select-file"
	DebuggerRestart    = "restart"
	DebuggerCommandKey = "command"
)

// Commands lists the UI command schemes in table order.
var Commands = []string{
	CommandAddToPath,
	CommandSelectPerl,
	CommandSetTheme,
	CommandSelectTheme,
	CommandOpenFile,
	CommandNewFile,
	CommandOpenFolder,
	CommandPrintPreview,
	CommandPrint,
	CommandPDF,
	CommandCloseWindow,
	CommandQuit,
}

// TriggerKind is what caused a navigation.
type TriggerKind int

const (
	TriggerOther TriggerKind = iota
	TriggerLinkClick
	TriggerFormSubmit
)

func (t TriggerKind) String() string {
	switch t {
	case TriggerLinkClick:
		return "link-click"
	case TriggerFormSubmit:
		return "form-submit"
	default:
		return "other"
	}
}

// ParseTrigger maps the viewer's trigger name. Unknown names are TriggerOther.
func ParseTrigger(s string) TriggerKind {
	switch s {
	case "link-click", "link":
		return TriggerLinkClick
	case "form-submit", "form":
		return TriggerFormSubmit
	default:
		return TriggerOther
	}
}

// NavigationRequest is one navigation attempt reported by the viewer.
type NavigationRequest struct {
	URL     *url.URL
	FrameID string
	Trigger TriggerKind
	// TopLevel is true when the originating frame is the window's main frame.
	TopLevel bool

	// Form submissions carry a method and body.
	Method      string
	Body        []byte
	ContentType string
}

// ActionKind is the outcome of classification.
type ActionKind int

const (
	ActionDefer ActionKind = iota
	ActionUICommand
	ActionLoadLocal
	ActionLoadRemote
	ActionRunScript
	ActionRunDebugger
	ActionDeny
)

func (k ActionKind) String() string {
	switch k {
	case ActionUICommand:
		return "ui-command"
	case ActionLoadLocal:
		return "load-local"
	case ActionLoadRemote:
		return "load-remote"
	case ActionRunScript:
		return "run-script"
	case ActionRunDebugger:
		return "run-debugger"
	case ActionDeny:
		return "deny"
	default:
		return "defer"
	}
}

// DebuggerOp selects what a debugger request does.
type DebuggerOp int

const (
	// DebuggerOpCommand forwards a command to the window's live session.
	DebuggerOpCommand DebuggerOp = iota
	// DebuggerOpSelectFile picks a script and starts a fresh session.
	DebuggerOpSelectFile
)

func (o DebuggerOp) String() string {
	if o == DebuggerOpSelectFile {
		return DebuggerSelectFile
	}
	return DebuggerCommandKey
}

// DebuggerRequest details an ActionRunDebugger.
type DebuggerRequest struct {
	Op      DebuggerOp
	Restart bool
	// Initial is the first command for a new session.
	Initial string
	// Command is forwarded verbatim to the live session.
	Command string
}

// Action is the single decision for a navigation.
type Action struct {
	Kind ActionKind
	Rule string

	Command   string
	Path      string
	URL       *url.URL
	NewWindow bool
	Debugger  DebuggerRequest
	Reason    string
}

// Intercepted reports whether the viewer must not load the URL itself.
func (a Action) Intercepted() bool {
	return a.Kind != ActionDefer
}
