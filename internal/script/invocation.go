package script

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/GriffinCanCode/peb/internal/sandbox"
	"github.com/GriffinCanCode/peb/internal/shared/id"
)

const (
	gatewayInterface = "CGI/1.1"
	serverProtocol   = "HTTP/1.1"
	serverSoftware   = "peb"
)

// CGI holds the request a script is serving, derived from the navigation.
type CGI struct {
	Method      string
	Query       string
	Body        []byte
	ContentType string
	// Path is the URL path under the pseudo-domain, e.g. /cgi/report.pl.
	Path       string
	ServerName string
	UserAgent  string
}

// Invocation is one script run.
type Invocation struct {
	ID       id.InvocationID
	WindowID string
	FrameID  string
	Script   string
	Meta     CGI
	Env      sandbox.Snapshot
	// Timeout bounds the run; zero or negative is unlimited.
	Timeout time.Duration

	StartedAt time.Time
	Deadline  time.Time
}

// NewInvocation creates an invocation for script with a fresh ID.
func NewInvocation(windowID, frameID, script string, meta CGI, env sandbox.Snapshot, timeout time.Duration) *Invocation {
	return &Invocation{
		ID:       id.NewInvocationID(),
		WindowID: windowID,
		FrameID:  frameID,
		Script:   script,
		Meta:     meta,
		Env:      env,
		Timeout:  timeout,
	}
}

// Interpreter returns the interpreter captured in the environment snapshot.
func (inv *Invocation) Interpreter() string {
	return inv.Env.Interpreter
}

func (inv *Invocation) effectiveTimeout() time.Duration {
	if inv.Timeout <= 0 {
		return 0
	}
	return inv.Timeout
}

// Variables returns the CGI meta-variables for inv.
func (inv *Invocation) Variables() map[string]string {
	m := inv.Meta

	method := strings.ToUpper(m.Method)
	if method == "" {
		method = "GET"
	}

	scriptName := m.Path
	if scriptName == "" {
		if rel, err := filepath.Rel(inv.Env.RootDir, inv.Script); err == nil && !strings.HasPrefix(rel, "..") {
			scriptName = "/" + filepath.ToSlash(rel)
		} else {
			scriptName = "/" + filepath.Base(inv.Script)
		}
	}

	uri := scriptName
	if m.Query != "" {
		uri += "?" + m.Query
	}

	vars := map[string]string{
		"GATEWAY_INTERFACE": gatewayInterface,
		"SERVER_PROTOCOL":   serverProtocol,
		"SERVER_SOFTWARE":   serverSoftware,
		"SERVER_NAME":       m.ServerName,
		"REQUEST_METHOD":    method,
		"REQUEST_URI":       uri,
		"QUERY_STRING":      m.Query,
		"SCRIPT_NAME":       scriptName,
		"SCRIPT_FILENAME":   inv.Script,
	}
	if len(m.Body) > 0 {
		vars["CONTENT_LENGTH"] = strconv.Itoa(len(m.Body))
		vars["CONTENT_TYPE"] = m.ContentType
		if vars["CONTENT_TYPE"] == "" {
			vars["CONTENT_TYPE"] = "application/x-www-form-urlencoded"
		}
	}
	if m.UserAgent != "" {
		vars["HTTP_USER_AGENT"] = m.UserAgent
	}
	return vars
}
