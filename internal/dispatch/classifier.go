package dispatch

import (
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/GriffinCanCode/peb/internal/filetype"
)

// Detector classifies local files.
type Detector interface {
	Classify(path string) filetype.Kind
}

// Rule is one row of the dispatch table.
type Rule struct {
	Name    string
	Match   func(req *NavigationRequest) bool
	Resolve func(req *NavigationRequest) Action
}

// Options configures a Classifier.
type Options struct {
	RootDir        string
	PseudoDomain   *url.URL
	AllowedDomains []string
	Detector       Detector
}

// Classifier maps navigation requests to actions through an ordered table.
type Classifier struct {
	rules  []Rule
	root   string
	base   *url.URL
	remote []string
	detect Detector
}

var markupSuffix = regexp.MustCompile(`(?i)\.htm`)

// NewClassifier builds the table: command schemes, debugger control, local
// pseudo-domain, allow-listed remote domains.
func NewClassifier(opts Options) *Classifier {
	c := &Classifier{
		root:   filepath.Clean(opts.RootDir),
		base:   opts.PseudoDomain,
		remote: opts.AllowedDomains,
		detect: opts.Detector,
	}

	for _, name := range Commands {
		c.rules = append(c.rules, commandRule(name))
	}
	c.rules = append(c.rules,
		Rule{Name: CommandDebugger, Match: schemeIs(CommandDebugger), Resolve: resolveDebugger},
		Rule{Name: "local", Match: c.isLocal, Resolve: c.resolveLocal},
		Rule{Name: "remote", Match: c.isAllowedRemote, Resolve: resolveRemote},
	)
	return c
}

// Rules returns the table in evaluation order.
func (c *Classifier) Rules() []Rule {
	return slices.Clone(c.rules)
}

// Classify returns exactly one action for req. Nothing matching yields ActionDefer.
func (c *Classifier) Classify(req *NavigationRequest) (action Action) {
	if req == nil || req.URL == nil {
		return Action{Kind: ActionDefer, Reason: "empty request"}
	}
	defer func() {
		if r := recover(); r != nil {
			action = Action{Kind: ActionDeny, Reason: "classification failed"}
		}
	}()

	for _, rule := range c.rules {
		if rule.Match(req) {
			action = rule.Resolve(req)
			action.Rule = rule.Name
			return action
		}
	}
	return Action{Kind: ActionDefer}
}

func schemeIs(scheme string) func(*NavigationRequest) bool {
	return func(req *NavigationRequest) bool {
		return req.URL.Scheme == scheme
	}
}

func commandRule(name string) Rule {
	return Rule{
		Name:  name,
		Match: schemeIs(name),
		Resolve: func(req *NavigationRequest) Action {
			return Action{Kind: ActionUICommand, Command: name, URL: req.URL}
		},
	}
}

func resolveDebugger(req *NavigationRequest) Action {
	raw := req.URL.String()
	query := req.URL.Query()

	command := query.Get(DebuggerCommandKey)
	if req.Trigger == TriggerFormSubmit && command == "" && len(req.Body) > 0 {
		if form, err := url.ParseQuery(string(req.Body)); err == nil {
			command = form.Get(DebuggerCommandKey)
		}
	}

	if selectsFile(req, raw, command) {
		restart := strings.Contains(raw, DebuggerRestart)
		initial := command
		if strings.Contains(initial, DebuggerSelectFile) {
			initial = ""
		}
		return Action{
			Kind:      ActionRunDebugger,
			Command:   CommandDebugger,
			URL:       req.URL,
			NewWindow: req.TopLevel && !restart,
			Debugger: DebuggerRequest{
				Op:      DebuggerOpSelectFile,
				Restart: restart,
				Initial: initial,
			},
		}
	}

	return Action{
		Kind:     ActionRunDebugger,
		Command:  CommandDebugger,
		URL:      req.URL,
		Debugger: DebuggerRequest{Op: DebuggerOpCommand, Command: command},
	}
}

// selectsFile reports whether a debugger request asks for a new script.
// Form submissions carry typed debugger commands, so only an exact
// select-file host, path segment or command counts for them.
func selectsFile(req *NavigationRequest, raw, command string) bool {
	if req.Trigger != TriggerFormSubmit {
		return strings.Contains(raw, DebuggerSelectFile)
	}
	if command == DebuggerSelectFile || req.URL.Host == DebuggerSelectFile {
		return true
	}
	for _, seg := range strings.Split(strings.Trim(req.URL.Path, "/"), "/") {
		if seg == DebuggerSelectFile {
			return true
		}
	}
	return false
}

// isLocal reports whether the URL sits under the pseudo-domain base.
func (c *Classifier) isLocal(req *NavigationRequest) bool {
	if c.base == nil {
		return false
	}
	u := req.URL
	if !strings.EqualFold(u.Scheme, c.base.Scheme) || !strings.EqualFold(u.Host, c.base.Host) {
		return false
	}
	return strings.HasPrefix(u.Path, c.base.Path) || u.Path+"/" == c.base.Path
}

func (c *Classifier) resolveLocal(req *NavigationRequest) Action {
	rel := strings.TrimPrefix(req.URL.Path, c.base.Path)
	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." {
			return Action{Kind: ActionDeny, URL: req.URL, Reason: "path escapes root"}
		}
	}

	full := filepath.Join(c.root, filepath.FromSlash(path.Clean("/"+rel)))
	if info, err := os.Stat(full); err == nil && info.IsDir() {
		return Action{Kind: ActionDeny, URL: req.URL, Path: full, Reason: "not a file"}
	}

	kind := filetype.ByExtension(full)
	if c.detect != nil {
		kind = c.detect.Classify(full)
	}

	switch {
	case kind == filetype.KindScript:
		return Action{Kind: ActionRunScript, Path: full, URL: req.URL}
	case kind.Static(), markupSuffix.MatchString(req.URL.Path):
		return Action{Kind: ActionLoadLocal, Path: full, URL: req.URL}
	default:
		return Action{Kind: ActionRunScript, Path: full, URL: req.URL}
	}
}

func (c *Classifier) isAllowedRemote(req *NavigationRequest) bool {
	if len(c.remote) == 0 || req.URL.Host == "" {
		return false
	}
	host := strings.ToLower(req.URL.Host)
	hostname := strings.ToLower(req.URL.Hostname())
	for _, d := range c.remote {
		if d == host || d == hostname {
			return true
		}
	}
	return false
}

func resolveRemote(req *NavigationRequest) Action {
	return Action{Kind: ActionLoadRemote, URL: req.URL, NewWindow: req.TopLevel}
}
