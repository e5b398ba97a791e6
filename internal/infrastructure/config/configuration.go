package config

import (
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultPseudoDomain     = "local://root/"
	DefaultLibVar           = "PERLLIB"
	DefaultShebangPattern   = `^#!/.+perl`
	DefaultHighlightTimeout = 2 * time.Second
	DefaultCurrentTheme     = "current.css"
	DefaultLogPrefix        = "peb"

	LogModeSingleFile     = "single_file"
	LogModePerSessionFile = "per_session_file"
)

// Configuration is the resolved, immutable view of the settings file. All
// paths are absolute.
type Configuration struct {
	SettingsPath string
	RootDir      string
	PseudoDomain *url.URL
	StartPage    string

	AllowedEnv  []string
	PathEntries []string

	Interpreter    string
	LibVar         string
	LibPath        string
	ShebangPattern string
	ScriptTimeout  time.Duration
	DisplayStderr  bool

	DebuggerEnabled  bool
	DebuggerArgs     []string
	DebuggerEnv      map[string]string
	DebuggerTemplate string
	SourceViewer     string
	SourceViewerArgs []string
	HighlightTimeout time.Duration

	UserAgent      string
	AllowedDomains []string

	ThemesDir    string
	Theme        string
	CurrentTheme string

	Logging LoggingSettings
}

// LoadConfiguration reads the settings file and resolves it.
func LoadConfiguration(path string) (*Configuration, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve settings path: %w", err)
	}
	s, err := LoadSettings(abs)
	if err != nil {
		return nil, err
	}
	return Resolve(abs, s)
}

// Resolve turns decoded settings into a Configuration. A missing start page is
// reported as ErrConfigurationMissing.
func Resolve(settingsPath string, s *Settings) (*Configuration, error) {
	settingsDir := filepath.Dir(settingsPath)

	root := s.Root.Folder
	switch {
	case root == "" || root == "current":
		root = settingsDir
	case !filepath.IsAbs(root):
		root = filepath.Join(settingsDir, root)
	}
	root = filepath.Clean(root)

	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: root folder %s not found", ErrConfigurationMissing, root)
	}

	pseudo := s.Root.PseudoDomain
	if pseudo == "" {
		pseudo = DefaultPseudoDomain
	}
	if !strings.HasSuffix(pseudo, "/") {
		pseudo += "/"
	}
	base, err := url.Parse(pseudo)
	if err != nil || base.Scheme == "" {
		return nil, fmt.Errorf("invalid pseudo_domain %q", s.Root.PseudoDomain)
	}

	if s.Root.StartPage == "" {
		return nil, fmt.Errorf("%w: start_page not set", ErrConfigurationMissing)
	}
	start := resolveAgainst(root, s.Root.StartPage)
	if _, err := os.Stat(start); err != nil {
		return nil, fmt.Errorf("%w: start page %s not found", ErrConfigurationMissing, start)
	}

	cfg := &Configuration{
		SettingsPath: settingsPath,
		RootDir:      root,
		PseudoDomain: base,
		StartPage:    start,

		AllowedEnv:  append([]string(nil), s.Environment.Allowed...),
		PathEntries: append([]string(nil), s.Environment.Path...),

		Interpreter:    resolveInterpreter(root, s.Interpreter.Path),
		LibVar:         orDefault(s.Interpreter.LibVar, DefaultLibVar),
		ShebangPattern: orDefault(s.Interpreter.ShebangPattern, DefaultShebangPattern),
		ScriptTimeout:  time.Duration(s.Interpreter.TimeoutSeconds) * time.Second,
		DisplayStderr:  s.Interpreter.DisplayStderr,

		DebuggerEnabled:  s.Interpreter.Debugger,
		DebuggerArgs:     append([]string(nil), s.Interpreter.DebuggerArgs...),
		DebuggerEnv:      copyMap(s.Interpreter.DebuggerEnv),
		SourceViewerArgs: append([]string(nil), s.Interpreter.SourceViewerArgs...),
		HighlightTimeout: DefaultHighlightTimeout,

		UserAgent:      s.Networking.UserAgent,
		AllowedDomains: normalizeDomains(s.Networking.AllowedDomains),

		Theme:   s.GUI.Theme,
		Logging: s.Logging,
	}

	if s.Interpreter.Lib != "" {
		cfg.LibPath = resolveAgainst(root, s.Interpreter.Lib)
	}
	if len(cfg.DebuggerArgs) == 0 {
		cfg.DebuggerArgs = []string{"-d"}
	}
	if s.Interpreter.DebuggerTemplate != "" {
		cfg.DebuggerTemplate = resolveAgainst(root, s.Interpreter.DebuggerTemplate)
	}
	if s.Interpreter.SourceViewer != "" {
		cfg.SourceViewer = resolveExecutable(root, s.Interpreter.SourceViewer)
	}
	if s.Interpreter.HighlightMillis > 0 {
		cfg.HighlightTimeout = time.Duration(s.Interpreter.HighlightMillis) * time.Millisecond
	}

	cfg.ThemesDir = resolveAgainst(root, orDefault(s.GUI.ThemesDir, "themes"))
	cfg.CurrentTheme = filepath.Join(cfg.ThemesDir, DefaultCurrentTheme)

	if cfg.Logging.Mode == "" {
		cfg.Logging.Mode = LogModeSingleFile
	}
	if cfg.Logging.Prefix == "" {
		cfg.Logging.Prefix = DefaultLogPrefix
	}
	if cfg.Logging.Dir != "" {
		cfg.Logging.Dir = resolveAgainst(root, cfg.Logging.Dir)
	} else {
		cfg.Logging.Dir = filepath.Join(root, "logs")
	}

	return cfg, nil
}

// StartURL returns the start page as a pseudo-domain URL.
func (c *Configuration) StartURL() string {
	rel, err := filepath.Rel(c.RootDir, c.StartPage)
	if err != nil {
		rel = filepath.Base(c.StartPage)
	}
	return c.PseudoDomain.String() + filepath.ToSlash(rel)
}

func resolveAgainst(root, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, p)
}

func resolveInterpreter(root, p string) string {
	if p == "" || p == "system" {
		if found, err := exec.LookPath("perl"); err == nil {
			return found
		}
		return "perl"
	}
	return resolveExecutable(root, p)
}

// resolveExecutable keeps bare command names for PATH lookup and resolves
// anything with a separator against the root.
func resolveExecutable(root, p string) string {
	if !strings.ContainsRune(p, '/') && !strings.ContainsRune(p, filepath.Separator) {
		return p
	}
	return resolveAgainst(root, p)
}

// normalizeDomains lower-cases entries and strips any scheme so that both
// "example.org" and "https://example.org:8443/" match by authority.
func normalizeDomains(domains []string) []string {
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.TrimSpace(strings.ToLower(d))
		if i := strings.Index(d, "://"); i >= 0 {
			d = d[i+3:]
		}
		d = strings.TrimSuffix(d, "/")
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func copyMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
