package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// ErrConfigurationMissing is returned when the settings file or the start page
// cannot be found. It is fatal: no window may open without configuration.
var ErrConfigurationMissing = errors.New("configuration missing")

// Settings mirrors the settings file.
type Settings struct {
	Root        RootSettings        `toml:"root" yaml:"root"`
	Interpreter InterpreterSettings `toml:"interpreter" yaml:"interpreter"`
	Environment EnvironmentSettings `toml:"environment" yaml:"environment"`
	Networking  NetworkingSettings  `toml:"networking" yaml:"networking"`
	GUI         GUISettings         `toml:"gui" yaml:"gui"`
	Logging     LoggingSettings     `toml:"logging" yaml:"logging"`
}

// RootSettings locates the served content.
type RootSettings struct {
	// Folder is the root directory. "current" means the settings file's directory.
	Folder       string `toml:"folder" yaml:"folder"`
	PseudoDomain string `toml:"pseudo_domain" yaml:"pseudo_domain"`
	StartPage    string `toml:"start_page" yaml:"start_page"`
}

// InterpreterSettings configures script and debugger subprocesses.
type InterpreterSettings struct {
	// Path is the interpreter binary. Empty or "system" looks it up in PATH.
	Path             string            `toml:"path" yaml:"path"`
	Lib              string            `toml:"lib" yaml:"lib"`
	LibVar           string            `toml:"lib_var" yaml:"lib_var"`
	ShebangPattern   string            `toml:"shebang_pattern" yaml:"shebang_pattern"`
	TimeoutSeconds   int               `toml:"timeout_seconds" yaml:"timeout_seconds"`
	DisplayStderr    bool              `toml:"display_stderr" yaml:"display_stderr"`
	Debugger         bool              `toml:"debugger" yaml:"debugger"`
	DebuggerArgs     []string          `toml:"debugger_args" yaml:"debugger_args"`
	DebuggerEnv      map[string]string `toml:"debugger_env" yaml:"debugger_env"`
	DebuggerTemplate string            `toml:"debugger_template" yaml:"debugger_template"`
	SourceViewer     string            `toml:"source_viewer" yaml:"source_viewer"`
	SourceViewerArgs []string          `toml:"source_viewer_args" yaml:"source_viewer_args"`
	HighlightMillis  int               `toml:"highlight_timeout_ms" yaml:"highlight_timeout_ms"`
}

// EnvironmentSettings configures the sandbox.
type EnvironmentSettings struct {
	Allowed []string `toml:"allowed" yaml:"allowed"`
	Path    []string `toml:"path" yaml:"path"`
}

// NetworkingSettings configures remote loads.
type NetworkingSettings struct {
	UserAgent      string   `toml:"user_agent" yaml:"user_agent"`
	AllowedDomains []string `toml:"allowed_domains" yaml:"allowed_domains"`
}

// GUISettings configures themes.
type GUISettings struct {
	ThemesDir string `toml:"themes_dir" yaml:"themes_dir"`
	Theme     string `toml:"theme" yaml:"theme"`
}

// LoggingSettings configures log file output.
type LoggingSettings struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Mode    string `toml:"mode" yaml:"mode"`
	Dir     string `toml:"dir" yaml:"dir"`
	Prefix  string `toml:"prefix" yaml:"prefix"`
}

// Format is a settings file encoding.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

func (f Format) String() string { return string(f) }

// FormatOf selects the encoding from the file extension. Anything other than
// .yaml or .yml is read as TOML.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// LoadSettings reads and decodes the settings file.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: settings file %s not found", ErrConfigurationMissing, path)
		}
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	var s Settings
	if err := decode(FormatOf(path), data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}
	return &s, nil
}

func decode(format Format, data []byte, s *Settings) error {
	if format == FormatYAML {
		return yaml.Unmarshal(data, s)
	}
	return toml.Unmarshal(data, s)
}

func encode(format Format, s *Settings) ([]byte, error) {
	if format == FormatYAML {
		return yaml.Marshal(s)
	}
	return toml.Marshal(s)
}
