package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "peb.toml", cfg.Settings.Path)
	assert.Equal(t, "127.0.0.1:8765", cfg.Server.Listen)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)
	assert.Equal(t, 50, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 100, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PEB_SETTINGS":       "/etc/peb/peb.yaml",
		"PEB_LISTEN":         "127.0.0.1:9999",
		"LOG_LEVEL":          "debug",
		"LOG_DEV":            "true",
		"RATE_LIMIT_RPS":     "5",
		"RATE_LIMIT_BURST":   "10",
		"RATE_LIMIT_ENABLED": "false",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/etc/peb/peb.yaml", cfg.Settings.Path)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Listen)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 5, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestLoadInvalidValue(t *testing.T) {
	t.Setenv("RATE_LIMIT_RPS", "not-a-number")

	_, err := Load()
	assert.Error(t, err)

	cfg := LoadOrDefault()
	assert.Equal(t, 50, cfg.RateLimit.RequestsPerSecond)
}

// writeTree creates a root folder with a start page and a settings file.
func writeTree(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.htm"), []byte("<html></html>"), 0o644))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const sampleTOML = `
[root]
folder = "current"
start_page = "index.htm"

[interpreter]
path = "/usr/bin/perl"
lib = "lib"
timeout_seconds = 30
display_stderr = true
debugger = true
source_viewer = "bin/highlight.pl"
highlight_timeout_ms = 500

[environment]
allowed = ["HOME", "LANG"]
path = ["bin", "/usr/bin"]

[networking]
user_agent = "peb/1.0"
allowed_domains = ["https://Example.org/", "localhost:8080"]

[gui]
theme = "dark.css"

[logging]
enabled = true
mode = "per_session_file"
`

func TestLoadConfigurationTOML(t *testing.T) {
	path := writeTree(t, "peb.toml", sampleTOML)
	root := filepath.Dir(path)

	cfg, err := LoadConfiguration(path)
	require.NoError(t, err)

	assert.Equal(t, root, cfg.RootDir)
	assert.Equal(t, filepath.Join(root, "index.htm"), cfg.StartPage)
	assert.Equal(t, DefaultPseudoDomain, cfg.PseudoDomain.String())
	assert.Equal(t, "local://root/index.htm", cfg.StartURL())
	assert.Equal(t, "/usr/bin/perl", cfg.Interpreter)
	assert.Equal(t, filepath.Join(root, "lib"), cfg.LibPath)
	assert.Equal(t, DefaultLibVar, cfg.LibVar)
	assert.Equal(t, 30*time.Second, cfg.ScriptTimeout)
	assert.True(t, cfg.DisplayStderr)
	assert.True(t, cfg.DebuggerEnabled)
	assert.Equal(t, []string{"-d"}, cfg.DebuggerArgs)
	assert.Equal(t, filepath.Join(root, "bin/highlight.pl"), cfg.SourceViewer)
	assert.Equal(t, 500*time.Millisecond, cfg.HighlightTimeout)
	assert.Equal(t, []string{"HOME", "LANG"}, cfg.AllowedEnv)
	assert.Equal(t, []string{"bin", "/usr/bin"}, cfg.PathEntries)
	assert.Equal(t, []string{"example.org", "localhost:8080"}, cfg.AllowedDomains)
	assert.Equal(t, filepath.Join(root, "themes", "current.css"), cfg.CurrentTheme)
	assert.Equal(t, LogModePerSessionFile, cfg.Logging.Mode)
	assert.Equal(t, DefaultLogPrefix, cfg.Logging.Prefix)
	assert.Equal(t, filepath.Join(root, "logs"), cfg.Logging.Dir)
}

func TestLoadConfigurationYAML(t *testing.T) {
	path := writeTree(t, "peb.yaml", `
root:
  start_page: index.htm
  pseudo_domain: app://content
interpreter:
  path: perl
environment:
  allowed: [PATH]
`)

	cfg, err := LoadConfiguration(path)
	require.NoError(t, err)

	assert.Equal(t, "app://content/", cfg.PseudoDomain.String())
	assert.Equal(t, "perl", cfg.Interpreter)
	assert.Equal(t, []string{"PATH"}, cfg.AllowedEnv)
	assert.Zero(t, cfg.ScriptTimeout)
}

func TestConfigurationMissing(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) string
	}{
		{
			name: "no settings file",
			setup: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "peb.toml")
			},
		},
		{
			name: "start page absent",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				path := filepath.Join(dir, "peb.toml")
				require.NoError(t, os.WriteFile(path, []byte("[root]\nstart_page = \"missing.htm\"\n"), 0o644))
				return path
			},
		},
		{
			name: "start page unset",
			setup: func(t *testing.T) string {
				return writeTree(t, "peb.toml", "[root]\nfolder = \"current\"\n")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfiguration(tt.setup(t))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfigurationMissing)
		})
	}
}
