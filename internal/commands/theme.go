package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/peb/internal/infrastructure/config"
	"github.com/GriffinCanCode/peb/internal/ui"
)

// ThemeName extracts the theme file name from a settheme URL. The scheme and
// any "//" are removed; directories are not allowed.
func ThemeName(raw string) string {
	name := raw
	if i := strings.Index(name, ":"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.ReplaceAll(name, "//", "")
	name = strings.TrimSuffix(name, "/")
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return ""
	}
	return name
}

// ListThemes returns the stylesheets in the themes directory, excluding the
// active copy.
func ListThemes(cfg *config.Configuration) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(cfg.ThemesDir), "*.css")
	if err != nil {
		return nil, fmt.Errorf("failed to list themes: %w", err)
	}
	current := filepath.Base(cfg.CurrentTheme)
	themes := make([]string, 0, len(matches))
	for _, m := range matches {
		if m != current {
			themes = append(themes, m)
		}
	}
	sort.Strings(themes)
	return themes, nil
}

// ActivateTheme copies the named theme over the active stylesheet.
func ActivateTheme(cfg *config.Configuration, name string) error {
	src := filepath.Join(cfg.ThemesDir, name)
	if err := copyFile(src, cfg.CurrentTheme); err != nil {
		return fmt.Errorf("failed to activate theme %s: %w", name, err)
	}
	return nil
}

// EnsureCurrentTheme installs the configured theme as the active stylesheet
// when none exists yet.
func EnsureCurrentTheme(cfg *config.Configuration, logger *zap.Logger) error {
	if _, err := os.Stat(cfg.CurrentTheme); err == nil || cfg.Theme == "" {
		return nil
	}
	if err := ActivateTheme(cfg, cfg.Theme); err != nil {
		return err
	}
	if logger != nil {
		logger.Info("Default theme installed", zap.String("theme", cfg.Theme), zap.String("path", cfg.CurrentTheme))
	}
	return nil
}

func (e *Executor) setTheme(ctx context.Context, req Request) error {
	raw := ""
	if req.Action.URL != nil {
		raw = req.Action.URL.String()
	}
	name := ThemeName(raw)
	if name == "" {
		return fmt.Errorf("invalid theme in %q", raw)
	}
	return e.applyTheme(ctx, req, name)
}

func (e *Executor) selectTheme(ctx context.Context, req Request) error {
	themes, err := ListThemes(e.Config)
	if err != nil {
		return err
	}
	if len(themes) == 0 {
		return e.Host.ShowMessage(ctx, req.WindowID, "Themes", "No themes found in "+e.Config.ThemesDir)
	}

	choice, err := e.Host.PickFile(ctx, req.WindowID, ui.PickOptions{
		Title:   "Select Theme",
		Dir:     e.Config.ThemesDir,
		Filters: []string{"*.css"},
		Choices: themes,
	})
	if err != nil {
		return err
	}
	return e.applyTheme(ctx, req, filepath.Base(choice))
}

func (e *Executor) applyTheme(ctx context.Context, req Request, name string) error {
	if err := ActivateTheme(e.Config, name); err != nil {
		return err
	}
	if err := e.Store.SetTheme(name); err != nil {
		return err
	}
	return e.Host.ApplyTheme(ctx, req.WindowID, e.Config.CurrentTheme)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".theme-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
