package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/peb/internal/dispatch"
	"github.com/GriffinCanCode/peb/internal/infrastructure/config"
	"github.com/GriffinCanCode/peb/internal/render"
	"github.com/GriffinCanCode/peb/internal/sandbox"
	"github.com/GriffinCanCode/peb/internal/shell"
)

var runQuery string

var errNotIntercepted = errors.New("path is not served by peb")

var runCmd = &cobra.Command{
	Use:   "run <script>",
	Short: "Run one script headless and print the rendered page",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, resolved, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg, resolved)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		target, err := scriptURL(resolved, args[0], runQuery)
		if err != nil {
			return err
		}

		pages := make(chan render.Delivery, 1)
		sh, err := shell.New(shell.Deps{
			Config: resolved,
			Store:  config.NewStore(resolved.SettingsPath),
			Env: sandbox.Build(sandbox.Options{
				RootDir:     resolved.RootDir,
				AllowList:   resolved.AllowedEnv,
				PathEntries: resolved.PathEntries,
				LibVar:      resolved.LibVar,
				LibPath:     resolved.LibPath,
				Interpreter: resolved.Interpreter,
				Logger:      logger.Logger,
			}),
			Sink: render.SinkFunc(func(d render.Delivery) {
				select {
				case pages <- d:
				default:
				}
			}),
			Logger: logger.Logger,
		})
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = sh.Shutdown(ctx)
		}()

		w, err := sh.Windows().Open("")
		if err != nil {
			return err
		}
		decision, err := sh.Navigate(w.ID, &dispatch.NavigationRequest{
			URL:      target,
			FrameID:  "main",
			Trigger:  dispatch.TriggerLinkClick,
			TopLevel: true,
		})
		if err != nil {
			return err
		}
		if !decision.Intercept {
			return fmt.Errorf("%w: %s", errNotIntercepted, target)
		}

		wait := resolved.ScriptTimeout + 5*time.Second
		if resolved.ScriptTimeout <= 0 {
			wait = 24 * time.Hour
		}
		select {
		case d := <-pages:
			fmt.Fprint(cmd.OutOrStdout(), d.Content)
			if d.Kind == render.KindError {
				return errors.New("script failed")
			}
			return nil
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-time.After(wait):
			return errors.New("no output received")
		}
	},
}

// scriptURL maps a file under the root to its pseudo-domain URL.
func scriptURL(cfg *config.Configuration, script, query string) (*url.URL, error) {
	abs := script
	if !filepath.IsAbs(abs) {
		if _, err := os.Stat(abs); err == nil {
			if abs, err = filepath.Abs(abs); err != nil {
				return nil, err
			}
		} else {
			// Relative paths are also accepted relative to the root.
			abs = filepath.Join(cfg.RootDir, script)
		}
	}
	rel, err := filepath.Rel(cfg.RootDir, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("%s is outside the root folder %s", script, cfg.RootDir)
	}

	u := cfg.PseudoDomain.ResolveReference(&url.URL{Path: filepath.ToSlash(rel)})
	u.RawQuery = strings.TrimPrefix(query, "?")
	return u, nil
}

func init() {
	runCmd.Flags().StringVar(&runQuery, "query", "", "query string passed to the script")
	rootCmd.AddCommand(runCmd)
}
