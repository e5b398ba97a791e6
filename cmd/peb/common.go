package main

import (
	"fmt"

	"github.com/GriffinCanCode/peb/internal/infrastructure/config"
	"github.com/GriffinCanCode/peb/internal/infrastructure/logging"
)

// loadConfig reads process configuration and resolves the settings file.
// A missing settings file or start page is returned as
// config.ErrConfigurationMissing; cobra reports it on stderr and main exits
// with status 1.
func loadConfig() (*config.Config, *config.Configuration, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if settingsPath != "" {
		cfg.Settings.Path = settingsPath
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	resolved, err := config.LoadConfiguration(cfg.Settings.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot start: %w", err)
	}
	return cfg, resolved, nil
}

func newLogger(cfg *config.Config, resolved *config.Configuration) (*logging.Logger, error) {
	return logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stderr"},
		File: logging.FileConfig{
			Enabled: resolved.Logging.Enabled,
			Mode:    resolved.Logging.Mode,
			Dir:     resolved.Logging.Dir,
			Prefix:  resolved.Logging.Prefix,
		},
	})
}
