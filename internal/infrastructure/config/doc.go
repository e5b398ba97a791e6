// Package config loads the two configuration layers of the shell.
//
// Process configuration (listen address, log level, rate limits, location of
// the settings file) comes from environment variables, optionally seeded from a
// .env file, with sensible defaults.
//
// Settings describe the content being served: root folder, interpreter,
// sandbox allow-list and PATH entries, allowed remote domains, debugger and
// theme options, log file output. They live in a TOML or YAML file selected
// by extension and are resolved once at startup into an immutable
// Configuration. Store writes user choices (PATH additions, interpreter,
// theme) back to the same file under the same keys they are read from.
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	resolved, err := config.LoadConfiguration(cfg.Settings.Path)
//	if errors.Is(err, config.ErrConfigurationMissing) {
//		os.Exit(1)
//	}
//
// Environment Variables:
//   - PEB_SETTINGS, PEB_LISTEN
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
package config
