// Package logging provides structured logging using uber/zap.
//
// Two encodings are available:
//   - Production: JSON output for machine parsing
//   - Development: console output for human readability
//
// Besides the regular outputs a log file can be enabled. In single_file mode
// every run appends to <dir>/<prefix>.log; in per_session_file mode each run
// starts <dir>/<prefix>-started-at-<timestamp>.log.
//
// Example Usage:
//
//	logger, err := logging.New(logging.Config{Level: "info"})
//	logger.Info("Listening", zap.String("addr", addr))
//	logger.Error("Spawn failed", zap.Error(err))
package logging
