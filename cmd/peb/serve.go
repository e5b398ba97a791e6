package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/peb/internal/commands"
	"github.com/GriffinCanCode/peb/internal/infrastructure/server"
)

const shutdownTimeout = 20 * time.Second

var errRunningAsRoot = errors.New("refusing to run with administrative privileges")

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the viewer API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		// Geteuid is -1 where there is no such notion.
		if os.Geteuid() == 0 {
			return errRunningAsRoot
		}

		cfg, resolved, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg, resolved)
		if err != nil {
			return err
		}
		if f := logger.File(); f != "" {
			logger.Info("Logging to file", zap.String("file", f))
		}

		if err := commands.EnsureCurrentTheme(resolved, logger.Logger); err != nil {
			logger.Warn("Default theme not installed", zap.Error(err))
		}

		srv, err := server.NewServer(cfg, resolved, logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Run() }()

		select {
		case <-ctx.Done():
			logger.Info("Signal received")
		case <-srv.Done():
			logger.Info("Quit requested by viewer")
		case err := <-errCh:
			if err != nil {
				logger.Error("Server error", zap.Error(err))
				return err
			}
			return nil
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
