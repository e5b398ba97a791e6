package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	settingsPath string
	verbose      bool
)

// rootCmd is the application entry point.
var rootCmd = &cobra.Command{
	Use:   "peb",
	Short: "Navigation bridge that runs local scripts for an embedded viewer",
	Long: `peb intercepts the navigations of a viewer's windows, runs local scripts
with a sandboxed environment, drives an interactive debugger and hands the
results back to the viewer over a local HTTP and WebSocket API.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", "", "settings file (default $PEB_SETTINGS or peb.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
