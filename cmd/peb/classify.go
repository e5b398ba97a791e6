package main

import (
	"fmt"
	"net/url"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/peb/internal/dispatch"
	"github.com/GriffinCanCode/peb/internal/filetype"
	"github.com/GriffinCanCode/peb/internal/shell"
)

var (
	classifyTopLevel bool
	classifyForm     bool
	classifyFrame    string
)

var classifyCmd = &cobra.Command{
	Use:   "classify <url>",
	Short: "Show how a navigation would be dispatched",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, resolved, err := loadConfig()
		if err != nil {
			return err
		}
		target, err := url.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid url: %w", err)
		}
		detector, err := filetype.NewDetector(resolved.ShebangPattern, 16)
		if err != nil {
			return err
		}

		classifier := dispatch.NewClassifier(dispatch.Options{
			RootDir:        resolved.RootDir,
			PseudoDomain:   resolved.PseudoDomain,
			AllowedDomains: resolved.AllowedDomains,
			Detector:       detector,
		})
		req := &dispatch.NavigationRequest{
			URL:      target,
			FrameID:  classifyFrame,
			Trigger:  dispatch.TriggerLinkClick,
			TopLevel: classifyTopLevel,
		}
		if classifyForm {
			req.Trigger = dispatch.TriggerFormSubmit
			req.Method = "POST"
		}

		action := classifier.Classify(req)
		out, err := sonic.ConfigStd.MarshalIndent(shell.Decision{Intercept: action.Intercepted(), Action: action}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	classifyCmd.Flags().BoolVar(&classifyTopLevel, "top-level", false, "navigation comes from the window's main frame")
	classifyCmd.Flags().BoolVar(&classifyForm, "form", false, "navigation is a form submission")
	classifyCmd.Flags().StringVar(&classifyFrame, "frame", "main", "originating frame ID")
	rootCmd.AddCommand(classifyCmd)
}
