// Package ui defines what the bridge needs from the viewer that hosts its
// windows: pickers, window management, printing and themes.
package ui

import (
	"context"
	"errors"

	"github.com/GriffinCanCode/peb/internal/shared/id"
)

var (
	// ErrCancelled means the user dismissed a picker without choosing.
	ErrCancelled = errors.New("cancelled by user")
	// ErrNoViewer means no viewer is attached to the window.
	ErrNoViewer = errors.New("no viewer attached")
)

// PickOptions configures file and folder pickers. When Choices is set the
// viewer offers exactly those entries instead of browsing the filesystem.
type PickOptions struct {
	Title   string   `json:"title"`
	Dir     string   `json:"dir,omitempty"`
	Filters []string `json:"filters,omitempty"`
	Choices []string `json:"choices,omitempty"`
}

// Host is implemented by the viewer. Blocking calls honour ctx.
type Host interface {
	PickFolder(ctx context.Context, windowID id.WindowID, opts PickOptions) (string, error)
	PickFile(ctx context.Context, windowID id.WindowID, opts PickOptions) (string, error)
	PickSaveFile(ctx context.Context, windowID id.WindowID, opts PickOptions) (string, error)

	OpenWindow(ctx context.Context, parent, child id.WindowID, url string) error
	CloseWindow(ctx context.Context, windowID id.WindowID) error
	Quit(ctx context.Context) error

	PrintPreview(ctx context.Context, windowID id.WindowID) error
	Print(ctx context.Context, windowID id.WindowID) error
	ExportPDF(ctx context.Context, windowID id.WindowID) error

	ApplyTheme(ctx context.Context, windowID id.WindowID, stylesheet string) error
	ShowMessage(ctx context.Context, windowID id.WindowID, title, text string) error
}

// Headless is a Host with no viewer attached. Pickers and requests fail with
// ErrNoViewer; Quit succeeds.
type Headless struct{}

var _ Host = Headless{}

func (Headless) PickFolder(context.Context, id.WindowID, PickOptions) (string, error) {
	return "", ErrNoViewer
}

func (Headless) PickFile(context.Context, id.WindowID, PickOptions) (string, error) {
	return "", ErrNoViewer
}

func (Headless) PickSaveFile(context.Context, id.WindowID, PickOptions) (string, error) {
	return "", ErrNoViewer
}

func (Headless) OpenWindow(context.Context, id.WindowID, id.WindowID, string) error { return ErrNoViewer }
func (Headless) CloseWindow(context.Context, id.WindowID) error                      { return ErrNoViewer }
func (Headless) Quit(context.Context) error                                          { return nil }
func (Headless) PrintPreview(context.Context, id.WindowID) error                     { return ErrNoViewer }
func (Headless) Print(context.Context, id.WindowID) error                            { return ErrNoViewer }
func (Headless) ExportPDF(context.Context, id.WindowID) error                        { return ErrNoViewer }
func (Headless) ApplyTheme(context.Context, id.WindowID, string) error               { return ErrNoViewer }
func (Headless) ShowMessage(context.Context, id.WindowID, string, string) error      { return ErrNoViewer }
