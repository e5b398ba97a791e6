package ws

import (
	"context"

	"github.com/GriffinCanCode/peb/internal/render"
	"github.com/GriffinCanCode/peb/internal/shared/id"
	"github.com/GriffinCanCode/peb/internal/ui"
)

var (
	_ ui.Host     = (*Hub)(nil)
	_ render.Sink = (*Hub)(nil)
)

// PickFolder asks the viewer for a directory and waits for the user.
func (h *Hub) PickFolder(ctx context.Context, windowID id.WindowID, opts ui.PickOptions) (string, error) {
	return h.pick(ctx, windowID, OpPickFolder, opts)
}

// PickFile asks the viewer for an existing file.
func (h *Hub) PickFile(ctx context.Context, windowID id.WindowID, opts ui.PickOptions) (string, error) {
	return h.pick(ctx, windowID, OpPickFile, opts)
}

// PickSaveFile asks the viewer for a file to create.
func (h *Hub) PickSaveFile(ctx context.Context, windowID id.WindowID, opts ui.PickOptions) (string, error) {
	return h.pick(ctx, windowID, OpPickSaveFile, opts)
}

func (h *Hub) pick(ctx context.Context, windowID id.WindowID, op string, opts ui.PickOptions) (string, error) {
	resp, err := h.request(ctx, Outbound{Op: op, WindowID: windowID, Options: &opts}, 0)
	if err != nil {
		return "", err
	}
	if resp.Value == "" {
		return "", ui.ErrCancelled
	}
	return resp.Value, nil
}

// OpenWindow tells the parent's viewer to show child at url. It does not
// wait: navigation handling must not block on the viewer.
func (h *Hub) OpenWindow(_ context.Context, parent, child id.WindowID, url string) error {
	return h.notify(Outbound{Op: OpOpenWindow, WindowID: parent, Child: child, URL: url})
}

// CloseWindow tells the viewer to close a window.
func (h *Hub) CloseWindow(_ context.Context, windowID id.WindowID) error {
	return h.notify(Outbound{Op: OpCloseWindow, WindowID: windowID})
}

// Quit tells every attached viewer to exit.
func (h *Hub) Quit(context.Context) error {
	h.mu.Lock()
	var targets []*conn
	for _, cs := range h.conns {
		targets = append(targets, cs...)
	}
	h.mu.Unlock()

	for _, c := range targets {
		_ = h.sendMessage(c, Outbound{Type: TypeUIRequest, Op: OpQuit, WindowID: c.window})
	}
	return nil
}

// PrintPreview asks the viewer to preview the window for printing.
func (h *Hub) PrintPreview(ctx context.Context, windowID id.WindowID) error {
	_, err := h.request(ctx, Outbound{Op: OpPrintPreview, WindowID: windowID}, h.ackTimeout)
	return err
}

// Print asks the viewer to print the window.
func (h *Hub) Print(ctx context.Context, windowID id.WindowID) error {
	_, err := h.request(ctx, Outbound{Op: OpPrint, WindowID: windowID}, h.ackTimeout)
	return err
}

// ExportPDF asks the viewer to export the window as PDF.
func (h *Hub) ExportPDF(ctx context.Context, windowID id.WindowID) error {
	_, err := h.request(ctx, Outbound{Op: OpExportPDF, WindowID: windowID}, h.ackTimeout)
	return err
}

// ApplyTheme asks the viewer to reload the stylesheet.
func (h *Hub) ApplyTheme(ctx context.Context, windowID id.WindowID, stylesheet string) error {
	_, err := h.request(ctx, Outbound{Op: OpApplyTheme, WindowID: windowID, Stylesheet: stylesheet}, h.ackTimeout)
	return err
}

// ShowMessage shows a message box in the window.
func (h *Hub) ShowMessage(_ context.Context, windowID id.WindowID, title, text string) error {
	return h.notify(Outbound{Op: OpShowMessage, WindowID: windowID, Title: title, Text: text})
}
