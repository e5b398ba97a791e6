package ws

import (
	"github.com/GriffinCanCode/peb/internal/render"
	"github.com/GriffinCanCode/peb/internal/shared/id"
	"github.com/GriffinCanCode/peb/internal/ui"
)

// Message types.
const (
	TypeDelivery   = "delivery"
	TypeUIRequest  = "ui_request"
	TypeUIResponse = "ui_response"
	TypePing       = "ping"
	TypePong       = "pong"
	TypeError      = "error"
)

// UI operations carried by ui_request messages.
const (
	OpPickFolder   = "pick_folder"
	OpPickFile     = "pick_file"
	OpPickSaveFile = "pick_save_file"
	OpOpenWindow   = "open_window"
	OpCloseWindow  = "close_window"
	OpQuit         = "quit"
	OpPrintPreview = "print_preview"
	OpPrint        = "print"
	OpExportPDF    = "export_pdf"
	OpApplyTheme   = "apply_theme"
	OpShowMessage  = "show_message"
)

// Outbound is a server to viewer message.
type Outbound struct {
	Type string `json:"type"`
	// ID correlates a ui_request with its ui_response.
	ID       string      `json:"id,omitempty"`
	Op       string      `json:"op,omitempty"`
	WindowID id.WindowID `json:"window_id,omitempty"`
	// ExpectsResponse is set when the viewer must answer with ui_response.
	ExpectsResponse bool `json:"expects_response,omitempty"`

	Delivery   *render.Delivery `json:"delivery,omitempty"`
	Options    *ui.PickOptions  `json:"options,omitempty"`
	Child      id.WindowID      `json:"child,omitempty"`
	URL        string           `json:"url,omitempty"`
	Stylesheet string           `json:"stylesheet,omitempty"`
	Title      string           `json:"title,omitempty"`
	Text       string           `json:"text,omitempty"`
	Message    string           `json:"message,omitempty"`
}

// Inbound is a viewer to server message.
type Inbound struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Value     string `json:"value,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
	Error     string `json:"error,omitempty"`
}
