package render

import (
	"bytes"
	"embed"
	"html/template"
	"time"
)

// Content types used for deliveries.
const (
	ContentHTML  = "text/html; charset=utf-8"
	ContentPlain = "text/plain; charset=utf-8"
)

// Kind tells the viewer what produced a delivery.
type Kind string

const (
	KindScriptOutput Kind = "script-output"
	KindDebuggerStep Kind = "debugger-step"
	KindError        Kind = "error"
	KindLocalFile    Kind = "local-file"
	KindNotice       Kind = "notice"
)

// Page is rendered content for one frame.
type Page struct {
	Content     []byte
	ContentType string
	Kind        Kind
}

// Delivery is a Page addressed to a window frame.
type Delivery struct {
	WindowID    string    `json:"window_id"`
	FrameID     string    `json:"frame_id"`
	Kind        Kind      `json:"kind"`
	ContentType string    `json:"content_type"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewDelivery addresses page to a frame.
func NewDelivery(windowID, frameID string, page Page) Delivery {
	return Delivery{
		WindowID:    windowID,
		FrameID:     frameID,
		Kind:        page.Kind,
		ContentType: page.ContentType,
		Content:     string(page.Content),
		Timestamp:   time.Now(),
	}
}

// Sink receives deliveries for the viewer.
type Sink interface {
	Deliver(d Delivery)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(d Delivery)

// Deliver calls f.
func (f SinkFunc) Deliver(d Delivery) { f(d) }

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// ErrorData fills the error page.
type ErrorData struct {
	Title   string
	Message string
	Detail  string
	Target  string
}

// ErrorPage renders a diagnostic page shown in the affected frame.
func ErrorPage(data ErrorData) Page {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "error.html", data); err != nil {
		buf.Reset()
		buf.WriteString(template.HTMLEscapeString(data.Title + ": " + data.Message))
	}
	return Page{Content: buf.Bytes(), ContentType: ContentHTML, Kind: KindError}
}

// Notice renders a short informational page, e.g. a theme list.
func Notice(title string, items []string) Page {
	var buf bytes.Buffer
	data := struct {
		Title string
		Items []string
	}{title, items}
	if err := templates.ExecuteTemplate(&buf, "notice.html", data); err != nil {
		buf.Reset()
		buf.WriteString(template.HTMLEscapeString(title))
	}
	return Page{Content: buf.Bytes(), ContentType: ContentHTML, Kind: KindNotice}
}
