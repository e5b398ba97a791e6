package http

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/peb/internal/dispatch"
	"github.com/GriffinCanCode/peb/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/peb/internal/shared/id"
	"github.com/GriffinCanCode/peb/internal/shell"
	"github.com/GriffinCanCode/peb/internal/window"
)

// Version is reported by the root endpoint.
const Version = "0.3.0"

// closeTimeout bounds how long DELETE /windows/:id waits for scripts.
const closeTimeout = 15 * time.Second

// Handlers contains all HTTP handlers
type Handlers struct {
	shell   *shell.Shell
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewHandlers creates a new handler set
func NewHandlers(sh *shell.Shell, metrics *monitoring.Metrics, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{shell: sh, metrics: metrics, logger: logger}
}

// OpenWindowRequest is the body of POST /windows.
type OpenWindowRequest struct {
	Parent string `json:"parent"`
}

// NavigateRequest is the body of POST /windows/:id/navigate.
type NavigateRequest struct {
	URL      string `json:"url" binding:"required"`
	FrameID  string `json:"frame_id"`
	Trigger  string `json:"trigger"`
	TopLevel bool   `json:"top_level"`

	Method      string `json:"method"`
	Body        string `json:"body"`
	ContentType string `json:"content_type"`
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "online",
		"service":   "peb",
		"version":   Version,
		"start_url": h.shell.StartURL(),
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	resp := gin.H{
		"status":  "healthy",
		"windows": h.shell.Windows().Stats(),
	}
	if h.metrics != nil {
		snap := h.metrics.GetSnapshot()
		resp["metrics"] = snap
		resp["avg_latency_ms"] = snap.AverageLatency().Milliseconds()
		resp["error_rate"] = snap.ErrorRate()
	}
	c.JSON(http.StatusOK, resp)
}

// OpenWindow opens a top-level or child window
func (h *Handlers) OpenWindow(c *gin.Context) {
	var req OpenWindowRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	parent := id.WindowID(strings.TrimSpace(req.Parent))
	w, err := h.shell.Windows().Open(parent)
	if err != nil {
		h.windowError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"window_id": w.ID,
		"parent_id": w.ParentID,
		"stream":    "/windows/" + w.ID.String() + "/stream",
	})
}

// CloseWindow closes a window after its children, cancelling their scripts
func (h *Handlers) CloseWindow(c *gin.Context) {
	windowID, ok := windowParam(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), closeTimeout)
	defer cancel()

	if err := h.shell.Windows().Close(ctx, windowID); err != nil {
		if errors.Is(err, window.ErrNotFound) {
			h.windowError(c, err)
			return
		}
		h.logger.Warn("Window close incomplete", zap.String("window_id", windowID.String()), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"success": true, "window_id": windowID, "warning": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "window_id": windowID})
}

// ListWindows lists all open windows
func (h *Handlers) ListWindows(c *gin.Context) {
	windows := h.shell.Windows()
	c.JSON(http.StatusOK, gin.H{
		"windows": windows.List(),
		"stats":   windows.Stats(),
	})
}

// GetWindow returns one window
func (h *Handlers) GetWindow(c *gin.Context) {
	w, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, w.Info())
}

// ListScripts lists the running scripts of a window
func (h *Handlers) ListScripts(c *gin.Context) {
	w, ok := h.lookup(c)
	if !ok {
		return
	}
	scripts := w.Registry.List()
	c.JSON(http.StatusOK, gin.H{
		"window_id": w.ID,
		"scripts":   scripts,
		"count":     len(scripts),
	})
}

// Navigate classifies a navigation and starts its action
func (h *Handlers) Navigate(c *gin.Context) {
	windowID, ok := windowParam(c)
	if !ok {
		return
	}

	var req NavigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	target, err := url.Parse(req.URL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid url: " + err.Error()})
		return
	}

	nav := &dispatch.NavigationRequest{
		URL:         target,
		FrameID:     req.FrameID,
		Trigger:     dispatch.ParseTrigger(req.Trigger),
		TopLevel:    req.TopLevel,
		Method:      strings.ToUpper(req.Method),
		ContentType: req.ContentType,
	}
	if req.Body != "" {
		nav.Body = []byte(req.Body)
	}

	decision, err := h.shell.Navigate(windowID, nav)
	switch {
	case errors.Is(err, window.ErrNotFound):
		h.windowError(c, err)
	case errors.Is(err, shell.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, decision)
	}
}

// Rules lists the dispatch table in evaluation order
func (h *Handlers) Rules(c *gin.Context) {
	rules := h.shell.Classifier().Rules()
	names := make([]string, 0, len(rules))
	for _, r := range rules {
		names = append(names, r.Name)
	}
	c.JSON(http.StatusOK, gin.H{"rules": names})
}

func (h *Handlers) lookup(c *gin.Context) (*window.Session, bool) {
	windowID, ok := windowParam(c)
	if !ok {
		return nil, false
	}
	w, found := h.shell.Windows().Get(windowID)
	if !found {
		h.windowError(c, window.ErrNotFound)
		return nil, false
	}
	return w, true
}

func (h *Handlers) windowError(c *gin.Context, err error) {
	if errors.Is(err, window.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// windowParam validates the :id path parameter.
func windowParam(c *gin.Context) (id.WindowID, bool) {
	raw := c.Param("id")
	if !id.Valid(raw, id.WindowPrefix) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid window id", "window_id": raw})
		return "", false
	}
	return id.WindowID(raw), true
}

// Register adds the window and navigation routes.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/rules", h.Rules)

	r.GET("/windows", h.ListWindows)
	r.POST("/windows", h.OpenWindow)
	r.GET("/windows/:id", h.GetWindow)
	r.DELETE("/windows/:id", h.CloseWindow)
	r.GET("/windows/:id/scripts", h.ListScripts)
	r.POST("/windows/:id/navigate", h.Navigate)
}
