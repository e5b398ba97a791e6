package shell

import (
	"context"
	"errors"
	"mime"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/peb/internal/debugger"
	"github.com/GriffinCanCode/peb/internal/dispatch"
	"github.com/GriffinCanCode/peb/internal/infrastructure/config"
	"github.com/GriffinCanCode/peb/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/peb/internal/render"
	"github.com/GriffinCanCode/peb/internal/script"
	"github.com/GriffinCanCode/peb/internal/shared/id"
	"github.com/GriffinCanCode/peb/internal/ui"
	"github.com/GriffinCanCode/peb/internal/window"
)

// highlightCacheSize bounds the highlighted-source cache.
const highlightCacheSize = 128

// BuildHighlighter assembles the source highlighter for debugger steps: the
// configured helper behind a circuit breaker, falling back to in-process
// highlighting, with results cached per file version.
func BuildHighlighter(cfg *config.Configuration, logger *zap.Logger) (debugger.Highlighter, error) {
	var h debugger.Highlighter = debugger.ChromaHighlighter{Style: "github"}
	if cfg.SourceViewer != "" {
		breaker := resilience.New("source-viewer", resilience.Settings{
			OnStateChange: func(name string, from, to resilience.State) {
				logger.Warn("Breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
		helper := debugger.NewCommandHighlighter(cfg.SourceViewer, cfg.SourceViewerArgs, breaker)
		h = debugger.FallbackHighlighter{Primary: helper, Secondary: h}
	}
	return debugger.NewCachedHighlighter(h, highlightCacheSize)
}

func (s *Shell) newDebugger(windowID id.WindowID) *debugger.Session {
	deliver := func(frameID string, page render.Page) {
		s.deliver(windowID, frameID, page)
	}
	var recorder debugger.Recorder
	if s.metrics != nil {
		recorder = s.metrics
	}
	return debugger.NewSession(s.debugCfg, s.highlight, deliver, recorder,
		s.logger.With(zap.String("window_id", windowID.String())))
}

func (s *Shell) runScript(w *window.Session, req *dispatch.NavigationRequest, action dispatch.Action) {
	if _, err := os.Stat(action.Path); err != nil {
		s.deliver(w.ID, req.FrameID, notFound(action))
		return
	}

	meta := script.CGI{
		Method:      req.Method,
		Body:        req.Body,
		ContentType: req.ContentType,
		UserAgent:   s.cfg.UserAgent,
	}
	if action.URL != nil {
		meta.Query = action.URL.RawQuery
		meta.Path = action.URL.Path
		meta.ServerName = action.URL.Hostname()
	}

	inv := script.NewInvocation(w.ID.String(), req.FrameID, action.Path, meta, s.env.Snapshot(), s.cfg.ScriptTimeout)
	events, err := s.scripts.Start(s.ctx, inv, w.Registry)
	if err != nil {
		s.logger.Warn("Script not started",
			zap.String("window_id", w.ID.String()),
			zap.String("script", action.Path),
			zap.Error(err))
		if !errors.Is(err, script.ErrRegistryClosed) {
			s.deliver(w.ID, req.FrameID, render.ErrorPage(render.ErrorData{
				Title:   "Script not started",
				Message: "The script could not be started.",
				Detail:  err.Error(),
				Target:  action.Path,
			}))
		}
		return
	}

	s.async(func(context.Context) {
		var completion *script.Completion
		for ev := range events {
			if ev.Kind == script.EventCompleted {
				completion = ev.Completed
			}
		}
		if completion == nil || completion.Status == script.StatusCancelled {
			return
		}
		page := script.Render(completion, script.RenderOptions{
			DisplayStderr: s.cfg.DisplayStderr,
			Target:        action.Path,
		})
		s.deliver(w.ID, req.FrameID, page)
	})
}

func (s *Shell) loadLocal(w *window.Session, frameID string, action dispatch.Action) {
	data, err := os.ReadFile(action.Path)
	if err != nil {
		s.logger.Warn("Local file unreadable", zap.String("path", action.Path), zap.Error(err))
		s.deliver(w.ID, frameID, notFound(action))
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(action.Path))
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}
	s.deliver(w.ID, frameID, render.Page{Content: data, ContentType: contentType, Kind: render.KindLocalFile})
}

func (s *Shell) runDebugger(ctx context.Context, w *window.Session, req *dispatch.NavigationRequest, action dispatch.Action) {
	if !s.cfg.DebuggerEnabled {
		s.deliver(w.ID, req.FrameID, render.ErrorPage(render.ErrorData{
			Title:   "Debugger disabled",
			Message: "Interactive debugging is turned off in the settings file.",
		}))
		return
	}

	dr := action.Debugger
	if dr.Op == dispatch.DebuggerOpCommand {
		s.sendDebugger(w, req.FrameID, dr.Command)
		return
	}

	scriptPath, err := s.host.PickFile(ctx, w.ID, ui.PickOptions{
		Title:   "Select Perl File",
		Dir:     s.cfg.RootDir,
		Filters: []string{"*.pl", "*.pm", "*.cgi", "*"},
	})
	if errors.Is(err, ui.ErrCancelled) || (err == nil && scriptPath == "") {
		return
	}
	if err != nil {
		s.logger.Warn("Debugger file picker failed", zap.Error(err))
		return
	}

	target, frameID := w, req.FrameID
	if action.NewWindow {
		child, err := s.openChild(w, action.URL.String())
		if err != nil {
			s.logger.Warn("Failed to open debugger window", zap.Error(err))
			return
		}
		target, frameID = child, ""
	}

	dbg, err := target.Debugger()
	if err != nil {
		s.logger.Warn("Debugger unavailable", zap.Error(err))
		return
	}

	start := dbg.Start
	if dr.Restart {
		start = dbg.Restart
	}
	if err := start(s.env.Snapshot(), scriptPath, frameID, dr.Initial); err != nil {
		s.deliver(target.ID, frameID, render.ErrorPage(render.ErrorData{
			Title:   "Debugger failed",
			Message: "The debugger could not be started.",
			Detail:  err.Error(),
			Target:  scriptPath,
		}))
	}
}

func (s *Shell) sendDebugger(w *window.Session, frameID, command string) {
	dbg, ok := w.ActiveDebugger()
	if !ok {
		s.deliver(w.ID, frameID, debuggerNotRunning())
		return
	}
	if err := dbg.Send(frameID, command); err != nil {
		s.logger.Debug("Debugger command rejected", zap.Error(err))
		s.deliver(w.ID, frameID, debuggerNotRunning())
	}
}

func debuggerNotRunning() render.Page {
	return render.ErrorPage(render.ErrorData{
		Title:   "Debugger not running",
		Message: "Select a script to debug first.",
		Detail:  debugger.ErrNotRunning.Error(),
	})
}

func notFound(action dispatch.Action) render.Page {
	return render.ErrorPage(render.ErrorData{
		Title:   "File not found",
		Message: "The requested file does not exist.",
		Target:  targetOf(action),
	})
}
