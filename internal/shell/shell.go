package shell

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/peb/internal/commands"
	"github.com/GriffinCanCode/peb/internal/debugger"
	"github.com/GriffinCanCode/peb/internal/dispatch"
	"github.com/GriffinCanCode/peb/internal/filetype"
	"github.com/GriffinCanCode/peb/internal/infrastructure/config"
	"github.com/GriffinCanCode/peb/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/peb/internal/render"
	"github.com/GriffinCanCode/peb/internal/sandbox"
	"github.com/GriffinCanCode/peb/internal/script"
	"github.com/GriffinCanCode/peb/internal/shared/id"
	"github.com/GriffinCanCode/peb/internal/ui"
	"github.com/GriffinCanCode/peb/internal/window"
)

// ErrShuttingDown is returned for navigations after Shutdown started.
var ErrShuttingDown = errors.New("shell shutting down")

// Decision tells the viewer whether it must drop its own handling of a
// navigation. The work behind an intercepted navigation runs asynchronously
// and reaches the viewer as deliveries or UI requests.
type Decision struct {
	Intercept bool
	Action    dispatch.Action
	// Window is set when the navigation opened a new window.
	Window id.WindowID
}

// MarshalJSON renders the decision for the viewer API.
func (d Decision) MarshalJSON() ([]byte, error) {
	view := struct {
		Intercept bool        `json:"intercept"`
		Action    string      `json:"action"`
		Rule      string      `json:"rule,omitempty"`
		Command   string      `json:"command,omitempty"`
		Path      string      `json:"path,omitempty"`
		URL       string      `json:"url,omitempty"`
		NewWindow bool        `json:"new_window,omitempty"`
		Window    id.WindowID `json:"window,omitempty"`
		Reason    string      `json:"reason,omitempty"`
	}{
		Intercept: d.Intercept,
		Action:    d.Action.Kind.String(),
		Rule:      d.Action.Rule,
		Command:   d.Action.Command,
		Path:      d.Action.Path,
		NewWindow: d.Action.NewWindow,
		Window:    d.Window,
		Reason:    d.Action.Reason,
	}
	if d.Action.URL != nil {
		view.URL = d.Action.URL.String()
	}
	return sonic.Marshal(view)
}

// Deps are the collaborators of a Shell.
type Deps struct {
	Config      *config.Configuration
	Store       *config.Store
	Env         *sandbox.Environment
	Host        ui.Host
	Sink        render.Sink
	Highlighter debugger.Highlighter
	Metrics     *monitoring.Metrics
	Logger      *zap.Logger
	OnQuit      func()
}

// Shell is the navigation bridge: it classifies every navigation of every
// window and runs the resulting action.
type Shell struct {
	cfg        *config.Configuration
	env        *sandbox.Environment
	host       ui.Host
	sink       render.Sink
	metrics    *monitoring.Metrics
	logger     *zap.Logger
	classifier *dispatch.Classifier
	scripts    *script.Manager
	windows    *window.Manager
	commands   *commands.Executor
	debugCfg   debugger.Config
	highlight  debugger.Highlighter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires a Shell. The window manager and command executor are owned by it.
func New(deps Deps) (*Shell, error) {
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	host := deps.Host
	if host == nil {
		host = ui.Headless{}
	}

	detector, err := filetype.NewDetector(cfg.ShebangPattern, 512)
	if err != nil {
		return nil, fmt.Errorf("failed to create file type detector: %w", err)
	}
	tmpl, err := debugger.LoadTemplate(cfg.DebuggerTemplate)
	if err != nil {
		return nil, err
	}

	s := &Shell{
		cfg:     cfg,
		env:     deps.Env,
		host:    host,
		sink:    deps.Sink,
		metrics: deps.Metrics,
		logger:  logger,
		classifier: dispatch.NewClassifier(dispatch.Options{
			RootDir:        cfg.RootDir,
			PseudoDomain:   cfg.PseudoDomain,
			AllowedDomains: cfg.AllowedDomains,
			Detector:       detector,
		}),
		debugCfg: debugger.Config{
			Args:             cfg.DebuggerArgs,
			Env:              cfg.DebuggerEnv,
			HighlightTimeout: cfg.HighlightTimeout,
			Template:         tmpl,
		},
		highlight: deps.Highlighter,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	opts := []script.Option{}
	if deps.Metrics != nil {
		opts = append(opts, script.WithRecorder(deps.Metrics))
	}
	s.scripts = script.NewManager(logger, opts...)

	s.windows = window.NewManager(s.newDebugger, logger)
	if deps.Metrics != nil {
		s.windows.WithMetrics(deps.Metrics)
	}

	s.commands = commands.NewExecutor(commands.Deps{
		Config:  cfg,
		Store:   deps.Store,
		Env:     deps.Env,
		Host:    host,
		Windows: s.windows,
		Metrics: deps.Metrics,
		Logger:  logger,
		OnQuit:  deps.OnQuit,
	})
	return s, nil
}

// Windows exposes the window manager.
func (s *Shell) Windows() *window.Manager {
	return s.windows
}

// StartURL is the first page a new top-level window should load.
func (s *Shell) StartURL() string {
	return s.cfg.StartURL()
}

// Classifier exposes the dispatch table.
func (s *Shell) Classifier() *dispatch.Classifier {
	return s.classifier
}

// Navigate classifies req for the given window and starts the action. It
// never blocks on subprocesses or pickers.
func (s *Shell) Navigate(windowID id.WindowID, req *dispatch.NavigationRequest) (Decision, error) {
	if s.ctx.Err() != nil {
		return Decision{}, ErrShuttingDown
	}
	w, ok := s.windows.Get(windowID)
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", window.ErrNotFound, windowID)
	}

	action := s.classifier.Classify(req)
	decision := Decision{Intercept: action.Intercepted(), Action: action}
	if s.metrics != nil {
		s.metrics.RecordNavigation(action.Kind.String(), decision.Intercept)
	}

	logger := s.logger.With(
		zap.String("window_id", windowID.String()),
		zap.String("frame_id", req.FrameID),
		zap.String("action", action.Kind.String()))
	if req.URL != nil {
		logger = logger.With(zap.String("url", req.URL.Redacted()))
	}
	logger.Debug("Navigation classified", zap.String("rule", action.Rule))

	switch action.Kind {
	case dispatch.ActionDefer:
	case dispatch.ActionUICommand:
		s.async(func(ctx context.Context) { s.runCommand(ctx, w, req, action) })
	case dispatch.ActionLoadLocal:
		s.async(func(context.Context) { s.loadLocal(w, req.FrameID, action) })
	case dispatch.ActionLoadRemote:
		if action.NewWindow {
			child, err := s.openChild(w, action.URL.String())
			if err != nil {
				logger.Warn("Failed to open window", zap.Error(err))
				return decision, nil
			}
			decision.Window = child.ID
		}
	case dispatch.ActionRunScript:
		s.runScript(w, req, action)
	case dispatch.ActionRunDebugger:
		s.async(func(ctx context.Context) { s.runDebugger(ctx, w, req, action) })
	case dispatch.ActionDeny:
		logger.Warn("Navigation denied", zap.String("reason", action.Reason))
		s.deliver(w.ID, req.FrameID, render.ErrorPage(render.ErrorData{
			Title:   "Navigation blocked",
			Message: "This location cannot be opened.",
			Detail:  action.Reason,
			Target:  targetOf(action),
		}))
	}
	return decision, nil
}

// Shutdown stops accepting navigations, closes every window and waits for
// in-flight work.
func (s *Shell) Shutdown(ctx context.Context) error {
	s.cancel()
	err := s.windows.CloseAll(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

func (s *Shell) async(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

func (s *Shell) deliver(windowID id.WindowID, frameID string, page render.Page) {
	if s.sink == nil {
		return
	}
	s.sink.Deliver(render.NewDelivery(windowID.String(), frameID, page))
}

func (s *Shell) openChild(parent *window.Session, url string) (*window.Session, error) {
	child, err := s.windows.Open(parent.ID)
	if err != nil {
		return nil, err
	}
	// Without a viewer the child still exists; the decision carries its ID.
	if err := s.host.OpenWindow(s.ctx, parent.ID, child.ID, url); err != nil && !errors.Is(err, ui.ErrNoViewer) {
		_ = s.windows.Close(s.ctx, child.ID)
		return nil, err
	}
	return child, nil
}

func (s *Shell) runCommand(ctx context.Context, w *window.Session, req *dispatch.NavigationRequest, action dispatch.Action) {
	err := s.commands.Execute(ctx, commands.Request{WindowID: w.ID, FrameID: req.FrameID, Action: action})
	if err == nil {
		return
	}
	if msgErr := s.host.ShowMessage(ctx, w.ID, "Command failed", err.Error()); msgErr != nil {
		s.logger.Debug("Could not show command error", zap.Error(msgErr))
	}
}

func targetOf(action dispatch.Action) string {
	if action.Path != "" {
		return action.Path
	}
	if action.URL != nil {
		return action.URL.String()
	}
	return ""
}
