package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/peb/internal/dispatch"
	"github.com/GriffinCanCode/peb/internal/infrastructure/config"
	"github.com/GriffinCanCode/peb/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/peb/internal/sandbox"
	"github.com/GriffinCanCode/peb/internal/shared/id"
	"github.com/GriffinCanCode/peb/internal/ui"
)

// ErrUnknownCommand is returned for a command with no handler.
var ErrUnknownCommand = errors.New("unknown command")

// WindowCloser tears down server-side window state.
type WindowCloser interface {
	Close(ctx context.Context, windowID id.WindowID) error
	CloseAll(ctx context.Context) error
}

// Request is one UI command issued from a window.
type Request struct {
	WindowID id.WindowID
	FrameID  string
	Action   dispatch.Action
}

type handlerFunc func(ctx context.Context, req Request) error

// Deps are the collaborators an Executor needs.
type Deps struct {
	Config  *config.Configuration
	Store   *config.Store
	Env     *sandbox.Environment
	Host    ui.Host
	Windows WindowCloser
	Metrics *monitoring.Metrics
	Logger  *zap.Logger
	OnQuit  func()
}

// Executor runs UI commands against the sandbox, the settings store and the
// viewer.
type Executor struct {
	Deps
	handlers map[string]handlerFunc
}

// NewExecutor wires the command vocabulary to its handlers.
func NewExecutor(deps Deps) *Executor {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	e := &Executor{Deps: deps}
	e.handlers = map[string]handlerFunc{
		dispatch.CommandAddToPath:    e.addToPath,
		dispatch.CommandSelectPerl:   e.selectPerl,
		dispatch.CommandSetTheme:     e.setTheme,
		dispatch.CommandSelectTheme:  e.selectTheme,
		dispatch.CommandOpenFile:     e.pickInto(sandbox.FileToOpen, "Select File", ui.Host.PickFile),
		dispatch.CommandNewFile:      e.pickInto(sandbox.FileToCreate, "Create New File", ui.Host.PickSaveFile),
		dispatch.CommandOpenFolder:   e.pickInto(sandbox.FolderToOpen, "Select Folder", ui.Host.PickFolder),
		dispatch.CommandPrintPreview: e.forward(ui.Host.PrintPreview),
		dispatch.CommandPrint:        e.forward(ui.Host.Print),
		dispatch.CommandPDF:          e.forward(ui.Host.ExportPDF),
		dispatch.CommandCloseWindow:  e.closeWindow,
		dispatch.CommandQuit:         e.quit,
	}
	return e
}

// Commands lists the handled command names.
func (e *Executor) Commands() []string {
	names := make([]string, 0, len(e.handlers))
	for name := range e.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs the handler for req.Action.Command. A dismissed picker is not
// an error.
func (e *Executor) Execute(ctx context.Context, req Request) error {
	name := req.Action.Command
	handler, ok := e.handlers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}

	var timer *monitoring.Timer
	if e.Metrics != nil {
		timer = monitoring.NewTimer(e.Metrics, name)
	}

	err := handler(ctx, req)
	switch {
	case err == nil:
		timer.Stop("success")
	case errors.Is(err, ui.ErrCancelled):
		timer.Stop("cancelled")
		e.Logger.Debug("Command cancelled by user", zap.String("command", name))
		return nil
	default:
		timer.Stop("error")
		e.Logger.Warn("Command failed",
			zap.String("command", name),
			zap.String("window_id", req.WindowID.String()),
			zap.Error(err))
		return fmt.Errorf("%s: %w", name, err)
	}

	e.Logger.Info("Command executed", zap.String("command", name), zap.String("window_id", req.WindowID.String()))
	return nil
}

func (e *Executor) addToPath(ctx context.Context, req Request) error {
	dir, err := e.Host.PickFolder(ctx, req.WindowID, ui.PickOptions{
		Title: "Select folder to add to PATH",
		Dir:   e.Config.RootDir,
	})
	if err != nil {
		return err
	}
	if err := e.Env.AppendPath(dir); err != nil {
		return err
	}
	return e.Store.AppendPath(dir)
}

func (e *Executor) selectPerl(ctx context.Context, req Request) error {
	interpreter, err := e.Host.PickFile(ctx, req.WindowID, ui.PickOptions{Title: "Select Perl Interpreter"})
	if err != nil {
		return err
	}
	if info, err := os.Stat(interpreter); err != nil || info.IsDir() {
		return fmt.Errorf("interpreter not usable: %s", interpreter)
	}

	lib, err := e.Host.PickFolder(ctx, req.WindowID, ui.PickOptions{Title: "Select " + e.Config.LibVar})
	switch {
	case errors.Is(err, ui.ErrCancelled):
		lib, _ = e.Env.Get(e.Config.LibVar)
	case err != nil:
		return err
	}

	if err := e.Store.SetInterpreter(interpreter, lib); err != nil {
		return err
	}
	e.Env.SetInterpreter(interpreter, lib)
	return nil
}

type picker func(h ui.Host, ctx context.Context, windowID id.WindowID, opts ui.PickOptions) (string, error)

// pickInto asks the viewer for a path and exposes it to later scripts as name.
func (e *Executor) pickInto(name, title string, pick picker) handlerFunc {
	return func(ctx context.Context, req Request) error {
		path, err := pick(e.Host, ctx, req.WindowID, ui.PickOptions{Title: title})
		if err != nil {
			return err
		}
		if path == "" {
			return ui.ErrCancelled
		}
		e.Env.Set(name, path)
		e.Logger.Info("Path selected", zap.String("variable", name), zap.String("path", path))
		return nil
	}
}

func (e *Executor) forward(call func(h ui.Host, ctx context.Context, windowID id.WindowID) error) handlerFunc {
	return func(ctx context.Context, req Request) error {
		return call(e.Host, ctx, req.WindowID)
	}
}

func (e *Executor) closeWindow(ctx context.Context, req Request) error {
	if err := e.Host.CloseWindow(ctx, req.WindowID); err != nil {
		return err
	}
	if e.Windows == nil {
		return nil
	}
	return e.Windows.Close(ctx, req.WindowID)
}

func (e *Executor) quit(ctx context.Context, _ Request) error {
	var errs []error
	if e.Windows != nil {
		errs = append(errs, e.Windows.CloseAll(ctx))
	}
	errs = append(errs, e.Host.Quit(ctx))
	if e.OnQuit != nil {
		e.OnQuit()
	}
	return errors.Join(errs...)
}
