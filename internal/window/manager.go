package window

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/peb/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/peb/internal/shared/id"
)

var (
	// ErrNotFound is returned for unknown window IDs
	ErrNotFound = errors.New("window not found")
	// ErrWindowClosed is returned when a closing window is asked to do work
	ErrWindowClosed = errors.New("window closed")
)

// Manager orchestrates window lifecycle
type Manager struct {
	mu          sync.RWMutex
	windows     map[id.WindowID]*Session // Protected by mu
	newDebugger DebuggerFactory
	metrics     *monitoring.Metrics
	logger      *zap.Logger
	onClose     []func(id.WindowID)
}

// Stats summarizes the open windows
type Stats struct {
	Windows   int `json:"windows"`
	Scripts   int `json:"scripts"`
	Debuggers int `json:"debuggers"`
}

// NewManager creates a new window manager
func NewManager(factory DebuggerFactory, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		windows:     make(map[id.WindowID]*Session),
		newDebugger: factory,
		logger:      logger,
	}
}

// WithMetrics adds metrics tracking to the manager
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// OnClose registers fn to run after a window has been torn down.
func (m *Manager) OnClose(fn func(id.WindowID)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClose = append(m.onClose, fn)
}

// Open creates a window. parent is empty for top-level windows.
func (m *Manager) Open(parent id.WindowID) (*Session, error) {
	m.mu.Lock()
	if parent != "" {
		if _, ok := m.windows[parent]; !ok {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: parent %s", ErrNotFound, parent)
		}
	}
	w := newSession(parent, m.newDebugger)
	m.windows[w.ID] = w
	count := len(m.windows)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.IncWindowsTotal()
		m.metrics.SetWindowsActive(count)
	}
	m.logger.Info("Window opened", zap.String("window_id", w.ID.String()), zap.String("parent_id", parent.String()))
	return w, nil
}

// Get retrieves a window by ID
func (m *Manager) Get(windowID id.WindowID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.windows[windowID]
	return w, ok
}

// List returns all windows, oldest first
func (m *Manager) List() []Info {
	m.mu.RLock()
	windows := make([]*Session, 0, len(m.windows))
	for _, w := range m.windows {
		windows = append(windows, w)
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(windows))
	for _, w := range windows {
		infos = append(infos, w.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Close tears down a window and its descendants. Descendants are closed
// first, in parallel; the window itself last.
func (m *Manager) Close(ctx context.Context, windowID id.WindowID) error {
	m.mu.Lock()
	root, ok := m.windows[windowID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, windowID)
	}

	// Collect descendants first (to avoid recursive locking)
	var descendants []*Session
	queue := []id.WindowID{windowID}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		for _, w := range m.windows {
			if w.ParentID == parent {
				descendants = append(descendants, w)
				queue = append(queue, w.ID)
			}
		}
	}
	for _, w := range descendants {
		delete(m.windows, w.ID)
	}
	delete(m.windows, windowID)
	count := len(m.windows)
	hooks := append([]func(id.WindowID){}, m.onClose...)
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range descendants {
		w := w
		g.Go(func() error {
			return m.teardown(gctx, w, hooks)
		})
	}
	childErr := g.Wait()
	rootErr := m.teardown(ctx, root, hooks)

	if m.metrics != nil {
		m.metrics.SetWindowsActive(count)
	}
	return errors.Join(childErr, rootErr)
}

func (m *Manager) teardown(ctx context.Context, w *Session, hooks []func(id.WindowID)) error {
	cancelled, err := w.close(ctx)
	for _, fn := range hooks {
		fn(w.ID)
	}
	if err != nil {
		m.logger.Warn("Window closed with scripts still running",
			zap.String("window_id", w.ID.String()),
			zap.Error(err))
		return err
	}
	m.logger.Info("Window closed",
		zap.String("window_id", w.ID.String()),
		zap.Int("cancelled_scripts", cancelled))
	return nil
}

// CloseAll closes every top-level window and, through them, all others.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.RLock()
	var roots []id.WindowID
	for wid, w := range m.windows {
		if w.ParentID == "" || m.windows[w.ParentID] == nil {
			roots = append(roots, wid)
		}
	}
	m.mu.RUnlock()

	var errs []error
	for _, wid := range roots {
		if err := m.Close(ctx, wid); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns manager statistics
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	windows := make([]*Session, 0, len(m.windows))
	for _, w := range m.windows {
		windows = append(windows, w)
	}
	m.mu.RUnlock()

	stats := Stats{Windows: len(windows)}
	for _, w := range windows {
		stats.Scripts += w.Registry.Len()
		if _, ok := w.ActiveDebugger(); ok {
			stats.Debuggers++
		}
	}
	return stats
}
