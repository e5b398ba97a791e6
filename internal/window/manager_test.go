package window

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/peb/internal/debugger"
	"github.com/GriffinCanCode/peb/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/peb/internal/render"
	"github.com/GriffinCanCode/peb/internal/shared/id"
)

func debuggerFactory(windowID id.WindowID) *debugger.Session {
	return debugger.NewSession(debugger.Config{}, nil, func(string, render.Page) {}, nil, zap.NewNop())
}

func TestOpen(t *testing.T) {
	m := NewManager(debuggerFactory, zap.NewNop())

	w, err := m.Open("")
	require.NoError(t, err)
	assert.True(t, id.Valid(w.ID.String(), id.WindowPrefix))
	assert.Equal(t, StateOpen, w.State())

	got, ok := m.Get(w.ID)
	require.True(t, ok)
	assert.Same(t, w, got)
}

func TestOpenUnknownParent(t *testing.T) {
	m := NewManager(debuggerFactory, zap.NewNop())

	_, err := m.Open(id.WindowID("win_missing"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, m.List())
}

func TestCloseCascades(t *testing.T) {
	m := NewManager(debuggerFactory, zap.NewNop())
	ctx := context.Background()

	parent, _ := m.Open("")
	child, _ := m.Open(parent.ID)
	grandchild, _ := m.Open(child.ID)
	other, _ := m.Open("")

	var mu sync.Mutex
	var closed []id.WindowID
	m.OnClose(func(wid id.WindowID) {
		mu.Lock()
		defer mu.Unlock()
		closed = append(closed, wid)
	})

	require.NoError(t, m.Close(ctx, parent.ID))

	for _, w := range []*Session{parent, child, grandchild} {
		_, ok := m.Get(w.ID)
		assert.False(t, ok)
		assert.Equal(t, StateClosed, w.State())
	}
	_, ok := m.Get(other.ID)
	assert.True(t, ok)

	require.Len(t, closed, 3)
	assert.Equal(t, parent.ID, closed[2], "window itself closes after its children")
}

func TestCloseUnknown(t *testing.T) {
	m := NewManager(debuggerFactory, zap.NewNop())
	assert.ErrorIs(t, m.Close(context.Background(), "win_nope"), ErrNotFound)
}

func TestDebuggerLifecycle(t *testing.T) {
	m := NewManager(debuggerFactory, zap.NewNop())
	w, _ := m.Open("")

	_, ok := w.ActiveDebugger()
	assert.False(t, ok)

	first, err := w.Debugger()
	require.NoError(t, err)
	second, err := w.Debugger()
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, m.Stats().Debuggers)

	require.NoError(t, m.Close(context.Background(), w.ID))
	assert.Equal(t, debugger.StateClosed, first.State())

	_, err = w.Debugger()
	assert.ErrorIs(t, err, ErrWindowClosed)
}

func TestCloseAll(t *testing.T) {
	m := NewManager(debuggerFactory, zap.NewNop())
	a, _ := m.Open("")
	_, _ = m.Open(a.ID)
	_, _ = m.Open("")

	require.NoError(t, m.CloseAll(context.Background()))
	assert.Equal(t, 0, m.Stats().Windows)
}

func TestMetrics(t *testing.T) {
	metrics := monitoring.NewMetrics()
	m := NewManager(debuggerFactory, zap.NewNop()).WithMetrics(metrics)

	a, _ := m.Open("")
	_, _ = m.Open("")
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.WindowsActive))

	require.NoError(t, m.Close(context.Background(), a.ID))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WindowsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.WindowsTotal))
}

func TestListOrder(t *testing.T) {
	m := NewManager(debuggerFactory, zap.NewNop())
	a, _ := m.Open("")
	time.Sleep(2 * time.Millisecond)
	b, _ := m.Open(a.ID)

	infos := m.List()
	require.Len(t, infos, 2)
	assert.Equal(t, a.ID, infos[0].ID)
	assert.Equal(t, b.ID, infos[1].ID)
	assert.Equal(t, a.ID, infos[1].ParentID)
	assert.Equal(t, "idle", infos[0].Debugger)
}
