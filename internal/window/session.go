package window

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/peb/internal/debugger"
	"github.com/GriffinCanCode/peb/internal/script"
	"github.com/GriffinCanCode/peb/internal/shared/id"
)

// State is the lifecycle state of a window
type State string

const (
	StateOpen    State = "open"
	StateClosing State = "closing"
	StateClosed  State = "closed"
)

// DebuggerFactory creates the debugger session for a window on first use.
type DebuggerFactory func(windowID id.WindowID) *debugger.Session

// Session is everything the bridge tracks for one browser window: its
// running scripts and its debugger.
type Session struct {
	ID        id.WindowID
	ParentID  id.WindowID
	CreatedAt time.Time
	Registry  *script.Registry

	mu          sync.Mutex
	state       State
	debugger    *debugger.Session
	newDebugger DebuggerFactory
}

// Info is a read-only view of a window
type Info struct {
	ID        id.WindowID   `json:"id"`
	ParentID  id.WindowID   `json:"parent_id,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	State     State         `json:"state"`
	Scripts   []script.Info `json:"scripts"`
	Debugger  string        `json:"debugger"`
	LastLine  string        `json:"last_line,omitempty"`
}

func newSession(parent id.WindowID, factory DebuggerFactory) *Session {
	return &Session{
		ID:          id.NewWindowID(),
		ParentID:    parent,
		CreatedAt:   time.Now(),
		Registry:    script.NewRegistry(),
		state:       StateOpen,
		newDebugger: factory,
	}
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Debugger returns the window's debugger session, creating it on first use.
func (s *Session) Debugger() (*debugger.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen {
		return nil, fmt.Errorf("%w: %s", ErrWindowClosed, s.ID)
	}
	if s.debugger == nil {
		if s.newDebugger == nil {
			return nil, fmt.Errorf("no debugger configured for window %s", s.ID)
		}
		s.debugger = s.newDebugger(s.ID)
	}
	return s.debugger, nil
}

// ActiveDebugger returns the debugger only if one was created.
func (s *Session) ActiveDebugger() (*debugger.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debugger, s.debugger != nil
}

// Info snapshots the window
func (s *Session) Info() Info {
	s.mu.Lock()
	state := s.state
	dbg := s.debugger
	s.mu.Unlock()

	info := Info{
		ID:        s.ID,
		ParentID:  s.ParentID,
		CreatedAt: s.CreatedAt,
		State:     state,
		Scripts:   s.Registry.List(),
		Debugger:  debugger.StateIdle.String(),
	}
	if dbg != nil {
		info.Debugger = dbg.State().String()
		info.LastLine = dbg.LastLine()
	}
	return info
}

// close cancels the window's scripts, waits for them to exit and kills the
// debugger. The window is unusable afterwards.
func (s *Session) close(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return 0, nil
	}
	s.state = StateClosing
	s.mu.Unlock()

	cancelled := s.Registry.Close()
	waitErr := s.Registry.Wait(ctx)

	s.mu.Lock()
	dbg := s.debugger
	s.state = StateClosed
	s.mu.Unlock()

	if dbg != nil {
		_ = dbg.Close()
	}
	if waitErr != nil {
		return cancelled, fmt.Errorf("window %s: scripts still running: %w", s.ID, waitErr)
	}
	return cancelled, nil
}
