package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/peb/internal/shared/proc"
)

var (
	// ErrSpawnFailed means the interpreter could not be started.
	ErrSpawnFailed = errors.New("script spawn failed")
	// ErrTimedOut means the invocation exceeded its timeout and was killed.
	ErrTimedOut = errors.New("script timed out")
)

// DefaultMaxOutput caps each of stdout and stderr.
const DefaultMaxOutput = 10 * 1024 * 1024

// Status is how an invocation ended.
type Status int

const (
	StatusExited Status = iota
	StatusTimedOut
	StatusSpawnFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusTimedOut:
		return "timed_out"
	case StatusSpawnFailed:
		return "spawn_failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "exited"
	}
}

// EventKind distinguishes stream events.
type EventKind int

const (
	EventOutput EventKind = iota
	EventError
	EventCompleted
)

// Completion is the final result of an invocation.
type Completion struct {
	Status          Status
	ExitCode        int
	Stdout          []byte
	Stderr          []byte
	StdoutTruncated bool
	StderrTruncated bool
	Duration        time.Duration
	Err             error
}

// Event is one element of an invocation's stream. Completed is set only for
// EventCompleted, which is always the last event.
type Event struct {
	Kind      EventKind
	Chunk     []byte
	Completed *Completion
}

// Recorder observes script lifecycles.
type Recorder interface {
	ScriptStarted()
	ScriptCompleted(status string, d time.Duration)
}

// Manager spawns script subprocesses.
type Manager struct {
	logger    *zap.Logger
	recorder  Recorder
	maxOutput int
}

// Option configures a Manager.
type Option func(*Manager)

// WithRecorder attaches lifecycle metrics.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithMaxOutput sets the per-stream output cap.
func WithMaxOutput(n int) Option {
	return func(m *Manager) { m.maxOutput = n }
}

// NewManager creates a manager.
func NewManager(logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{logger: logger, maxOutput: DefaultMaxOutput}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start registers inv in reg and runs it in the background. The returned
// channel yields output chunks followed by exactly one EventCompleted and is
// then closed; callers must drain it. By the time EventCompleted is received
// the invocation has been removed from reg.
func (m *Manager) Start(ctx context.Context, inv *Invocation, reg *Registry) (<-chan Event, error) {
	runCtx, cancel := context.WithCancel(ctx)
	if t := inv.effectiveTimeout(); t > 0 {
		runCtx, cancel = withTimeout(runCtx, cancel, t)
		inv.Deadline = time.Now().Add(t)
	}
	inv.StartedAt = time.Now()

	if err := reg.Add(inv, cancel); err != nil {
		cancel()
		return nil, err
	}

	events := make(chan Event, 64)
	go m.run(runCtx, cancel, inv, reg, events)
	return events, nil
}

func withTimeout(parent context.Context, cancelParent context.CancelFunc, d time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, d)
	return ctx, func() {
		cancel()
		cancelParent()
	}
}

func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, inv *Invocation, reg *Registry, events chan<- Event) {
	defer close(events)
	defer cancel()

	logger := m.logger.With(
		zap.String("invocation", inv.ID.String()),
		zap.String("window", inv.WindowID),
		zap.String("script", inv.Script))

	if m.recorder != nil {
		m.recorder.ScriptStarted()
	}

	completion := m.execute(ctx, inv, events, logger)

	if !reg.Remove(inv.ID) {
		logger.Warn("Invocation already removed from registry")
	}
	if m.recorder != nil {
		m.recorder.ScriptCompleted(completion.Status.String(), completion.Duration)
	}

	switch completion.Status {
	case StatusExited:
		logger.Info("Script finished",
			zap.Int("exit_code", completion.ExitCode),
			zap.Duration("duration", completion.Duration))
	case StatusCancelled:
		logger.Info("Script cancelled")
	default:
		logger.Warn("Script failed",
			zap.String("status", completion.Status.String()),
			zap.Error(completion.Err))
	}

	events <- Event{Kind: EventCompleted, Completed: completion}
}

func (m *Manager) execute(ctx context.Context, inv *Invocation, events chan<- Event, logger *zap.Logger) *Completion {
	start := time.Now()

	cmd := exec.CommandContext(ctx, inv.Interpreter(), inv.Script)
	proc.Bind(cmd)
	cmd.Dir = filepath.Dir(inv.Script)
	cmd.Env = inv.Env.Environ(inv.Variables())
	cmd.Stdin = bytes.NewReader(inv.Meta.Body)

	stdout := &BoundedBuffer{limit: m.maxOutput}
	stderr := &BoundedBuffer{limit: m.maxOutput}
	cmd.Stdout = &streamWriter{buf: stdout, kind: EventOutput, events: events}
	cmd.Stderr = &streamWriter{buf: stderr, kind: EventError, events: events}

	if err := cmd.Start(); err != nil {
		return spawnFailed(err, start)
	}

	waitErr := cmd.Wait()
	c := &Completion{
		Stdout:          stdout.Bytes(),
		Stderr:          stderr.Bytes(),
		StdoutTruncated: stdout.Truncated,
		StderrTruncated: stderr.Truncated,
		Duration:        time.Since(start),
	}
	if stdout.Truncated || stderr.Truncated {
		logger.Warn("Script output truncated", zap.Int("limit", m.maxOutput))
	}

	switch {
	case waitErr != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		c.Status = StatusTimedOut
		c.ExitCode = -1
		c.Err = fmt.Errorf("%w after %s", ErrTimedOut, inv.Timeout)
	case waitErr != nil && errors.Is(ctx.Err(), context.Canceled):
		c.Status = StatusCancelled
		c.ExitCode = -1
		c.Err = ctx.Err()
	default:
		c.Status = StatusExited
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			c.ExitCode = exitErr.ExitCode()
		} else if waitErr != nil {
			c.ExitCode = -1
			c.Err = waitErr
		}
	}
	return c
}

func spawnFailed(err error, start time.Time) *Completion {
	return &Completion{
		Status:   StatusSpawnFailed,
		ExitCode: -1,
		Err:      fmt.Errorf("%w: %v", ErrSpawnFailed, err),
		Duration: time.Since(start),
	}
}

// streamWriter accumulates one output stream and forwards each chunk as an event.
type streamWriter struct {
	buf    *BoundedBuffer
	kind   EventKind
	events chan<- Event
}

func (w *streamWriter) Write(p []byte) (int, error) {
	_, _ = w.buf.Write(p)
	w.events <- Event{Kind: w.kind, Chunk: bytes.Clone(p)}
	return len(p), nil
}

// BoundedBuffer accumulates output up to a limit and records truncation.
type BoundedBuffer struct {
	buffer    bytes.Buffer
	limit     int
	Truncated bool
}

// Write keeps at most limit bytes and never fails.
func (b *BoundedBuffer) Write(p []byte) (int, error) {
	if b.limit <= 0 {
		return b.buffer.Write(p)
	}
	remaining := b.limit - b.buffer.Len()
	if remaining <= 0 {
		b.Truncated = b.Truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > remaining {
		b.buffer.Write(p[:remaining])
		b.Truncated = true
		return len(p), nil
	}
	return b.buffer.Write(p)
}

// Bytes returns the accumulated output.
func (b *BoundedBuffer) Bytes() []byte {
	return b.buffer.Bytes()
}
