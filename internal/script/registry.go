package script

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/peb/internal/shared/id"
)

// ErrRegistryClosed is returned when a window that is shutting down is asked
// to start another script.
var ErrRegistryClosed = errors.New("script registry closed")

// Info describes a running invocation.
type Info struct {
	ID        id.InvocationID `json:"id"`
	FrameID   string          `json:"frame_id"`
	Script    string          `json:"script"`
	StartedAt time.Time       `json:"started_at"`
}

type entry struct {
	inv    *Invocation
	cancel context.CancelFunc
}

// Registry tracks the scripts currently alive for one window.
type Registry struct {
	mu      sync.Mutex
	entries map[id.InvocationID]*entry
	closed  bool
	wg      sync.WaitGroup
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[id.InvocationID]*entry)}
}

// Add registers inv. cancel stops its subprocess.
func (r *Registry) Add(inv *Invocation, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	if _, exists := r.entries[inv.ID]; exists {
		return errors.New("invocation already registered: " + inv.ID.String())
	}
	r.entries[inv.ID] = &entry{inv: inv, cancel: cancel}
	r.wg.Add(1)
	return nil
}

// Remove deletes the invocation. It reports true only for the call that
// actually removed it.
func (r *Registry) Remove(invID id.InvocationID) bool {
	r.mu.Lock()
	_, ok := r.entries[invID]
	if ok {
		delete(r.entries, invID)
	}
	r.mu.Unlock()

	if ok {
		r.wg.Done()
	}
	return ok
}

// Has reports whether the invocation is registered.
func (r *Registry) Has(invID id.InvocationID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[invID]
	return ok
}

// Len returns the number of running invocations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// List returns running invocations ordered by start.
func (r *Registry) List() []Info {
	r.mu.Lock()
	out := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, Info{
			ID:        e.inv.ID,
			FrameID:   e.inv.FrameID,
			Script:    e.inv.Script,
			StartedAt: e.inv.StartedAt,
		})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close stops accepting new invocations and cancels running ones. It returns
// how many were cancelled.
func (r *Registry) Close() int {
	r.mu.Lock()
	r.closed = true
	cancels := make([]context.CancelFunc, 0, len(r.entries))
	for _, e := range r.entries {
		cancels = append(cancels, e.cancel)
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		if cancel != nil {
			cancel()
		}
	}
	return len(cancels)
}

// Wait blocks until every registered invocation has been removed.
func (r *Registry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
