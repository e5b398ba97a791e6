package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests")
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures the circuit breaker behavior
type Settings struct {
	// MaxFailures trips the breaker after that many consecutive failures.
	MaxFailures uint32
	// Cooldown is how long the breaker stays open before probing again.
	Cooldown time.Duration
	// OnStateChange is called whenever the state changes
	OnStateChange func(name string, from State, to State)
}

// Breaker stops calling a failing dependency for a cooldown period. After
// the cooldown one probe call is let through; its outcome closes or reopens
// the breaker.
type Breaker struct {
	name     string
	settings Settings

	mu       sync.Mutex
	state    State
	failures uint32
	openedAt time.Time
	probing  bool
	now      func() time.Time
}

// New creates a new circuit breaker with the given settings
func New(name string, settings Settings) *Breaker {
	if settings.MaxFailures == 0 {
		settings.MaxFailures = 3
	}
	if settings.Cooldown == 0 {
		settings.Cooldown = 30 * time.Second
	}
	return &Breaker{
		name:     name,
		settings: settings,
		state:    StateClosed,
		now:      time.Now,
	}
}

// Name returns the name of the circuit breaker
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state of the circuit breaker
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// Do runs fn if the breaker allows it and records the outcome.
func (b *Breaker) Do(fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}

	success := false
	defer func() {
		b.after(success)
	}()

	err := fn()
	success = err == nil
	return err
}

// Call runs fn through b and returns its value.
func Call[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var out T
	err := b.Do(func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.probing {
			return ErrTooManyRequests
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) after(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.currentState()
	if state == StateHalfOpen {
		b.probing = false
		if success {
			b.setState(StateClosed)
		} else {
			b.setState(StateOpen)
		}
		return
	}

	if success {
		b.failures = 0
		return
	}
	b.failures++
	if state == StateClosed && b.failures >= b.settings.MaxFailures {
		b.setState(StateOpen)
	}
}

// currentState must be called with mu held.
func (b *Breaker) currentState() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.settings.Cooldown {
		b.setState(StateHalfOpen)
	}
	return b.state
}

func (b *Breaker) setState(state State) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state
	b.failures = 0
	if state == StateOpen {
		b.openedAt = b.now()
	}
	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, prev, state)
	}
}
