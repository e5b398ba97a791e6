package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errHelper = errors.New("helper failed")

func run(b *Breaker, ok bool) error {
	return b.Do(func() error {
		if ok {
			return nil
		}
		return errHelper
	})
}

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name          string
		settings      Settings
		requests      []bool // true = success, false = failure
		expectedState State
	}{
		{
			name:          "stays closed on successes",
			settings:      Settings{MaxFailures: 2, Cooldown: time.Minute},
			requests:      []bool{true, true, true},
			expectedState: StateClosed,
		},
		{
			name:          "opens after consecutive failures",
			settings:      Settings{MaxFailures: 3, Cooldown: time.Minute},
			requests:      []bool{false, false, false},
			expectedState: StateOpen,
		},
		{
			name:          "success resets failure streak",
			settings:      Settings{MaxFailures: 2, Cooldown: time.Minute},
			requests:      []bool{false, true, false},
			expectedState: StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			breaker := New("test", tt.settings)
			for _, ok := range tt.requests {
				_ = run(breaker, ok)
			}
			assert.Equal(t, tt.expectedState, breaker.State())
		})
	}
}

func TestBreakerRejectsWhileOpen(t *testing.T) {
	breaker := New("highlighter", Settings{MaxFailures: 1, Cooldown: time.Hour})

	require.ErrorIs(t, run(breaker, false), errHelper)

	called := false
	err := breaker.Do(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	var transitions []string
	now := time.Now()
	breaker := New("highlighter", Settings{
		MaxFailures: 1,
		Cooldown:    time.Second,
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	breaker.now = func() time.Time { return now }

	_ = run(breaker, false)
	assert.Equal(t, StateOpen, breaker.State())

	now = now.Add(2 * time.Second)
	assert.Equal(t, StateHalfOpen, breaker.State())

	_ = run(breaker, false)
	assert.Equal(t, StateOpen, breaker.State())

	now = now.Add(2 * time.Second)
	require.NoError(t, run(breaker, true))
	assert.Equal(t, StateClosed, breaker.State())

	assert.Equal(t, []string{
		"closed->open",
		"open->half-open",
		"half-open->open",
		"open->half-open",
		"half-open->closed",
	}, transitions)
}

func TestBreakerSingleProbe(t *testing.T) {
	now := time.Now()
	breaker := New("highlighter", Settings{MaxFailures: 1, Cooldown: time.Second})
	breaker.now = func() time.Time { return now }
	_ = run(breaker, false)
	now = now.Add(2 * time.Second)

	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = breaker.Do(func() error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	assert.ErrorIs(t, run(breaker, true), ErrTooManyRequests)

	close(release)
	wg.Wait()
	assert.Equal(t, StateClosed, breaker.State())
}

func TestCall(t *testing.T) {
	breaker := New("test", Settings{})

	v, err := Call(breaker, func() (string, error) { return "<pre>ok</pre>", nil })
	require.NoError(t, err)
	assert.Equal(t, "<pre>ok</pre>", v)
}
