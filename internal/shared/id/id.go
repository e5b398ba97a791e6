// Package id provides ID generation for windows, script invocations and
// debugger sessions.
//
// IDs are prefixed ULIDs (win_*, run_*, dbg_*). They sort by creation time,
// which keeps registry listings and log lines in spawn order, and the prefix
// tells a reader at a glance which registry an ID belongs to.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// WindowID identifies a viewer window.
type WindowID string

// InvocationID identifies one script run.
type InvocationID string

// DebugSessionID identifies one debugger process lifetime.
type DebugSessionID string

const (
	WindowPrefix     = "win"
	InvocationPrefix = "run"
	DebugPrefix      = "dbg"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Tests use it for deterministic output.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewWindowID generates a new window ID.
func NewWindowID() WindowID {
	return WindowID(Default().GenerateWithPrefix(WindowPrefix))
}

// NewInvocationID generates a new script invocation ID.
func NewInvocationID() InvocationID {
	return InvocationID(Default().GenerateWithPrefix(InvocationPrefix))
}

// NewDebugSessionID generates a new debugger session ID.
func NewDebugSessionID() DebugSessionID {
	return DebugSessionID(Default().GenerateWithPrefix(DebugPrefix))
}

func (id WindowID) String() string       { return string(id) }
func (id InvocationID) String() string   { return string(id) }
func (id DebugSessionID) String() string { return string(id) }

// Valid reports whether s is a prefixed ID with the given prefix.
func Valid(s, prefix string) bool {
	head, tail, ok := strings.Cut(s, "_")
	if !ok || head != prefix {
		return false
	}
	_, err := ulid.Parse(tail)
	return err == nil
}

// Timestamp extracts the creation time from a prefixed ID.
func Timestamp(s string) (time.Time, error) {
	_, tail, ok := strings.Cut(s, "_")
	if !ok {
		tail = s
	}
	parsed, err := ulid.Parse(tail)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
