//go:build unix

package debugger

import (
	"context"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/peb/internal/render"
	"github.com/GriffinCanCode/peb/internal/sandbox"
)

// fakeDebugger mimics the step header and prompt of perl -d.
const fakeDebugger = `stty -echo 2>/dev/null
script="$1"
n=1
printf 'Loading DB routines\n\nmain::(%s:%d):\tline %d\n  DB<%d> ' "$script" "$n" "$n" "$n"
while IFS= read -r cmd; do
  case "$cmd" in
    q) exit 0 ;;
  esac
  n=$((n+1))
  printf 'main::(%s:%d):\tline %d\n  DB<%d> ' "$script" "$n" "$n" "$n"
done
`

type delivered struct {
	frameID string
	page    render.Page
}

type pageCollector struct {
	ch chan delivered
}

func newCollector() *pageCollector {
	return &pageCollector{ch: make(chan delivered, 32)}
}

func (c *pageCollector) deliver(frameID string, page render.Page) {
	c.ch <- delivered{frameID: frameID, page: page}
}

func (c *pageCollector) next(t *testing.T) delivered {
	t.Helper()
	select {
	case d := <-c.ch:
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("no debugger page delivered")
		return delivered{}
	}
}

// nextMatching skips pages until one contains want.
func (c *pageCollector) nextMatching(t *testing.T, want string) delivered {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case d := <-c.ch:
			if strings.Contains(string(d.page.Content), want) {
				return d
			}
		case <-deadline:
			t.Fatalf("no debugger page containing %q", want)
			return delivered{}
		}
	}
}

type stepRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *stepRecorder) DebuggerStep(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *stepRecorder) has(outcome string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.outcomes {
		if o == outcome {
			return true
		}
	}
	return false
}

type fixture struct {
	script string
	env    sandbox.Snapshot
	cfg    Config
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	fake := filepath.Join(dir, "fake-db.sh")
	require.NoError(t, os.WriteFile(fake, []byte(fakeDebugger), 0o755))
	script := filepath.Join(dir, "app.pl")
	require.NoError(t, os.WriteFile(script, []byte("print 1;\nprint 2;\nprint 3;\n"), 0o644))

	return fixture{
		script: script,
		env: sandbox.Snapshot{
			Vars:        map[string]string{"PATH": os.Getenv("PATH")},
			Interpreter: "/bin/sh",
			RootDir:     dir,
		},
		cfg: Config{
			Args:             []string{fake},
			HighlightTimeout: time.Second,
			IdleFlush:        100 * time.Millisecond,
		},
	}
}

func markerHighlighter(calls *atomic.Int32) Highlighter {
	return HighlighterFunc(func(_ context.Context, loc Location) (template.HTML, error) {
		if calls != nil {
			calls.Add(1)
		}
		return template.HTML(`<pre class="hl">` + loc.String() + `</pre>`), nil
	})
}

func TestSessionSteps(t *testing.T) {
	fx := newFixture(t)
	pages := newCollector()
	rec := &stepRecorder{}
	s := NewSession(fx.cfg, markerHighlighter(nil), pages.deliver, rec, zap.NewNop())
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Start(fx.env, fx.script, "main", ""))

	first := pages.next(t)
	assert.Equal(t, "main", first.frameID)
	assert.Equal(t, render.KindDebuggerStep, first.page.Kind)
	assert.Contains(t, string(first.page.Content), `<pre class="hl">`+fx.script+`:1</pre>`)
	assert.Equal(t, StateStepping, s.State())
	assert.Equal(t, fx.script+":1", s.LastLine())

	require.NoError(t, s.Send("debug-frame", "n"))
	second := pages.nextMatching(t, fx.script+":2")
	assert.Equal(t, "debug-frame", second.frameID)
	assert.Equal(t, fx.script+":2", s.LastLine())
	assert.True(t, rec.has(string(OutcomeJoined)))
}

func TestSessionDegradesOnSlowHighlighter(t *testing.T) {
	fx := newFixture(t)
	fx.cfg.HighlightTimeout = 100 * time.Millisecond
	pages := newCollector()
	rec := &stepRecorder{}
	blocking := HighlighterFunc(func(ctx context.Context, _ Location) (template.HTML, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	s := NewSession(fx.cfg, blocking, pages.deliver, rec, zap.NewNop())
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Start(fx.env, fx.script, "main", ""))

	page := pages.next(t)
	content := string(page.page.Content)
	assert.Contains(t, content, "highlighting unavailable")
	assert.Contains(t, content, `class="current"`)
	assert.True(t, rec.has(string(OutcomeDegraded)))
}

func TestSessionRestartResetsLineMarker(t *testing.T) {
	fx := newFixture(t)
	pages := newCollector()
	var calls atomic.Int32
	s := NewSession(fx.cfg, markerHighlighter(&calls), pages.deliver, nil, zap.NewNop())
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Start(fx.env, fx.script, "main", ""))
	pages.next(t)
	firstID := s.ID()

	require.NoError(t, s.Restart(fx.env, fx.script, "main", ""))
	pages.nextMatching(t, fx.script+":1")

	// Same line as before the restart, yet highlighted afresh.
	assert.Equal(t, int32(2), calls.Load())
	assert.NotEqual(t, firstID, s.ID())
}

func TestSessionInitialCommand(t *testing.T) {
	fx := newFixture(t)
	pages := newCollector()
	s := NewSession(fx.cfg, markerHighlighter(nil), pages.deliver, nil, zap.NewNop())
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Start(fx.env, fx.script, "main", "n"))
	pages.nextMatching(t, fx.script+":2")
}

func TestSessionSendWithoutDebugger(t *testing.T) {
	s := NewSession(Config{}, nil, func(string, render.Page) {}, nil, nil)

	assert.ErrorIs(t, s.Send("main", "n"), ErrNotRunning)
	assert.Equal(t, StateIdle, s.State())

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Send("main", "n"), ErrClosed)
	assert.ErrorIs(t, s.Start(sandbox.Snapshot{}, "a.pl", "main", ""), ErrClosed)
}

func TestSessionStartFailure(t *testing.T) {
	fx := newFixture(t)
	fx.env.Interpreter = filepath.Join(t.TempDir(), "missing-perl")
	s := NewSession(fx.cfg, nil, func(string, render.Page) {}, nil, zap.NewNop())

	err := s.Start(fx.env, fx.script, "main", "")
	assert.ErrorIs(t, err, ErrStartFailed)
	assert.Equal(t, StateIdle, s.State())
}

func TestSessionDebuggerExit(t *testing.T) {
	fx := newFixture(t)
	pages := newCollector()
	s := NewSession(fx.cfg, markerHighlighter(nil), pages.deliver, nil, zap.NewNop())
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Start(fx.env, fx.script, "main", ""))
	pages.next(t)

	require.NoError(t, s.Send("", "q"))
	require.Eventually(t, func() bool { return s.State() == StateIdle }, 5*time.Second, 20*time.Millisecond)
	assert.ErrorIs(t, s.Send("", "n"), ErrNotRunning)
}
