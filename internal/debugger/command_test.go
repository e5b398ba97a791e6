//go:build unix

package debugger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/peb/internal/infrastructure/resilience"
)

func TestCommandHighlighter(t *testing.T) {
	h := NewCommandHighlighter("/bin/sh", []string{
		"-c",
		`echo "<html><body><pre class=\"src\">line {line}</pre><script>alert(1)</script></body></html>"`,
	}, nil)

	out, err := h.Highlight(context.Background(), Location{File: "/tmp/a.pl", Line: 9})
	require.NoError(t, err)
	assert.Contains(t, string(out), `<pre class="src">line 9</pre>`)
	assert.NotContains(t, string(out), "script")
}

func TestCommandHighlighterBreaker(t *testing.T) {
	breaker := resilience.New("source-viewer", resilience.Settings{MaxFailures: 1, Cooldown: time.Hour})
	h := NewCommandHighlighter("/bin/sh", []string{"-c", "exit 3"}, breaker)

	_, err := h.Highlight(context.Background(), Location{File: "a.pl", Line: 1})
	require.Error(t, err)

	_, err = h.Highlight(context.Background(), Location{File: "a.pl", Line: 1})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}

func TestCommandHighlighterTimeout(t *testing.T) {
	h := NewCommandHighlighter("/bin/sh", []string{"-c", "sleep 5"}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := h.Highlight(ctx, Location{File: "a.pl", Line: 1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 4*time.Second)
}
