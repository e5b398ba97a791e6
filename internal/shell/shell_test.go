//go:build unix

package shell

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/peb/internal/dispatch"
	"github.com/GriffinCanCode/peb/internal/infrastructure/config"
	"github.com/GriffinCanCode/peb/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/peb/internal/render"
	"github.com/GriffinCanCode/peb/internal/sandbox"
	"github.com/GriffinCanCode/peb/internal/shared/id"
	"github.com/GriffinCanCode/peb/internal/ui"
	"github.com/GriffinCanCode/peb/internal/window"
)

const helloScript = `#!/usr/bin/perl
echo "Content-Type: text/html"
echo
echo "<p>hello $QUERY_STRING from $REQUEST_METHOD</p>"
`

const fakeDebugger = `stty -echo 2>/dev/null
script="$1"
n=1
printf 'main::(%s:%d):\n  DB<%d> ' "$script" "$n" "$n"
while IFS= read -r cmd; do
  n=$((n+1))
  printf 'main::(%s:%d):\n  DB<%d> ' "$script" "$n" "$n"
done
`

type fakeHost struct {
	mu       sync.Mutex
	files    []string
	opened   []id.WindowID
	messages []string
}

func (h *fakeHost) PickFolder(context.Context, id.WindowID, ui.PickOptions) (string, error) {
	return "", ui.ErrCancelled
}

func (h *fakeHost) PickFile(context.Context, id.WindowID, ui.PickOptions) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.files) == 0 {
		return "", ui.ErrCancelled
	}
	f := h.files[0]
	h.files = h.files[1:]
	return f, nil
}

func (h *fakeHost) PickSaveFile(context.Context, id.WindowID, ui.PickOptions) (string, error) {
	return "", ui.ErrCancelled
}

func (h *fakeHost) OpenWindow(_ context.Context, _, child id.WindowID, _ string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opened = append(h.opened, child)
	return nil
}

func (h *fakeHost) CloseWindow(context.Context, id.WindowID) error  { return nil }
func (h *fakeHost) Quit(context.Context) error                      { return nil }
func (h *fakeHost) PrintPreview(context.Context, id.WindowID) error { return nil }
func (h *fakeHost) Print(context.Context, id.WindowID) error        { return nil }
func (h *fakeHost) ExportPDF(context.Context, id.WindowID) error    { return nil }

func (h *fakeHost) ApplyTheme(context.Context, id.WindowID, string) error { return nil }

func (h *fakeHost) ShowMessage(_ context.Context, _ id.WindowID, title, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, title+": "+text)
	return nil
}

func (h *fakeHost) messageCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

type sink struct {
	ch chan render.Delivery
}

func (s *sink) Deliver(d render.Delivery) { s.ch <- d }

func (s *sink) next(t *testing.T) render.Delivery {
	t.Helper()
	select {
	case d := <-s.ch:
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("nothing delivered")
		return render.Delivery{}
	}
}

func (s *sink) nextMatching(t *testing.T, want string) render.Delivery {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case d := <-s.ch:
			if strings.Contains(d.Content, want) {
				return d
			}
		case <-deadline:
			t.Fatalf("no delivery containing %q", want)
			return render.Delivery{}
		}
	}
}

type fixture struct {
	root   string
	shell  *Shell
	host   *fakeHost
	sink   *sink
	env    *sandbox.Environment
	window *window.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	write := func(name, content string, mode os.FileMode) string {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), mode))
		return path
	}
	settings := write("peb.toml", "[root]\nfolder = \"current\"\nstart_page = \"index.html\"\n", 0o644)
	write("index.html", "<h1>start</h1>", 0o644)
	write("cgi/hello.pl", helloScript, 0o755)
	fake := write("fake-db.sh", fakeDebugger, 0o755)

	base, err := url.Parse(config.DefaultPseudoDomain)
	require.NoError(t, err)
	cfg := &config.Configuration{
		SettingsPath:     settings,
		RootDir:          root,
		PseudoDomain:     base,
		StartPage:        filepath.Join(root, "index.html"),
		Interpreter:      "/bin/sh",
		LibVar:           config.DefaultLibVar,
		ShebangPattern:   config.DefaultShebangPattern,
		ScriptTimeout:    5 * time.Second,
		DebuggerEnabled:  true,
		DebuggerArgs:     []string{fake},
		HighlightTimeout: time.Second,
		AllowedDomains:   []string{"docs.example.org"},
		ThemesDir:        filepath.Join(root, "themes"),
		CurrentTheme:     filepath.Join(root, "themes", config.DefaultCurrentTheme),
	}

	env := sandbox.Build(sandbox.Options{
		RootDir:     root,
		AllowList:   []string{"PATH"},
		LibVar:      cfg.LibVar,
		Interpreter: cfg.Interpreter,
	})
	env.Set("PATH", os.Getenv("PATH"))

	host := &fakeHost{}
	out := &sink{ch: make(chan render.Delivery, 32)}
	highlighter, err := BuildHighlighter(cfg, zap.NewNop())
	require.NoError(t, err)

	s, err := New(Deps{
		Config:      cfg,
		Store:       config.NewStore(settings),
		Env:         env,
		Host:        host,
		Sink:        out,
		Highlighter: highlighter,
		Metrics:     monitoring.NewMetrics(),
		Logger:      zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})

	w, err := s.Windows().Open("")
	require.NoError(t, err)
	return &fixture{root: root, shell: s, host: host, sink: out, env: env, window: w}
}

func (fx *fixture) navigate(t *testing.T, raw string, mutate ...func(*dispatch.NavigationRequest)) Decision {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	req := &dispatch.NavigationRequest{URL: u, FrameID: "content", Trigger: dispatch.TriggerLinkClick}
	for _, m := range mutate {
		m(req)
	}
	d, err := fx.shell.Navigate(fx.window.ID, req)
	require.NoError(t, err)
	return d
}

func TestNavigateDefer(t *testing.T) {
	fx := newFixture(t)

	d := fx.navigate(t, "https://unknown.example.com/")
	assert.False(t, d.Intercept)
	assert.Equal(t, dispatch.ActionDefer, d.Action.Kind)
}

func TestNavigateLoadLocal(t *testing.T) {
	fx := newFixture(t)

	d := fx.navigate(t, "local://root/index.html")
	assert.True(t, d.Intercept)
	assert.Equal(t, dispatch.ActionLoadLocal, d.Action.Kind)

	got := fx.sink.next(t)
	assert.Equal(t, fx.window.ID.String(), got.WindowID)
	assert.Equal(t, "content", got.FrameID)
	assert.Equal(t, render.KindLocalFile, got.Kind)
	assert.Equal(t, "<h1>start</h1>", got.Content)
	assert.Contains(t, got.ContentType, "text/html")
}

func TestNavigateLoadLocalMissing(t *testing.T) {
	fx := newFixture(t)

	fx.navigate(t, "local://root/missing.html")
	got := fx.sink.next(t)
	assert.Equal(t, render.KindError, got.Kind)
	assert.Contains(t, got.Content, "File not found")
}

func TestNavigateRunScript(t *testing.T) {
	fx := newFixture(t)

	d := fx.navigate(t, "local://root/cgi/hello.pl?name=ada")
	assert.Equal(t, dispatch.ActionRunScript, d.Action.Kind)

	got := fx.sink.next(t)
	assert.Equal(t, render.KindScriptOutput, got.Kind)
	assert.Equal(t, "content", got.FrameID)
	assert.Contains(t, got.Content, "<p>hello name=ada from GET</p>")
	assert.NotContains(t, got.Content, "Content-Type")
}

func TestNavigateFormPost(t *testing.T) {
	fx := newFixture(t)

	fx.navigate(t, "local://root/cgi/hello.pl", func(r *dispatch.NavigationRequest) {
		r.Trigger = dispatch.TriggerFormSubmit
		r.Method = "post"
		r.Body = []byte("a=1")
	})
	got := fx.sink.next(t)
	assert.Contains(t, got.Content, "from POST")
}

func TestNavigateDeny(t *testing.T) {
	fx := newFixture(t)

	d := fx.navigate(t, "local://root/cgi/../../etc/passwd")
	assert.True(t, d.Intercept)
	got := fx.sink.next(t)
	assert.Equal(t, render.KindError, got.Kind)
	assert.Contains(t, got.Content, "Navigation blocked")
}

func TestNavigateCommand(t *testing.T) {
	fx := newFixture(t)
	fx.host.files = []string{"/data/report.csv"}

	d := fx.navigate(t, "openfile://")
	assert.Equal(t, dispatch.ActionUICommand, d.Action.Kind)

	require.Eventually(t, func() bool {
		v, ok := fx.env.Get(sandbox.FileToOpen)
		return ok && v == "/data/report.csv"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNavigateCommandFailureShowsMessage(t *testing.T) {
	fx := newFixture(t)

	fx.navigate(t, "settheme://missing.css")
	require.Eventually(t, func() bool { return fx.host.messageCount() == 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestNavigateRemoteNewWindow(t *testing.T) {
	fx := newFixture(t)

	d := fx.navigate(t, "https://docs.example.org/intro", func(r *dispatch.NavigationRequest) { r.TopLevel = true })
	assert.Equal(t, dispatch.ActionLoadRemote, d.Action.Kind)
	require.NotEmpty(t, d.Window)

	child, ok := fx.shell.Windows().Get(d.Window)
	require.True(t, ok)
	assert.Equal(t, fx.window.ID, child.ParentID)
	assert.Equal(t, []id.WindowID{d.Window}, fx.host.opened)
}

func TestNavigateDebugger(t *testing.T) {
	fx := newFixture(t)
	target := filepath.Join(fx.root, "cgi", "hello.pl")
	fx.host.files = []string{target}

	d := fx.navigate(t, "perl-debugger://select-file")
	assert.Equal(t, dispatch.ActionRunDebugger, d.Action.Kind)

	first := fx.sink.next(t)
	assert.Equal(t, render.KindDebuggerStep, first.Kind)
	assert.Contains(t, first.Content, target+":1")

	fx.navigate(t, "perl-debugger://step?command=n")
	fx.sink.nextMatching(t, target+":2")
}

func TestNavigateDebuggerFromTopLevelOpensWindow(t *testing.T) {
	fx := newFixture(t)
	target := filepath.Join(fx.root, "cgi", "hello.pl")
	fx.host.files = []string{target}

	fx.navigate(t, "perl-debugger://run?command=select-file", func(r *dispatch.NavigationRequest) {
		r.FrameID = ""
		r.Trigger = dispatch.TriggerFormSubmit
		r.TopLevel = true
	})

	step := fx.sink.next(t)
	assert.Equal(t, render.KindDebuggerStep, step.Kind)
	assert.Contains(t, step.Content, target+":1")
	assert.Empty(t, step.FrameID)
	assert.NotEqual(t, fx.window.ID.String(), step.WindowID)

	windows := fx.shell.Windows().List()
	require.Len(t, windows, 2)
	var child window.Info
	for _, info := range windows {
		if info.ID != fx.window.ID {
			child = info
		}
	}
	assert.Equal(t, step.WindowID, child.ID.String())
	assert.Equal(t, fx.window.ID, child.ParentID)

	fx.host.mu.Lock()
	assert.Equal(t, []id.WindowID{child.ID}, fx.host.opened)
	fx.host.mu.Unlock()

	_, running := fx.window.ActiveDebugger()
	assert.False(t, running)
	opened, ok := fx.shell.Windows().Get(child.ID)
	require.True(t, ok)
	_, running = opened.ActiveDebugger()
	assert.True(t, running)
}

func TestNavigateDebuggerNotRunning(t *testing.T) {
	fx := newFixture(t)

	fx.navigate(t, "perl-debugger://step?command=n")
	got := fx.sink.next(t)
	assert.Contains(t, got.Content, "Debugger not running")
}

func TestNavigateUnknownWindow(t *testing.T) {
	fx := newFixture(t)
	u, _ := url.Parse("local://root/index.html")

	_, err := fx.shell.Navigate("win_missing", &dispatch.NavigationRequest{URL: u})
	assert.ErrorIs(t, err, window.ErrNotFound)
}

func TestShutdown(t *testing.T) {
	fx := newFixture(t)

	require.NoError(t, fx.shell.Shutdown(context.Background()))
	u, _ := url.Parse("local://root/index.html")
	_, err := fx.shell.Navigate(fx.window.ID, &dispatch.NavigationRequest{URL: u})
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestDecisionJSON(t *testing.T) {
	u, _ := url.Parse("local://root/cgi/hello.pl")
	d := Decision{Intercept: true, Action: dispatch.Action{Kind: dispatch.ActionRunScript, Rule: "local", URL: u, Path: "/srv/cgi/hello.pl"}}

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"intercept":true,"action":"run-script","rule":"local","path":"/srv/cgi/hello.pl","url":"local://root/cgi/hello.pl"}`, string(data))
}
