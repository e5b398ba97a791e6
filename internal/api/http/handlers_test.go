//go:build unix

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/peb/internal/infrastructure/config"
	"github.com/GriffinCanCode/peb/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/peb/internal/render"
	"github.com/GriffinCanCode/peb/internal/sandbox"
	"github.com/GriffinCanCode/peb/internal/shell"
)

const slowScript = `#!/usr/bin/perl
echo "Content-Type: text/plain"
echo
sleep 30
`

type fixture struct {
	router     *gin.Engine
	shell      *shell.Shell
	deliveries chan render.Delivery
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<h1>start</h1>"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "cgi"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "cgi", "slow.pl"), []byte(slowScript), 0o755))

	base, err := url.Parse(config.DefaultPseudoDomain)
	require.NoError(t, err)
	cfg := &config.Configuration{
		SettingsPath:   filepath.Join(root, "peb.toml"),
		RootDir:        root,
		PseudoDomain:   base,
		StartPage:      filepath.Join(root, "index.html"),
		Interpreter:    "/bin/sh",
		LibVar:         config.DefaultLibVar,
		ShebangPattern: config.DefaultShebangPattern,
		ScriptTimeout:  time.Minute,
		AllowedDomains: []string{"docs.example.org"},
	}
	env := sandbox.Build(sandbox.Options{RootDir: root, AllowList: []string{"PATH"}, Interpreter: cfg.Interpreter})
	env.Set("PATH", os.Getenv("PATH"))

	deliveries := make(chan render.Delivery, 16)
	metrics := monitoring.NewMetrics()
	sh, err := shell.New(shell.Deps{
		Config:  cfg,
		Store:   config.NewStore(cfg.SettingsPath),
		Env:     env,
		Sink:    render.SinkFunc(func(d render.Delivery) { deliveries <- d }),
		Metrics: metrics,
		Logger:  zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = sh.Shutdown(ctx)
	})

	router := gin.New()
	NewHandlers(sh, metrics, zap.NewNop()).Register(router)
	return &fixture{router: router, shell: sh, deliveries: deliveries}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var resp map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w.Code, resp
}

func (f *fixture) openWindow(t *testing.T, parent string) string {
	t.Helper()
	var body any
	if parent != "" {
		body = OpenWindowRequest{Parent: parent}
	}
	code, resp := f.do(t, "POST", "/windows", body)
	require.Equal(t, http.StatusCreated, code)
	return resp["window_id"].(string)
}

func TestRootAndHealth(t *testing.T) {
	f := newFixture(t)

	code, resp := f.do(t, "GET", "/", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "peb", resp["service"])

	f.openWindow(t, "")
	code, resp = f.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", resp["status"])
	windows := resp["windows"].(map[string]any)
	assert.EqualValues(t, 1, windows["windows"])
	assert.Contains(t, resp, "metrics")
}

func TestWindowLifecycle(t *testing.T) {
	f := newFixture(t)

	parent := f.openWindow(t, "")
	child := f.openWindow(t, parent)

	code, resp := f.do(t, "GET", "/windows", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, resp["windows"], 2)

	code, resp = f.do(t, "GET", "/windows/"+child, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, parent, resp["parent_id"])

	code, _ = f.do(t, "DELETE", "/windows/"+parent, nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, "GET", "/windows/"+child, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, resp = f.do(t, "GET", "/windows", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, resp["windows"])
}

func TestWindowErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown parent", "POST", "/windows", OpenWindowRequest{Parent: "win_01HZY3Q6Z8W8J6V0T8M0B9K4XQ"}, http.StatusNotFound},
		{"invalid id", "GET", "/windows/nope", nil, http.StatusBadRequest},
		{"unknown window", "DELETE", "/windows/win_01HZY3Q6Z8W8J6V0T8M0B9K4XQ", nil, http.StatusNotFound},
		{"unknown window scripts", "GET", "/windows/win_01HZY3Q6Z8W8J6V0T8M0B9K4XQ/scripts", nil, http.StatusNotFound},
		{"navigate unknown window", "POST", "/windows/win_01HZY3Q6Z8W8J6V0T8M0B9K4XQ/navigate", NavigateRequest{URL: "local://root/index.html"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, code)
			assert.NotEmpty(t, resp["error"])
		})
	}
}

func TestNavigate(t *testing.T) {
	f := newFixture(t)
	w := f.openWindow(t, "")

	tests := []struct {
		name      string
		req       NavigateRequest
		intercept bool
		action    string
	}{
		{"remote defer", NavigateRequest{URL: "https://unknown.example.com/", TopLevel: true}, false, "defer"},
		{"allowed remote", NavigateRequest{URL: "https://docs.example.org/page", TopLevel: true, Trigger: "link"}, true, "load-remote"},
		{"local page", NavigateRequest{URL: "local://root/index.html", FrameID: "main", TopLevel: true}, true, "load-local"},
		{"command", NavigateRequest{URL: "printing://", FrameID: "main"}, true, "ui-command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := f.do(t, "POST", "/windows/"+w+"/navigate", tt.req)
			require.Equal(t, http.StatusOK, code)
			assert.Equal(t, tt.intercept, resp["intercept"])
			assert.Equal(t, tt.action, resp["action"])
		})
	}

	select {
	case d := <-f.deliveries:
		assert.Equal(t, w, d.WindowID)
		assert.Contains(t, d.Content, "start")
	case <-time.After(5 * time.Second):
		t.Fatal("local page not delivered")
	}
}

func TestNavigateValidation(t *testing.T) {
	f := newFixture(t)
	w := f.openWindow(t, "")

	code, _ := f.do(t, "POST", "/windows/"+w+"/navigate", map[string]any{"frame_id": "main"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, "POST", "/windows/"+w+"/navigate", NavigateRequest{URL: "http://%zz"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestScriptsListedUntilWindowCloses(t *testing.T) {
	f := newFixture(t)
	w := f.openWindow(t, "")

	code, resp := f.do(t, "POST", "/windows/"+w+"/navigate", NavigateRequest{URL: "local://root/cgi/slow.pl", FrameID: "main"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "run-script", resp["action"])

	require.Eventually(t, func() bool {
		_, resp := f.do(t, "GET", "/windows/"+w+"/scripts", nil)
		return resp["count"] == float64(1)
	}, 5*time.Second, 20*time.Millisecond)

	code, _ = f.do(t, "DELETE", "/windows/"+w, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Zero(t, f.shell.Windows().Stats().Scripts)
}

func TestRules(t *testing.T) {
	f := newFixture(t)

	code, resp := f.do(t, "GET", "/rules", nil)
	require.Equal(t, http.StatusOK, code)
	rules := resp["rules"].([]any)
	require.NotEmpty(t, rules)
	assert.Equal(t, "remote", rules[len(rules)-1])
	assert.True(t, strings.Contains(rules[0].(string), "addtopath"))
}
