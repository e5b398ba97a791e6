package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestThemeName(t *testing.T) {
	tests := []struct {
		raw      string
		expected string
	}{
		{"settheme://dark.css", "dark.css"},
		{"settheme:dark.css", "dark.css"},
		{"settheme://dark.css/", "dark.css"},
		{"settheme://../secret", ""},
		{"settheme://a/b.css", ""},
		{"settheme://", ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.expected, ThemeName(tt.raw))
		})
	}
}

func TestSetTheme(t *testing.T) {
	fx := newFixture(t)

	require.NoError(t, fx.run(t, "settheme://dark.css"))

	data, err := os.ReadFile(fx.cfg.CurrentTheme)
	require.NoError(t, err)
	assert.Equal(t, "body{background:#000}", string(data))
	assert.Equal(t, fx.cfg.CurrentTheme, fx.host.theme)

	settings, err := fx.store.Load()
	require.NoError(t, err)
	assert.Equal(t, "dark.css", settings.GUI.Theme)
}

func TestSetThemeMissing(t *testing.T) {
	fx := newFixture(t)
	assert.Error(t, fx.run(t, "settheme://nope.css"))
	assert.NotContains(t, fx.host.calls, "ApplyTheme")
}

func TestSelectTheme(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, EnsureCurrentTheme(fx.cfg, zap.NewNop()))
	fx.host.files = []string{"dark.css"}

	require.NoError(t, fx.run(t, "selecttheme://"))

	assert.Equal(t, []string{"dark.css", "light.css"}, fx.host.lastPick.Choices)
	data, err := os.ReadFile(fx.cfg.CurrentTheme)
	require.NoError(t, err)
	assert.Equal(t, "body{background:#000}", string(data))
}

func TestSelectThemeNoneAvailable(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, os.Remove(filepath.Join(fx.cfg.ThemesDir, "dark.css")))
	require.NoError(t, os.Remove(filepath.Join(fx.cfg.ThemesDir, "light.css")))

	require.NoError(t, fx.run(t, "selecttheme://"))
	assert.Equal(t, []string{"ShowMessage"}, fx.host.calls)
}

func TestEnsureCurrentTheme(t *testing.T) {
	fx := newFixture(t)

	require.NoError(t, EnsureCurrentTheme(fx.cfg, zap.NewNop()))
	data, err := os.ReadFile(fx.cfg.CurrentTheme)
	require.NoError(t, err)
	assert.Equal(t, "body{background:#fff}", string(data))

	require.NoError(t, os.WriteFile(fx.cfg.CurrentTheme, []byte("custom"), 0o644))
	require.NoError(t, EnsureCurrentTheme(fx.cfg, zap.NewNop()))
	data, err = os.ReadFile(fx.cfg.CurrentTheme)
	require.NoError(t, err)
	assert.Equal(t, "custom", string(data))
}
