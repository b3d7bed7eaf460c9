package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":7979", cfg.Server.Listen)
	assert.Equal(t, 3*time.Second, cfg.Merge.Window.Duration())
	assert.Equal(t, 5, cfg.Queue.Max)
	assert.Equal(t, 10*time.Second, cfg.Media.FetchTimeout.Duration())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tvrelayd.toml")
	content := `
[server]
listen = ":8080"

[merge]
window = "1500ms"

[placement.apps]
"com.example.chat" = "messaging"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, 1500*time.Millisecond, cfg.Merge.Window.Duration())
	// Untouched fields keep their defaults
	assert.Equal(t, 5, cfg.Queue.Max)
	assert.Equal(t, map[string]string{"com.example.chat": "messaging"}, cfg.Placement.Apps)
}

func TestLoad_DurationAsMilliseconds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tvrelayd.toml")
	content := `
[merge]
window = "2000"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Merge.Window.Duration())
}

func TestLoad_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tvrelayd.toml")
	content := `
[queue]
max = 0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Merge.Window = Duration(0)
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Server.Listen = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Placement.Apps = map[string]string{"com.example": "sideways"}
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Placement.Apps = map[string]string{"com.example": "dialer"}
	assert.NoError(t, cfg.Validate())
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tvrelayd.toml")

	cfg := DefaultConfig()
	cfg.Server.Listen = ":9000"
	cfg.Queue.Max = 8
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", loaded.Server.Listen)
	assert.Equal(t, 8, loaded.Queue.Max)
}

func TestAppAllowed(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.AppAllowed("anything"))

	cfg.Filter.Apps = []string{"com.whatsapp", "com.slack"}
	assert.True(t, cfg.AppAllowed("com.whatsapp"))
	assert.False(t, cfg.AppAllowed("com.example.other"))
}

func TestPlacementOverrides(t *testing.T) {
	cfg := DefaultConfig()
	assert.Nil(t, cfg.PlacementOverrides())

	cfg.Placement.Apps = map[string]string{"com.example.pager": "dialer"}
	overrides := cfg.PlacementOverrides()
	require.Len(t, overrides, 1)
}
