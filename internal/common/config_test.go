package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFiles_Defaults(t *testing.T) {
	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, 8086, config.Server.Port)
	assert.Equal(t, "20s", config.Automation.ReadyTimeout)
	assert.False(t, config.Automation.AbortOnReadyTimeout)
	assert.Equal(t, 20, config.Automation.InitialAttempts)
	assert.Equal(t, 30, config.Automation.ResourceAttempts)
	assert.Equal(t, "2s", config.Queue.GracePeriod)
	assert.Equal(t, "1500ms", config.Queue.ItemDelay)
	assert.Equal(t, "pmvhaven_downloads", config.Downloads.Subfolder)
}

func TestLoadFromFiles_LaterFileWins(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.toml")
	override := filepath.Join(dir, "override.toml")

	require.NoError(t, os.WriteFile(base, []byte(`
[server]
port = 9000
host = "0.0.0.0"

[automation]
initial_attempts = 5
`), 0o644))
	require.NoError(t, os.WriteFile(override, []byte(`
[server]
port = 9100

[downloads]
dir = "/tmp/videos"
`), 0o644))

	config, err := LoadFromFiles(base, "", override)
	require.NoError(t, err)

	assert.Equal(t, 9100, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
	assert.Equal(t, 5, config.Automation.InitialAttempts)
	assert.Equal(t, "/tmp/videos", config.Downloads.Dir)
	assert.Equal(t, "mp4", config.Downloads.Extension, "untouched defaults survive")
}

func TestLoadFromFiles_Errors(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[server\nport ="), 0o644))
	_, err = LoadFromFiles(bad)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("REELFETCH_SERVER_PORT", "7000")
	t.Setenv("REELFETCH_LOG_OUTPUT", "stdout, ,file")
	t.Setenv("REELFETCH_BROWSER_HEADLESS", "false")
	t.Setenv("REELFETCH_ABORT_ON_READY_TIMEOUT", "true")
	t.Setenv("REELFETCH_DOWNLOADS_WORKERS", "not-a-number")

	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, 7000, config.Server.Port)
	assert.Equal(t, []string{"stdout", "file"}, config.Logging.Output)
	assert.False(t, config.Browser.Headless)
	assert.True(t, config.Automation.AbortOnReadyTimeout)
	assert.Equal(t, 2, config.Downloads.Workers)
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()
	ApplyFlagOverrides(config, 0, "")
	assert.Equal(t, 8086, config.Server.Port)

	ApplyFlagOverrides(config, 9999, "example.local")
	assert.Equal(t, 9999, config.Server.Port)
	assert.Equal(t, "example.local", config.Server.Host)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"1500ms", 1500 * time.Millisecond},
		{"", time.Second},
		{"soon", time.Second},
		{"-5s", time.Second},
		{"0s", 0},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseDuration(tt.value, time.Second))
		})
	}
}
