package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	require.Equal(t, "0.0.0.0", cfg.Host)
	require.Equal(t, 19132, cfg.Port)
	require.Equal(t, byte(11), cfg.ProtocolVersion)
	require.Equal(t, 10*time.Second, cfg.SilenceTimeout)
	require.True(t, cfg.RateLimit.Enabled)
	require.False(t, cfg.Metrics.Enabled)
}

func TestLoadOverridesOnlyGivenFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raknetd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host: 127.0.0.1\nport: 9999\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", cfg.Host)
	require.Equal(t, 9999, cfg.Port)
	require.Equal(t, byte(11), cfg.ProtocolVersion, "fields absent from the file should keep their Default()")
	require.True(t, cfg.RateLimit.Enabled)
}

func TestLoadNestedOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raknetd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rate_limit:\n  enabled: false\nmetrics:\n  enabled: true\n  addr: 0.0.0.0:9100\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.False(t, cfg.RateLimit.Enabled)
	require.Equal(t, float64(20), cfg.RateLimit.PacketsPerSecond, "rate limit rps wasn't given, should keep its default")
	require.True(t, cfg.Metrics.Enabled)
	require.Equal(t, "0.0.0.0:9100", cfg.Metrics.Addr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
