package app

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, int64(1), cfg.TenantID)
	require.Equal(t, 100, cfg.SyncBatchSize)
	require.Equal(t, 10*time.Minute, cfg.CacheTTL)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("TENANT_ID", "7")
	t.Setenv("SYNC_BATCH_SIZE", "500")
	t.Setenv("CACHE_TTL", "30s")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, int64(7), cfg.TenantID)
	require.Equal(t, 500, cfg.SyncBatchSize)
	require.Equal(t, 30*time.Second, cfg.CacheTTL)
	require.True(t, cfg.IsProduction())
}

func TestLoadConfigRejectsInvalidTenant(t *testing.T) {
	t.Setenv("TENANT_ID", "0")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoggerHonoursFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", slog.Int("n", 1))

	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"msg":"shown"`)
}
