package config_test

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unijord/timeseek/pkg/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "timeseek.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "timeseek-data", cfg.Storage.Dir)
	assert.Equal(t, ".seg", cfg.Storage.SegmentExt)
	assert.Equal(t, int64(16<<20), cfg.Storage.MaxSegmentSize)
	assert.Equal(t, filepath.Join("timeseek-data", "catalog.db"), cfg.Catalog.Path)
	assert.Equal(t, "default", cfg.Finder.DefaultCursor)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
storage:
  dir: /var/lib/timeseek
  segment_ext: wal
  max_segment_size: 1048576
  bytes_per_sync: 65536
finder:
  default_cursor: billing
log:
  level: DEBUG
  format: json
metrics:
  enabled: true
  addr: 127.0.0.1:9200
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/timeseek", cfg.Storage.Dir)
	assert.Equal(t, ".wal", cfg.Storage.SegmentExt)
	assert.Equal(t, int64(1<<20), cfg.Storage.MaxSegmentSize)
	assert.Equal(t, int64(65536), cfg.Storage.BytesPerSync)
	assert.Equal(t, "/var/lib/timeseek/catalog.db", cfg.Catalog.Path)
	assert.Equal(t, "billing", cfg.Finder.DefaultCursor)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:9200", cfg.Metrics.Addr)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "storage:\n  dir: from-file\n")
	t.Setenv("TIMESEEK_STORAGE_DIR", "from-env")
	t.Setenv("TIMESEEK_METRICS_ENABLED", "true")
	t.Setenv("TIMESEEK_STORAGE_MAX_SEGMENT_SIZE", "not-a-number")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Storage.Dir)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, int64(16<<20), cfg.Storage.MaxSegmentSize)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "bad_yaml", body: "storage: [", wantErr: "parse config"},
		{name: "small_segment", body: "storage:\n  max_segment_size: 100\n", wantErr: "storage.max_segment_size"},
		{name: "bad_level", body: "log:\n  level: loud\n", wantErr: "log.level"},
		{name: "bad_format", body: "log:\n  format: xml\n", wantErr: "log.format"},
		{name: "metrics_without_addr", body: "metrics:\n  enabled: true\n  addr: \"\"\n", wantErr: "metrics.addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseLevel(t *testing.T) {
	level, err := config.ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	_, err = config.ParseLevel("trace")
	assert.Error(t, err)
}

func TestLogConfig_NewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := config.LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}
