package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `
database:
  path: /tmp/msgvault/store.db
backup:
  dir: /tmp/msgvault/snapshots
`

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15, cfg.Server.ReadTimeoutSeconds)
	assert.Equal(t, 5000, cfg.Database.BusyTimeoutMS)
	assert.True(t, cfg.Database.RunMigrations)
	assert.Equal(t, "info", cfg.Logging.Level)

	assert.Equal(t, "sha256", cfg.Dedup.HashAlgorithm)
	assert.True(t, cfg.Dedup.Normalization.TrimSpace)
	assert.True(t, cfg.Dedup.Normalization.CollapseWhitespace)
	assert.True(t, cfg.Dedup.Normalization.CaseFold)

	assert.Equal(t, 30, cfg.Backup.RetentionDays)
	assert.Equal(t, 10, cfg.Backup.MaxAutoSnapshots)
	assert.True(t, cfg.Backup.Compression)
	assert.True(t, cfg.Backup.PreOperation)

	assert.Equal(t, 300, cfg.Pipeline.IntervalSeconds)
	assert.Equal(t, 10000, cfg.Pipeline.FetchLimit)
	assert.Equal(t, 3, cfg.Pipeline.MaxRetries)
	assert.Equal(t, 30*time.Minute, cfg.Pipeline.StaleBatchThreshold)
	assert.Equal(t, 3, cfg.Pipeline.CommitRetry.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Pipeline.CommitRetry.InitialInterval)

	assert.False(t, cfg.RateLimit.Enabled)
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
server:
  port: 9090
database:
  path: /data/store.db
  run_migrations: false
dedup:
  hash_algorithm: md5
  normalization:
    case_fold: false
backup:
  dir: /data/snapshots
  retention_days: 7
  compression: false
pipeline:
  fetch_limit: 500
  stale_batch_threshold: 10m
`))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/data/store.db", cfg.Database.Path)
	assert.False(t, cfg.Database.RunMigrations)
	assert.Equal(t, "md5", cfg.Dedup.HashAlgorithm)
	assert.False(t, cfg.Dedup.Normalization.CaseFold)
	assert.True(t, cfg.Dedup.Normalization.TrimSpace)
	assert.Equal(t, 7, cfg.Backup.RetentionDays)
	assert.False(t, cfg.Backup.Compression)
	assert.Equal(t, 500, cfg.Pipeline.FetchLimit)
	assert.Equal(t, 10*time.Minute, cfg.Pipeline.StaleBatchThreshold)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("PIPELINE_MAX_RETRIES", "5")
	t.Setenv("LOGGING_LEVEL", "debug")

	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Pipeline.MaxRetries)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "missing database path",
			content: `
backup:
  dir: /tmp/snapshots
`,
		},
		{
			name: "missing backup dir",
			content: `
database:
  path: /tmp/store.db
`,
		},
		{
			name: "bad hash algorithm",
			content: minimalConfig + `
dedup:
  hash_algorithm: crc32
`,
		},
		{
			name: "bad port",
			content: minimalConfig + `
server:
  port: 0
`,
		},
		{
			name: "zero fetch limit",
			content: minimalConfig + `
pipeline:
  fetch_limit: 0
`,
		},
		{
			name: "zero pipeline interval",
			content: minimalConfig + `
pipeline:
  interval_seconds: 0
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}
