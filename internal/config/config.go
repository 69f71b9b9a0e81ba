package config

import (
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Logging   LoggingConfig
	Dedup     DedupConfig
	Backup    BackupConfig
	Pipeline  PipelineConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port                int `mapstructure:"port"`
	ReadTimeoutSeconds  int `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Path          string `mapstructure:"path"`
	BusyTimeoutMS int    `mapstructure:"busy_timeout_ms"`
	RunMigrations bool   `mapstructure:"run_migrations"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// NormalizationConfig controls how semantic fields are canonicalized before
// fingerprinting. All three default to enabled.
type NormalizationConfig struct {
	TrimSpace          bool `mapstructure:"trim_space"`
	CollapseWhitespace bool `mapstructure:"collapse_whitespace"`
	CaseFold           bool `mapstructure:"case_fold"`
}

type DedupConfig struct {
	HashAlgorithm string              `mapstructure:"hash_algorithm"`
	Normalization NormalizationConfig `mapstructure:"normalization"`
}

type BackupConfig struct {
	Dir               string `mapstructure:"dir"`
	RetentionDays     int    `mapstructure:"retention_days"`
	MaxAutoSnapshots  int    `mapstructure:"max_auto_snapshots"`
	Compression       bool   `mapstructure:"compression"`
	VerifyAfterCreate bool   `mapstructure:"verify_after_create"`
	PreOperation      bool   `mapstructure:"pre_operation"`
}

type PipelineConfig struct {
	IntervalSeconds     int           `mapstructure:"interval_seconds"`
	FetchLimit          int           `mapstructure:"fetch_limit"`
	MaxRetries          int           `mapstructure:"max_retries"`
	StaleBatchThreshold time.Duration `mapstructure:"stale_batch_threshold"`
	CommitRetry         RetryConfig   `mapstructure:"commit_retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
