package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout_seconds", 15)
	viper.SetDefault("server.write_timeout_seconds", 15)

	viper.SetDefault("database.busy_timeout_ms", 5000)
	viper.SetDefault("database.run_migrations", true)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("dedup.hash_algorithm", "sha256")
	viper.SetDefault("dedup.normalization.trim_space", true)
	viper.SetDefault("dedup.normalization.collapse_whitespace", true)
	viper.SetDefault("dedup.normalization.case_fold", true)

	viper.SetDefault("backup.retention_days", 30)
	viper.SetDefault("backup.max_auto_snapshots", 10)
	viper.SetDefault("backup.compression", true)
	viper.SetDefault("backup.verify_after_create", true)
	viper.SetDefault("backup.pre_operation", true)

	viper.SetDefault("pipeline.interval_seconds", 300)
	viper.SetDefault("pipeline.fetch_limit", 10000)
	viper.SetDefault("pipeline.max_retries", 3)
	viper.SetDefault("pipeline.stale_batch_threshold", "30m")
	viper.SetDefault("pipeline.commit_retry.max_attempts", 3)
	viper.SetDefault("pipeline.commit_retry.initial_interval", "200ms")
	viper.SetDefault("pipeline.commit_retry.max_interval", "5s")
	viper.SetDefault("pipeline.commit_retry.multiplier", 2.0)
	viper.SetDefault("pipeline.commit_retry.max_elapsed_time", "1m")

	viper.SetDefault("ratelimit.enabled", false)
	viper.SetDefault("ratelimit.rps", 10.0)
	viper.SetDefault("ratelimit.burst", 20)
	viper.SetDefault("ratelimit.cleanup_interval", 300)
	viper.SetDefault("ratelimit.max_age", 600)
}

func bindEnvVariables() {
	viper.BindEnv("database.path", "DATABASE_PATH")
	viper.BindEnv("database.busy_timeout_ms", "DATABASE_BUSY_TIMEOUT_MS")
	viper.BindEnv("database.run_migrations", "DATABASE_RUN_MIGRATIONS")

	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout_seconds", "SERVER_READ_TIMEOUT_SECONDS")
	viper.BindEnv("server.write_timeout_seconds", "SERVER_WRITE_TIMEOUT_SECONDS")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("backup.dir", "BACKUP_DIR")
	viper.BindEnv("backup.retention_days", "BACKUP_RETENTION_DAYS")

	viper.BindEnv("pipeline.interval_seconds", "PIPELINE_INTERVAL_SECONDS")
	viper.BindEnv("pipeline.max_retries", "PIPELINE_MAX_RETRIES")
}
