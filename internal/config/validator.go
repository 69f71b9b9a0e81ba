package config

import (
	"fmt"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if err := validateDedup(cfg.Dedup); err != nil {
		errors = append(errors, err)
	}

	if err := validateBackup(cfg.Backup); err != nil {
		errors = append(errors, err)
	}

	if err := validatePipeline(cfg.Pipeline); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Path == "" {
		return &ValidationError{
			Field:   "database.path",
			Message: "database path is required",
		}
	}

	if cfg.BusyTimeoutMS < 0 {
		return &ValidationError{
			Field:   "database.busy_timeout_ms",
			Message: "busy timeout must not be negative",
		}
	}

	return nil
}

func validateDedup(cfg DedupConfig) error {
	switch cfg.HashAlgorithm {
	case "sha256", "md5":
	default:
		return &ValidationError{
			Field:   "dedup.hash_algorithm",
			Message: fmt.Sprintf("unsupported hash algorithm %q (want sha256 or md5)", cfg.HashAlgorithm),
		}
	}

	return nil
}

func validateBackup(cfg BackupConfig) error {
	if cfg.Dir == "" {
		return &ValidationError{
			Field:   "backup.dir",
			Message: "backup directory is required",
		}
	}

	if cfg.RetentionDays <= 0 {
		return &ValidationError{
			Field:   "backup.retention_days",
			Message: "retention must be at least one day",
		}
	}

	if cfg.MaxAutoSnapshots < 1 {
		return &ValidationError{
			Field:   "backup.max_auto_snapshots",
			Message: "at least one auto snapshot must be kept",
		}
	}

	return nil
}

func validatePipeline(cfg PipelineConfig) error {
	if cfg.IntervalSeconds < 1 {
		return &ValidationError{
			Field:   "pipeline.interval_seconds",
			Message: "interval must be at least one second",
		}
	}

	if cfg.FetchLimit < 1 {
		return &ValidationError{
			Field:   "pipeline.fetch_limit",
			Message: "fetch limit must be at least 1",
		}
	}

	if cfg.MaxRetries < 1 {
		return &ValidationError{
			Field:   "pipeline.max_retries",
			Message: "retry ceiling must be at least 1",
		}
	}

	if cfg.StaleBatchThreshold <= 0 {
		return &ValidationError{
			Field:   "pipeline.stale_batch_threshold",
			Message: "stale batch threshold must be positive",
		}
	}

	return nil
}
