package config

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap/zapcore"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	switch cfg.HistoryBackend {
	case BackendMemory:
	case BackendPostgres:
		// DATABASE_URL is required for the durable backend
		if cfg.DatabaseURL == "" {
			errs = append(errs, ValidationError{
				Field:   "DATABASE_URL",
				Message: "required when HISTORY_BACKEND=postgres",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "HISTORY_BACKEND",
			Message: fmt.Sprintf("must be 'memory' or 'postgres', got %q", cfg.HistoryBackend),
		})
	}

	if cfg.LogLevel != "" {
		if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
			errs = append(errs, ValidationError{
				Field:   "LOG_LEVEL",
				Message: err.Error(),
			})
		}
	}

	if cfg.WatchesDir == "" {
		errs = append(errs, ValidationError{
			Field:   "WATCHES_DIR",
			Message: "required",
		})
	}

	for _, d := range []struct {
		field string
		value string
	}{
		{"TICK_INTERVAL", cfg.TickIntervalStr},
		{"DRAIN_TIMEOUT", cfg.DrainTimeoutStr},
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr},
		{"DB_OP_TIMEOUT", cfg.DBOpTimeoutStr},
		{"DB_CONN_MAX_LIFETIME", cfg.DBConnMaxLifetimeStr},
		{"HISTORY_RETRY_INITIAL_BACKOFF", cfg.HistoryRetryInitialBackoffStr},
		{"HISTORY_RETRY_MAX_BACKOFF", cfg.HistoryRetryMaxBackoffStr},
		{"PROVISION_INTERVAL", cfg.ProvisionIntervalStr},
		{"ANALYTICS_WINDOW", cfg.AnalyticsWindowStr},
		{"ANALYTICS_RETENTION", cfg.AnalyticsRetentionStr},
		{"CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldownStr},
	} {
		if err := validateDuration(d.value); err != nil {
			errs = append(errs, ValidationError{Field: d.field, Message: err.Error()})
		}
	}

	if cfg.HistoryRetryInitialBackoff > 0 && cfg.HistoryRetryMaxBackoff > 0 &&
		cfg.HistoryRetryInitialBackoff > cfg.HistoryRetryMaxBackoff {
		errs = append(errs, ValidationError{
			Field:   "HISTORY_RETRY_MAX_BACKOFF",
			Message: "must not be less than HISTORY_RETRY_INITIAL_BACKOFF",
		})
	}

	seen := make(map[string]bool)
	for _, a := range cfg.EmailAccounts {
		seen[a.ID] = true
		if a.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "email.accounts." + a.ID + ".smtp.host",
				Message: "required",
			})
		}
	}
	if cfg.EmailDefaultAccount != "" && !seen[cfg.EmailDefaultAccount] {
		errs = append(errs, ValidationError{
			Field:   "EMAIL_DEFAULT_ACCOUNT",
			Message: fmt.Sprintf("unknown account %q", cfg.EmailDefaultAccount),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateDuration(s string) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return errors.Newf("invalid duration: %v", err)
	}
	if d <= 0 {
		return errors.New("must be positive")
	}
	return nil
}
