package config

import (
	"fmt"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

func Validate(cfg *Config) error {
	var errs ValidationErrors

	errs = append(errs, validateAdmin(&cfg.Admin)...)
	errs = append(errs, validateDatabase(&cfg.Database)...)
	errs = append(errs, validateDispatch(&cfg.Dispatch)...)
	errs = append(errs, validateScheduler(&cfg.Scheduler)...)
	errs = append(errs, validateProvider(&cfg.Provider)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateAdmin(cfg *AdminConfig) ValidationErrors {
	var errs ValidationErrors

	if !cfg.Enabled {
		return errs
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "admin.port",
			Message: "must be between 1 and 65535",
		})
	}
	if cfg.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "admin.host",
			Message: "must not be empty",
		})
	}

	return errs
}

func validateDatabase(cfg *DatabaseConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "database.path",
			Message: "must not be empty",
		})
	}
	if cfg.BusyTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "database.busy_timeout",
			Message: "must not be negative",
		})
	}
	if cfg.MaxOpenConns < 1 {
		errs = append(errs, ValidationError{
			Field:   "database.max_open_conns",
			Message: "must be at least 1",
		})
	}

	return errs
}

func validateDispatch(cfg *DispatchConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.DefaultLimitPerMinute < 1 {
		errs = append(errs, ValidationError{
			Field:   "dispatch.default_limit_per_minute",
			Message: "must be at least 1",
		})
	}
	if cfg.CampaignFloorPerMinute < 1 {
		errs = append(errs, ValidationError{
			Field:   "dispatch.campaign_floor_per_minute",
			Message: "must be at least 1",
		})
	}
	if cfg.QueueTick <= 0 {
		errs = append(errs, ValidationError{
			Field:   "dispatch.queue_tick",
			Message: "must be positive",
		})
	}
	if cfg.QueueMaxAge <= 0 {
		errs = append(errs, ValidationError{
			Field:   "dispatch.queue_max_age",
			Message: "must be positive",
		})
	}
	if cfg.CapacityPollInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "dispatch.capacity_poll_interval",
			Message: "must be positive",
		})
	}
	if cfg.CheckpointInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "dispatch.checkpoint_interval",
			Message: "must be positive",
		})
	}
	if cfg.CheckpointEvery < 1 {
		errs = append(errs, ValidationError{
			Field:   "dispatch.checkpoint_every",
			Message: "must be at least 1",
		})
	}

	return errs
}

func validateScheduler(cfg *SchedulerConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.PollInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.poll_interval",
			Message: "must be positive",
		})
	}
	if cfg.BatchSize < 1 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.batch_size",
			Message: "must be at least 1",
		})
	}

	return errs
}

func validateProvider(cfg *ProviderConfig) ValidationErrors {
	var errs ValidationErrors

	switch cfg.Kind {
	case "log":
	case "http":
		if cfg.URL == "" {
			errs = append(errs, ValidationError{
				Field:   "provider.url",
				Message: "required for the http provider",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "provider.kind",
			Message: fmt.Sprintf("unknown provider kind %q (must be log or http)", cfg.Kind),
		})
	}

	if cfg.Timeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "provider.timeout",
			Message: "must be positive",
		})
	}

	return errs
}

func validateLogging(cfg *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch cfg.Level {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("unknown level %q", cfg.Level),
		})
	}

	switch cfg.Format {
	case "json", "console":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("unknown format %q (must be json or console)", cfg.Format),
		})
	}

	return errs
}
