package config

import "time"

// Default configuration values.
const (
	// Admin server defaults.
	DefaultAdminHost    = "localhost"
	DefaultAdminPort    = 8095
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 30 * time.Second
	DefaultIdleTimeout  = 120 * time.Second

	// Database defaults.
	DefaultDBPath       = "courier.db"
	DefaultCacheSize    = -64000 // 64MB
	DefaultBusyTimeout  = 5 * time.Second
	DefaultMaxOpenConns = 1 // SQLite works best with single writer
	DefaultMaxIdleConns = 1

	// Dispatch defaults.
	DefaultLimitPerMinute        = 10
	DefaultCampaignFloor         = 60
	DefaultQueueTick             = 10 * time.Second
	DefaultQueueMaxAge           = time.Hour
	DefaultCapacityPollInterval  = time.Second
	DefaultCheckpointInterval    = 5 * time.Second
	DefaultCheckpointEvery       = 10

	// Scheduler defaults.
	DefaultSchedulerPollInterval = time.Second
	DefaultSchedulerBatchSize    = 100

	// Provider defaults.
	DefaultProviderKind    = "log"
	DefaultProviderTimeout = 15 * time.Second

	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Admin: AdminConfig{
			Enabled:      true,
			Host:         DefaultAdminHost,
			Port:         DefaultAdminPort,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
		},
		Database: DatabaseConfig{
			Path:            DefaultDBPath,
			WALMode:         true,
			CacheSize:       DefaultCacheSize,
			BusyTimeout:     DefaultBusyTimeout,
			ForeignKeys:     true,
			MaxOpenConns:    DefaultMaxOpenConns,
			MaxIdleConns:    DefaultMaxIdleConns,
			ConnMaxLifetime: 0, // No limit
		},
		Dispatch: DispatchConfig{
			DefaultLimitPerMinute:  DefaultLimitPerMinute,
			CampaignFloorPerMinute: DefaultCampaignFloor,
			QueueTick:              DefaultQueueTick,
			QueueMaxAge:            DefaultQueueMaxAge,
			CapacityPollInterval:   DefaultCapacityPollInterval,
			CheckpointInterval:     DefaultCheckpointInterval,
			CheckpointEvery:        DefaultCheckpointEvery,
		},
		Scheduler: SchedulerConfig{
			PollInterval: DefaultSchedulerPollInterval,
			BatchSize:    DefaultSchedulerBatchSize,
		},
		Provider: ProviderConfig{
			Kind:    DefaultProviderKind,
			Timeout: DefaultProviderTimeout,
		},
		Logging: LoggingConfig{
			Level:     DefaultLogLevel,
			Format:    DefaultLogFormat,
			Caller:    false,
			Timestamp: true,
		},
	}
}
