// Package config provides configuration management for Courier.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure for Courier.
type Config struct {
	Admin     AdminConfig     `mapstructure:"admin"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// AdminConfig holds settings for the administrative HTTP surface
// (health, metrics, per-tenant rate status, campaign progress).
type AdminConfig struct {
	// Enable the admin server
	Enabled bool `mapstructure:"enabled"`

	// Host to bind the server to
	Host string `mapstructure:"host"`

	// Port to listen on
	Port int `mapstructure:"port"`

	// Request timeouts
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// Address returns the host:port address for the admin server.
func (c *AdminConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string `mapstructure:"path"`

	// Enable WAL mode (recommended)
	WALMode bool `mapstructure:"wal_mode"`

	// SQLite cache size (negative = KB, positive = pages)
	CacheSize int `mapstructure:"cache_size"`

	// Busy timeout for locked database
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`

	// Enable foreign key enforcement
	ForeignKeys bool `mapstructure:"foreign_keys"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DispatchConfig holds settings for the rate limiter, the ad-hoc
// dispatch queue and the bulk campaign runner.
type DispatchConfig struct {
	// Default per-tenant outbound limit per minute
	DefaultLimitPerMinute int `mapstructure:"default_limit_per_minute"`

	// Minimum effective rate for bulk campaigns, so a low ad-hoc
	// tenant limit does not cripple large sends
	CampaignFloorPerMinute int `mapstructure:"campaign_floor_per_minute"`

	// Optional YAML file with per-tenant limit overrides; watched
	// for changes when set
	TenantOverridesPath string `mapstructure:"tenant_overrides_path"`

	// How often the ad-hoc queue re-attempts deferred messages
	QueueTick time.Duration `mapstructure:"queue_tick"`

	// Queued messages older than this are dropped without notice
	QueueMaxAge time.Duration `mapstructure:"queue_max_age"`

	// Backoff between capacity polls while a bulk run waits
	CapacityPollInterval time.Duration `mapstructure:"capacity_poll_interval"`

	// Checkpoint cadence for bulk runs: whichever trigger fires
	// first, plus always on the final recipient
	CheckpointInterval time.Duration `mapstructure:"checkpoint_interval"`
	CheckpointEvery    int           `mapstructure:"checkpoint_every"`
}

// SchedulerConfig holds settings for the automation scheduler.
type SchedulerConfig struct {
	// How often to poll for due automations
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// Maximum automations fetched per poll
	BatchSize int `mapstructure:"batch_size"`
}

// ProviderConfig holds settings for the outbound message provider.
type ProviderConfig struct {
	// Provider kind: "http" posts to a gateway URL, "log" only logs
	// the send (dry-run, useful for development)
	Kind string `mapstructure:"kind"`

	// Gateway endpoint for the http provider
	URL string `mapstructure:"url"`

	// Bound on a single provider call so a run cannot stall
	Timeout time.Duration `mapstructure:"timeout"`

	// Process-wide cap on gateway requests per second, across all
	// tenants (0 = unlimited)
	MaxPerSecond int `mapstructure:"max_per_second"`

	// Default sender identity when a message carries none
	FromIdentity string `mapstructure:"from_identity"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Log format (json, console)
	Format string `mapstructure:"format"`

	// Include caller information
	Caller bool `mapstructure:"caller"`

	// Include timestamps
	Timestamp bool `mapstructure:"timestamp"`
}
