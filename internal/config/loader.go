package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	ErrConfigNotFound  = errors.New("config file not found")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrMissingRequired = errors.New("missing required configuration")
)

type LoadOptions struct {
	ConfigFile string
	EnvPrefix  string
	Defaults   *Config
}

func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()

	defaults := opts.Defaults
	if defaults == nil {
		defaults = Default()
	}
	setViperDefaults(v, defaults)

	if opts.EnvPrefix == "" {
		opts.EnvPrefix = "COURIER"
	}
	v.SetEnvPrefix(opts.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("courier")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/courier")
		v.AddConfigPath("/etc/courier")
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	expandEnvInConfig(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func LoadFromFile(path string) (*Config, error) {
	return Load(LoadOptions{ConfigFile: path})
}

func LoadWithDefaults() (*Config, error) {
	return Load(LoadOptions{})
}

func setViperDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("admin.enabled", cfg.Admin.Enabled)
	v.SetDefault("admin.host", cfg.Admin.Host)
	v.SetDefault("admin.port", cfg.Admin.Port)
	v.SetDefault("admin.read_timeout", cfg.Admin.ReadTimeout)
	v.SetDefault("admin.write_timeout", cfg.Admin.WriteTimeout)
	v.SetDefault("admin.idle_timeout", cfg.Admin.IdleTimeout)

	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.wal_mode", cfg.Database.WALMode)
	v.SetDefault("database.cache_size", cfg.Database.CacheSize)
	v.SetDefault("database.busy_timeout", cfg.Database.BusyTimeout)
	v.SetDefault("database.foreign_keys", cfg.Database.ForeignKeys)
	v.SetDefault("database.max_open_conns", cfg.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", cfg.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", cfg.Database.ConnMaxLifetime)

	v.SetDefault("dispatch.default_limit_per_minute", cfg.Dispatch.DefaultLimitPerMinute)
	v.SetDefault("dispatch.campaign_floor_per_minute", cfg.Dispatch.CampaignFloorPerMinute)
	v.SetDefault("dispatch.tenant_overrides_path", cfg.Dispatch.TenantOverridesPath)
	v.SetDefault("dispatch.queue_tick", cfg.Dispatch.QueueTick)
	v.SetDefault("dispatch.queue_max_age", cfg.Dispatch.QueueMaxAge)
	v.SetDefault("dispatch.capacity_poll_interval", cfg.Dispatch.CapacityPollInterval)
	v.SetDefault("dispatch.checkpoint_interval", cfg.Dispatch.CheckpointInterval)
	v.SetDefault("dispatch.checkpoint_every", cfg.Dispatch.CheckpointEvery)

	v.SetDefault("scheduler.poll_interval", cfg.Scheduler.PollInterval)
	v.SetDefault("scheduler.batch_size", cfg.Scheduler.BatchSize)

	v.SetDefault("provider.kind", cfg.Provider.Kind)
	v.SetDefault("provider.url", cfg.Provider.URL)
	v.SetDefault("provider.timeout", cfg.Provider.Timeout)
	v.SetDefault("provider.max_per_second", cfg.Provider.MaxPerSecond)
	v.SetDefault("provider.from_identity", cfg.Provider.FromIdentity)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.caller", cfg.Logging.Caller)
	v.SetDefault("logging.timestamp", cfg.Logging.Timestamp)
}

func expandEnvInConfig(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envVar := val[2 : len(val)-1]
			if envVal := os.Getenv(envVar); envVal != "" {
				v.Set(key, envVal)
			}
		}
	}
}

func ConfigFilePath(customPath string) (string, error) {
	if customPath != "" {
		absPath, err := filepath.Abs(customPath)
		if err != nil {
			return "", fmt.Errorf("resolving config path: %w", err)
		}
		return absPath, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	return filepath.Join(cwd, "courier.yaml"), nil
}
