// Package cli implements the courier command line interface.
package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/patchwell/courier/internal/config"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "courier",
	Short: "Multi-tenant outreach dispatch service",
	Long: `Courier dispatches outbound messages for multiple tenants:

  - Per-tenant rate limiting over fixed 60 second windows
  - Ad-hoc sends with automatic deferral when a tenant's window is full
  - Bulk campaign runs with checkpointed, resumable progress
  - Recurring automations (daily, weekly, monthly, sequences, cron)

Start the service:
  courier serve`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./courier.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

// setupLogging configures zerolog before the config file is loaded;
// serve re-applies the configured level and format once it has one.
func setupLogging() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// applyLogging reconfigures the global logger from loaded config.
// The --verbose flag always wins.
func applyLogging(cfg *config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	logger := zerolog.New(os.Stderr)
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	lctx := logger.With()
	if cfg.Timestamp {
		lctx = lctx.Timestamp()
	}
	if cfg.Caller {
		lctx = lctx.Caller()
	}
	log.Logger = lctx.Logger()
}

// loadConfig loads configuration honoring the --config flag.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadFromFile(cfgFile)
	}
	return config.LoadWithDefaults()
}
