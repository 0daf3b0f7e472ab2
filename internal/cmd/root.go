package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/stocktake/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "stocktake",
	Short: "Multi-tenant inventory client",
	Long: `stocktake is the command-line client for the multi-tenant inventory
platform. It signs users in, keeps their access token fresh, scopes every
API call to the selected tenant and ends the session after the idle or
absolute time limit of the user's role.

Run 'stocktake config init' once, start the local API with
'stocktake serve-mock', then open a session with 'stocktake run'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	configFile string
	logLevel   string
	logFormat  string
)

// Execute runs the root command
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with ctx, which is cancelled on
// SIGINT or SIGTERM.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is $STOCKTAKE_HOME/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override the log format (text, json)")
}

// configPath resolves --config, falling back to the default location.
func configPath() (string, error) {
	if configFile != "" {
		return configFile, nil
	}
	return config.Path()
}

// loadConfig reads the configuration and applies the logging flags.
func loadConfig() (*config.Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	return cfg, nil
}
