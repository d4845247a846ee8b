package cmd

import (
	"fmt"

	"github.com/bnema/anvil/internal/config"
	"github.com/bnema/anvil/internal/logger"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "anvil",
		Short: "anvil - a small Wayland compositor core",
		Long: `anvil composes client surfaces onto outputs provided by one of three
backends: a window on a parent Wayland session (host), the local display
hardware (native) or a window on an X11 server (nested-x11).

The running compositor is controlled through a unix socket; see the status,
surface and quit commands.`,
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
	}
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $XDG_CONFIG_HOME/anvil/anvil.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}

func initConfig(cmd *cobra.Command, args []string) error {
	if configPath != "" {
		config.SetConfigPath(configPath)
	}
	if err := config.Init(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg := config.Get()
	logger.SetLevel(cfg.Logging.LogLevel)
	logger.SetLevel(logLevel)
	if cfg.Logging.FileLogging {
		path, err := logger.EnableFileLogging()
		if err != nil {
			logger.Warn("file logging disabled", "err", err)
		} else {
			logger.Debug("logging to file", "path", path)
		}
	}
	return nil
}
