package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"stepcore/config"
	"stepcore/core"
)

var (
	configPath string
	verbose    bool
	logFormat  string

	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "stepcore",
	Short: "Motion core host tool",
	Long: `stepcore plans and steps coordinated moves.

Commands:
  simulate    run a job on a virtual clock and report steps and timing
  send        stream a job to a controller over a serial link
  kinematics  convert a position to motor steps and back

The machine is described by a YAML file (--config). Values can be
overridden with STEPCORE_ environment variables, for example
STEPCORE_MOTION_RING_CAPACITY=32.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		opts := &slog.HandlerOptions{Level: level}
		switch logFormat {
		case "text":
			logger = slog.New(slog.NewTextHandler(os.Stderr, opts))
		case "json":
			logger = slog.New(slog.NewJSONHandler(os.Stderr, opts))
		default:
			return fmt.Errorf("unknown log format %q", logFormat)
		}
		slog.SetDefault(logger)

		// Step interrupt trace lines go through the same logger
		core.SetDebugWriter(func(msg string) { logger.Debug(msg, "source", "core") })
		core.SetDebugEnabled(verbose)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Machine config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
}

// loadConfig reads --config, falling back to the built-in Cartesian machine
func loadConfig() (*config.MachineConfig, error) {
	if configPath == "" {
		logger.Debug("no config given, using defaults")
		return config.Default(), nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Debug("config loaded", "path", configPath, "kinematics", cfg.Kinematics)
	return cfg, nil
}
