package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"ksched/internal/logging"
	"ksched/internal/sched"
)

var (
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string
)

// NewRootCmd creates the root cobra command for ticksched.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "ticksched",
		Short:        "ticksched runs workloads on a simulated multi-core scheduler",
		Long:         "ticksched boots a kernel scheduler on goroutine cores, drives it with a timer and streams what it does.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "configs/config.yml", "Kernel configuration file (defaults when missing)")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Log format (text, json); overrides the config")

	root.AddCommand(
		newRunCmd(),
		newConfigCmd(),
	)
	return root
}

// setup loads the configuration and builds the logger it asks for.
func setup(cmd *cobra.Command) (sched.Config, *slog.Logger, error) {
	cfg, err := sched.Load(flagConfig)
	if err != nil {
		return cfg, nil, err
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.LogFormat = flagLogFormat
	}
	logger, err := logging.NewLoggerWithWriter(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logger, nil
}
