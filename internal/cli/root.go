package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/me/testfleet/internal/config"
	"github.com/me/testfleet/internal/logging"
)

var (
	flagConfig    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	cfg    config.Config
	logger *slog.Logger
)

// NewRootCmd creates the root cobra command for the testfleet CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "testfleet",
		Short: "testfleet: distributed test-execution coordinator",
		Long: "testfleet classifies a test universe by tag, dispatches work items over Kafka " +
			"and runs them on workers that lock their test targets.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				loaded.Log.Level = flagLogLevel
			}
			if cmd.Flags().Changed("log-format") {
				loaded.Log.Format = flagLogFormat
			}
			if flagDebug {
				loaded.Log.Level = "debug"
			}
			if err := loaded.Validate(); err != nil {
				return err
			}
			level, err := logging.ParseLevel(loaded.Log.Level)
			if err != nil {
				return err
			}
			cfg = loaded
			logger = logging.New(cmd.ErrOrStderr(), level, cfg.Log.Format)
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to YAML config file")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newCoordinateCmd(),
		newPlanCmd(),
		newWorkerCmd(),
		newReporterCmd(),
		newLockdCmd(),
		newStopCmd(),
		newUnlockCmd(),
	)

	return root
}
