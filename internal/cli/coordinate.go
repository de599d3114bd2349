package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/twmb/franz-go/pkg/kadm"

	"github.com/me/testfleet/internal/classify"
	"github.com/me/testfleet/internal/coordinator"
	"github.com/me/testfleet/internal/dispatch"
	"github.com/me/testfleet/internal/plan"
)

func newCoordinateCmd() *cobra.Command {
	var (
		universePath string
		tickets      []string
		tests        []string
		meta         plan.Meta
		grace        time.Duration
		queueSize    int
		metricsAddr  string
		format       string
	)
	cmd := &cobra.Command{
		Use:   "coordinate",
		Short: "Run one dispatch session",
		Long: "Resolve execution tickets, plan the requested tests, reset the work topic " +
			"and publish every work item.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			if len(meta.Targets) == 0 {
				return errors.New("at least one --target is required")
			}
			universe, err := loadUniverse(universePath)
			if err != nil {
				return err
			}
			requests, resolver, err := requestSource(tickets, tests)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			reg := newRegistry()
			serveMetrics(ctx, metricsAddr, reg)

			kcfg := dispatch.FromConfig(cfg.Kafka)
			adminClient, err := dispatch.NewClient(kcfg, "admin", logger, nil)
			if err != nil {
				return fmt.Errorf("kafka admin client: %w", err)
			}
			defer adminClient.Close()
			producer, err := dispatch.NewClient(kcfg, "producer", logger, reg, dispatch.ProducerOpts(kcfg)...)
			if err != nil {
				return fmt.Errorf("kafka producer: %w", err)
			}
			defer producer.Close()

			opts := coordinator.Options{
				Tickets:    tickets,
				Requests:   requests,
				Universe:   universe,
				Classifier: classify.New(classifierOptions(cfg.Classifier), logger),
				Meta:       meta,
				Admin:      dispatch.NewAdmin(kadm.NewClient(adminClient), kcfg, logger),
				Publisher:  dispatch.NewPublisher(producer, kcfg.Topic, dispatch.NewMetrics(reg), logger),
				QueueSize:  queueSize,
				Grace:      grace,
				Logger:     logger,
			}
			if resolver != nil {
				opts.Resolver = resolver
			}

			sum, runErr := coordinator.Run(ctx, opts)
			if err := writeSummary(cmd.OutOrStdout(), format, sum); err != nil {
				logger.Warn("write summary", "error", err)
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&universePath, "universe", "", "Test universe snapshot (YAML or JSON)")
	cmd.Flags().StringSliceVar(&tickets, "ticket", nil, "Execution ticket to resolve (repeatable)")
	cmd.Flags().StringSliceVar(&tests, "test", nil, "Explicit test id instead of resolving tickets (repeatable)")
	cmd.Flags().StringSliceVar(&meta.Targets, "target", nil, "Candidate target (repeatable)")
	cmd.Flags().StringVar(&meta.Build, "build", "", "Build identifier (default 000)")
	cmd.Flags().StringVar(&meta.BuildType, "build-type", "", "Build type")
	cmd.Flags().StringVar(&meta.TestPlan, "test-plan", "", "Test plan identifier")
	cmd.Flags().DurationVar(&grace, "grace", 30*time.Second, "How long to keep flushing after an interrupt")
	cmd.Flags().IntVar(&queueSize, "queue-size", 0, "Work queue capacity (0 = unbounded)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().StringVarP(&format, "output", "o", formatTable, "Output format (table, json, csv)")
	return cmd
}
