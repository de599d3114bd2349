package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/testfleet/internal/dispatch"
	"github.com/me/testfleet/internal/executor"
	"github.com/me/testfleet/internal/reporting"
	"github.com/me/testfleet/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	var (
		name        string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume tickets and run their tests",
		Long: "Consume work items until STOP, locking a target for each one. Results are " +
			"reported through a reporting endpoint that lives as long as the worker.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				name = cfg.Worker.Name
			}
			if name == "" {
				h, err := os.Hostname()
				if err != nil {
					h = "worker"
				}
				name = fmt.Sprintf("%s-%d", h, os.Getpid())
			}

			ctx, stop := signalContext()
			defer stop()

			reg := newRegistry()
			serveMetrics(ctx, metricsAddr, reg)

			locks, err := lockService(ctx, name, reg)
			if err != nil {
				return err
			}
			exec, err := executor.NewCommandExecutor(cfg.Executor, logger)
			if err != nil {
				return err
			}

			rmetrics := reporting.NewMetrics(reg)
			var endpoint worker.Endpoint
			switch cfg.Reporter.Mode {
			case "inproc":
				srv, closeDB, err := newReportingServer(ctx, rmetrics)
				if err != nil {
					return err
				}
				defer closeDB()
				endpoint = &worker.InProcessEndpoint{Server: srv, Addr: cfg.Reporter.Addr}
			default:
				args := []string{"reporter"}
				if flagConfig != "" {
					args = append(args, "--config", flagConfig)
				}
				args = append(args, "--log-level", cfg.Log.Level, "--log-format", cfg.Log.Format)
				endpoint = reporting.NewSupervisor(reporting.SupervisorConfig{
					Args:         args,
					Addr:         cfg.Reporter.Addr,
					StartTimeout: cfg.Reporter.StartTimeout,
				}, logger)
			}

			notifier := reporting.NewNotifier(
				reporting.NewClient(cfg.Reporter.Addr, 0),
				cfg.Reporter.QueueSize,
				logger,
				reporting.WithNotifierMetrics(rmetrics),
			)

			kcfg := dispatch.FromConfig(cfg.Kafka)
			client, err := dispatch.NewClient(kcfg, "consumer", logger, reg, dispatch.ConsumerOpts(kcfg)...)
			if err != nil {
				return fmt.Errorf("kafka consumer: %w", err)
			}
			defer client.Close()
			consumer := dispatch.NewConsumer(client, kcfg, dispatch.NewMetrics(reg), logger)

			w := worker.New(name, locks, exec, notifier, logger)
			return w.Run(ctx, consumer, endpoint)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Worker name, recorded as lock holder (default hostname-pid)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}
