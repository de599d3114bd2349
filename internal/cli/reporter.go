package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/testfleet/internal/reportdb"
	"github.com/me/testfleet/internal/reporting"
)

// newReportingServer builds the endpoint with the "test finished" handler.
// The returned close func releases the report database.
func newReportingServer(ctx context.Context, metrics *reporting.Metrics) (*reporting.Server, func(), error) {
	var (
		db      reporting.EntryWriter
		closeDB = func() {}
	)
	if cfg.ReportDB.DSN != "" {
		rdb, err := reportdb.Open(cfg.ReportDB.DSN, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := rdb.Migrate(ctx); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("migrate report db: %w", err)
		}
		db = rdb
		closeDB = func() { rdb.Close() }
	} else {
		logger.Warn("report_db.dsn not set, results are not persisted")
	}

	var recorder *reporting.Recorder
	if tc := trackerClient(cfg.Tracker); tc != nil {
		recorder = reporting.NewRecorder(tc, db, logger)
	} else {
		logger.Warn("tracker.url not set, tickets are not updated")
		recorder = reporting.NewRecorder(nil, db, logger)
	}

	srv := reporting.NewServer(logger, reporting.WithServerMetrics(metrics))
	srv.Register(reporting.MethodTestFinished, recorder)
	return srv, closeDB, nil
}

func newReporterCmd() *cobra.Command {
	var (
		addr      string
		parentPID int
	)
	cmd := &cobra.Command{
		Use:   "reporter",
		Short: "Run the asynchronous reporting endpoint",
		Long: "Serve the JSON-RPC reporting endpoint. With --parent-pid the endpoint exits " +
			"as soon as that process is gone.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = cfg.Reporter.Addr
			}
			ctx, stop := signalContext()
			defer stop()

			srv, closeDB, err := newReportingServer(ctx, reporting.NewMetrics(nil))
			if err != nil {
				return err
			}
			defer closeDB()

			return reporting.RunEndpoint(ctx, reporting.EndpointConfig{
				Addr:          addr,
				ParentPID:     parentPID,
				WatchInterval: cfg.Reporter.WatchInterval,
			}, srv, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default reporter.addr)")
	cmd.Flags().IntVar(&parentPID, "parent-pid", 0, "Exit when this process is gone")
	return cmd
}
