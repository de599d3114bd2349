package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/testfleet/internal/server"
	"github.com/me/testfleet/internal/store"
)

func newLockdCmd() *cobra.Command {
	var (
		addr   string
		dbPath string
	)
	cmd := &cobra.Command{
		Use:   "lockd",
		Short: "Run the target lock store HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			lcfg := cfg.LockServer
			if addr != "" {
				lcfg.Addr = addr
			}
			if dbPath != "" {
				lcfg.DBPath = dbPath
			}
			if lcfg.DBPath == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("cannot determine home directory: %w", err)
				}
				dir := filepath.Join(home, ".testfleet")
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("cannot create %s: %w", dir, err)
				}
				lcfg.DBPath = filepath.Join(dir, "targets.db")
			}

			st, err := store.NewSQLiteStore(lcfg.DBPath, logger)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer st.Close()
			if err := st.Migrate(context.Background()); err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}
			logger.Info("database ready", "path", lcfg.DBPath)

			srv := server.New(lcfg, st, logger, server.WithRegistry(newRegistry()))
			httpServer := &http.Server{
				Addr:              lcfg.Addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signalContext()
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("lock store listening", "addr", lcfg.Addr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return fmt.Errorf("lock store: %w", err)
			case <-ctx.Done():
			}
			logger.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			logger.Info("lock store stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default lock_server.addr)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (default ~/.testfleet/targets.db)")
	return cmd
}
