package reporting

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// EndpointConfig configures a standalone reporting endpoint.
type EndpointConfig struct {
	Addr string
	// ParentPID, when set, ties the endpoint's lifetime to that process.
	ParentPID     int
	WatchInterval time.Duration
}

// RunEndpoint serves srv until ctx is done or the parent process exits.
func RunEndpoint(ctx context.Context, cfg EndpointConfig, srv *Server, logger *slog.Logger) error {
	if cfg.ParentPID > 0 {
		var cancel context.CancelFunc
		ctx, cancel = WatchParent(ctx, cfg.ParentPID, cfg.WatchInterval)
		defer cancel()
	}
	err := srv.Serve(ctx, cfg.Addr)
	if errors.Is(context.Cause(ctx), ErrParentGone) {
		logger.Warn("parent process gone, reporting endpoint exiting", "parent_pid", cfg.ParentPID)
	}
	return err
}
