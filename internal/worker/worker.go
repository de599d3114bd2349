// Package worker consumes tickets, runs their tests on a locked target and
// hands the results to the reporting endpoint.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"github.com/me/testfleet/internal/dispatch"
	"github.com/me/testfleet/internal/executor"
	"github.com/me/testfleet/internal/logging"
	"github.com/me/testfleet/pkg/model"
)

// Locker acquires and releases targets. *targetlock.Service implements it.
type Locker interface {
	Acquire(ctx context.Context, candidates []string) (string, error)
	Unlock(ctx context.Context, target string) (bool, error)
}

// Notifier queues results for reporting. *reporting.Notifier implements it.
type Notifier interface {
	Notify(res model.TestResult) error
	Close(ctx context.Context) error
}

// Source delivers tickets to a handler until STOP. *dispatch.Consumer
// implements it.
type Source interface {
	Run(ctx context.Context, h dispatch.Handler) error
}

// Endpoint is the reporting endpoint's lifecycle. Done is closed when the
// endpoint stops serving for any reason.
type Endpoint interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Done() <-chan struct{}
}

// ErrEndpointLost is returned by Run when the reporting endpoint exits while
// tickets are still being consumed.
var ErrEndpointLost = errors.New("reporting endpoint exited")

// Worker handles tickets one at a time.
type Worker struct {
	name         string
	locker       Locker
	exec         executor.Executor
	notifier     Notifier
	drainTimeout time.Duration
	logger       *slog.Logger
}

// New creates a Worker.
func New(name string, locker Locker, exec executor.Executor, notifier Notifier, logger *slog.Logger) *Worker {
	return &Worker{
		name:         name,
		locker:       locker,
		exec:         exec,
		notifier:     notifier,
		drainTimeout: 30 * time.Second,
		logger:       logging.Component(logger, "worker").With("worker", name),
	}
}

// HandleTicket implements dispatch.Handler: acquire a target from the
// ticket's candidates, run the tests, release the target and queue one
// notification per result. An error means the ticket was not completed and
// should be delivered again.
func (w *Worker) HandleTicket(ctx context.Context, item model.WorkItem) error {
	logger := w.logger.With("ticket", item.Ticket, "tag", item.Tag)
	if len(item.Targets) == 0 {
		logger.Error("ticket has no candidate targets, dropping", "tests", len(item.TestIDs))
		return nil
	}

	target, err := w.locker.Acquire(ctx, item.Targets)
	if err != nil {
		return fmt.Errorf("acquire target for %s: %w", item.Ticket, err)
	}
	logger = logger.With("target", target)
	logger.Info("target acquired", "tests", len(item.TestIDs), "parallel", item.Parallel)

	results, runErr := w.exec.Run(ctx, executor.Request{
		Ticket:    item.Ticket,
		TestIDs:   item.TestIDs,
		Target:    target,
		Build:     item.Build,
		BuildType: item.BuildType,
		TestPlan:  item.TestPlan,
		Parallel:  item.Parallel,
	})

	// Release even when ctx is cancelled; a leaked lock blocks other workers.
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	released, err := w.locker.Unlock(releaseCtx, target)
	cancel()
	switch {
	case err != nil:
		logger.Error("target release failed, lock may be stale", "error", err)
	case !released:
		logger.Warn("target release refused: lock is not held by this worker", "holder", w.name)
	default:
		logger.Debug("target released")
	}

	for _, res := range results {
		if err := w.notifier.Notify(res); err != nil {
			logger.Error("queue result", "test_id", res.TestID, "error", err)
		}
	}

	if runErr != nil {
		return fmt.Errorf("run %s on %s: %w", item.Ticket, target, runErr)
	}
	logger.Info("ticket done", "results", len(results))
	return nil
}

// Run starts the endpoint, consumes tickets until STOP or ctx cancellation
// and then shuts down in order: drain notifications, stop the endpoint.
// If the endpoint exits first, consumption is cancelled so the ticket in
// flight stays uncommitted, and Run returns ErrEndpointLost.
func (w *Worker) Run(ctx context.Context, source Source, endpoint Endpoint) error {
	if endpoint != nil {
		if err := endpoint.Start(ctx); err != nil {
			return fmt.Errorf("start reporting endpoint: %w", err)
		}
	}

	runCtx, cancelRun := context.WithCancelCause(ctx)
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		if endpoint == nil {
			return
		}
		select {
		case <-endpoint.Done():
			w.logger.Error("reporting endpoint exited, stopping consumption")
			cancelRun(ErrEndpointLost)
		case <-runCtx.Done():
		}
	}()

	w.logger.Info("worker consuming")
	runErr := source.Run(runCtx, w)
	lost := errors.Is(context.Cause(runCtx), ErrEndpointLost)
	cancelRun(nil)
	<-watchDone

	switch {
	case lost:
		runErr = ErrEndpointLost
	case errors.Is(runErr, context.Canceled):
		w.logger.Info("worker interrupted")
		runErr = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.drainTimeout)
	defer cancel()

	var errs error
	errs = multierr.Append(errs, runErr)
	if err := w.notifier.Close(shutdownCtx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("drain notifications: %w", err))
	}
	if endpoint != nil {
		if err := endpoint.Stop(shutdownCtx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("stop reporting endpoint: %w", err))
		}
	}
	w.logger.Info("worker stopped")
	return errs
}
