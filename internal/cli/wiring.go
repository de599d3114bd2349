package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/me/testfleet/internal/catalog"
	"github.com/me/testfleet/internal/classify"
	"github.com/me/testfleet/internal/config"
	"github.com/me/testfleet/internal/plan"
	"github.com/me/testfleet/internal/targetlock"
	"github.com/me/testfleet/internal/tracker"
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func classifierOptions(c config.ClassifierConfig) classify.Options {
	return classify.Options{
		SkipTag:           c.SkipTag,
		ParallelTag:       c.ParallelTag,
		NoiseTags:         c.NoiseTags,
		InternalSkipTags:  c.InternalSkipTags,
		BaseComponentTags: c.BaseComponentTags,
		TieBreak:          classify.TieBreak(c.TieBreak),
	}
}

func trackerClient(c config.TrackerConfig) *tracker.HTTPClient {
	if c.URL == "" {
		return nil
	}
	return tracker.NewHTTPClient(tracker.Config{
		BaseURL:    c.URL,
		Token:      c.Token,
		Timeout:    c.Timeout,
		MaxRetries: c.MaxRetries,
	}, logger)
}

// requestSource yields explicit requests from --test, or a resolver for
// --ticket lookups against the tracker.
func requestSource(tickets, tests []string) ([]plan.Request, tracker.Resolver, error) {
	if len(tests) > 0 {
		name := "adhoc"
		if len(tickets) > 0 {
			name = tickets[0]
		}
		return []plan.Request{{Ticket: name, TestIDs: tests}}, nil, nil
	}
	if len(tickets) == 0 {
		return nil, nil, errors.New("at least one --ticket or --test is required")
	}
	tc := trackerClient(cfg.Tracker)
	if tc == nil {
		return nil, nil, errors.New("tracker.url is required to resolve --ticket")
	}
	return nil, tc, nil
}

// loadUniverse reads the universe snapshot at path.
func loadUniverse(path string) (*catalog.Universe, error) {
	if path == "" {
		return nil, errors.New("--universe is required")
	}
	return catalog.Load(path)
}

// lockService builds the lock client and checks that the store answers
// before any ticket is taken.
func lockService(ctx context.Context, holder string, reg prometheus.Registerer) (*targetlock.Service, error) {
	backend, err := targetlock.NewBackend(cfg.Lock)
	if err != nil {
		return nil, err
	}
	svc := targetlock.NewService(backend, holder, logger,
		targetlock.WithRetryInterval(cfg.Lock.RetryInterval),
		targetlock.WithMetrics(targetlock.NewMetrics(reg)),
	)

	timeout := cfg.Lock.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := svc.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("lock backend %s: %w", lockEndpoint(cfg.Lock), err)
	}
	return svc, nil
}

func lockEndpoint(c config.LockConfig) string {
	if c.Backend == "redis" {
		return "redis://" + c.RedisAddr
	}
	return c.URL
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// serveMetrics exposes reg on addr until ctx is done. An empty addr
// disables it.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown", "error", err)
		}
	}()
}
