package targetlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/me/testfleet/internal/logging"
	"github.com/me/testfleet/pkg/model"
)

// ErrNoTarget is returned by FindAvailable when every candidate is taken.
var ErrNoTarget = errors.New("no target available")

// ErrUnreachable is returned by Ping when the lock store does not answer.
var ErrUnreachable = errors.New("lock store unreachable")

// Metrics counts lock attempts.
type Metrics struct {
	attempts *prometheus.CounterVec
}

// NewMetrics registers the lock metrics with reg. A nil reg keeps them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		attempts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "testfleet_lock_attempts_total",
			Help: "Target lock attempts, by outcome (acquired, busy, registered, error).",
		}, []string{"result"}),
	}
}

func (m *Metrics) observe(result string) {
	if m != nil {
		m.attempts.WithLabelValues(result).Inc()
	}
}

// Service acquires and releases targets on behalf of one holder.
type Service struct {
	backend       Backend
	holder        string
	retryInterval time.Duration
	metrics       *Metrics
	logger        *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithRetryInterval sets how long Acquire waits between sweeps.
func WithRetryInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retryInterval = d
		}
	}
}

// WithMetrics records lock attempts in m.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a Service locking targets as holder.
func NewService(backend Backend, holder string, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		backend:       backend,
		holder:        holder,
		retryInterval: 5 * time.Second,
		logger:        logging.Component(logger, "targetlock"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Holder returns the identity recorded on locks taken by this service.
func (s *Service) Holder() string { return s.holder }

// Ping checks that the lock store answers. Callers use it at startup so a
// dead store fails the run instead of stalling Acquire.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.backend.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return nil
}

// FindAvailable returns the first candidate that is free or not yet
// registered. Unknown candidates are registered free before being returned.
// The answer is only a hint; Lock decides.
func (s *Service) FindAvailable(ctx context.Context, candidates []string) (string, error) {
	for _, id := range candidates {
		recs, err := s.backend.Search(ctx, model.TargetQuery{ID: model.Ptr(id)}, nil)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			s.logger.Warn("target lookup failed", "target", id, "error", err)
			continue
		}
		if len(recs) == 0 {
			err := s.backend.Create(ctx, model.TargetRecord{ID: id})
			if err != nil && !errors.Is(err, ErrExists) {
				s.logger.Warn("target registration failed", "target", id, "error", err)
				continue
			}
			if err == nil {
				s.logger.Info("target registered", "target", id)
				return id, nil
			}
			// Registered concurrently; fall through to a fresh read.
			recs, err = s.backend.Search(ctx, model.TargetQuery{ID: model.Ptr(id)}, nil)
			if err != nil || len(recs) == 0 {
				continue
			}
		}
		if recs[0].State() == model.TargetStateFree {
			return id, nil
		}
	}
	return "", ErrNoTarget
}

// Lock takes target for this holder. It reports false when another holder
// owns it. The conditional update is the only decision point, so concurrent
// callers cannot both win.
func (s *Service) Lock(ctx context.Context, target string) (bool, error) {
	n, err := s.backend.Update(ctx,
		model.TargetQuery{ID: model.Ptr(target), Occupied: model.Ptr(false)},
		model.TargetPatch{Occupied: model.Ptr(true), Holder: model.Ptr(s.holder)},
	)
	if err != nil {
		s.metrics.observe("error")
		return false, fmt.Errorf("lock %s: %w", target, err)
	}
	if n > 0 {
		s.metrics.observe("acquired")
		s.logger.Debug("target locked", "target", target, "holder", s.holder)
		return true, nil
	}

	recs, err := s.backend.Search(ctx, model.TargetQuery{ID: model.Ptr(target)}, nil)
	if err != nil {
		s.metrics.observe("error")
		return false, fmt.Errorf("lock %s: %w", target, err)
	}
	if len(recs) > 0 {
		s.metrics.observe("busy")
		s.logger.Debug("target busy", "target", target, "state", recs[0].State(), "holder", recs[0].Holder)
		return false, nil
	}

	// Unknown target: register it already occupied. Create fails if someone
	// else registered it in the meantime.
	err = s.backend.Create(ctx, model.TargetRecord{ID: target, Occupied: true, Holder: s.holder})
	switch {
	case err == nil:
		s.metrics.observe("registered")
		s.logger.Info("target registered and locked", "target", target, "holder", s.holder)
		return true, nil
	case errors.Is(err, ErrExists):
		s.metrics.observe("busy")
		return false, nil
	default:
		s.metrics.observe("error")
		return false, fmt.Errorf("lock %s: %w", target, err)
	}
}

// Unlock releases target if this holder owns it. It reports false when the
// target was not held by this holder.
func (s *Service) Unlock(ctx context.Context, target string) (bool, error) {
	n, err := s.backend.Update(ctx,
		model.TargetQuery{ID: model.Ptr(target), Occupied: model.Ptr(true), Holder: model.Ptr(s.holder)},
		model.TargetPatch{Occupied: model.Ptr(false), Holder: model.Ptr("")},
	)
	if err != nil {
		return false, fmt.Errorf("unlock %s: %w", target, err)
	}
	return n > 0, nil
}

// ForceUnlock frees target whoever holds it.
func (s *Service) ForceUnlock(ctx context.Context, target string) (bool, error) {
	n, err := s.backend.Update(ctx,
		model.TargetQuery{ID: model.Ptr(target), Occupied: model.Ptr(true)},
		model.TargetPatch{Occupied: model.Ptr(false), Holder: model.Ptr("")},
	)
	if err != nil {
		return false, fmt.Errorf("force unlock %s: %w", target, err)
	}
	if n > 0 {
		s.logger.Warn("target force-unlocked", "target", target)
	}
	return n > 0, nil
}

// Acquire sweeps candidates until one is locked or ctx is done.
func (s *Service) Acquire(ctx context.Context, candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", fmt.Errorf("acquire: %w", ErrNoTarget)
	}
	for attempt := 1; ; attempt++ {
		if target, ok := s.sweep(ctx, candidates); ok {
			return target, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.logger.Debug("all targets busy", "candidates", candidates, "attempt", attempt)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.retryInterval):
		}
	}
}

func (s *Service) sweep(ctx context.Context, candidates []string) (string, bool) {
	for {
		target, err := s.FindAvailable(ctx, candidates)
		if err != nil {
			return "", false
		}
		ok, err := s.Lock(ctx, target)
		if err != nil {
			s.logger.Warn("lock attempt failed", "target", target, "error", err)
			return "", false
		}
		if ok {
			return target, true
		}
		// Lost the race for target; try the rest of the list.
		candidates = without(candidates, target)
		if len(candidates) == 0 {
			return "", false
		}
	}
}

func without(list []string, drop string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s != drop {
			out = append(out, s)
		}
	}
	return out
}
