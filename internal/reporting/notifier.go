package reporting

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/me/testfleet/internal/logging"
	"github.com/me/testfleet/pkg/model"
)

// ErrNotifierClosed is returned by Notify after Close.
var ErrNotifierClosed = errors.New("notifier closed")

// ErrQueueFull is returned by Notify when the backlog is at capacity.
var ErrQueueFull = errors.New("notification queue full")

// Sender delivers one result. *Client implements it.
type Sender interface {
	TestFinished(ctx context.Context, res model.TestResult) error
}

// Notifier sends results from a background goroutine so callers never wait
// on the reporting endpoint.
type Notifier struct {
	sender      Sender
	queue       chan model.TestResult
	sendTimeout time.Duration
	metrics     *Metrics
	logger      *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier)

// WithNotifierMetrics records notifier outcomes in m.
func WithNotifierMetrics(m *Metrics) NotifierOption {
	return func(n *Notifier) { n.metrics = m }
}

// WithSendTimeout bounds each delivery.
func WithSendTimeout(d time.Duration) NotifierOption {
	return func(n *Notifier) {
		if d > 0 {
			n.sendTimeout = d
		}
	}
}

// NewNotifier starts a Notifier with a backlog of size results.
func NewNotifier(sender Sender, size int, logger *slog.Logger, opts ...NotifierOption) *Notifier {
	if size <= 0 {
		size = 256
	}
	n := &Notifier{
		sender:      sender,
		queue:       make(chan model.TestResult, size),
		sendTimeout: 30 * time.Second,
		logger:      logging.Component(logger, "notifier"),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	go n.loop()
	return n
}

// Notify queues res without blocking.
func (n *Notifier) Notify(res model.TestResult) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return ErrNotifierClosed
	}
	select {
	case n.queue <- res:
		return nil
	default:
		n.metrics.notification("dropped")
		n.logger.Error("dropping result notification", "test_id", res.TestID, "ticket", res.Ticket, "error", ErrQueueFull)
		return ErrQueueFull
	}
}

func (n *Notifier) loop() {
	defer close(n.done)
	for res := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), n.sendTimeout)
		err := n.sender.TestFinished(ctx, res)
		cancel()
		if err != nil {
			n.metrics.notification("failed")
			n.logger.Error("result notification failed",
				"test_id", res.TestID,
				"ticket", res.Ticket,
				"status", res.Status,
				"error", err,
			)
			continue
		}
		n.metrics.notification("sent")
	}
}

// Close stops accepting results and waits until the backlog is sent or ctx
// is done.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()

	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		n.logger.Warn("notifier closed with pending results", "pending", len(n.queue))
		return ctx.Err()
	}
}
