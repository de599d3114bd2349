package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/me/testfleet/internal/logging"
	"github.com/me/testfleet/internal/ticket"
	"github.com/me/testfleet/pkg/model"
)

// ErrClientClosed is returned by Consumer.Run when the client was closed
// underneath it.
var ErrClientClosed = errors.New("kafka client closed")

// Handler processes one ticket. Returning an error leaves the ticket
// uncommitted so it is delivered again.
type Handler interface {
	HandleTicket(ctx context.Context, item model.WorkItem) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, item model.WorkItem) error

// HandleTicket calls f.
func (f HandlerFunc) HandleTicket(ctx context.Context, item model.WorkItem) error {
	return f(ctx, item)
}

// Consumer reads tickets for one worker of the consumer group.
type Consumer struct {
	client      *kgo.Client
	pollTimeout time.Duration
	metrics     *Metrics
	logger      *slog.Logger
}

// NewConsumer creates a Consumer over a client built with ConsumerOpts.
func NewConsumer(client *kgo.Client, cfg Config, metrics *Metrics, logger *slog.Logger) *Consumer {
	cfg.withDefaults()
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Consumer{
		client:      client,
		pollTimeout: cfg.PollTimeout,
		metrics:     metrics,
		logger:      logging.Component(logger, "consumer"),
	}
}

// Run polls until a STOP ticket arrives (returns nil), ctx is cancelled
// (returns ctx.Err()) or the handler fails (returns its error, the ticket
// stays uncommitted). Polls are bounded by the poll timeout so cancellation
// is noticed promptly.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		pollCtx, cancel := context.WithTimeout(ctx, c.pollTimeout)
		fetches := c.client.PollRecords(pollCtx, 1)
		cancel()

		if fetches.IsClientClosed() {
			return ErrClientClosed
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Warn("fetch error", "topic", topic, "partition", partition, "error", err)
		})

		iter := fetches.RecordIter()
		for !iter.Done() {
			rec := iter.Next()
			stop, err := c.process(ctx, h, rec)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}
	}
}

func (c *Consumer) process(ctx context.Context, h Handler, rec *kgo.Record) (stop bool, err error) {
	logger := c.logger.With("partition", rec.Partition, "offset", rec.Offset)

	item, err := ticket.Decode(rec.Value)
	if err != nil {
		logger.Error("dropping invalid ticket", "error", err)
		c.metrics.consumed.WithLabelValues("invalid").Inc()
		c.commit(ctx, rec)
		return false, nil
	}
	if item.IsStop() {
		logger.Info("stop ticket received")
		c.metrics.consumed.WithLabelValues("stop").Inc()
		c.commit(ctx, rec)
		return true, nil
	}

	logger.Info("ticket received",
		"tag", item.Tag, "ticket", item.Ticket, "tests", len(item.TestIDs), "parallel", item.Parallel)
	if err := h.HandleTicket(ctx, item); err != nil {
		c.metrics.consumed.WithLabelValues("error").Inc()
		return false, fmt.Errorf("handle ticket %s/%s: %w", item.Ticket, item.Tag, err)
	}
	c.metrics.consumed.WithLabelValues("ok").Inc()
	c.commit(ctx, rec)
	return false, nil
}

// commit marks rec consumed. A failed commit only risks redelivery.
func (c *Consumer) commit(ctx context.Context, rec *kgo.Record) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := c.client.CommitRecords(ctx, rec); err != nil {
		c.logger.Warn("commit failed, ticket may be redelivered",
			"partition", rec.Partition, "offset", rec.Offset, "error", err)
	}
}
