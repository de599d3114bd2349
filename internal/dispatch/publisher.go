package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/me/testfleet/internal/logging"
	"github.com/me/testfleet/internal/ticket"
	"github.com/me/testfleet/internal/workqueue"
	"github.com/me/testfleet/pkg/model"
)

// Result summarizes one publisher run.
type Result struct {
	Published int // acknowledged by the broker
	Failed    int // rejected by the broker
	Skipped   int // could not be encoded
}

// Complete reports whether every item reached the broker.
func (r Result) Complete() bool {
	return r.Failed == 0 && r.Skipped == 0
}

// Publisher drains the work queue onto the work topic.
type Publisher struct {
	client  *kgo.Client
	topic   string
	metrics *Metrics
	logger  *slog.Logger
}

// NewPublisher creates a Publisher. metrics may be nil.
func NewPublisher(client *kgo.Client, topic string, metrics *Metrics, logger *slog.Logger) *Publisher {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Publisher{
		client:  client,
		topic:   topic,
		metrics: metrics,
		logger:  logging.Component(logger, "publisher"),
	}
}

// Run takes items from q until Shutdown, then flushes and returns. Each
// work item is marked done in q once the broker acknowledged or rejected it,
// so q.Join returns only after everything was dispatched.
func (p *Publisher) Run(ctx context.Context, q *workqueue.Queue) (Result, error) {
	var (
		published atomic.Int64
		failed    atomic.Int64
		skipped   int
		inflight  sync.WaitGroup
	)
	result := func() Result {
		return Result{
			Published: int(published.Load()),
			Failed:    int(failed.Load()),
			Skipped:   skipped,
		}
	}

	for {
		it, err := q.Get(ctx)
		if err != nil {
			inflight.Wait()
			return result(), fmt.Errorf("publisher: %w", err)
		}

		switch v := it.(type) {
		case workqueue.Shutdown:
			err := p.client.Flush(ctx)
			inflight.Wait()
			q.Done()
			res := result()
			p.logger.Info("publisher finished",
				"published", res.Published, "failed", res.Failed, "skipped", res.Skipped)
			if err != nil {
				return res, fmt.Errorf("publisher flush: %w", err)
			}
			return res, nil

		case workqueue.Work:
			data, err := ticket.Encode(v.WorkItem)
			if err != nil {
				p.logger.Error("skipping malformed ticket",
					"tag", v.Tag, "ticket", v.Ticket, "tests", len(v.TestIDs), "error", err)
				p.metrics.published.WithLabelValues("skipped").Inc()
				skipped++
				q.Done()
				continue
			}

			rec := &kgo.Record{
				Topic: p.topic,
				Key:   []byte(uuid.NewString()),
				Value: data,
			}
			item := v.WorkItem
			inflight.Add(1)
			p.client.Produce(ctx, rec, func(r *kgo.Record, err error) {
				defer inflight.Done()
				defer q.Done()
				if err != nil {
					failed.Add(1)
					p.metrics.published.WithLabelValues("failed").Inc()
					p.logger.Error("ticket delivery failed",
						"tag", item.Tag, "ticket", item.Ticket, "key", string(r.Key), "error", err)
					return
				}
				published.Add(1)
				p.metrics.published.WithLabelValues("ok").Inc()
				p.logger.Debug("ticket delivered",
					"tag", item.Tag, "ticket", item.Ticket, "parallel", item.Parallel,
					"partition", r.Partition, "offset", r.Offset)
			})
		}
	}
}

// PublishStop sends n administrative STOP tickets and waits for them to be
// acknowledged. Each running consumer exits on the first STOP it receives.
func (p *Publisher) PublishStop(ctx context.Context, n int) error {
	data, err := ticket.Encode(ticket.Stop())
	if err != nil {
		return err
	}
	recs := make([]*kgo.Record, 0, n)
	for i := 0; i < n; i++ {
		recs = append(recs, &kgo.Record{
			Topic: p.topic,
			Key:   []byte(uuid.NewString()),
			Value: data,
		})
	}
	if err := p.client.ProduceSync(ctx, recs...).FirstErr(); err != nil {
		return fmt.Errorf("publish stop: %w", err)
	}
	p.logger.Info("stop tickets published", "count", n, "ticket", model.StopTicket)
	return nil
}
