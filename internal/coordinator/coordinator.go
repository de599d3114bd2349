// Package coordinator runs one dispatch session: resolve the requested
// tickets, plan the work, reset the work topic and publish every item.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/testfleet/internal/catalog"
	"github.com/me/testfleet/internal/classify"
	"github.com/me/testfleet/internal/dispatch"
	"github.com/me/testfleet/internal/logging"
	"github.com/me/testfleet/internal/plan"
	"github.com/me/testfleet/internal/tracker"
	"github.com/me/testfleet/internal/workqueue"
)

// ErrIncompleteDispatch is returned when some work item did not reach the
// broker.
var ErrIncompleteDispatch = errors.New("incomplete dispatch")

// TopicResetter recreates the work topic. *dispatch.Admin implements it.
type TopicResetter interface {
	ResetTopic(ctx context.Context) error
}

// Publisher drains a work queue onto the broker. *dispatch.Publisher
// implements it.
type Publisher interface {
	Run(ctx context.Context, q *workqueue.Queue) (dispatch.Result, error)
}

// Options wires one session.
type Options struct {
	Tickets []string
	// Requests are used as-is when Resolver is nil.
	Requests   []plan.Request
	Universe   *catalog.Universe
	Classifier *classify.Classifier
	Resolver   tracker.Resolver
	Meta       plan.Meta
	Admin      TopicResetter
	Publisher  Publisher
	// QueueSize bounds the work queue; <= 0 means unbounded.
	QueueSize int
	// Grace is how long the publisher may keep flushing after an
	// interrupt.
	Grace  time.Duration
	Logger *slog.Logger
}

// Summary describes a finished session.
type Summary struct {
	Tickets      int
	Requested    int
	Items        int // enqueued work items
	Unknown      []string
	Skipped      []string
	Unclassified []string
	Dispatch     dispatch.Result
	Interrupted  bool
}

// Run executes one session. On ctx cancellation it stops enqueuing, lets
// the publisher flush what was already queued and returns context.Canceled.
// The topic is never deleted on interrupt.
func Run(ctx context.Context, opts Options) (Summary, error) {
	logger := logging.Component(opts.Logger, "coordinator")
	var sum Summary
	sum.Tickets = len(opts.Tickets)

	if opts.Universe == nil || opts.Classifier == nil || opts.Admin == nil || opts.Publisher == nil {
		return sum, errors.New("coordinator: universe, classifier, admin and publisher are required")
	}
	if opts.Grace <= 0 {
		opts.Grace = 30 * time.Second
	}

	classified := opts.Classifier.Build(opts.Universe.Records())
	logger.Info("universe classified",
		"tests", opts.Universe.Len(),
		"tags", len(classified.Index.Tags()),
		"skipped", len(classified.Skipped),
		"dropped", len(classified.Dropped),
	)

	requests := opts.Requests
	if opts.Resolver != nil {
		var err error
		requests, err = plan.ResolveRequests(ctx, opts.Resolver, opts.Tickets, logger)
		if err != nil {
			return sum, err
		}
	} else {
		sum.Tickets = len(requests)
	}
	for _, r := range requests {
		sum.Requested += len(r.TestIDs)
	}

	p := plan.Build(requests, opts.Universe, classified.Index, classified.Skipped, logger)
	sum.Unknown = p.Unknown
	sum.Skipped = p.Skipped
	sum.Unclassified = p.Unclassified
	items := p.WorkItems(opts.Meta)
	logger.Info("plan built",
		"requested", sum.Requested,
		"planned", p.Len(),
		"items", len(items),
		"unknown", len(p.Unknown),
	)

	if err := opts.Admin.ResetTopic(ctx); err != nil {
		if errors.Is(err, dispatch.ErrTopicUnavailable) {
			logger.Error("work topic unavailable, aborting", "error", err)
		}
		return sum, fmt.Errorf("reset topic: %w", err)
	}

	// The publisher outlives an interrupt so queued items are flushed.
	pubCtx, pubCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer pubCancel()

	q := workqueue.New(opts.QueueSize)
	type pubResult struct {
		res dispatch.Result
		err error
	}
	pubDone := make(chan pubResult, 1)
	// alive ends when the publisher returns; no Put or Join waits past it.
	alive, pubGone := context.WithCancel(pubCtx)
	defer pubGone()
	go func() {
		res, err := opts.Publisher.Run(pubCtx, q)
		pubDone <- pubResult{res, err}
		pubGone()
	}()

	enqCtx, enqCancel := context.WithCancel(ctx)
	defer enqCancel()
	stopWatch := context.AfterFunc(alive, enqCancel)
	defer stopWatch()

	for _, it := range items {
		if enqCtx.Err() != nil {
			break
		}
		if err := q.Put(enqCtx, workqueue.Work{WorkItem: it}); err != nil {
			break
		}
		sum.Items++
	}
	sum.Interrupted = ctx.Err() != nil
	if sum.Interrupted {
		logger.Warn("interrupted, no further items enqueued",
			"enqueued", sum.Items, "planned", len(items))
	}
	if err := q.Put(alive, workqueue.Shutdown{}); err != nil {
		logger.Error("publisher stopped before the plan was enqueued",
			"enqueued", sum.Items, "planned", len(items))
	}

	joined := make(chan error, 1)
	go func() { joined <- q.Join(alive) }()
	select {
	case <-joined:
	case <-ctx.Done():
		sum.Interrupted = true
		timer := time.NewTimer(opts.Grace)
		select {
		case <-joined:
		case <-timer.C:
			logger.Warn("publisher grace period expired", "grace", opts.Grace)
			pubCancel()
			<-joined
		}
		timer.Stop()
	}

	pr := <-pubDone
	sum.Dispatch = pr.res
	logger.Info("dispatch finished",
		"published", pr.res.Published,
		"failed", pr.res.Failed,
		"skipped", pr.res.Skipped,
		"interrupted", sum.Interrupted,
	)

	if sum.Interrupted {
		return sum, context.Canceled
	}
	if pr.err != nil {
		return sum, fmt.Errorf("publish: %w", pr.err)
	}
	if !pr.res.Complete() || pr.res.Published != sum.Items {
		return sum, fmt.Errorf("%w: %d of %d items published", ErrIncompleteDispatch, pr.res.Published, sum.Items)
	}
	return sum, nil
}
