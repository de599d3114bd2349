// Package workqueue is the in-process FIFO between the plan builder and the
// dispatch publisher. The producer ends a run with exactly one Shutdown item.
package workqueue

import (
	"context"
	"errors"
	"sync"

	"github.com/me/testfleet/pkg/model"
)

// ErrClosed is returned by Put once a Shutdown item has been enqueued.
var ErrClosed = errors.New("workqueue: closed")

// Item is either Work or Shutdown.
type Item interface {
	item()
}

// Work carries one dispatchable work item.
type Work struct {
	model.WorkItem
}

// Shutdown tells the consumer no more work follows.
type Shutdown struct{}

func (Work) item()     {}
func (Shutdown) item() {}

// Queue is a blocking FIFO with task accounting: every item taken with Get
// must be acknowledged with Done so Join can observe completion.
type Queue struct {
	mu         sync.Mutex
	items      []Item
	capacity   int
	unfinished int
	closed     bool
	changed    chan struct{}
}

// New creates a queue. A capacity of zero or less means unbounded.
func New(capacity int) *Queue {
	return &Queue{
		capacity: capacity,
		changed:  make(chan struct{}),
	}
}

// broadcast wakes every waiter. Caller holds q.mu.
func (q *Queue) broadcast() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Put appends item, blocking only while a bounded queue is full.
func (q *Queue) Put(ctx context.Context, item Item) error {
	if item == nil {
		return errors.New("workqueue: nil item")
	}
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}
		if q.capacity <= 0 || len(q.items) < q.capacity {
			q.items = append(q.items, item)
			q.unfinished++
			if _, ok := item.(Shutdown); ok {
				q.closed = true
			}
			q.broadcast()
			q.mu.Unlock()
			return nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// Get removes and returns the oldest item, blocking until one is available.
func (q *Queue) Get(ctx context.Context) (Item, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			it := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.broadcast()
			q.mu.Unlock()
			return it, nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// Done marks one item returned by Get as processed.
func (q *Queue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.unfinished <= 0 {
		panic("workqueue: Done called more times than items were put")
	}
	q.unfinished--
	q.broadcast()
}

// Join blocks until every item put so far, Shutdown included, has been
// marked processed.
func (q *Queue) Join(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.unfinished == 0 {
			q.mu.Unlock()
			return nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// Len returns the number of items waiting to be taken.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Shutdown has been enqueued.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
