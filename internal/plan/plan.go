// Package plan turns requested execution tickets into dispatchable work
// items using the reverse tag index.
package plan

import (
	"context"
	"log/slog"
	"sort"

	"github.com/me/testfleet/internal/catalog"
	"github.com/me/testfleet/internal/classify"
	"github.com/me/testfleet/internal/logging"
	"github.com/me/testfleet/internal/tracker"
	"github.com/me/testfleet/pkg/model"
)

// Request is one execution ticket and the test ids it asks for.
type Request struct {
	Ticket  string
	TestIDs []string
}

// Entry holds the requested tests of one tag, both sets sorted.
type Entry struct {
	Parallel   []string
	Sequential []string
}

// Meta is copied into every emitted work item.
type Meta struct {
	Targets   []string
	Build     string
	BuildType string
	TestPlan  string
}

// Plan is the requested subset of the index plus the per-test ticket
// association used for status callbacks.
type Plan struct {
	Entries      map[string]*Entry
	Tickets      map[string]string // test id -> originating ticket
	Order        map[string]int    // test id -> position in request order
	Unknown      []string          // absent from the universe
	Skipped      []string          // carry the skip marker
	Unclassified []string          // known but without a usable tag
}

// Build restricts idx to the requested tests. A test requested by more than
// one ticket is planned once and stays associated with the first ticket.
func Build(requests []Request, universe *catalog.Universe, idx *classify.Index, skips classify.Set, logger *slog.Logger) *Plan {
	logger = logging.Component(logger, "plan")
	p := &Plan{
		Entries: make(map[string]*Entry),
		Tickets: make(map[string]string),
		Order:   make(map[string]int),
	}
	pos := 0
	for _, req := range requests {
		for _, id := range req.TestIDs {
			if prev, dup := p.Tickets[id]; dup {
				if prev != req.Ticket {
					logger.Info("test requested by several tickets, keeping first",
						"test_id", id, "ticket", req.Ticket, "kept", prev)
				}
				continue
			}
			if !universe.Has(id) {
				logger.Warn("unknown test", "test_id", id, "ticket", req.Ticket)
				p.Unknown = append(p.Unknown, id)
				continue
			}
			if skips.Has(id) {
				logger.Debug("skipped test", "test_id", id, "ticket", req.Ticket)
				p.Skipped = append(p.Skipped, id)
				continue
			}
			tag, parallel, ok := idx.Lookup(id)
			if !ok {
				logger.Warn("test has no tag metadata", "test_id", id, "ticket", req.Ticket)
				p.Unclassified = append(p.Unclassified, id)
				continue
			}

			p.Tickets[id] = req.Ticket
			p.Order[id] = pos
			pos++

			e, ok := p.Entries[tag]
			if !ok {
				e = &Entry{}
				p.Entries[tag] = e
			}
			if parallel {
				e.Parallel = append(e.Parallel, id)
			} else {
				e.Sequential = append(e.Sequential, id)
			}
		}
	}
	for _, e := range p.Entries {
		sort.Strings(e.Parallel)
		sort.Strings(e.Sequential)
	}
	return p
}

// Tags returns the planned tags in lexical order.
func (p *Plan) Tags() []string {
	tags := make([]string, 0, len(p.Entries))
	for tag := range p.Entries {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Len returns the number of planned tests.
func (p *Plan) Len() int {
	return len(p.Tickets)
}

// WorkItems emits, per tag in lexical order, one parallel batch followed by
// one singleton per sequential test. A batch spanning several tickets is
// filed under the earliest requested one.
func (p *Plan) WorkItems(meta Meta) []model.WorkItem {
	build := meta.Build
	if build == "" {
		build = model.DefaultBuild
	}
	item := func(tag string, ids []string, parallel bool, ticket string) model.WorkItem {
		return model.WorkItem{
			Tag:       tag,
			TestIDs:   ids,
			Parallel:  parallel,
			Ticket:    ticket,
			Targets:   append([]string{}, meta.Targets...),
			Build:     build,
			BuildType: meta.BuildType,
			TestPlan:  meta.TestPlan,
		}
	}

	var items []model.WorkItem
	for _, tag := range p.Tags() {
		e := p.Entries[tag]
		if len(e.Parallel) > 0 {
			ids := append([]string(nil), e.Parallel...)
			items = append(items, item(tag, ids, true, p.batchTicket(ids)))
		}
		for _, id := range e.Sequential {
			items = append(items, item(tag, []string{id}, false, p.Tickets[id]))
		}
	}
	return items
}

func (p *Plan) batchTicket(ids []string) string {
	first := ids[0]
	for _, id := range ids[1:] {
		if p.Order[id] < p.Order[first] {
			first = id
		}
	}
	return p.Tickets[first]
}

// ResolveRequests fetches the test list of every ticket in order. A ticket
// that cannot be resolved is logged and left out; only ctx cancellation is
// returned as an error.
func ResolveRequests(ctx context.Context, resolver tracker.Resolver, tickets []string, logger *slog.Logger) ([]Request, error) {
	logger = logging.Component(logger, "plan")
	requests := make([]Request, 0, len(tickets))
	for _, ticket := range tickets {
		if err := ctx.Err(); err != nil {
			return requests, err
		}
		ids, err := resolver.ResolveExecutionTicket(ctx, ticket)
		if err != nil {
			if ctx.Err() != nil {
				return requests, ctx.Err()
			}
			logger.Error("resolve execution ticket", "ticket", ticket, "error", err)
			continue
		}
		logger.Info("resolved execution ticket", "ticket", ticket, "tests", len(ids))
		requests = append(requests, Request{Ticket: ticket, TestIDs: ids})
	}
	return requests, nil
}
