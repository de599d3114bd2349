package plan

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"github.com/me/testfleet/internal/catalog"
	"github.com/me/testfleet/internal/classify"
	"github.com/me/testfleet/internal/logging"
	"github.com/me/testfleet/pkg/model"
)

// mixedUniverse: T1..T5 parallel under A, T6 sequential under A, T7 skipped.
func mixedUniverse(t *testing.T) (*catalog.Universe, classify.Result) {
	t.Helper()
	records := []model.TestRecord{
		{ID: "T1", Tags: []string{"A", "parallel"}},
		{ID: "T2", Tags: []string{"A", "parallel"}},
		{ID: "T3", Tags: []string{"A", "parallel"}},
		{ID: "T4", Tags: []string{"A", "parallel"}},
		{ID: "T5", Tags: []string{"A", "parallel"}},
		{ID: "T6", Tags: []string{"A"}},
		{ID: "T7", Tags: []string{"A", "skip"}},
		{ID: "B1", Tags: []string{"B"}},
		{ID: "B2", Tags: []string{"B", "parallel"}},
		{ID: "N1", Tags: []string{"flaky"}},
	}
	u, err := catalog.New(records)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	return u, classify.New(classify.DefaultOptions(), nil).Build(u.Records())
}

func TestWorkItems_MixedPlan(t *testing.T) {
	u, cls := mixedUniverse(t)
	req := []Request{{Ticket: "EX-1", TestIDs: []string{"T1", "T2", "T3", "T4", "T5", "T6", "T7"}}}

	p := Build(req, u, cls.Index, cls.Skipped, nil)
	items := p.WorkItems(Meta{Targets: []string{"10.0.0.1"}, BuildType: "release", TestPlan: "TP-1"})

	if len(items) != 2 {
		t.Fatalf("got %d work items, want 2: %+v", len(items), items)
	}
	batch := items[0]
	if !batch.Parallel || batch.Tag != "A" {
		t.Errorf("first item = %+v, want parallel batch for A", batch)
	}
	if !reflect.DeepEqual(batch.TestIDs, []string{"T1", "T2", "T3", "T4", "T5"}) {
		t.Errorf("batch = %v", batch.TestIDs)
	}
	single := items[1]
	if single.Parallel || !reflect.DeepEqual(single.TestIDs, []string{"T6"}) {
		t.Errorf("second item = %+v, want sequential T6", single)
	}
	for _, it := range items {
		if it.Ticket != "EX-1" || it.Build != model.DefaultBuild || it.TestPlan != "TP-1" {
			t.Errorf("metadata not propagated: %+v", it)
		}
	}
	if !reflect.DeepEqual(p.Skipped, []string{"T7"}) {
		t.Errorf("Skipped = %v", p.Skipped)
	}
}

func TestWorkItems_UnknownTest(t *testing.T) {
	u, cls := mixedUniverse(t)
	var buf bytes.Buffer
	logger := logging.New(&buf, slog.LevelDebug, logging.FormatText)

	p := Build([]Request{{Ticket: "EX-2", TestIDs: []string{"T99"}}}, u, cls.Index, cls.Skipped, logger)

	if items := p.WorkItems(Meta{}); len(items) != 0 {
		t.Errorf("got %d items, want 0", len(items))
	}
	if !reflect.DeepEqual(p.Unknown, []string{"T99"}) {
		t.Errorf("Unknown = %v", p.Unknown)
	}
	if n := strings.Count(buf.String(), "unknown test"); n != 1 {
		t.Errorf("logged %d unknown-test entries, want 1:\n%s", n, buf.String())
	}
}

func TestWorkItems_Unclassified(t *testing.T) {
	u, cls := mixedUniverse(t)
	p := Build([]Request{{Ticket: "EX-3", TestIDs: []string{"N1", "B1"}}}, u, cls.Index, cls.Skipped, nil)
	if !reflect.DeepEqual(p.Unclassified, []string{"N1"}) {
		t.Errorf("Unclassified = %v", p.Unclassified)
	}
	if p.Len() != 1 {
		t.Errorf("Len = %d, want 1", p.Len())
	}
}

func TestWorkItems_OrderAcrossTags(t *testing.T) {
	u, cls := mixedUniverse(t)
	req := []Request{{Ticket: "EX-4", TestIDs: []string{"B1", "T6", "B2", "T2"}}}
	items := Build(req, u, cls.Index, cls.Skipped, nil).WorkItems(Meta{Build: "1.2.3"})

	var got []string
	for _, it := range items {
		mode := "seq"
		if it.Parallel {
			mode = "par"
		}
		got = append(got, it.Tag+":"+mode+":"+strings.Join(it.TestIDs, ","))
		if it.Build != "1.2.3" {
			t.Errorf("build = %q", it.Build)
		}
	}
	want := []string{"A:par:T2", "A:seq:T6", "B:par:B2", "B:seq:B1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("items = %v, want %v", got, want)
	}
}

func TestBuild_DuplicateAcrossTickets(t *testing.T) {
	u, cls := mixedUniverse(t)
	req := []Request{
		{Ticket: "EX-1", TestIDs: []string{"T6", "T1"}},
		{Ticket: "EX-2", TestIDs: []string{"T6", "T2"}},
	}
	p := Build(req, u, cls.Index, cls.Skipped, nil)
	if p.Tickets["T6"] != "EX-1" {
		t.Errorf("T6 ticket = %q, want EX-1", p.Tickets["T6"])
	}
	items := p.WorkItems(Meta{})
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].Ticket != "EX-1" {
		t.Errorf("batch ticket = %q, want earliest requested EX-1", items[0].Ticket)
	}
}

// Every requested, known, tagged, non-skipped test lands in exactly one item.
func TestWorkItems_Completeness(t *testing.T) {
	u, cls := mixedUniverse(t)
	all := u.IDs()
	p := Build([]Request{{Ticket: "EX", TestIDs: all}}, u, cls.Index, cls.Skipped, nil)

	count := map[string]int{}
	for _, it := range p.WorkItems(Meta{}) {
		for _, id := range it.TestIDs {
			count[id]++
		}
	}
	for _, id := range all {
		expected := 1
		if cls.Skipped.Has(id) || cls.Dropped.Has(id) {
			expected = 0
		}
		if count[id] != expected {
			t.Errorf("%s appears %d times, want %d", id, count[id], expected)
		}
	}
}

type fakeResolver map[string][]string

func (f fakeResolver) ResolveExecutionTicket(_ context.Context, id string) ([]string, error) {
	ids, ok := f[id]
	if !ok {
		return nil, errors.New("ticket not found")
	}
	return ids, nil
}

func TestResolveRequests(t *testing.T) {
	r := fakeResolver{"EX-1": {"T1"}, "EX-3": {"T2", "T3"}}
	reqs, err := ResolveRequests(context.Background(), r, []string{"EX-1", "EX-2", "EX-3"}, nil)
	if err != nil {
		t.Fatalf("ResolveRequests: %v", err)
	}
	if len(reqs) != 2 || reqs[0].Ticket != "EX-1" || reqs[1].Ticket != "EX-3" {
		t.Errorf("requests = %+v", reqs)
	}
}

func TestResolveRequests_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ResolveRequests(ctx, fakeResolver{}, []string{"EX-1"}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
