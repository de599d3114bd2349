package classify

import (
	"reflect"
	"testing"

	"github.com/me/testfleet/pkg/model"
)

func rec(id string, tags ...string) *model.TestRecord {
	return &model.TestRecord{ID: id, Tags: tags}
}

func TestBuild_MixedTag(t *testing.T) {
	records := []*model.TestRecord{
		rec("T1", "A", "parallel"),
		rec("T2", "A", "parallel"),
		rec("T3", "parallel", "A"),
		rec("T4", "A", "parallel"),
		rec("T5", "A", "parallel"),
		rec("T6", "A"),
		rec("T7", "A", "skip"),
	}
	res := New(DefaultOptions(), nil).Build(records)

	if got := res.Skipped.Sorted(); !reflect.DeepEqual(got, []string{"T7"}) {
		t.Errorf("Skipped = %v, want [T7]", got)
	}
	g := res.Index.Group("A")
	if g == nil {
		t.Fatal("no group for tag A")
	}
	if got := g.Parallel.Sorted(); !reflect.DeepEqual(got, []string{"T1", "T2", "T3", "T4", "T5"}) {
		t.Errorf("parallel = %v", got)
	}
	if got := g.Sequential.Sorted(); !reflect.DeepEqual(got, []string{"T6"}) {
		t.Errorf("sequential = %v", got)
	}
	if _, _, ok := res.Index.Lookup("T7"); ok {
		t.Error("skipped test must not be indexed")
	}
}

func TestBuild_ExplicitFlags(t *testing.T) {
	records := []*model.TestRecord{
		{ID: "P", Tags: []string{"io"}, Parallel: true},
		{ID: "S", Tags: []string{"io"}, Skip: true},
	}
	res := New(DefaultOptions(), nil).Build(records)
	if _, parallel, ok := res.Index.Lookup("P"); !ok || !parallel {
		t.Errorf("Lookup(P) parallel=%v ok=%v, want true true", parallel, ok)
	}
	if !res.Skipped.Has("S") {
		t.Error("explicit skip flag not honored")
	}
}

func TestBuild_Dropped(t *testing.T) {
	records := []*model.TestRecord{
		rec("noise", "parametrize", "flaky"),
		rec("empty"),
		rec("wip", "wip", "parallel"),
	}
	res := New(DefaultOptions(), nil).Build(records)
	if got := res.Dropped.Sorted(); !reflect.DeepEqual(got, []string{"empty", "noise", "wip"}) {
		t.Errorf("Dropped = %v", got)
	}
	if res.Index.Len() != 0 {
		t.Errorf("Index.Len = %d, want 0", res.Index.Len())
	}
}

func TestPrimaryTag(t *testing.T) {
	opts := DefaultOptions()
	opts.BaseComponentTags = []string{"storage", "network"}

	tests := []struct {
		name     string
		tieBreak TieBreak
		record   *model.TestRecord
		want     string
	}{
		{"single", TieBreakLexical, rec("t", "durability"), "durability"},
		{"noise stripped", TieBreakLexical, rec("t", "parametrize", "alerts"), "alerts"},
		{"lexical", TieBreakLexical, rec("t", "rotation", "alerts"), "alerts"},
		{"first seen", TieBreakFirstSeen, rec("t", "rotation", "alerts"), "rotation"},
		{"base ignored when other tag", TieBreakLexical, rec("t", "network", "zeta"), "zeta"},
		{"base fallback", TieBreakLexical, rec("t", "storage", "network"), "network"},
		{"base fallback first seen", TieBreakFirstSeen, rec("t", "storage", "network"), "storage"},
		{"component fallback", TieBreakLexical, &model.TestRecord{ID: "t", Tags: []string{"timeout"}, ComponentTags: []string{"io", "checksum"}}, "checksum"},
		{"nothing usable", TieBreakLexical, rec("t", "skipif", "tags_skip"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := opts
			o.TieBreak = tt.tieBreak
			if got := New(o, nil).PrimaryTag(tt.record); got != tt.want {
				t.Errorf("PrimaryTag = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrimaryTag_LexicalIsOrderIndependent(t *testing.T) {
	c := New(DefaultOptions(), nil)
	a := c.PrimaryTag(rec("t", "checksum", "alerts", "durability"))
	b := c.PrimaryTag(rec("t", "durability", "checksum", "alerts"))
	if a != b {
		t.Errorf("tag order changed primary tag: %q vs %q", a, b)
	}
}

// Every indexed id lives under exactly one tag and in exactly one set.
func TestBuild_PartitionInvariant(t *testing.T) {
	records := []*model.TestRecord{
		rec("a1", "alerts", "parallel"),
		rec("a2", "alerts"),
		rec("c1", "checksum", "alerts"),
		rec("d1", "durability", "parallel"),
		rec("d2", "durability", "rotation"),
		rec("r1", "rotation"),
		rec("dup", "rotation"),
		rec("dup", "alerts", "parallel"),
	}
	res := New(DefaultOptions(), nil).Build(records)

	seen := map[string]string{}
	for _, tag := range res.Index.Tags() {
		g := res.Index.Group(tag)
		for id := range g.Parallel {
			if g.Sequential.Has(id) {
				t.Errorf("%s in both sets of %s", id, tag)
			}
		}
		for _, set := range []Set{g.Parallel, g.Sequential} {
			for id := range set {
				if prev, dup := seen[id]; dup {
					t.Errorf("%s under %s and %s", id, prev, tag)
				}
				seen[id] = tag
			}
		}
	}
	if len(seen) != res.Index.Len() {
		t.Errorf("index members %d, grouped %d", res.Index.Len(), len(seen))
	}
	if tag, _, _ := res.Index.Lookup("dup"); tag != "rotation" {
		t.Errorf("duplicate record re-filed under %q", tag)
	}
}

func TestTags_Sorted(t *testing.T) {
	res := New(DefaultOptions(), nil).Build([]*model.TestRecord{
		rec("1", "zeta"), rec("2", "alpha"), rec("3", "mid"),
	})
	if got := res.Index.Tags(); !reflect.DeepEqual(got, []string{"alpha", "mid", "zeta"}) {
		t.Errorf("Tags = %v", got)
	}
}
