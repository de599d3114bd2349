// Package classify builds the reverse tag index: primary tag to the
// parallel-eligible and sequential-only test ids under it.
//
// When several tags qualify, the default picks the lexically smallest
// one, not the first in declaration order. Declaration order is available
// as TieBreakFirstSeen.
package classify

import (
	"log/slog"
	"sort"

	"github.com/me/testfleet/internal/logging"
	"github.com/me/testfleet/pkg/model"
)

// TieBreak selects the primary tag when several candidates remain.
type TieBreak string

const (
	// TieBreakLexical picks the lexically smallest candidate. It is stable
	// regardless of the order tags are declared in.
	TieBreakLexical TieBreak = "lexical"
	// TieBreakFirstSeen picks the first candidate in declaration order.
	TieBreakFirstSeen TieBreak = "first-seen"
)

// Options controls tag filtering and primary-tag selection.
type Options struct {
	SkipTag           string
	ParallelTag       string
	NoiseTags         []string
	InternalSkipTags  []string
	BaseComponentTags []string
	TieBreak          TieBreak
}

// DefaultOptions returns the marker names used by the pytest-based suites.
func DefaultOptions() Options {
	return Options{
		SkipTag:     "skip",
		ParallelTag: "parallel",
		NoiseTags: []string{
			"parametrize", "usefixtures", "filterwarnings", "timeout",
			"flaky", "order", "xfail", "skipif",
		},
		InternalSkipTags: []string{"tags_skip", "wip"},
		TieBreak:         TieBreakLexical,
	}
}

// Result is the output of Build.
type Result struct {
	Index   *Index
	Skipped Set // ids carrying the skip marker
	Dropped Set // ids with no usable tag after filtering
}

// Classifier assigns each test a primary tag and an execution mode.
type Classifier struct {
	opts    Options
	ignored Set
	base    Set
	logger  *slog.Logger
}

// New creates a Classifier.
func New(opts Options, logger *slog.Logger) *Classifier {
	if opts.TieBreak == "" {
		opts.TieBreak = TieBreakLexical
	}
	ignored := NewSet(opts.NoiseTags...)
	ignored.Add(opts.InternalSkipTags...)
	if opts.SkipTag != "" {
		ignored.Add(opts.SkipTag)
	}
	if opts.ParallelTag != "" {
		ignored.Add(opts.ParallelTag)
	}
	return &Classifier{
		opts:    opts,
		ignored: ignored,
		base:    NewSet(opts.BaseComponentTags...),
		logger:  logging.Component(logger, "classify"),
	}
}

// Build classifies every record. Skipped tests never enter the index.
func (c *Classifier) Build(records []*model.TestRecord) Result {
	res := Result{
		Index:   newIndex(),
		Skipped: NewSet(),
		Dropped: NewSet(),
	}
	for _, rec := range records {
		if c.isSkipped(rec) {
			res.Skipped.Add(rec.ID)
			continue
		}
		tag := c.PrimaryTag(rec)
		if tag == "" {
			c.logger.Warn("test has no usable tag, not scheduled", "test_id", rec.ID, "tags", rec.Tags)
			res.Dropped.Add(rec.ID)
			continue
		}
		res.Index.add(rec.ID, tag, c.isParallel(rec))
	}
	c.logger.Debug("index built",
		"tags", len(res.Index.groups),
		"indexed", len(res.Index.members),
		"skipped", len(res.Skipped),
		"dropped", len(res.Dropped),
	)
	return res
}

// PrimaryTag returns the grouping tag for rec, or "" when none is usable.
func (c *Classifier) PrimaryTag(rec *model.TestRecord) string {
	var candidates, fallback []string
	seen := NewSet()
	for _, tag := range rec.Tags {
		if tag == "" || c.ignored.Has(tag) || seen.Has(tag) {
			continue
		}
		seen.Add(tag)
		if c.base.Has(tag) {
			fallback = append(fallback, tag)
			continue
		}
		candidates = append(candidates, tag)
	}
	if len(candidates) == 0 {
		candidates = fallback
	}
	if len(candidates) == 0 {
		for _, tag := range rec.ComponentTags {
			if tag != "" && !c.ignored.Has(tag) {
				candidates = append(candidates, tag)
			}
		}
	}
	return c.pick(candidates)
}

func (c *Classifier) pick(candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	if c.opts.TieBreak == TieBreakFirstSeen {
		return candidates[0]
	}
	best := candidates[0]
	for _, tag := range candidates[1:] {
		if tag < best {
			best = tag
		}
	}
	return best
}

func (c *Classifier) isSkipped(rec *model.TestRecord) bool {
	return rec.Skip || (c.opts.SkipTag != "" && rec.HasTag(c.opts.SkipTag))
}

func (c *Classifier) isParallel(rec *model.TestRecord) bool {
	return rec.Parallel || (c.opts.ParallelTag != "" && rec.HasTag(c.opts.ParallelTag))
}

// Set is an unordered set of test ids.
type Set map[string]struct{}

// NewSet returns a set holding ids.
func NewSet(ids ...string) Set {
	s := make(Set, len(ids))
	s.Add(ids...)
	return s
}

// Add inserts ids.
func (s Set) Add(ids ...string) {
	for _, id := range ids {
		s[id] = struct{}{}
	}
}

// Has reports membership.
func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
