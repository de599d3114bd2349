package classify

import "sort"

// Group holds the tests filed under one primary tag.
type Group struct {
	Parallel   Set
	Sequential Set
}

type membership struct {
	tag      string
	parallel bool
}

// Index is the reverse tag index. A test id appears under exactly one tag
// and in exactly one of that tag's two sets. It is read-only once built.
type Index struct {
	groups  map[string]*Group
	members map[string]membership
}

func newIndex() *Index {
	return &Index{
		groups:  make(map[string]*Group),
		members: make(map[string]membership),
	}
}

func (x *Index) add(id, tag string, parallel bool) {
	if _, exists := x.members[id]; exists {
		return
	}
	g, ok := x.groups[tag]
	if !ok {
		g = &Group{Parallel: NewSet(), Sequential: NewSet()}
		x.groups[tag] = g
	}
	if parallel {
		g.Parallel.Add(id)
	} else {
		g.Sequential.Add(id)
	}
	x.members[id] = membership{tag: tag, parallel: parallel}
}

// Lookup returns the primary tag and execution mode of id.
func (x *Index) Lookup(id string) (tag string, parallel bool, ok bool) {
	m, ok := x.members[id]
	return m.tag, m.parallel, ok
}

// Group returns the sets for tag, or nil.
func (x *Index) Group(tag string) *Group {
	return x.groups[tag]
}

// Tags returns every primary tag in lexical order.
func (x *Index) Tags() []string {
	tags := make([]string, 0, len(x.groups))
	for tag := range x.groups {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Len returns the number of indexed tests.
func (x *Index) Len() int {
	return len(x.members)
}
