// Package resolver turns an archive index into per-file decisions for one
// query instant.
package resolver

import (
	"sort"

	"github.com/schaermu/b2restore/internal/archive"
	"github.com/schaermu/b2restore/internal/timeline"
)

// Decisions holds the resolution of every logical name in an index.
type Decisions map[string]timeline.Decision

// ResolveAll resolves every timeline in idx at q.
func ResolveAll(idx *archive.Index, q timeline.Query) Decisions {
	out := make(Decisions, idx.Len())
	for _, name := range idx.Names() {
		out[name] = idx.Timeline(name).Resolve(q)
	}
	return out
}

// Valid returns the set of logical names that are materialized.
func (d Decisions) Valid() map[string]struct{} {
	valid := make(map[string]struct{}, len(d))
	for name, dec := range d {
		if !dec.Absent() {
			valid[name] = struct{}{}
		}
	}
	return valid
}

// Materialized returns the selected variants ordered by logical name.
func (d Decisions) Materialized() []timeline.Variant {
	out := make([]timeline.Variant, 0, len(d))
	for _, dec := range d {
		if v, ok := dec.Variant(); ok {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Absent returns the logical names that did not exist at the query instant,
// in sorted order.
func (d Decisions) Absent() []string {
	var out []string
	for name, dec := range d {
		if dec.Absent() {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
