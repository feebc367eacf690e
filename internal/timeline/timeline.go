// Package timeline keeps the ordered history of one logical file and answers
// which variant of it existed at a given instant.
package timeline

import (
	"sort"
	"time"
)

// Variant is one physical file found in the archive.
type Variant struct {
	Path        string    // slash-separated path relative to the archive root
	Name        string    // logical name
	ModTime     time.Time // filesystem modification time, the ordering key
	Tag         string    // version token, empty for the live copy
	VersionTime time.Time // instant encoded in Tag
	Size        int64
}

// Tagged reports whether the variant was renamed away with a version token.
func (v Variant) Tagged() bool {
	return v.Tag != ""
}

// Timeline holds the variants of one logical name ordered by ModTime, with
// at most one variant per instant.
type Timeline struct {
	name     string
	variants []Variant
}

// New returns an empty timeline for the logical name.
func New(name string) *Timeline {
	return &Timeline{name: name}
}

// Name returns the logical name.
func (t *Timeline) Name() string {
	return t.name
}

// Len returns the number of distinct instants recorded.
func (t *Timeline) Len() int {
	return len(t.variants)
}

// Variants returns a copy of the ordered variants.
func (t *Timeline) Variants() []Variant {
	out := make([]Variant, len(t.variants))
	copy(out, t.variants)
	return out
}

// Insert adds v in ModTime order. If a variant already sits at the same
// instant, the untagged one of the two is kept.
func (t *Timeline) Insert(v Variant) {
	ix := t.cut(v.ModTime)
	if ix > 0 {
		prev := &t.variants[ix-1]
		if prev.ModTime.Equal(v.ModTime) {
			if prev.Tagged() && !v.Tagged() {
				*prev = v
			}
			return
		}
	}

	t.variants = append(t.variants, Variant{})
	copy(t.variants[ix+1:], t.variants[ix:])
	t.variants[ix] = v
}

// Resolve decides what the logical file looked like at q.
//
// A file whose newest known variant is a tagged copy was renamed away because
// the live file was deleted; it is reported absent once q reaches the tag's
// own instant.
func (t *Timeline) Resolve(q Query) Decision {
	cut := len(t.variants)
	if !q.IsLatest() {
		cut = t.cut(q.Time())
	}
	if cut == 0 {
		return Decision{}
	}

	candidate := t.variants[cut-1]
	if cut == len(t.variants) && candidate.Tagged() {
		if q.IsLatest() || !q.Time().Before(candidate.VersionTime) {
			return Decision{}
		}
	}

	return Materialize(candidate)
}

// cut returns the index of the first variant strictly newer than at.
func (t *Timeline) cut(at time.Time) int {
	return sort.Search(len(t.variants), func(i int) bool {
		return t.variants[i].ModTime.After(at)
	})
}
