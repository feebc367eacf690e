package timeline

import "time"

// Query selects the instant to resolve. The zero value means "latest".
type Query struct {
	at  time.Time
	set bool
}

// Latest returns a query for the most recent state.
func Latest() Query {
	return Query{}
}

// At returns a query for the state at t.
func At(t time.Time) Query {
	return Query{at: t, set: true}
}

// IsLatest reports whether q asks for the most recent state.
func (q Query) IsLatest() bool {
	return !q.set
}

// Time returns the queried instant; zero for Latest.
func (q Query) Time() time.Time {
	return q.at
}

// Decision is the resolution of one logical name: either a variant to
// materialize or absent.
type Decision struct {
	variant *Variant
}

// Materialize returns a decision selecting v.
func Materialize(v Variant) Decision {
	return Decision{variant: &v}
}

// Absent reports whether the file did not exist at the queried instant.
func (d Decision) Absent() bool {
	return d.variant == nil
}

// Variant returns the selected variant and true, or false when absent.
func (d Decision) Variant() (Variant, bool) {
	if d.variant == nil {
		return Variant{}, false
	}
	return *d.variant, true
}
