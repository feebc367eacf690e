// Package timefmt parses user-supplied target times and formats times for
// progress output.
package timefmt

import (
	"fmt"
	"strings"
	"time"
)

// Layout is used for both input and output. Seconds follow a dot.
const Layout = "2006-01-02T15:04.05"

// Parse reads YYYY-MM-DD[THH:MM[.SS]] in loc. A missing time of day means the
// end of that day and missing seconds mean the end of that minute. The
// result is pushed to the last nanosecond of its second so that
// second-precision input matches files stamped with sub-second times.
func Parse(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}

	v := strings.TrimSpace(s)
	switch len(v) {
	case 10:
		v += "T23:59.59"
	case 16:
		v += ".59"
	case 19:
	default:
		return time.Time{}, fmt.Errorf("invalid time %q: want YYYY-MM-DD[THH:MM[.SS]]", s)
	}

	b := []byte(v)
	if b[10] == ' ' {
		b[10] = 'T'
	}
	if b[16] == ':' {
		b[16] = '.'
	}

	t, err := time.ParseInLocation(Layout, string(b), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return t.Add(time.Second - time.Nanosecond), nil
}

// Format renders t with Layout in loc, or in t's own location when loc is nil.
func Format(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(Layout)
}
