// Package version decodes the version suffix that the backup service embeds
// in the names of superseded files.
package version

import (
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

// Parsed is the result of decoding one archive path.
type Parsed struct {
	// Name is the logical name: the slash-separated relative path with any
	// version suffix removed.
	Name string
	// Tag is the raw version token (e.g. "v2023-01-01-120000-000"), empty for
	// a live copy.
	Tag string
	// Time is the instant encoded in Tag, zero for a live copy.
	Time time.Time
}

// Versioned reports whether the path carried a valid version suffix.
func (p Parsed) Versioned() bool {
	return p.Tag != ""
}

// Parser maps a relative archive path to its logical name and version.
type Parser interface {
	Parse(relPath string) Parsed
}

// B2Parser understands the "-vYYYY-MM-DD-HHMMSS[-mmm]" token that is inserted
// right before the final extension of a superseded file.
type B2Parser struct{}

// tagPattern is matched against the base name only, so directory names are
// never mistaken for versioned files.
var tagPattern = regexp.MustCompile(`^(.+)-v(\d{4}-\d{2}-\d{2}-\d{6})(?:-(\d{3}))?(\.[^.]*)?$`)

const tagLayout = "2006-01-02-150405"

// Parse implements Parser. Paths whose token has the right shape but does not
// hold a valid calendar date are treated as live copies.
func (B2Parser) Parse(relPath string) Parsed {
	name := filepath.ToSlash(relPath)
	dir, base := path.Split(name)

	m := tagPattern.FindStringSubmatch(base)
	if m == nil {
		return Parsed{Name: name}
	}
	stem, stamp, millis, ext := m[1], m[2], m[3], m[4]

	t, err := time.ParseInLocation(tagLayout, stamp, time.UTC)
	if err != nil {
		return Parsed{Name: name}
	}

	tag := "v" + stamp
	if millis != "" {
		ms, err := strconv.Atoi(millis)
		if err != nil {
			return Parsed{Name: name}
		}
		t = t.Add(time.Duration(ms) * time.Millisecond)
		tag += "-" + millis
	}

	return Parsed{
		Name: dir + stem + ext,
		Tag:  tag,
		Time: t,
	}
}
