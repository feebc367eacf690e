// Package archive indexes a versioned archive tree into one timeline per
// logical file name.
package archive

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/schaermu/b2restore/internal/timeline"
	"github.com/schaermu/b2restore/internal/version"
	"github.com/spf13/afero"
)

// Options controls how an archive is indexed.
type Options struct {
	// PathFilter restricts indexing to relative paths starting with this
	// prefix. Empty means everything.
	PathFilter string
	// Parser decodes version suffixes; version.B2Parser when nil.
	Parser version.Parser
	// Logger receives debug output; discarded when nil.
	Logger *slog.Logger
}

// Index maps each logical name to its timeline.
type Index struct {
	timelines map[string]*timeline.Timeline
	files     int
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{timelines: make(map[string]*timeline.Timeline)}
}

// Add records v under its logical name, creating the timeline on first use.
func (idx *Index) Add(v timeline.Variant) {
	tl, ok := idx.timelines[v.Name]
	if !ok {
		tl = timeline.New(v.Name)
		idx.timelines[v.Name] = tl
	}
	tl.Insert(v)
	idx.files++
}

// Len returns the number of logical names.
func (idx *Index) Len() int {
	return len(idx.timelines)
}

// Files returns the number of archive files that were added.
func (idx *Index) Files() int {
	return idx.files
}

// Timeline returns the timeline for name, or nil.
func (idx *Index) Timeline(name string) *timeline.Timeline {
	return idx.timelines[name]
}

// Names returns all logical names in sorted order.
func (idx *Index) Names() []string {
	names := make([]string, 0, len(idx.timelines))
	for name := range idx.timelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build walks root and indexes every file in it.
func Build(fsys afero.Fs, root string, opts Options) (*Index, error) {
	parser := opts.Parser
	if parser == nil {
		parser = version.B2Parser{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	filter := filepath.ToSlash(opts.PathFilter)

	idx := NewIndex()
	for f, err := range Walk(fsys, root) {
		if err != nil {
			return nil, fmt.Errorf("failed to walk archive %s: %w", root, err)
		}
		if filter != "" && !strings.HasPrefix(f.Path, filter) {
			continue
		}

		p := parser.Parse(f.Path)
		idx.Add(timeline.Variant{
			Path:        f.Path,
			Name:        p.Name,
			ModTime:     f.ModTime,
			Tag:         p.Tag,
			VersionTime: p.Time,
			Size:        f.Size,
		})
		logger.Debug("indexed file", "path", f.Path, "name", p.Name, "tag", p.Tag)
	}

	return idx, nil
}
