// Package restore rebuilds an output tree from a versioned archive as it was
// at a chosen instant.
package restore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/schaermu/b2restore/internal/archive"
	"github.com/schaermu/b2restore/internal/config"
	"github.com/schaermu/b2restore/internal/report"
	"github.com/schaermu/b2restore/internal/resolver"
	"github.com/schaermu/b2restore/internal/timeline"
	"github.com/schaermu/b2restore/internal/version"
	"github.com/spf13/afero"
)

// Options configures one restore run
type Options struct {
	ArchiveDir string
	OutputDir  string
	PathFilter string
	Query      timeline.Query
	Strategy   config.Strategy
	Preserve   []string
	DryRun     bool
	// Parser decodes archive file names; version.B2Parser when nil.
	Parser     version.Parser
}

// Engine orchestrates the restore process
type Engine struct {
	fs       afero.Fs
	opts     Options
	reporter *report.Reporter
	logger   *slog.Logger
}

// NewEngine creates a new restore engine
func NewEngine(fsys afero.Fs, opts Options, reporter *report.Reporter, logger *slog.Logger) *Engine {
	return &Engine{
		fs:       fsys,
		opts:     opts,
		reporter: reporter,
		logger:   logger,
	}
}

// Run executes the complete restore process: index, resolve, materialize.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.logger.Info("starting restore",
		"archive", e.opts.ArchiveDir,
		"output", e.opts.OutputDir,
		"at", describeQuery(e.opts.Query),
		"dry_run", e.opts.DryRun)

	idx, err := e.Index()
	if err != nil {
		return nil, err
	}

	decisions := resolver.ResolveAll(idx, e.opts.Query)
	e.logger.Info("resolved archive",
		"restore", len(decisions.Valid()),
		"absent", len(decisions.Absent()))

	m := NewMaterializer(e.fs, MaterializerOptions{
		Strategy: e.opts.Strategy,
		Preserve: e.opts.Preserve,
		Scope:    e.opts.PathFilter,
		DryRun:   e.opts.DryRun,
	}, e.reporter, e.logger)

	res, err := m.Apply(ctx, decisions, e.opts.ArchiveDir, e.opts.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to restore output directory: %w", err)
	}

	e.logger.Info("restore plan",
		"create", len(res.Created),
		"update", len(res.Updated),
		"delete", len(res.Deleted),
		"remove_dirs", len(res.RemovedDirs),
		"unchanged", res.Unchanged)

	if e.opts.DryRun {
		e.logger.Info("dry-run complete, no changes applied")
		return res, nil
	}

	e.logger.Info("restore completed successfully")
	return res, nil
}

// Index walks the archive and returns its index.
func (e *Engine) Index() (*archive.Index, error) {
	idx, err := archive.Build(e.fs, e.opts.ArchiveDir, archive.Options{
		PathFilter: e.opts.PathFilter,
		Parser:     e.opts.Parser,
		Logger:     e.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to index archive: %w", err)
	}

	e.logger.Info("indexed archive", "files", idx.Files(), "names", idx.Len())
	return idx, nil
}

func describeQuery(q timeline.Query) string {
	if q.IsLatest() {
		return "latest"
	}
	return q.Time().String()
}
