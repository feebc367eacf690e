package restore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/schaermu/b2restore/internal/archive"
	"github.com/schaermu/b2restore/internal/config"
	"github.com/schaermu/b2restore/internal/report"
	"github.com/schaermu/b2restore/internal/resolver"
	"github.com/spf13/afero"
)

// FileOp represents one change made to the output tree
type FileOp struct {
	Name       string    // slash-separated path relative to the output root
	SourcePath string    // absolute path in the archive, empty for deletions
	DestPath   string    // absolute path in the output tree
	ModTime    time.Time // time shown in progress output
}

// Result lists the changes applied to the output tree
type Result struct {
	Created     []FileOp
	Updated     []FileOp
	Deleted     []FileOp
	RemovedDirs []FileOp
	Unchanged   int
}

// Changes returns the number of filesystem changes in r.
func (r *Result) Changes() int {
	return len(r.Created) + len(r.Updated) + len(r.Deleted) + len(r.RemovedDirs)
}

// MaterializerOptions controls how the output tree is reconciled.
type MaterializerOptions struct {
	Strategy config.Strategy
	// Preserve lists glob patterns matched against top-level entries of the
	// output root; matching subtrees are never deleted.
	Preserve []string
	// Scope limits pruning to output paths with this prefix.
	Scope  string
	DryRun bool
}

// Materializer reconciles an output tree with a set of decisions.
type Materializer struct {
	fs       afero.Fs
	opts     MaterializerOptions
	reporter *report.Reporter
	logger   *slog.Logger
}

// NewMaterializer creates a Materializer working on fsys.
func NewMaterializer(fsys afero.Fs, opts MaterializerOptions, reporter *report.Reporter, logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Materializer{
		fs:       fsys,
		opts:     opts,
		reporter: reporter,
		logger:   logger,
	}
}

// Apply brings outRoot in line with decisions: selected variants from inRoot
// are created or updated, then every other file is deleted and directories
// left empty are removed. Pruning only starts once all selected variants are
// in place.
func (m *Materializer) Apply(ctx context.Context, decisions resolver.Decisions, inRoot, outRoot string) (*Result, error) {
	inRoot, outRoot = filepath.Clean(inRoot), filepath.Clean(outRoot)
	res := &Result{
		Created:     make([]FileOp, 0),
		Updated:     make([]FileOp, 0),
		Deleted:     make([]FileOp, 0),
		RemovedDirs: make([]FileOp, 0),
	}

	mode, err := m.placeMode(inRoot, outRoot)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("placing files", "mode", mode.String(), "dry_run", m.opts.DryRun)

	if !m.opts.DryRun {
		if err := m.fs.MkdirAll(outRoot, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	valid := decisions.Valid()
	removed := make(map[string]bool)
	if err := m.materialize(ctx, decisions, valid, removed, inRoot, outRoot, mode, res); err != nil {
		return nil, err
	}

	exists, err := afero.DirExists(m.fs, outRoot)
	if err != nil {
		return nil, err
	}
	if !exists {
		// Only reachable in dry-run mode: nothing to prune yet.
		return res, nil
	}

	if err := m.prune(ctx, valid, removed, outRoot, res); err != nil {
		return nil, err
	}
	if err := m.removeEmptyDirs(outRoot, removed, res); err != nil {
		return nil, err
	}

	return res, nil
}

// placeMode resolves the configured strategy for this pair of roots.
func (m *Materializer) placeMode(inRoot, outRoot string) (placeMode, error) {
	_, osFs := m.fs.(*afero.OsFs)

	switch m.opts.Strategy {
	case config.StrategyCopy:
		return placeCopy, nil
	case config.StrategyLink, "":
		if !osFs {
			return 0, fmt.Errorf("hard links need the OS filesystem")
		}
		return placeLink, nil
	case config.StrategyAuto:
		if !osFs {
			return placeCopy, nil
		}
		same, err := SameDevice(inRoot, outRoot)
		if err != nil {
			return 0, fmt.Errorf("failed to compare devices: %w", err)
		}
		if same {
			return placeLink, nil
		}
		return placeCopy, nil
	default:
		return 0, fmt.Errorf("unknown strategy: %s", m.opts.Strategy)
	}
}

func (m *Materializer) materialize(ctx context.Context, decisions resolver.Decisions, valid map[string]struct{}, removed map[string]bool, inRoot, outRoot string, mode placeMode, res *Result) error {
	for _, v := range decisions.Materialized() {
		if err := ctx.Err(); err != nil {
			return err
		}

		op := FileOp{
			Name:       v.Name,
			SourcePath: filepath.Join(inRoot, filepath.FromSlash(v.Path)),
			DestPath:   filepath.Join(outRoot, filepath.FromSlash(v.Name)),
			ModTime:    v.ModTime,
		}

		cleared, err := m.clearPath(op.Name, outRoot, valid, removed, res)
		if err != nil {
			return err
		}

		var info os.FileInfo
		if cleared {
			err = os.ErrNotExist
		} else {
			info, err = m.fs.Stat(op.DestPath)
		}
		switch {
		case err == nil:
			if info.IsDir() {
				return fmt.Errorf("cannot restore %s: output path is a directory", op.Name)
			}
			same, err := sameContent(m.fs, op.SourcePath, op.DestPath)
			if err != nil {
				return fmt.Errorf("failed to compare %s: %w", op.Name, err)
			}
			if same {
				res.Unchanged++
				continue
			}

			m.reporter.Action(report.Updating, op.ModTime, op.Name)
			if !m.opts.DryRun {
				if err := m.fs.Remove(op.DestPath); err != nil {
					return fmt.Errorf("failed to remove %s: %w", op.DestPath, err)
				}
				if err := m.place(op, mode); err != nil {
					return fmt.Errorf("failed to update %s: %w", op.Name, err)
				}
			}
			res.Updated = append(res.Updated, op)

		case errors.Is(err, os.ErrNotExist):
			m.reporter.Action(report.Creating, op.ModTime, op.Name)
			if !m.opts.DryRun {
				if err := m.fs.MkdirAll(filepath.Dir(op.DestPath), 0755); err != nil {
					return fmt.Errorf("failed to create directory for %s: %w", op.Name, err)
				}
				if err := m.place(op, mode); err != nil {
					return fmt.Errorf("failed to create %s: %w", op.Name, err)
				}
			}
			res.Created = append(res.Created, op)

		default:
			return fmt.Errorf("failed to stat %s: %w", op.DestPath, err)
		}
	}
	return nil
}

func (m *Materializer) place(op FileOp, mode placeMode) error {
	if mode == placeLink {
		return linkFile(op.SourcePath, op.DestPath)
	}
	return copyFile(m.fs, op.SourcePath, op.DestPath, op.ModTime)
}

// prune deletes every file under outRoot that is neither in valid nor already
// removed, recording each deletion in removed.
func (m *Materializer) prune(ctx context.Context, valid map[string]struct{}, removed map[string]bool, outRoot string, res *Result) error {
	for f, err := range archive.Walk(m.fs, outRoot) {
		if err != nil {
			return fmt.Errorf("failed to walk output directory: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if removed[f.Path] || !m.managed(f.Path) {
			continue
		}
		if _, ok := valid[f.Path]; ok {
			continue
		}

		op := FileOp{
			Name:     f.Path,
			DestPath: filepath.Join(outRoot, filepath.FromSlash(f.Path)),
			ModTime:  f.ModTime,
		}
		m.reporter.Action(report.Deleting, op.ModTime, op.Name)
		if !m.opts.DryRun {
			if err := m.fs.Remove(op.DestPath); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to delete file %s: %w", op.DestPath, err)
			}
		}
		removed[f.Path] = true
		res.Deleted = append(res.Deleted, op)
	}

	return nil
}

// removeEmptyDirs removes directories under outRoot, deepest first, whose
// entries are all gone. removed tracks deletions so dry runs see the same
// outcome as real ones.
func (m *Materializer) removeEmptyDirs(outRoot string, removed map[string]bool, res *Result) error {
	var dirs []string
	err := afero.Walk(m.fs, outRoot, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() || p == outRoot {
			return nil
		}
		rel, err := filepath.Rel(outRoot, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if m.preserved(rel) {
			return filepath.SkipDir
		}
		dirs = append(dirs, rel)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk output directory: %w", err)
	}

	deepestFirst(dirs)

	// Parents of files created in a dry run do not exist yet on disk but must
	// not be reported as empty.
	occupied := make(map[string]bool)
	for _, op := range res.Created {
		for dir := path.Dir(op.Name); dir != "."; dir = path.Dir(dir) {
			occupied[dir] = true
		}
	}

	for _, rel := range dirs {
		if removed[rel] || !m.inScope(rel) || occupied[rel] {
			continue
		}
		abs := filepath.Join(outRoot, filepath.FromSlash(rel))
		entries, err := afero.ReadDir(m.fs, abs)
		if err != nil {
			return fmt.Errorf("failed to read directory %s: %w", abs, err)
		}
		remaining := 0
		for _, e := range entries {
			if !removed[path.Join(rel, e.Name())] {
				remaining++
			}
		}
		if remaining > 0 {
			continue
		}

		m.reporter.EmptyDir(rel)
		if !m.opts.DryRun {
			if err := m.fs.Remove(abs); err != nil {
				return fmt.Errorf("failed to remove directory %s: %w", abs, err)
			}
		}
		removed[rel] = true
		res.RemovedDirs = append(res.RemovedDirs, FileOp{Name: rel, DestPath: abs})
	}
	return nil
}

// clearPath removes output entries standing where name has to go: a file on
// one of its parent paths, or a directory at name itself with nothing valid
// below it. It reports whether the target path is known not to exist
// afterwards. Entries that are still valid or preserved are a conflict.
func (m *Materializer) clearPath(name, outRoot string, valid map[string]struct{}, removed map[string]bool, res *Result) (bool, error) {
	parts := strings.Split(name, "/")
	for i := 1; i < len(parts); i++ {
		rel := strings.Join(parts[:i], "/")
		if removed[rel] {
			return true, nil
		}
		abs := filepath.Join(outRoot, filepath.FromSlash(rel))
		info, err := m.fs.Stat(abs)
		if errors.Is(err, os.ErrNotExist) {
			return true, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to stat %s: %w", abs, err)
		}
		if info.IsDir() {
			continue
		}

		if err := m.blocking(rel, valid); err != nil {
			return false, fmt.Errorf("cannot restore %s: %w", name, err)
		}
		m.reporter.Action(report.Deleting, info.ModTime(), rel)
		if !m.opts.DryRun {
			if err := m.fs.Remove(abs); err != nil {
				return false, fmt.Errorf("failed to delete file %s: %w", abs, err)
			}
		}
		removed[rel] = true
		res.Deleted = append(res.Deleted, FileOp{Name: rel, DestPath: abs, ModTime: info.ModTime()})
		return true, nil
	}

	if removed[name] {
		return true, nil
	}
	abs := filepath.Join(outRoot, filepath.FromSlash(name))
	info, err := m.fs.Stat(abs)
	if err != nil || !info.IsDir() {
		return false, nil
	}
	for v := range valid {
		if strings.HasPrefix(v, name+"/") {
			return false, fmt.Errorf("cannot restore %s: output path is a directory holding %s", name, v)
		}
	}
	if m.preserved(name) {
		return false, fmt.Errorf("cannot restore %s: output path is a preserved directory", name)
	}
	if err := m.clearDir(name, abs, removed, res); err != nil {
		return false, err
	}
	return true, nil
}

// blocking checks that an entry in the way of a restored file may go.
func (m *Materializer) blocking(rel string, valid map[string]struct{}) error {
	if _, ok := valid[rel]; ok {
		return fmt.Errorf("%s is restored as a file too", rel)
	}
	if m.preserved(rel) {
		return fmt.Errorf("%s is preserved", rel)
	}
	return nil
}

// clearDir deletes the directory rel and everything below it, reporting each
// file and then each directory, deepest first.
func (m *Materializer) clearDir(rel, abs string, removed map[string]bool, res *Result) error {
	for f, err := range archive.Walk(m.fs, abs) {
		if err != nil {
			return fmt.Errorf("failed to walk %s: %w", abs, err)
		}
		name := path.Join(rel, f.Path)
		m.reporter.Action(report.Deleting, f.ModTime, name)
		removed[name] = true
		res.Deleted = append(res.Deleted, FileOp{
			Name:     name,
			DestPath: filepath.Join(abs, filepath.FromSlash(f.Path)),
			ModTime:  f.ModTime,
		})
	}

	var dirs []string
	err := afero.Walk(m.fs, abs, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		sub, err := filepath.Rel(abs, p)
		if err != nil {
			return err
		}
		dirs = append(dirs, path.Join(rel, filepath.ToSlash(sub)))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", abs, err)
	}
	deepestFirst(dirs)

	for _, d := range dirs {
		m.reporter.EmptyDir(d)
		removed[d] = true
		res.RemovedDirs = append(res.RemovedDirs, FileOp{
			Name:     d,
			DestPath: filepath.Join(abs, filepath.FromSlash(strings.TrimPrefix(d, rel))),
		})
	}

	if m.opts.DryRun {
		return nil
	}
	if err := m.fs.RemoveAll(abs); err != nil {
		return fmt.Errorf("failed to remove directory %s: %w", abs, err)
	}
	return nil
}

// deepestFirst orders slash-separated paths so children precede parents.
func deepestFirst(dirs []string) {
	sort.SliceStable(dirs, func(i, j int) bool {
		return strings.Count(dirs[i], "/") > strings.Count(dirs[j], "/")
	})
}

// managed reports whether an output file is subject to pruning.
func (m *Materializer) managed(rel string) bool {
	return m.inScope(rel) && !m.preserved(rel)
}

func (m *Materializer) inScope(rel string) bool {
	return m.opts.Scope == "" || strings.HasPrefix(rel, filepath.ToSlash(m.opts.Scope))
}

// preserved reports whether rel lies under a preserved top-level entry.
func (m *Materializer) preserved(rel string) bool {
	top, _, _ := strings.Cut(rel, "/")
	for _, pattern := range m.opts.Preserve {
		if ok, _ := path.Match(pattern, top); ok {
			return true
		}
	}
	return false
}
