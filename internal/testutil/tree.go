// Package testutil builds archive and output trees for tests.
package testutil

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
)

// File describes one file to create under a test root.
type File struct {
	Path    string // slash-separated, relative to the root
	Content string
	ModTime time.Time // left as written when zero
}

// WriteTree creates files under root in fsys, creating parent directories as
// needed and stamping each file with its ModTime.
func WriteTree(t *testing.T, fsys afero.Fs, root string, files ...File) {
	t.Helper()

	for _, f := range files {
		p := filepath.Join(root, filepath.FromSlash(f.Path))
		if err := fsys.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("mkdir %s: %v", filepath.Dir(p), err)
		}
		if err := afero.WriteFile(fsys, p, []byte(f.Content), 0644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
		if !f.ModTime.IsZero() {
			if err := fsys.Chtimes(p, f.ModTime, f.ModTime); err != nil {
				t.Fatalf("chtimes %s: %v", p, err)
			}
		}
	}
}

// ReadTree returns the content of every file under root keyed by its
// slash-separated relative path.
func ReadTree(t *testing.T, fsys afero.Fs, root string) map[string]string {
	t.Helper()

	out := make(map[string]string)
	err := afero.Walk(fsys, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		data, err := afero.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("read tree %s: %v", root, err)
	}
	return out
}

// Dirs returns every directory under root (root excluded) as slash-separated
// relative paths.
func Dirs(t *testing.T, fsys afero.Fs, root string) []string {
	t.Helper()

	var out []string
	err := afero.Walk(fsys, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() || p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		t.Fatalf("list dirs %s: %v", root, err)
	}
	return out
}

// VersionedName inserts a version token for ts (UTC, millisecond precision)
// before the final extension of name.
func VersionedName(name string, ts time.Time) string {
	ext := path.Ext(name)
	stem := name[:len(name)-len(ext)]
	ts = ts.UTC()
	return fmt.Sprintf("%s-v%s-%03d%s", stem, ts.Format("2006-01-02-150405"), ts.Nanosecond()/int(time.Millisecond), ext)
}
