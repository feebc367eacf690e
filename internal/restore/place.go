package restore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/zeebo/xxh3"
)

// placeMode is the resolved way of putting a variant into the output tree.
type placeMode int

const (
	placeCopy placeMode = iota
	placeLink
)

func (p placeMode) String() string {
	if p == placeLink {
		return "link"
	}
	return "copy"
}

// linkFile hard-links src to dst on the OS filesystem.
func linkFile(src, dst string) error {
	return os.Link(src, dst)
}

// copyFile copies src to dst with atomic write, carrying over the source
// permissions and stamping dst with modTime.
func copyFile(fsys afero.Fs, src, dst string, modTime time.Time) error {
	srcFile, err := fsys.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = srcFile.Close()
	}()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return err
	}

	// Create temp file in destination directory
	tmpFile, err := afero.TempFile(fsys, filepath.Dir(dst), ".b2restore-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = fsys.Remove(tmpPath)
	}() // cleanup on error

	if _, err := io.Copy(tmpFile, srcFile); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	if err := fsys.Chmod(tmpPath, srcInfo.Mode().Perm()); err != nil {
		return err
	}
	if err := fsys.Chtimes(tmpPath, modTime, modTime); err != nil {
		return err
	}

	// Atomic rename
	return fsys.Rename(tmpPath, dst)
}

// sameContent reports whether a and b hold identical bytes. Hard links to the
// same inode short-circuit; otherwise sizes and then xxh3 digests are
// compared.
func sameContent(fsys afero.Fs, a, b string) (bool, error) {
	ai, err := fsys.Stat(a)
	if err != nil {
		return false, err
	}
	bi, err := fsys.Stat(b)
	if err != nil {
		return false, err
	}
	if ai.IsDir() || bi.IsDir() {
		return false, nil
	}
	if os.SameFile(ai, bi) {
		return true, nil
	}
	if ai.Size() != bi.Size() {
		return false, nil
	}

	ha, err := fileHash(fsys, a)
	if err != nil {
		return false, err
	}
	hb, err := fileHash(fsys, b)
	if err != nil {
		return false, err
	}
	return ha == hb, nil
}

// fileHash computes the 128-bit xxh3 digest of a file
func fileHash(fsys afero.Fs, path string) (xxh3.Uint128, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return xxh3.Uint128{}, err
	}
	defer func() {
		_ = f.Close()
	}()

	h := xxh3.New()
	if _, err := io.Copy(h, f); err != nil {
		return xxh3.Uint128{}, err
	}
	return h.Sum128(), nil
}

// NearestExisting returns path or its closest ancestor that exists.
func NearestExisting(path string) (string, error) {
	p, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(p)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("no existing ancestor for %s", path)
		}
		p = parent
	}
}

// SameDevice reports whether a and b (or b's nearest existing ancestor) live
// on the same storage device, the precondition for hard links.
func SameDevice(a, b string) (bool, error) {
	a, err := NearestExisting(a)
	if err != nil {
		return false, err
	}
	b, err = NearestExisting(b)
	if err != nil {
		return false, err
	}
	da, err := deviceID(a)
	if err != nil {
		return false, err
	}
	db, err := deviceID(b)
	if err != nil {
		return false, err
	}
	return da == db, nil
}
