package archive

import (
	"errors"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// File is one non-directory entry found under a walked root.
type File struct {
	Path    string // slash-separated, relative to the root
	Size    int64
	ModTime time.Time
}

var errStopWalk = errors.New("walk stopped")

// Walk lazily yields every non-directory entry under root. Directories are
// descended unconditionally; symlinks are whatever afero.Walk reports them as.
// Breaking out of the range loop stops the traversal.
func Walk(fsys afero.Fs, root string) iter.Seq2[File, error] {
	return func(yield func(File, error) bool) {
		err := afero.Walk(fsys, root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}

			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}

			f := File{
				Path:    filepath.ToSlash(rel),
				Size:    info.Size(),
				ModTime: info.ModTime(),
			}
			if !yield(f, nil) {
				return errStopWalk
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStopWalk) {
			yield(File{}, err)
		}
	}
}
