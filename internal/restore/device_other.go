//go:build !unix

package restore

import (
	"os"
	"path/filepath"
	"strings"
)

// deviceID falls back to the volume name where no device number is exposed.
func deviceID(path string) (uint64, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, err
	}
	var id uint64
	for _, r := range strings.ToUpper(filepath.VolumeName(path)) {
		id = id*31 + uint64(r)
	}
	return id, nil
}
