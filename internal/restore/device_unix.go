//go:build unix

package restore

import (
	"fmt"
	"os"
	"syscall"
)

func deviceID(path string) (uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, fmt.Errorf("no device information for %s", path)
	}
	return uint64(st.Dev), nil //nolint:unconvert // Dev is int32 on darwin
}
