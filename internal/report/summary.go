package report

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/schaermu/b2restore/internal/archive"
	"github.com/schaermu/b2restore/internal/timefmt"
)

const currentMarker = "----- current -----"

// Summary lists every logical name in idx followed by one line per variant:
// its modification time, its version time (or a current marker) and size.
func (r *Reporter) Summary(idx *archive.Index) error {
	for _, name := range idx.Names() {
		if _, err := fmt.Fprintf(r.w, "%s:\n", r.name.Render(name)); err != nil {
			return err
		}
		for _, v := range idx.Timeline(name).Variants() {
			vers := r.dim.Render(currentMarker)
			if v.Tagged() {
				vers = timefmt.Format(v.VersionTime, r.loc)
			}
			size := humanize.IBytes(uint64(v.Size))
			if _, err := fmt.Fprintf(r.w, "  %s %s %10s\n", timefmt.Format(v.ModTime, r.loc), vers, size); err != nil {
				return err
			}
		}
	}
	return nil
}
