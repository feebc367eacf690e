// Package report prints progress lines and archive summaries.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schaermu/b2restore/internal/timefmt"
)

// Verb is the action named at the start of a progress line.
type Verb string

const (
	Creating Verb = "creating"
	Updating Verb = "updating"
	Deleting Verb = "deleting"
)

// Reporter writes one line per filesystem change. Colors are only emitted
// when the writer is a terminal.
type Reporter struct {
	w   io.Writer
	loc *time.Location

	verbs map[Verb]lipgloss.Style
	name  lipgloss.Style
	dim   lipgloss.Style
}

// New returns a Reporter writing to w and rendering times in loc.
func New(w io.Writer, loc *time.Location) *Reporter {
	r := lipgloss.NewRenderer(w)
	return &Reporter{
		w:   w,
		loc: loc,
		verbs: map[Verb]lipgloss.Style{
			Creating: r.NewStyle().Foreground(lipgloss.Color("2")),
			Updating: r.NewStyle().Foreground(lipgloss.Color("3")),
			Deleting: r.NewStyle().Foreground(lipgloss.Color("1")),
		},
		name: r.NewStyle().Bold(true),
		dim:  r.NewStyle().Faint(true),
	}
}

// Action prints "<verb> <time>: <name>".
func (r *Reporter) Action(verb Verb, at time.Time, name string) {
	_, _ = fmt.Fprintf(r.w, "%s %s: %s\n", r.verbs[verb].Render(string(verb)), timefmt.Format(at, r.loc), name)
}

// EmptyDir prints the removal of an empty directory.
func (r *Reporter) EmptyDir(dir string) {
	_, _ = fmt.Fprintf(r.w, "%s %s\n", r.verbs[Deleting].Render("deleting empty"), dir)
}
