package shell

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/compmake/engine/internal/model"
)

var (
	colorDone    = color.New(color.FgGreen)
	colorFailed  = color.New(color.FgRed)
	colorBlocked = color.New(color.FgYellow)
	colorOther   = color.New(color.FgWhite)
)

func stateColor(st model.CacheState) *color.Color {
	switch st {
	case model.Done:
		return colorDone
	case model.Failed:
		return colorFailed
	case model.Blocked:
		return colorBlocked
	default:
		return colorOther
	}
}

// RenderLs writes one colourised line per JobSummary, DONE in green, FAILED
// in red, BLOCKED in yellow, everything else uncoloured — the `ls` command's
// console rendering (spec section 6).
func RenderLs(w io.Writer, rows []JobSummary) {
	for _, row := range rows {
		freshness := "stale"
		if row.Fresh {
			freshness = "fresh"
		}
		stateColor(row.State).Fprintf(w, "%-28s %-12s %s\n", row.ID, row.State, freshness)
	}
}

// RenderDetails writes one multi-line block per JobDetail.
func RenderDetails(w io.Writer, rows []JobDetail) {
	for _, row := range rows {
		c := stateColor(row.Cache.State)
		c.Fprintf(w, "%s  [%s]\n", row.Job.ID, row.Cache.State)
		fmt.Fprintf(w, "  callable: %s\n", row.Job.CallableRef)
		fmt.Fprintf(w, "  children: %d  defined_by: %v\n", len(row.Job.Children), row.Job.DefinedBy)
		if row.Cache.Exception != "" {
			fmt.Fprintf(w, "  exception: %s\n", row.Cache.Exception)
		}
		if row.Cache.CapturedStdout != "" {
			fmt.Fprintf(w, "  stdout: %s\n", row.Cache.CapturedStdout)
		}
		if row.Cache.CapturedStderr != "" {
			fmt.Fprintf(w, "  stderr: %s\n", row.Cache.CapturedStderr)
		}
	}
}

// RenderReport summarises a scheduler.Report the way `make` prints its
// end-of-run tally.
func RenderReport(w io.Writer, done, failed, blocked []string) {
	colorDone.Fprintf(w, "done: %d\n", len(done))
	if len(failed) > 0 {
		colorFailed.Fprintf(w, "failed: %v\n", failed)
	}
	if len(blocked) > 0 {
		colorBlocked.Fprintf(w, "blocked: %v\n", blocked)
	}
}
