package tui

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/zsyeh/coursepilot/internal/models"
)

// WritePlain prints runs as a table for non-interactive use.
func WritePlain(w io.Writer, runs []models.RunRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tMODE\tSTATE\tEXIT\tCOMPLETED\tFAILED\tDURATION")
	for _, r := range runs {
		exit, duration := "-", "-"
		if r.EndedAt != nil {
			exit = fmt.Sprintf("%d", r.ExitCode)
			duration = r.EndedAt.Sub(r.StartedAt).Truncate(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			shortID(r.ID), r.StartedAt.Local().Format(timeLayout), r.Mode, r.State,
			exit, r.Completed, r.Failed, duration)
	}
	return tw.Flush()
}
