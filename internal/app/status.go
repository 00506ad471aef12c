package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/specialistvlad/stagegrid/internal/journal"
)

// ErrNoJournal is returned by status when journal.path is not configured.
var ErrNoJournal = errors.New("journal.path is not set; builds are not being recorded")

// status prints recent builds, or the stages of one build, from the journal.
func (a *App) status(ctx context.Context) error {
	if a.settings.Journal.Path == "" {
		return ErrNoJournal
	}
	j, err := journal.Open(ctx, a.settingsRelative(a.settings.Journal.Path))
	if err != nil {
		return err
	}
	defer a.closeQuietly("journal", j.Close)

	w := tabwriter.NewWriter(a.outW, 0, 4, 2, ' ', 0)
	if a.config.BuildID == "" {
		builds, err := j.Builds(ctx, a.config.Limit)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "BUILD\tWORKFLOW\tREMOTE ID\tSTATE\tLAST\tUPDATED")
		for _, b := range builds {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				b.ID, b.Workflow, dash(b.WorkflowID), b.State, b.LastCompleted, b.UpdatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	}

	b, stages, err := j.Build(ctx, a.config.BuildID)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Build:\t%s\n", b.ID)
	fmt.Fprintf(w, "Workflow:\t%s\n", b.Workflow)
	fmt.Fprintf(w, "Remote ID:\t%s\n", dash(b.WorkflowID))
	fmt.Fprintf(w, "State:\t%s\n", b.State)
	if b.Error != "" {
		fmt.Fprintf(w, "Error:\t%s\n", b.Error)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "STAGE\tSTAGE ID\tARTIFACT\tSTATE")
	for _, s := range stages {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Index, s.ID, dash(s.Artifact), s.State)
	}
	return w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
