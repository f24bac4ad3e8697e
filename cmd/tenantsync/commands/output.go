package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/auth0/auth0-deploy-cli-sub002/pkg/engine"
	"github.com/auth0/auth0-deploy-cli-sub002/pkg/stores"
)

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// planEntry is one type of a printed plan.
type planEntry struct {
	Type            string   `json:"type"`
	Create          []string `json:"create,omitempty"`
	Update          []string `json:"update,omitempty"`
	Delete          []string `json:"delete,omitempty"`
	Conflicts       []string `json:"conflicts,omitempty"`
	DeletesWithheld bool     `json:"deletes_withheld,omitempty"`
}

func (e planEntry) empty() bool {
	return len(e.Create)+len(e.Update)+len(e.Delete)+len(e.Conflicts) == 0
}

func printPlan(out io.Writer, entries []planEntry) {
	changed := 0
	for _, e := range entries {
		if e.empty() {
			continue
		}
		changed++

		fmt.Fprintf(out, "%s:\n", e.Type)
		for _, name := range e.Conflicts {
			fmt.Fprintf(out, "  ! %s (conflict, updated in two steps)\n", name)
		}
		for _, name := range e.Create {
			fmt.Fprintf(out, "  + %s\n", name)
		}
		for _, name := range e.Update {
			fmt.Fprintf(out, "  ~ %s\n", name)
		}
		for _, name := range e.Delete {
			if e.DeletesWithheld {
				fmt.Fprintf(out, "  - %s (withheld, deletions are not allowed)\n", name)
				continue
			}
			fmt.Fprintf(out, "  - %s\n", name)
		}
	}

	if changed == 0 {
		fmt.Fprintln(out, "No changes. The tenant matches the desired state.")
	}
}

func printRun(out io.Writer, run *engine.RunResult) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tCREATED\tUPDATED\tDELETED\tCONFLICTS\tDURATION")
	for _, h := range run.Handlers {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\n",
			h.Type, h.Created, h.Updated, h.Deleted, h.Conflicts, h.Duration.Round(time.Millisecond))
	}
	w.Flush()

	for _, h := range run.Handlers {
		if len(h.SkippedDeletes) > 0 {
			fmt.Fprintf(out, "%s: deletion withheld for %s\n", h.Type, strings.Join(h.SkippedDeletes, ", "))
		}
	}

	created, updated, deleted := run.Totals()
	fmt.Fprintf(out, "Run %s %s: %d created, %d updated, %d deleted in %s\n",
		run.ID, run.Status, created, updated, deleted, run.Duration.Round(time.Millisecond))
}

func printRuns(out io.Writer, runs []*stores.Run) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tDURATION\tCREATED\tUPDATED\tDELETED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			r.ID, r.Status, r.StartedAt.Format(time.RFC3339),
			(time.Duration(r.DurationMs) * time.Millisecond).String(),
			r.Created, r.Updated, r.Deleted)
	}
	w.Flush()
}

// runDetails is the full history of one run.
type runDetails struct {
	Run       *stores.Run               `json:"run"`
	Handlers  []*stores.HandlerResult   `json:"handlers"`
	Mutations []*stores.Mutation        `json:"mutations"`
	Skipped   []*stores.SkippedDeletion `json:"skipped_deletions"`
}

func printRunDetails(out io.Writer, d *runDetails) {
	fmt.Fprintf(out, "Run %s %s, started %s\n", d.Run.ID, d.Run.Status, d.Run.StartedAt.Format(time.RFC3339))
	if d.Run.Error != nil {
		fmt.Fprintf(out, "Error: %s\n", *d.Run.Error)
	}

	if len(d.Mutations) > 0 {
		fmt.Fprintln(out)
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tOPERATION\tITEM\tDURATION\tERROR")
		for _, m := range d.Mutations {
			errText := ""
			if m.Error != nil {
				errText = *m.Error
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%dms\t%s\n", m.ResourceType, m.Operation, m.ItemName, m.DurationMs, errText)
		}
		w.Flush()
	}

	for _, s := range d.Skipped {
		items := append([]string(nil), s.Items...)
		sort.Strings(items)
		fmt.Fprintf(out, "%s: deletion withheld for %s\n", s.ResourceType, strings.Join(items, ", "))
	}
}
