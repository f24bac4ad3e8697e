package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit  int
		runID  string
		prune  time.Duration
		dbPath string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent deploy runs",
		Long: `List the deploy runs recorded in the run history database, newest first.

With --run the mutations and withheld deletions of one run are shown.`,
		Example: `  # List the last 20 runs
  tenantsync history --db history.db

  # Show one run
  tenantsync history --db history.db --run 5f0c...

  # Remove runs older than 30 days
  tenantsync history --db history.db --prune 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := newSession(true)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			if dbPath == "" {
				dbPath = s.settings.HistoryPath
			}
			if dbPath == "" {
				return fmt.Errorf("no history database; use --db or TENANTSYNC_HISTORY")
			}

			store, err := openStore(ctx, dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()

			if prune > 0 {
				n, err := store.PruneRuns(ctx, time.Now().Add(-prune))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Pruned %d runs\n", n)
				return nil
			}

			if runID != "" {
				run, err := store.GetRun(ctx, runID)
				if err != nil {
					return err
				}
				details := &runDetails{Run: run}
				if details.Handlers, err = store.ListHandlerResults(ctx, runID); err != nil {
					return err
				}
				if details.Mutations, err = store.ListMutations(ctx, runID); err != nil {
					return err
				}
				if details.Skipped, err = store.ListSkippedDeletions(ctx, runID); err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(out, details)
				}
				printRunDetails(out, details)
				return nil
			}

			runs, err := store.ListRuns(ctx, limit, 0)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(out, runs)
			}
			printRuns(out, runs)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	cmd.Flags().StringVar(&runID, "run", "", "show the details of one run")
	cmd.Flags().DurationVar(&prune, "prune", 0, "delete runs older than this duration")
	cmd.Flags().StringVar(&dbPath, "db", "", "run history database (defaults to the history_path setting)")

	return cmd
}
