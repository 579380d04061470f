package cli

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/queryctl/queryctl/internal/cache"
)

func newCacheCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and clear the local result cache",
	}
	cmd.AddCommand(newCacheShowCommand(app))
	cmd.AddCommand(newCacheClearCommand(app))
	return cmd
}

func newCacheShowCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "List cached query results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := scanEntries(cmd, app.Cache)
			if err != nil {
				return fmt.Errorf("scan cache: %w", err)
			}
			sort.Slice(entries, func(i, j int) bool {
				return entries[i].CreatedAt.After(entries[j].CreatedAt)
			})

			tw := tabwriter.NewWriter(app.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FINGERPRINT\tEXECUTION\tCREATED\tROWS\tLOCATION")
			for _, entry := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					entry.Fingerprint.String(),
					entry.ExecutionID,
					entry.CreatedAt.UTC().Format(time.RFC3339),
					entry.RowCount,
					entry.ResultLocation)
			}
			return tw.Flush()
		},
	}
}

func newCacheClearCommand(app *App) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Evict cached query results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pred := func(cache.Entry) bool { return true }
			if olderThan > 0 {
				cutoff := time.Now().Add(-olderThan)
				pred = func(entry cache.Entry) bool { return entry.CreatedAt.Before(cutoff) }
			}
			count, err := app.Cache.EvictIf(cmd.Context(), pred)
			if err != nil {
				return fmt.Errorf("evict cache entries: %w", err)
			}
			fmt.Fprintf(app.Stdout, "evicted %d entries\n", count)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "only evict entries older than this age")
	return cmd
}

// scanEntries walks the store through its sweep primitive with a predicate
// that never matches, collecting every entry without deleting any.
func scanEntries(cmd *cobra.Command, store cache.Store) ([]cache.Entry, error) {
	var entries []cache.Entry
	_, err := store.EvictIf(cmd.Context(), func(entry cache.Entry) bool {
		entries = append(entries, entry)
		return false
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
