package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newDatabasesCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "databases",
		Short: "List databases visible to the configured credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			databases, err := app.Catalog.ListDatabases(cmd.Context())
			if err != nil {
				return fmt.Errorf("list databases: %w", err)
			}
			for _, name := range databases {
				fmt.Fprintln(app.Stdout, name)
			}
			return nil
		},
	}
}

func newWorkgroupsCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "workgroups",
		Short: "List workgroups of the remote service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			workgroups, err := app.Catalog.ListWorkgroups(cmd.Context())
			if err != nil {
				return fmt.Errorf("list workgroups: %w", err)
			}
			for _, name := range workgroups {
				fmt.Fprintln(app.Stdout, name)
			}
			return nil
		},
	}
}

func newHistoryCommand(app *App) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent executions of the remote service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			executions, err := app.Catalog.ListExecutions(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list executions: %w", err)
			}

			tw := tabwriter.NewWriter(app.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "EXECUTION\tSTATE\tWORKGROUP\tSUBMITTED\tSQL")
			for _, execution := range executions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					execution.ID,
					execution.State,
					execution.Workgroup,
					execution.SubmittedAt.UTC().Format(time.RFC3339),
					truncateSQL(execution.SQL, 60))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", app.Config.Display.HistorySize, "number of executions to show")
	return cmd
}

func truncateSQL(sql string, max int) string {
	if len(sql) <= max {
		return sql
	}
	return sql[:max-3] + "..."
}
