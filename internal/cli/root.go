package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd wires the cobra command tree over a built App.
func NewRootCmd(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "queryctl",
		Short: "Submit SQL to the managed query service with local result caching",
		Long: "queryctl submits SQL statements to the managed query service, polls " +
			"asynchronous executions to completion and caches completed results " +
			"locally so repeated queries are served without re-execution.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(app.Stdout)
	root.SetErr(app.Stderr)

	root.AddCommand(newQueryCommand(app))
	root.AddCommand(newCacheCommand(app))
	root.AddCommand(newDatabasesCommand(app))
	root.AddCommand(newWorkgroupsCommand(app))
	root.AddCommand(newHistoryCommand(app))
	return root
}
