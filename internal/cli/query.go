package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	qerrors "github.com/queryctl/queryctl/internal/errors"
	"github.com/queryctl/queryctl/internal/fetch"
	"github.com/queryctl/queryctl/internal/run"
)

func newQueryCommand(app *App) *cobra.Command {
	var (
		database       string
		workgroup      string
		outputLocation string
		noCache        bool
		freshness      time.Duration
		timeout        time.Duration
		maxRows        int
		format         string
	)

	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Execute a SQL statement, serving cached results when fresh",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := run.Request{
				SQL:            strings.Join(args, " "),
				Database:       database,
				Workgroup:      workgroup,
				OutputLocation: outputLocation,
			}
			opts := run.Options{
				UseCache:  app.Config.Cache.Enabled && !noCache,
				Freshness: freshness,
				Timeout:   timeout,
			}

			outcome := app.Runner.Run(cmd.Context(), req, opts)
			switch outcome.Kind {
			case run.OutcomeValidationRejected:
				return outcome.Validation
			case run.OutcomeFailed:
				if hint := remediation(qerrors.KindOf(outcome.Err)); hint != "" {
					fmt.Fprintln(app.Stderr, hint)
				}
				return outcome.Err
			}
			defer func() { _ = outcome.Results.Close() }()

			rows, truncated, err := fetch.ReadAll(outcome.Results, maxRows)
			if err != nil {
				return err
			}
			if err := render(app.Stdout, format, outcome.Results.Schema(), rows); err != nil {
				return err
			}

			if outcome.Kind == run.OutcomeCacheHit {
				fmt.Fprintf(app.Stderr, "served from cache (execution %s, %d rows, 0 bytes scanned)\n", outcome.Entry.ExecutionID, outcome.Entry.RowCount)
			} else {
				fmt.Fprintf(app.Stderr, "execution %s finished (%d rows, %d bytes scanned)\n", outcome.Entry.ExecutionID, outcome.Entry.RowCount, outcome.Entry.ByteSize)
			}
			if truncated {
				fmt.Fprintf(app.Stderr, "output truncated to %d rows; raise --max-rows to see more\n", maxRows)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&database, "database", "d", app.Config.Remote.Database, "target database")
	cmd.Flags().StringVarP(&workgroup, "workgroup", "w", app.Config.Remote.Workgroup, "workgroup the execution is billed to")
	cmd.Flags().StringVar(&outputLocation, "output-location", app.Config.Remote.OutputLocation, "override for the result object location")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "skip the cache lookup and force execution")
	cmd.Flags().DurationVar(&freshness, "freshness", app.Config.Cache.FreshnessWindow, "maximum age of a cached result to serve")
	cmd.Flags().DurationVar(&timeout, "timeout", app.Config.Poll.Timeout, "bound on submission plus polling")
	cmd.Flags().IntVar(&maxRows, "max-rows", app.Config.Display.MaxRows, "maximum rows to print, 0 for all")
	cmd.Flags().StringVarP(&format, "format", "f", "table", "output format: table, csv or json")
	return cmd
}

// remediation suggests a next step for common failure classes. The raw
// error is printed separately.
func remediation(kind qerrors.Kind, sub qerrors.Subkind) string {
	switch {
	case kind == qerrors.KindExecution && sub == qerrors.SubkindTableNotFound:
		return "hint: check the table name and the --database the query targets"
	case sub == qerrors.SubkindPermissionDenied || sub == qerrors.SubkindAccessDenied:
		return "hint: verify the API key and the grants of the selected workgroup"
	case kind == qerrors.KindTimeout:
		return "hint: raise --timeout or narrow the query"
	case kind == qerrors.KindFetch && sub == qerrors.SubkindMissing:
		return "hint: the result object is gone; re-run with --no-cache"
	default:
		return ""
	}
}
