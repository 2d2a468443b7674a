// Package cmd - CLI command: cloud-cost weekly
package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"cloud-cost/core/runner"
	"cloud-cost/internal/logging"
)

var (
	weeklyRerun    bool
	weeklySlack    bool
	weeklyText     bool
	weeklyCustomer bool
)

var weeklyCmd = &cobra.Command{
	Use:   "weekly [project|all] [date|latest]",
	Short: "Report month-to-date spend and budget projection",
	Long: `Render the weekly projection report for the selected projects:
month-to-date spend, the daily burn rate of the running instances, and
how long the governing budget will last.

A report already rendered for the date is served from the report log and
marked as cached; --rerun recomputes it.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runWeekly,
}

func init() {
	weeklyCmd.Flags().BoolVar(&weeklyRerun, "rerun", false, "recompute and overwrite the recorded report")
	weeklyCmd.Flags().BoolVar(&weeklySlack, "slack", false, "deliver the report to the project's Slack channel")
	weeklyCmd.Flags().BoolVar(&weeklyText, "text", false, "print the report to stdout")
	weeklyCmd.Flags().BoolVar(&weeklyCustomer, "customer", true, "use customer-facing instance type names")
}

func runWeekly(cmd *cobra.Command, args []string) error {
	r, closer, err := buildRunner(weeklySlack, weeklyText)
	if err != nil {
		return fail(err)
	}
	defer closer()
	defer logging.Sync()

	dateArg := ""
	if len(args) > 1 {
		dateArg = args[1]
	}
	date, err := parseReportDate(dateArg, r.DefaultDate())
	if err != nil {
		return fail(err)
	}

	err = r.RunWeekly(context.Background(), selectorArg(args), runner.Options{
		Date:           date,
		Rerun:          weeklyRerun,
		CustomerFacing: weeklyCustomer,
		Verbose:        verbose,
	})
	if err != nil {
		return fail(err)
	}
	return nil
}
