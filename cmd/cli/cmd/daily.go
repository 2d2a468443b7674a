// Package cmd - CLI command: cloud-cost daily
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cloud-cost/core/runner"
	"cloud-cost/internal/logging"
)

var (
	reportRerun    bool
	reportSlack    bool
	reportText     bool
	reportShort    bool
	reportCustomer bool
)

var dailyCmd = &cobra.Command{
	Use:   "daily [project|all] [date|latest]",
	Short: "Record and report one day's costs",
	Long: `Record one day's cost, usage and instance figures for the selected
projects and deliver the daily snapshot report.

The date defaults to the most recent day with reliable billing data
(provider figures lag a few days behind); "latest" selects the same day
explicitly. Figures already recorded for the day are reported from the
log store without querying the provider; --rerun forces fresh queries
and overwrites the recorded figures.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runDaily,
}

func init() {
	addReportFlags(dailyCmd)
}

func addReportFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&reportRerun, "rerun", false, "re-query the provider and overwrite recorded figures")
	cmd.Flags().BoolVar(&reportSlack, "slack", false, "deliver the report to the project's Slack channel")
	cmd.Flags().BoolVar(&reportText, "text", false, "print the report to stdout")
	cmd.Flags().BoolVar(&reportShort, "short", false, "omit secondary cost figures")
	cmd.Flags().BoolVar(&reportCustomer, "customer", false, "use customer-facing instance type names")
}

func runDaily(cmd *cobra.Command, args []string) error {
	r, closer, err := buildRunner(reportSlack, reportText)
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

	err = r.RunDaily(context.Background(), selectorArg(args), runner.Options{
		Date:           date,
		Rerun:          reportRerun,
		Short:          reportShort,
		CustomerFacing: reportCustomer,
		Verbose:        verbose,
	})
	if err != nil {
		return fail(err)
	}
	return nil
}

func fail(err error) error {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return err
}
