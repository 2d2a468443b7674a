// Package cmd - CLI command: cloud-cost record
package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"cloud-cost/core/types"
	"cloud-cost/internal/errors"
	"cloud-cost/internal/logging"
)

var recordRerun bool

var recordCmd = &cobra.Command{
	Use:   "record <project> <start> <end>",
	Short: "Backfill cost and usage logs over a date range",
	Long: `Record cost and usage figures for every day in the inclusive range,
without rendering reports. Days already recorded are skipped unless
--rerun is given. The end date must not be newer than the most recent
day with reliable billing data.`,
	Args: cobra.ExactArgs(3),
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().BoolVar(&recordRerun, "rerun", false, "re-query the provider and overwrite recorded figures")
}

func runRecord(cmd *cobra.Command, args []string) error {
	r, closer, err := buildRunner(false, true)
	if err != nil {
		return fail(err)
	}
	defer closer()
	defer logging.Sync()

	start, err := types.ParseDate(args[1])
	if err != nil {
		return fail(errors.Validationf("%q is not a valid start date, expected YYYY-MM-DD", args[1]))
	}
	end, err := types.ParseDate(args[2])
	if err != nil {
		return fail(errors.Validationf("%q is not a valid end date, expected YYYY-MM-DD", args[2]))
	}

	if err := r.RecordRange(context.Background(), args[0], start, end, recordRerun); err != nil {
		return fail(err)
	}
	return nil
}
