// Package cmd - CLI command: cloud-cost instances
package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"cloud-cost/internal/logging"
)

var instancesRerun bool

var instancesCmd = &cobra.Command{
	Use:   "instances [project|all]",
	Short: "Record today's instance snapshot",
	Long: `Query the provider for the selected projects' current compute
instances and record today's snapshot. Snapshots already recorded today
are kept unless --rerun is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInstances,
}

func init() {
	instancesCmd.Flags().BoolVar(&instancesRerun, "rerun", false, "replace today's recorded snapshot")
}

func runInstances(cmd *cobra.Command, args []string) error {
	r, closer, err := buildRunner(false, true)
	if err != nil {
		return fail(err)
	}
	defer closer()
	defer logging.Sync()

	if err := r.RecordInstances(context.Background(), selectorArg(args), instancesRerun); err != nil {
		return fail(err)
	}
	return nil
}
