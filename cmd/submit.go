package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"soilscope/internal/clix"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit an analysis job to the worker queue",
	Example: `  soilscope submit --region field.geojson --start 2024-01-01 --end 2024-01-31
  cat field.geojson | soilscope submit -r - -n "North Field"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := clix.ParseSubmitParams(cmd.Flags())
		if err != nil {
			return err
		}
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}

		job, err := appInstance.JobService.Submit(cmd.Context(), params)
		if err != nil {
			return fmt.Errorf("failed to submit job: %w", err)
		}
		fmt.Printf("%s job %s for %q (%s)\n", color.GreenString("Submitted"), job.ID, job.RegionName, statusString(job.Status))
		fmt.Printf("Poll with: soilscope jobs show %s\n", job.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)
	clix.AddSubmitFlags(submitCmd.Flags())
}
