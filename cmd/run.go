package cmd

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"soilscope/internal/clix"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an analysis synchronously, without the worker queue",
	Long: `Creates a job and runs the full pipeline in this process. Combine with
--store memory or --store sqlite to work without Postgres or Redis.`,
	Example:     `  soilscope run --store memory -r field.geojson --start 2024-01-01 --end 2024-01-31`,
	Annotations: map[string]string{noQueueAnnotation: "true"},
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
			return fmt.Errorf("failed to create job: %w", err)
		}
		d, err := job.Descriptor()
		if err != nil {
			return err
		}

		log.WithField("job_id", job.ID).Infof("Running analysis for %q", job.RegionName)
		started := time.Now()
		res, err := appInstance.Orchestrator.Run(cmd.Context(), d)
		if err != nil {
			fmt.Printf("%s job %s: %v\n", color.RedString("Failed"), job.ID, err)
			return err
		}
		fmt.Printf("%s job %s in %s\n\n", color.GreenString("Completed"), job.ID, time.Since(started).Round(time.Millisecond))
		printResult(res, appInstance.Config.Report.OutputDir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	clix.AddSubmitFlags(runCmd.Flags())
}
