package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"soilscope/internal/clix"
	"soilscope/internal/models"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect analysis jobs",
}

var jobsListCmd = &cobra.Command{
	Use:         "list",
	Short:       "List analysis jobs, newest first",
	Annotations: map[string]string{noQueueAnnotation: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := clix.ParseListFilter(cmd.Flags())
		if err != nil {
			return err
		}
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}

		jobs, err := appInstance.JobService.List(cmd.Context(), filter)
		if err != nil {
			return fmt.Errorf("failed to list jobs: %w", err)
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs found.")
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Job ID", "Status", "Region", "Period", "Updated At", "Error"})
		table.SetBorder(true)
		table.SetRowLine(true)
		for _, j := range jobs {
			table.Append([]string{
				j.ID.String(),
				string(j.Status),
				j.RegionName,
				j.StartDate.Format(time.DateOnly) + " - " + j.EndDate.Format(time.DateOnly),
				j.UpdatedAt.Format(time.RFC3339),
				truncate(ptrString(j.ErrorMessage, ""), 60),
			})
		}
		table.Render()
		return nil
	},
}

var jobsShowCmd = &cobra.Command{
	Use:         "show <job-id>",
	Short:       "Show a job and, once completed, its results",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{noQueueAnnotation: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid job id %q: %w", args[0], err)
		}
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}

		job, err := appInstance.JobService.Get(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("failed to get job: %w", err)
		}
		fmt.Printf("Job:     %s\n", job.ID)
		fmt.Printf("Status:  %s\n", statusString(job.Status))
		fmt.Printf("Region:  %s\n", job.RegionName)
		fmt.Printf("Period:  %s to %s\n", job.StartDate.Format(time.DateOnly), job.EndDate.Format(time.DateOnly))
		fmt.Printf("Task:    %s\n", ptrString(job.TaskID, "N/A"))
		fmt.Printf("Created: %s\n", job.CreatedAt.Format(time.RFC3339))
		fmt.Printf("Updated: %s\n", job.UpdatedAt.Format(time.RFC3339))
		if job.ErrorMessage != nil {
			fmt.Printf("Error:   %s\n", color.RedString(*job.ErrorMessage))
		}
		if job.Status != models.JobStatusCompleted {
			return nil
		}

		res, err := appInstance.JobService.Result(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("failed to load result: %w", err)
		}
		fmt.Println()
		printResult(res, appInstance.Config.Report.OutputDir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd)

	jobsListCmd.Flags().IntP("limit", "l", 20, "Maximum number of jobs to list")
	jobsListCmd.Flags().IntP("offset", "o", 0, "Number of jobs to skip")
	jobsListCmd.Flags().StringP("status", "s", "", "Only jobs in this status (pending, queued, processing, completed, failed)")
}

func statusString(s models.JobStatus) string {
	switch s {
	case models.JobStatusCompleted:
		return color.GreenString(string(s))
	case models.JobStatusFailed:
		return color.RedString(string(s))
	case models.JobStatusProcessing:
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}

func ptrString(p *string, def string) string {
	if p != nil {
		return *p
	}
	return def
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
