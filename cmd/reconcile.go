package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"soilscope/internal/worker"
)

var reconcileAsync bool

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Fail jobs stuck in processing longer than reconcile.stale_after",
	Long: `Marks processing jobs that have not been updated within reconcile.stale_after
as failed. With --async the sweep is queued for a worker instead of run here.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		if reconcileAsync {
			if err := appInstance.JobClient.EnqueueReconcile(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Reconcile task queued.")
			return nil
		}

		n, err := worker.Reconcile(cmd.Context(), appInstance.WorkerDeps())
		if err != nil {
			return fmt.Errorf("reconcile failed: %w", err)
		}
		fmt.Printf("Marked %d stale job(s) as failed.\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().BoolVar(&reconcileAsync, "async", false, "Queue the sweep for a worker")
}
