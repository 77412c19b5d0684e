package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check job store and Redis connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		appInstance, err := GetAppFromContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to get app instance: %w", err)
		}

		fmt.Printf("Checking %s job store... ", appInstance.Config.Database.Driver)
		if err := appInstance.JobStore.Ping(ctx); err != nil {
			fmt.Println(color.RedString("FAILED"))
			return fmt.Errorf("job store ping failed: %w", err)
		}
		fmt.Println(color.GreenString("ok"))

		fmt.Printf("Checking Redis at %s... ", appInstance.Config.Redis.Address)
		inspector := asynq.NewInspector(appInstance.RedisOpt())
		defer inspector.Close()
		queues, err := inspector.Queues()
		if err != nil {
			fmt.Println(color.RedString("FAILED"))
			return fmt.Errorf("redis check failed: %w", err)
		}
		fmt.Println(color.GreenString("ok"))
		for _, q := range queues {
			info, err := inspector.GetQueueInfo(q)
			if err != nil {
				continue
			}
			fmt.Printf("  queue %-12s pending=%d active=%d retry=%d archived=%d\n",
				q, info.Pending, info.Active, info.Retry, info.Archived)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
