package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"soilscope/internal/app"
	"soilscope/internal/tasks"
	"soilscope/internal/worker"
)

var workerNoSchedule bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background analysis worker",
	Long: `Starts the asynq worker that runs queued analysis jobs, plus the scheduler
that periodically fails jobs left in processing by a crashed worker.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get application context: %w", err)
		}
		if err := runWorker(appInstance); err != nil {
			log.WithError(err).Error("Worker exited with error")
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().BoolVar(&workerNoSchedule, "no-schedule", false, "Do not run the periodic stale-job reconciler")
}

func runWorker(appInstance *app.App) error {
	cfg := appInstance.Config
	redisOpts := appInstance.RedisOpt()

	srv := asynq.NewServer(
		redisOpts,
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues:      cfg.Worker.Queues,
			Logger:      log.StandardLogger(),
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				taskID, _ := asynq.GetTaskID(ctx)
				retried, _ := asynq.GetRetryCount(ctx)
				log.WithFields(log.Fields{
					"task_id": taskID,
					"type":    task.Type(),
					"retry":   retried,
				}).WithError(err).Error("Asynq task failed")
			}),
		},
	)

	mux := asynq.NewServeMux()
	worker.RegisterHandlers(mux, appInstance.WorkerDeps())

	var scheduler *asynq.Scheduler
	if !workerNoSchedule && cfg.Reconcile.Schedule != "" {
		scheduler = asynq.NewScheduler(redisOpts, &asynq.SchedulerOpts{
			Location: time.UTC,
			Logger:   log.StandardLogger(),
		})
		entryID, err := scheduler.Register(cfg.Reconcile.Schedule, tasks.NewReconcileTask(), asynq.Queue(tasks.QueueMaintenance))
		if err != nil {
			return fmt.Errorf("register reconcile schedule %q: %w", cfg.Reconcile.Schedule, err)
		}
		log.WithField("entry_id", entryID).Infof("Scheduled stale-job reconciler (%s)", cfg.Reconcile.Schedule)
		if err := scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start asynq scheduler: %w", err)
		}
	}

	log.Infof("Starting asynq worker server (concurrency: %d, queues: %v)", cfg.Worker.Concurrency, cfg.Worker.Queues)
	if err := srv.Start(mux); err != nil {
		if scheduler != nil {
			scheduler.Shutdown()
		}
		return fmt.Errorf("failed to start asynq server: %w", err)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	log.Info("Shutdown signal received, initiating graceful shutdown")
	if scheduler != nil {
		scheduler.Shutdown()
	}
	srv.Stop()
	srv.Shutdown()
	log.Info("Worker shutdown complete")
	return nil
}
