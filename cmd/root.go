package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"soilscope/internal/app"
	"soilscope/internal/config"
)

// Commands annotated with noQueueAnnotation run without a Redis client.
const noQueueAnnotation = "soilscope/no-queue"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "soilscope",
	Short: "Soil property analysis from satellite imagery",
	Long: `soilscope estimates soil organic carbon and surface moisture for a region
from multi-sensor satellite imagery, and renders the result as an HTML report.`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		cfg, err := config.Load(viper.GetViper(), cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		if err := app.SetupLogging(cfg); err != nil {
			return err
		}

		opts := app.Options{NoQueue: cmd.Annotations[noQueueAnnotation] == "true"}
		appInstance, err := app.NewApp(cfg, opts)
		if err != nil {
			return fmt.Errorf("failed to initialize app: %w", err)
		}

		ctx := context.WithValue(cmd.Context(), appKey, appInstance)
		cmd.SetContext(ctx)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if appInstance, err := GetAppFromContext(cmd.Context()); err == nil {
			return appInstance.Close()
		}
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type contextKey string

const appKey contextKey = "app"

// GetAppFromContext returns the App built by PersistentPreRunE.
func GetAppFromContext(ctx context.Context) (*app.App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("application instance not found in context")
	}
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application instance not found in context")
	}
	return appInstance, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ./config.yaml)")
	rootCmd.PersistentFlags().String("store", "", "Job store driver override: postgres, sqlite or memory")
	_ = viper.BindPFlag("database.driver", rootCmd.PersistentFlags().Lookup("store"))
}
