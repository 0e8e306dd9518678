package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/housing-model/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "housing-model",
	Short: "Train the housing price regressor and export serving artifacts",
	Long: "Loads housing records, standardises and one-hot encodes them, trains a feed-forward " +
		"regressor with early stopping, reports held-out error and writes the scaler, feature map " +
		"and model files a serving process needs. Settings come from config.yaml and HOUSING_* variables.",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return train(cmd.Context(), cfg, cmd.OutOrStdout())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "housing-model:", err)
		os.Exit(1)
	}
}
