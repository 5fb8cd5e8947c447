package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/vqa-filter/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "vqa-filter",
	Short: "Route and score visual question answering samples",
	Long:  "Routes image+question records to task pipelines, grades each image against the pipeline rubric with a vision model, and streams accept/reject verdicts to a JSON array file.",
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
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
