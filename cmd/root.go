package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brookslogan/nowcast-template/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "nowcast",
	Short: "Sensor fitting and nowcasting for weekly surveillance data",
	Long:  "Fits statistical sensors to weekly epidemiological surveillance signals, stores the readings, and fuses them into population-weighted nowcasts.",
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
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
