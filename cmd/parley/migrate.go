package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long:  `Open every database under the workdir and apply pending migrations, then exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if err := os.MkdirAll(cfg.Workdir, 0o755); err != nil {
			return fmt.Errorf("failed to create workdir: %v", err)
		}
		stores, err := openStores(cfg)
		if err != nil {
			return err
		}
		stores.Close()
		fmt.Printf("migrations applied in %s\n", cfg.Workdir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
