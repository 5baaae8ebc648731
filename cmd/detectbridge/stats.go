package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/worldsio/detectbridge/db"
)

// statsCmd prints the store counts
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the database statistics and tag counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := db.Open(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("opening database %s : %w", cfg.DatabasePath, err)
		}
		defer repo.Close()

		stats, err := repo.GetDatabaseStats()
		if err != nil {
			return err
		}
		tags, err := repo.GetAllTags()
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"database": stats, "tags": tags})
	},
}
