package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zsyeh/coursepilot/internal/session"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the saved session",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := session.NewStore(resolvePath(cfg.Paths.Session), logger)
		if err := store.Clear(); err != nil {
			return fmt.Errorf("removing session: %w", err)
		}
		fmt.Printf("Saved session removed (%s)\n", store.Path())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
