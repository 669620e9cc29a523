package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zsyeh/coursepilot/internal/store"
	"github.com/zsyeh/coursepilot/internal/tui"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse recorded runs",
	Long:  `Browse past runs with their attempts and notifications, or print them as a table with --plain.`,
	RunE:  runHistory,
}

var (
	historyPlain bool
	historyLimit int
)

func init() {
	historyCmd.Flags().BoolVar(&historyPlain, "plain", false, "print a table instead of the interactive browser")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", tui.DefaultLimit, "number of runs to print with --plain")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	ledger, err := store.New(resolvePath(cfg.Paths.Ledger))
	if err != nil {
		return fmt.Errorf("opening run ledger: %w", err)
	}
	defer ledger.Close()

	if historyPlain {
		runs, err := ledger.ListRuns(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded yet.")
			return nil
		}
		return tui.WritePlain(os.Stdout, runs)
	}
	return tui.New(ledger).Run()
}
