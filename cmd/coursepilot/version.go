package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/zsyeh/coursepilot/internal/update"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of coursepilot",
	Run:   runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("coursepilot version %s\n", update.GetCurrentVersion())
	fmt.Printf("  OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go version: %s\n", runtime.Version())
}
