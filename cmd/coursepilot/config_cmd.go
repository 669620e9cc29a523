package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		masked := *cfg
		masked.Password = mask(masked.Password)
		masked.Email.Password = mask(masked.Email.Password)
		masked.PushPlus.Token = mask(masked.PushPlus.Token)
		masked.Bark.Token = mask(masked.Bark.Token)

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(&masked)
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		abs, err := filepath.Abs(configPath)
		if err != nil {
			return err
		}
		fmt.Println(abs)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}
