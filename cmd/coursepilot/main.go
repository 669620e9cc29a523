package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zsyeh/coursepilot/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "coursepilot",
	Short: "coursepilot - unattended course completion",
	Long: `coursepilot logs in to the course platform, works through the selected
courses or videos, and reports the outcome through email and push services.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	RunE:              runRoot,
}

var (
	configPath string
	debug      bool

	cfg    *config.Config
	logger *slog.Logger
)

// skipSetup lists commands that run without loading the configuration.
var skipSetup = map[string]bool{
	"version":    true,
	"help":       true,
	"completion": true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "configuration file")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "debug logging")
}

func setup(cmd *cobra.Command, args []string) error {
	logger = newLogger("INFO")
	if skipSetup[cmd.Name()] {
		return nil
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("failed to load .env", "error", err)
	}

	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg = loaded

	level := cfg.LogLevel
	if debug {
		level = "DEBUG"
	}
	logger = newLogger(level)
	slog.SetDefault(logger)

	if from := cfg.MigratedFrom(); from != "" {
		logger.Info("configuration upgraded", "from", from, "to", config.CurrentVersion, "path", configPath)
	}
	logger.Debug("configuration loaded", "path", configPath, "report_level", cfg.ReportLevel)
	return nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		l = slog.LevelDebug
	case "WARN", "WARNING":
		l = slog.LevelWarn
	case "ERROR":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// resolvePath expands ~ and makes relative paths relative to the directory
// of the configuration file.
func resolvePath(p string) string {
	if p == "" {
		return ""
	}
	p = config.ExpandPath(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), p)
}

// exitError carries a specific process exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(exitCode(err))
}
