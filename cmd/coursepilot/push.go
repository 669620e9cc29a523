package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zsyeh/coursepilot/internal/models"
	"github.com/zsyeh/coursepilot/internal/notify"
	"github.com/zsyeh/coursepilot/internal/proxy"
)

var pushTestCmd = &cobra.Command{
	Use:   "push-test",
	Short: "Send a test notification through every configured transport",
	RunE:  runPushTest,
}

func init() {
	rootCmd.AddCommand(pushTestCmd)
}

func runPushTest(cmd *cobra.Command, args []string) error {
	httpClient, err := proxy.HTTPClient(cfg.Proxies, httpTimeout)
	if err != nil {
		return fmt.Errorf("configuring proxy: %w", err)
	}
	transports := notify.FromConfig(cfg, httpClient, logger)
	if len(transports) == 0 {
		return errors.New("no notification transport configured (email, pushplus or bark)")
	}

	gateway := notify.NewGateway(models.ParseReportLevel(cfg.ReportLevel), transports, logger)
	fmt.Printf("Sending test notification via %s\n", strings.Join(gateway.Transports(), ", "))
	gateway.Send(cmd.Context(), models.NotificationEvent{
		Subject:  "[test] coursepilot notification",
		Body:     fmt.Sprintf("This is a test notification sent at %s.", time.Now().Format(time.RFC3339)),
		Severity: models.SeverityRoutine,
		Force:    true,
	})
	fmt.Println("Done. Delivery failures, if any, are logged above.")
	return nil
}
