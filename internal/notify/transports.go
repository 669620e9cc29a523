package notify

import (
	"log/slog"
	"net/http"

	"github.com/zsyeh/coursepilot/internal/config"
)

// FromConfig builds the enabled transports. Incomplete SMTP settings skip
// email with a log line. client is used by the push transports.
func FromConfig(cfg *config.Config, client *http.Client, logger *slog.Logger) []Transport {
	if logger == nil {
		logger = slog.Default()
	}

	var transports []Transport
	if cfg.Email.Complete() {
		email, err := NewEmail(cfg.Email)
		if err != nil {
			logger.Warn("email notifications disabled", "error", err)
		} else {
			transports = append(transports, email)
		}
	} else {
		logger.Info("email notifications skipped: SMTP settings incomplete")
	}
	if cfg.PushPlus.Enable && cfg.PushPlus.Token != "" {
		transports = append(transports, NewPushPlus(client, cfg.PushPlus.Token))
	}
	if cfg.Bark.Enable && cfg.Bark.Token != "" {
		transports = append(transports, NewBark(client, cfg.Bark.Token))
	}
	return transports
}
