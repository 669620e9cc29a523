package config

import (
	"os"
	"strconv"
)

// ApplyEnv overrides file values with environment variables when they are set.
//
//	REPORT_LEVEL            report_level
//	COURSEPILOT_LOG_LEVEL   logLevel
//	SMTP_SERVER             email.server
//	SMTP_PORT               email.port
//	SMTP_SENDER             email.sender
//	SMTP_PASSWORD           email.password
//	SMTP_RECEIVER           email.receiver
//	SMTP_SOCKS5             email.socks5
func (c *Config) ApplyEnv() {
	c.ReportLevel = envStr("REPORT_LEVEL", c.ReportLevel)
	c.LogLevel = envStr("COURSEPILOT_LOG_LEVEL", c.LogLevel)
	c.Email.Server = envStr("SMTP_SERVER", c.Email.Server)
	c.Email.Port = envInt("SMTP_PORT", c.Email.Port)
	c.Email.Sender = envStr("SMTP_SENDER", c.Email.Sender)
	c.Email.Password = envStr("SMTP_PASSWORD", c.Email.Password)
	c.Email.Receiver = envStr("SMTP_RECEIVER", c.Email.Receiver)
	c.Email.SOCKS5 = envStr("SMTP_SOCKS5", c.Email.SOCKS5)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
