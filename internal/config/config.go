// Package config loads, migrates and validates the coursepilot configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zsyeh/coursepilot/internal/models"
	"github.com/zsyeh/coursepilot/internal/update"
)

// CurrentVersion is the config_version written by this build.
const CurrentVersion = "1.4.0"

// DefaultPath is the configuration file used when --config is not given.
const DefaultPath = "config.yaml"

// Config holds the on-disk configuration. Key names follow the historical
// JSON layout so older config files keep loading.
type Config struct {
	Username        string            `yaml:"username"`
	Password        string            `yaml:"password"`
	QRLogin         bool              `yaml:"qrlogin"`
	SaveCookies     bool              `yaml:"save_cookies"`
	Proxies         map[string]string `yaml:"proxies"`
	LogLevel        string            `yaml:"logLevel"`
	ReportLevel     string            `yaml:"report_level"`
	TreeView        bool              `yaml:"tree_view"`
	ProgressbarView bool              `yaml:"progressbar_view"`
	QRExtra         QRExtra           `yaml:"qr_extra"`
	ImagePath       string            `yaml:"image_path"`
	PushPlus        PushToken         `yaml:"pushplus"`
	Bark            PushToken         `yaml:"bark"`
	Email           Email             `yaml:"email"`
	Helper          Helper            `yaml:"helper"`
	Paths           Paths             `yaml:"paths"`
	Heartbeat       Heartbeat         `yaml:"heartbeat"`
	// VerificationMarkers extend the built-in human-verification markers.
	VerificationMarkers []string       `yaml:"verification_markers,omitempty"`
	AI                  map[string]any `yaml:"ai,omitempty"`
	ConfigVersion       string         `yaml:"config_version"`

	migratedFrom string
}

// QRExtra controls how QR login codes are shown.
type QRExtra struct {
	// ShowInTerminal is nil when unset; the platform decides then.
	ShowInTerminal *bool `yaml:"show_in_terminal"`
	EnsureUnicode  bool  `yaml:"ensure_unicode"`
	Port           int   `yaml:"port,omitempty"`
	RefreshLimit   int   `yaml:"refresh_limit,omitempty"`
}

// PushToken configures a token-based push service.
type PushToken struct {
	Enable bool   `yaml:"enable"`
	Token  string `yaml:"token"`
}

// Email configures SMTP delivery.
type Email struct {
	Server   string `yaml:"server,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Sender   string `yaml:"sender,omitempty"`
	Password string `yaml:"password,omitempty"`
	Receiver string `yaml:"receiver,omitempty"`
	SOCKS5   string `yaml:"socks5,omitempty"`
}

// Complete reports whether every field needed to send mail is set.
func (e Email) Complete() bool {
	return e.Server != "" && e.Port > 0 && e.Sender != "" && e.Password != "" && e.Receiver != ""
}

// Helper names the executable implementing the course client protocol.
type Helper struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
	WorkDir string   `yaml:"workdir,omitempty"`
}

// Paths locates the files coursepilot reads and writes.
type Paths struct {
	Session  string `yaml:"session"`
	Manifest string `yaml:"manifest"`
	Ledger   string `yaml:"ledger"`
}

// Heartbeat tunes the liveness report loop.
type Heartbeat struct {
	Interval    time.Duration `yaml:"interval"`
	Tick        time.Duration `yaml:"tick"`
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// DefaultConfig returns the configuration written on first start.
func DefaultConfig() *Config {
	return &Config{
		QRLogin:         true,
		SaveCookies:     true,
		Proxies:         map[string]string{},
		LogLevel:        "INFO",
		ReportLevel:     string(models.ReportRough),
		TreeView:        true,
		ProgressbarView: true,
		QRExtra: QRExtra{
			Port:         8000,
			RefreshLimit: 3,
		},
		PushPlus: PushToken{},
		Bark:     PushToken{Token: "https://example.com/xxxxxxxxx"},
		Helper:   Helper{Command: "zhs-helper"},
		Paths: Paths{
			Session:  "cookies.json",
			Manifest: "execution.json",
			Ledger:   filepath.Join("~", ".coursepilot", "ledger.db"),
		},
		Heartbeat: Heartbeat{
			Interval:    60 * time.Second,
			Tick:        time.Second,
			StopTimeout: 2 * time.Second,
		},
		ConfigVersion: CurrentVersion,
	}
}

// Load reads the configuration at path. A missing file is created with
// defaults. Older config_version values are migrated once and the upgraded
// document is written back. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		cfg := DefaultConfig()
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
		cfg.ApplyEnv()
		return cfg, cfg.Validate()
	}

	doc := map[string]any{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	from, _ := doc["config_version"].(string)
	if from == "" {
		from = "1.0.0"
	}
	migrated := false
	if update.Compare(from, CurrentVersion) < 0 {
		doc = Migrate(doc, from)
		migrated = true
	}

	cfg, err := decode(doc)
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if migrated {
		cfg.migratedFrom = from
		if err := saveDocument(path, doc); err != nil {
			return nil, err
		}
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// MigratedFrom returns the version the loaded file was upgraded from, or ""
// when no migration ran.
func (c *Config) MigratedFrom() string {
	return c.migratedFrom
}

// Save writes cfg as YAML, creating parent directories if needed.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating config dir: %w", err)
		}
	}

	return writeYAML(path, cfg)
}

// saveDocument writes a migrated document back verbatim, keeping keys the
// Config struct does not know about.
func saveDocument(path string, doc map[string]any) error {
	return writeYAML(path, doc)
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// decode overlays doc on the defaults so missing keys keep default values.
func decode(doc map[string]any) (*Config, error) {
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, err
	}
	if cfg.Proxies == nil {
		cfg.Proxies = map[string]string{}
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch strings.ToUpper(c.LogLevel) {
	case "", "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		return fmt.Errorf("invalid logLevel %q, must be: DEBUG, INFO, WARNING or ERROR", c.LogLevel)
	}
	if c.Heartbeat.Tick <= 0 || c.Heartbeat.Interval < c.Heartbeat.Tick {
		return fmt.Errorf("heartbeat interval (%s) must be at least one tick (%s)", c.Heartbeat.Interval, c.Heartbeat.Tick)
	}
	if c.QRExtra.Port < 0 || c.QRExtra.Port > 65535 {
		return fmt.Errorf("qr_extra.port must be between 0 and 65535, got %d", c.QRExtra.Port)
	}
	if c.QRExtra.RefreshLimit < 0 {
		return fmt.Errorf("qr_extra.refresh_limit must not be negative")
	}
	if c.Email.Port < 0 || c.Email.Port > 65535 {
		return fmt.Errorf("email.port must be between 0 and 65535, got %d", c.Email.Port)
	}
	return nil
}

// ExpandPath resolves a leading ~ to the user's home directory.
func ExpandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, p[1:])
	}
	return p
}
