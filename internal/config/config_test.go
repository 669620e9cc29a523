package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zsyeh/coursepilot/internal/models"
)

func TestLoad_CreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.QRLogin || !cfg.SaveCookies {
		t.Error("Expected qrlogin and save_cookies to default to true")
	}
	if cfg.ConfigVersion != CurrentVersion {
		t.Errorf("Expected version %s, got %s", CurrentVersion, cfg.ConfigVersion)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected config file to be written: %v", err)
	}
}

func TestLoad_LegacyJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	legacy := `{
    "username": "alice",
    "password": "secret",
    "qrlogin": false,
    "push": {"enable": true, "token": "pp-token"},
    "qr_extra": {"old": 1},
    "logLevel": "WARNING",
    "custom_key": "keepme"
}`
	if err := os.WriteFile(path, []byte(legacy), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MigratedFrom() != "1.0.0" {
		t.Errorf("Expected migration from 1.0.0, got %q", cfg.MigratedFrom())
	}
	if cfg.Username != "alice" || cfg.QRLogin {
		t.Errorf("Expected user fields to survive, got %+v", cfg)
	}
	if !cfg.PushPlus.Enable || cfg.PushPlus.Token != "pp-token" {
		t.Errorf("Expected push to move into pushplus, got %+v", cfg.PushPlus)
	}
	if cfg.QRExtra.Port != 8000 {
		t.Errorf("Expected default qr_extra after drop, got %+v", cfg.QRExtra)
	}

	// Second load sees the upgraded file and does not migrate again.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if again.MigratedFrom() != "" {
		t.Errorf("Expected no second migration, got %q", again.MigratedFrom())
	}
	if again.PushPlus.Token != "pp-token" {
		t.Errorf("Expected migrated value to be persisted, got %+v", again.PushPlus)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	doc := map[string]any{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Expected YAML on disk: %v", err)
	}
	if doc["custom_key"] != "keepme" {
		t.Errorf("Expected unknown key to survive migration, got %v", doc["custom_key"])
	}
	if doc["config_version"] != CurrentVersion {
		t.Errorf("Expected config_version %s on disk, got %v", CurrentVersion, doc["config_version"])
	}
	if _, ok := doc["push"]; ok {
		t.Error("Expected legacy push key to be removed")
	}
}

func TestMigrate_Pure(t *testing.T) {
	doc := map[string]any{
		"config_version": "1.2.0",
		"push":           map[string]any{"token": "x"},
		"qr_extra":       map[string]any{"ensure_unicode": true},
	}

	out := Migrate(doc, "1.2.0")

	if _, ok := doc["push"]; !ok {
		t.Error("Migrate must not modify its input")
	}
	if out["config_version"] != CurrentVersion {
		t.Errorf("Expected version %s, got %v", CurrentVersion, out["config_version"])
	}
	if _, ok := out["push"]; ok {
		t.Error("Expected push key to be removed")
	}
	pp, ok := out["pushplus"].(map[string]any)
	if !ok || pp["token"] != "x" || pp["enable"] != false {
		t.Errorf("Expected pushplus merged with defaults, got %v", out["pushplus"])
	}
	qr, ok := out["qr_extra"].(map[string]any)
	if !ok || qr["ensure_unicode"] != true {
		t.Errorf("Expected qr_extra kept for 1.2.0, got %v", out["qr_extra"])
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("REPORT_LEVEL", "debug")
	t.Setenv("SMTP_SERVER", "smtp.example.com")
	t.Setenv("SMTP_PORT", "465")
	t.Setenv("SMTP_PORT_IGNORED", "x")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	if models.ParseReportLevel(cfg.ReportLevel) != models.ReportDebug {
		t.Errorf("Expected DEBUG report level, got %s", cfg.ReportLevel)
	}
	if cfg.Email.Server != "smtp.example.com" || cfg.Email.Port != 465 {
		t.Errorf("Unexpected email config: %+v", cfg.Email)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should validate: %v", err)
	}

	cfg.Heartbeat.Interval = 500 * time.Millisecond
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error when interval is shorter than tick")
	}

	cfg = DefaultConfig()
	cfg.LogLevel = "LOUD"
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for unknown log level")
	}
}

func TestRuntime(t *testing.T) {
	start := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	rt := NewRuntime("verbose", start)
	if rt.ReportLevel() != models.ReportRough || rt.Debug() {
		t.Error("Unknown levels must collapse to ROUGH")
	}

	rt = NewRuntime(models.ReportDebug, start)
	if !rt.Debug() {
		t.Error("Expected debug runtime")
	}
	if got := rt.Elapsed(start.Add(90*time.Second + 400*time.Millisecond)); got != 90*time.Second {
		t.Errorf("Expected 1m30s elapsed, got %s", got)
	}
}
