package main

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/zsyeh/coursepilot/internal/config"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"plain error", errors.New("boom"), 1},
		{"fatal auth", &exitError{code: 1, err: errors.New("login rejected")}, 1},
		{"custom code", &exitError{code: 3, err: errors.New("x")}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestResolvePath(t *testing.T) {
	dir := t.TempDir()
	configPath = filepath.Join(dir, "config.yaml")
	defer func() { configPath = config.DefaultPath }()

	if got := resolvePath("cookies.json"); got != filepath.Join(dir, "cookies.json") {
		t.Errorf("Expected path next to config, got %s", got)
	}
	abs := filepath.Join(dir, "elsewhere", "ledger.db")
	if got := resolvePath(abs); got != abs {
		t.Errorf("Expected absolute path unchanged, got %s", got)
	}
	if got := resolvePath(""); got != "" {
		t.Errorf("Expected empty path unchanged, got %s", got)
	}
}

func TestRunOptions(t *testing.T) {
	defer func() { courses, videos, aiCourse, fetchOnly, processAll = nil, nil, nil, false, false }()

	courses = []string{"c1", "c2"}
	videos = []string{"v1"}
	opts, err := runOptions()
	if err != nil {
		t.Fatal(err)
	}
	if len(opts.Courses) != 2 || len(opts.Videos) != 1 || opts.AICourseID != "" {
		t.Errorf("Unexpected options: %+v", opts)
	}

	aiCourse = []string{"100", " 200 "}
	opts, err = runOptions()
	if err != nil {
		t.Fatal(err)
	}
	if opts.AICourseID != "100" || opts.AIClassID != "200" {
		t.Errorf("Unexpected AI ids: %+v", opts)
	}

	aiCourse = []string{"100"}
	if _, err := runOptions(); err == nil {
		t.Error("Expected error for a single --ai value")
	}
}

func TestApplyFlags(t *testing.T) {
	defer func() {
		cfg, username, password, qrLogin, passwordLogin = nil, "", "", false, false
		rootCmd.Flags().Set("tree-view", "true")
	}()

	tests := []struct {
		name      string
		setup     func()
		wantQR    bool
		wantUser  string
		fileQR    bool
		wantTree  bool
		setTreeTo string
	}{
		{"config decides", func() {}, true, "", true, true, ""},
		{"credentials on command line", func() { username, password = "alice", "pw" }, false, "alice", true, true, ""},
		{"qr flag wins", func() { username, password, qrLogin = "alice", "pw", true }, true, "alice", false, true, ""},
		{"password login", func() { passwordLogin = true }, false, "", true, true, ""},
		{"tree view flag", func() {}, true, "", true, false, "false"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			username, password, qrLogin, passwordLogin = "", "", false, false
			cfg = config.DefaultConfig()
			cfg.QRLogin = tt.fileQR
			tt.setup()
			if tt.setTreeTo != "" {
				if err := rootCmd.Flags().Set("tree-view", tt.setTreeTo); err != nil {
					t.Fatal(err)
				}
			}

			applyFlags(rootCmd)

			if cfg.QRLogin != tt.wantQR {
				t.Errorf("QRLogin = %v, want %v", cfg.QRLogin, tt.wantQR)
			}
			if cfg.Username != tt.wantUser {
				t.Errorf("Username = %q, want %q", cfg.Username, tt.wantUser)
			}
			if cfg.TreeView != tt.wantTree {
				t.Errorf("TreeView = %v, want %v", cfg.TreeView, tt.wantTree)
			}
		})
	}
}

func TestHelperOptions(t *testing.T) {
	defer func() { cfg, speed = nil, 0 }()

	cfg = config.DefaultConfig()
	cfg.PushPlus = config.PushToken{Enable: true, Token: "pp"}
	cfg.Bark = config.PushToken{Enable: false, Token: "bk"}
	speed = 1.5

	opts := helperOptions(map[string]string{"socks5": "socks5://127.0.0.1:1080"})
	if opts.PushPlusToken != "pp" || opts.BarkToken != "" {
		t.Errorf("Expected only enabled push tokens, got %+v", opts)
	}
	if opts.Speed != 1.5 || opts.Proxies["socks5"] == "" {
		t.Errorf("Unexpected options: %+v", opts)
	}
}

func TestMask(t *testing.T) {
	if mask("") != "" || mask("secret") == "secret" {
		t.Error("Expected secrets masked and empty values kept")
	}
}
