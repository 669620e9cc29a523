package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zsyeh/coursepilot/internal/audit"
	"github.com/zsyeh/coursepilot/internal/auth"
	"github.com/zsyeh/coursepilot/internal/config"
	"github.com/zsyeh/coursepilot/internal/connectors/localexec"
	"github.com/zsyeh/coursepilot/internal/heartbeat"
	"github.com/zsyeh/coursepilot/internal/models"
	"github.com/zsyeh/coursepilot/internal/notify"
	"github.com/zsyeh/coursepilot/internal/orchestrator"
	"github.com/zsyeh/coursepilot/internal/proxy"
	"github.com/zsyeh/coursepilot/internal/qr"
	"github.com/zsyeh/coursepilot/internal/queue"
	"github.com/zsyeh/coursepilot/internal/session"
	"github.com/zsyeh/coursepilot/internal/store"
	"github.com/zsyeh/coursepilot/internal/update"
)

// httpTimeout bounds requests made by push transports and the update check.
const httpTimeout = 30 * time.Second

var (
	courses         []string
	videos          []string
	username        string
	password        string
	speed           float64
	threshold       float64
	limit           int
	qrLogin         bool
	passwordLogin   bool
	fetchOnly       bool
	processAll      bool
	aiCourse        []string
	noExam          bool
	showInTerminal  bool
	proxyFlag       string
	treeView        bool
	progressbarView bool
	imagePath       string
	noLedger        bool
	noUpdateCheck   bool
)

func init() {
	f := rootCmd.Flags()
	f.StringSliceVarP(&courses, "course", "c", nil, "course ids to complete (repeatable)")
	f.StringSliceVarP(&videos, "videos", "v", nil, "only complete these video ids")
	f.StringVarP(&username, "username", "u", "", "login username")
	f.StringVarP(&password, "password", "p", "", "login password")
	f.Float64VarP(&speed, "speed", "s", 0, "video playback speed")
	f.Float64VarP(&threshold, "threshold", "t", 0, "video end threshold")
	f.IntVarP(&limit, "limit", "l", 0, "time limit per course in minutes (0 = none)")
	f.BoolVarP(&qrLogin, "qrlogin", "q", false, "log in by scanning a QR code")
	f.BoolVar(&passwordLogin, "password-login", false, "log in with username and password")
	f.BoolVarP(&fetchOnly, "fetch", "f", false, "save the course list to the manifest and exit")
	f.BoolVar(&processAll, "all", false, "process everything available without resolving a queue")
	f.StringSliceVar(&aiCourse, "ai", nil, "run one AI course: COURSE_ID,CLASS_ID")
	f.BoolVar(&noExam, "noexam", false, "skip the AI course exam")
	f.BoolVar(&showInTerminal, "show-in-terminal", false, "print QR codes in the terminal")
	f.StringVar(&proxyFlag, "proxy", "", "proxy URL (http://, https://, socks5:// or all://)")
	f.BoolVar(&treeView, "tree-view", true, "show the course tree")
	f.BoolVar(&progressbarView, "progressbar-view", true, "show progress bars")
	f.StringVar(&imagePath, "image-path", "", "directory for captcha images")
	f.BoolVar(&noLedger, "no-ledger", false, "do not record this run in the ledger")
	f.BoolVar(&noUpdateCheck, "no-update-check", false, "skip the new version check")

	rootCmd.MarkFlagsMutuallyExclusive("qrlogin", "password-login")
}

func runRoot(cmd *cobra.Command, args []string) error {
	applyFlags(cmd)

	opts, err := runOptions()
	if err != nil {
		return err
	}

	proxies, err := proxy.Parse(proxyFlag, cfg.Proxies)
	if err != nil {
		return err
	}
	httpClient, err := proxy.HTTPClient(proxies, httpTimeout)
	if err != nil {
		return fmt.Errorf("configuring proxy: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !noUpdateCheck {
		checkForUpdate(ctx, update.NewChecker(httpClient, update.DefaultMeta(), config.ExpandPath("~/.coursepilot")))
	}

	workDir := resolvePath(cfg.Helper.WorkDir)
	searchDir := workDir
	if searchDir == "" {
		searchDir = filepath.Dir(configPath)
	}
	helper, err := localexec.Locate(cfg.Helper.Command, searchDir)
	if err != nil {
		return err
	}
	logger.Debug("using helper", "path", helper)

	client := localexec.New(helper, cfg.Helper.Args, workDir, helperOptions(proxies), logger)
	client.SetStderr(os.Stderr)

	rt := config.NewRuntime(models.ParseReportLevel(cfg.ReportLevel), time.Now())
	gateway := notify.NewGateway(rt.ReportLevel(), notify.FromConfig(cfg, httpClient, logger), logger)
	logger.Debug("notification transports", "transports", gateway.Transports(), "report_level", rt.ReportLevel())

	deps := orchestrator.Deps{
		Client:         client,
		PersistSession: cfg.SaveCookies,
		Strategy:       auth.FromConfig(cfg, client, qr.FromConfig(cfg.QRExtra, filepath.Dir(configPath), os.Stdout, logger), logger),
		Resolver:       queue.NewResolver(client, resolvePath(cfg.Paths.Manifest), logger),
		Notifier:       gateway,
		Heartbeat:      heartbeat.New(gateway, rt, heartbeat.FromConfig(cfg.Heartbeat), logger),
		Classifier:     orchestrator.NewClassifier(cfg.VerificationMarkers...),
		Runtime:        rt,
		Logger:         logger,
	}
	if cfg.SaveCookies {
		deps.Sessions = session.NewStore(resolvePath(cfg.Paths.Session), logger)
	}
	if !noLedger {
		ledger, err := store.New(resolvePath(cfg.Paths.Ledger))
		if err != nil {
			logger.Warn("run ledger unavailable, continuing without it", "error", err)
		} else {
			defer ledger.Close()
			deps.Journal = audit.NewRecorder(ledger)
			deps.OnRunStarted = func(runID string) { gateway.SetJournal(ledger, runID) }
		}
	}

	out, err := orchestrator.New(deps).Run(ctx, opts)
	if err != nil {
		return &exitError{code: out.ExitCode, err: err}
	}

	logger.Info("run finished",
		"state", out.State,
		"mode", out.Mode,
		"completed", len(out.Completed),
		"remaining_courses", len(out.RemainingCourses),
		"remaining_videos", len(out.RemainingVideos),
		"elapsed", rt.Elapsed(time.Now()),
		"run_id", out.RunID,
	)
	if out.ExitCode != orchestrator.ExitOK {
		return &exitError{code: out.ExitCode, err: fmt.Errorf("run ended in %s", out.State)}
	}
	return nil
}

// applyFlags lets explicitly set flags override configuration values.
func applyFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	if username != "" {
		cfg.Username = username
	}
	if password != "" {
		cfg.Password = password
	}
	switch {
	case qrLogin:
		cfg.QRLogin = true
	case passwordLogin:
		cfg.QRLogin = false
	case username != "" && password != "":
		cfg.QRLogin = false
	}
	if f.Changed("show-in-terminal") {
		cfg.QRExtra.ShowInTerminal = &showInTerminal
	}
	if f.Changed("tree-view") {
		cfg.TreeView = treeView
	}
	if f.Changed("progressbar-view") {
		cfg.ProgressbarView = progressbarView
	}
	if imagePath != "" {
		cfg.ImagePath = imagePath
	}
}

func runOptions() (orchestrator.Options, error) {
	opts := orchestrator.Options{
		Courses:    courses,
		Videos:     videos,
		FetchOnly:  fetchOnly,
		Exhaustive: processAll,
	}
	if len(aiCourse) > 0 {
		if len(aiCourse) != 2 || strings.TrimSpace(aiCourse[0]) == "" || strings.TrimSpace(aiCourse[1]) == "" {
			return opts, fmt.Errorf("--ai expects COURSE_ID,CLASS_ID")
		}
		opts.AICourseID = strings.TrimSpace(aiCourse[0])
		opts.AIClassID = strings.TrimSpace(aiCourse[1])
	}
	return opts, nil
}

func helperOptions(proxies map[string]string) localexec.Options {
	opts := localexec.Options{
		Speed:           speed,
		Threshold:       threshold,
		Limit:           limit,
		NoExam:          noExam,
		Proxies:         proxies,
		TreeView:        cfg.TreeView,
		ProgressbarView: cfg.ProgressbarView,
		ImagePath:       resolvePath(cfg.ImagePath),
		AI:              cfg.AI,
	}
	if cfg.PushPlus.Enable {
		opts.PushPlusToken = cfg.PushPlus.Token
	}
	if cfg.Bark.Enable {
		opts.BarkToken = cfg.Bark.Token
	}
	return opts
}

func checkForUpdate(ctx context.Context, checker *update.Checker) {
	newer, latest, err := checker.Check(ctx)
	if err != nil {
		logger.Debug("update check failed", "error", err)
		return
	}
	if newer {
		logger.Info("new version available", "current", update.GetCurrentVersion(), "latest", latest)
	}
}
