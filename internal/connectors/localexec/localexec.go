// Package localexec provides a CourseClient backed by a local helper
// executable. Each operation runs the helper once: the request is written to
// its stdin as JSON and the response is read from its stdout.
package localexec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/zsyeh/coursepilot/internal/connectors"
	"github.com/zsyeh/coursepilot/internal/models"
)

// Operations understood by the helper.
const (
	OpProbe      = "probe"
	OpCatalog    = "catalog"
	OpComplete   = "complete"
	OpExhaustive = "exhaustive"
	OpQRBegin    = "qr_begin"
	OpQRConfirm  = "qr_confirm"
	OpLogin      = "login"
	OpAICourse   = "ai_course"
)

// allowedOps defines the strict allowlist of helper operations.
var allowedOps = map[string]bool{
	OpProbe:      true,
	OpCatalog:    true,
	OpComplete:   true,
	OpExhaustive: true,
	OpQRBegin:    true,
	OpQRConfirm:  true,
	OpLogin:      true,
	OpAICourse:   true,
}

// Error kinds reported by the helper.
const (
	KindVerification = "verification"
	KindRejected     = "rejected"
	KindExpired      = "expired"
	KindUnsupported  = "unsupported"
)

// Options are forwarded to the helper with every request.
type Options struct {
	Speed           float64           `json:"speed,omitempty"`
	Threshold       float64           `json:"threshold,omitempty"`
	Limit           int               `json:"limit,omitempty"`
	NoExam          bool              `json:"noexam,omitempty"`
	Proxies         map[string]string `json:"proxies,omitempty"`
	TreeView        bool              `json:"tree_view"`
	ProgressbarView bool              `json:"progressbar_view"`
	ImagePath       string            `json:"image_path,omitempty"`
	PushPlusToken   string            `json:"pushplus_token,omitempty"`
	BarkToken       string            `json:"bark_token,omitempty"`
	AI              map[string]any    `json:"ai,omitempty"`
}

// Request is the JSON document written to the helper's stdin.
type Request struct {
	Op      string            `json:"op"`
	Session map[string]string `json:"session,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
	Options Options           `json:"options"`
}

// Response is the JSON document read from the helper's stdout.
type Response struct {
	OK      bool                  `json:"ok"`
	Error   string                `json:"error,omitempty"`
	Kind    string                `json:"kind,omitempty"`
	Valid   bool                  `json:"valid,omitempty"`
	Session map[string]string     `json:"session,omitempty"`
	Catalog []models.CatalogEntry `json:"catalog,omitempty"`
	Image   []byte                `json:"image,omitempty"`
	Token   string                `json:"token,omitempty"`
}

// LocalExec implements connectors.CourseClient by running a helper process.
type LocalExec struct {
	command string
	args    []string
	workDir string
	options Options
	stderr  io.Writer
	logger  *slog.Logger

	mu      sync.Mutex
	session map[string]string
	qrToken string
}

// New creates a new LocalExec client for the given helper command.
func New(command string, args []string, workDir string, opts Options, logger *slog.Logger) *LocalExec {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalExec{
		command: command,
		args:    args,
		workDir: workDir,
		options: opts,
		stderr:  os.Stderr,
		logger:  logger,
	}
}

// SetStderr redirects the helper's progress output.
func (l *LocalExec) SetStderr(w io.Writer) {
	l.stderr = w
}

// Name returns the client identifier.
func (l *LocalExec) Name() string {
	return "localexec"
}

// IsAllowed checks if an operation is in the allowlist.
func (l *LocalExec) IsAllowed(op string) bool {
	return allowedOps[op]
}

// UseSession installs the session for subsequent calls.
func (l *LocalExec) UseSession(s *models.Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s == nil {
		l.session = nil
		return
	}
	l.session = make(map[string]string, len(s.Tokens))
	for k, v := range s.Tokens {
		l.session[k] = v
	}
}

// Probe asks the helper whether the installed session is still accepted.
func (l *LocalExec) Probe(ctx context.Context) (bool, error) {
	resp, err := l.call(ctx, OpProbe, nil)
	if err != nil {
		return false, err
	}
	return resp.Valid, nil
}

// DiscoverCatalog lists every course the account can work on.
func (l *LocalExec) DiscoverCatalog(ctx context.Context) ([]models.CatalogEntry, error) {
	resp, err := l.call(ctx, OpCatalog, nil)
	if err != nil {
		return nil, err
	}
	return resp.Catalog, nil
}

// CompleteItem drives one course or video to completion.
func (l *LocalExec) CompleteItem(ctx context.Context, item models.WorkItem) error {
	params := map[string]string{
		"kind": string(item.Kind),
		"id":   item.ID,
	}
	if item.ParentID != "" {
		params["parent_id"] = item.ParentID
	}
	_, err := l.call(ctx, OpComplete, params)
	return err
}

// ProcessExhaustive processes everything available on the account.
func (l *LocalExec) ProcessExhaustive(ctx context.Context) error {
	_, err := l.call(ctx, OpExhaustive, nil)
	return err
}

// BeginQRLogin starts a QR login and returns the image to scan.
func (l *LocalExec) BeginQRLogin(ctx context.Context) ([]byte, error) {
	resp, err := l.call(ctx, OpQRBegin, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Image) == 0 {
		return nil, fmt.Errorf("helper returned no qr image")
	}
	l.mu.Lock()
	l.qrToken = resp.Token
	l.mu.Unlock()
	return resp.Image, nil
}

// ConfirmQRLogin blocks until the helper reports the QR code confirmed.
func (l *LocalExec) ConfirmQRLogin(ctx context.Context) (*models.Session, error) {
	l.mu.Lock()
	token := l.qrToken
	l.mu.Unlock()

	var params map[string]string
	if token != "" {
		params = map[string]string{"token": token}
	}
	resp, err := l.call(ctx, OpQRConfirm, params)
	if err != nil {
		return nil, err
	}
	return l.adopt(resp.Session, models.IssuedViaQR)
}

// LoginWithCredentials signs in with a username and password.
func (l *LocalExec) LoginWithCredentials(ctx context.Context, username, password string) (*models.Session, error) {
	resp, err := l.call(ctx, OpLogin, map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	return l.adopt(resp.Session, models.IssuedViaCredentials)
}

// RunAICourse runs one AI course through the helper.
func (l *LocalExec) RunAICourse(ctx context.Context, courseID, classID string) error {
	_, err := l.call(ctx, OpAICourse, map[string]string{
		"course_id": courseID,
		"class_id":  classID,
	})
	return err
}

func (l *LocalExec) adopt(tokens map[string]string, via models.IssuedVia) (*models.Session, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("helper returned an empty session")
	}
	s := &models.Session{Tokens: tokens, IssuedVia: via}
	l.UseSession(s)
	return s, nil
}

// call runs the helper for op and decodes its response.
func (l *LocalExec) call(ctx context.Context, op string, params map[string]string) (*Response, error) {
	if !l.IsAllowed(op) {
		return nil, fmt.Errorf("operation not allowed: %s", op)
	}
	if l.command == "" {
		return nil, fmt.Errorf("no helper command configured")
	}

	l.mu.Lock()
	req := Request{Op: op, Session: l.session, Params: params, Options: l.options}
	payload, err := json.Marshal(req)
	l.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	execCmd := exec.CommandContext(ctx, l.command, l.args...)
	if l.workDir != "" {
		execCmd.Dir = l.workDir
	}

	var stdout bytes.Buffer
	execCmd.Stdin = bytes.NewReader(payload)
	execCmd.Stdout = &stdout
	execCmd.Stderr = l.stderr

	l.logger.Debug("running helper", "op", op, "command", l.command)
	runErr := execCmd.Run()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var resp Response
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &resp); err != nil {
		if runErr != nil {
			return nil, fmt.Errorf("helper %s failed: %w", op, runErr)
		}
		return nil, fmt.Errorf("decoding helper response: %w", err)
	}

	if !resp.OK {
		return nil, responseError(op, &resp, runErr)
	}
	return &resp, nil
}

// responseError maps a failed response to an error, wrapping the connector
// sentinel that matches its kind.
func responseError(op string, resp *Response, runErr error) error {
	msg := strings.TrimSpace(resp.Error)
	if msg == "" {
		msg = op + " failed"
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			msg = fmt.Sprintf("%s (exit %d)", msg, exitErr.ExitCode())
		}
	}

	switch resp.Kind {
	case KindVerification:
		return fmt.Errorf("%s: %w", msg, connectors.ErrVerificationRequired)
	case KindRejected:
		return fmt.Errorf("%s: %w", msg, connectors.ErrRejected)
	case KindExpired:
		return fmt.Errorf("%s: %w", msg, connectors.ErrQRExpired)
	case KindUnsupported:
		return fmt.Errorf("%s: %w", msg, connectors.ErrUnsupported)
	}
	return errors.New(msg)
}

var (
	_ connectors.CourseClient   = (*LocalExec)(nil)
	_ connectors.AICourseRunner = (*LocalExec)(nil)
)
