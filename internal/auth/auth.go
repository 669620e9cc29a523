// Package auth produces authenticated sessions for the course client.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/zsyeh/coursepilot/internal/config"
	"github.com/zsyeh/coursepilot/internal/connectors"
	"github.com/zsyeh/coursepilot/internal/models"
)

// AuthTimeout is the maximum time to wait for a QR code to be confirmed.
const AuthTimeout = 5 * time.Minute

// ErrMissingCredentials is returned when a username or password is empty.
var ErrMissingCredentials = errors.New("username and password are required")

// AuthError is a fatal authentication failure. It requires human action and
// is never retried.
type AuthError struct {
	Strategy string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s login failed: %v", e.Strategy, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Strategy produces a fresh session.
type Strategy interface {
	Name() string
	Authenticate(ctx context.Context) (*models.Session, error)
}

// Presenter shows a QR image to the user. It must not block and may be
// called again when the code is refreshed.
type Presenter interface {
	Present(ctx context.Context, image []byte) error
}

// CredentialLogin signs in with a username and password.
type CredentialLogin struct {
	Client   connectors.CourseClient
	Username string
	Password string
}

// Name returns the strategy identifier.
func (c *CredentialLogin) Name() string { return "credentials" }

// Authenticate signs in through the client.
func (c *CredentialLogin) Authenticate(ctx context.Context) (*models.Session, error) {
	if c.Username == "" || c.Password == "" {
		return nil, &AuthError{Strategy: c.Name(), Err: ErrMissingCredentials}
	}
	sess, err := c.Client.LoginWithCredentials(ctx, c.Username, c.Password)
	if err != nil {
		return nil, &AuthError{Strategy: c.Name(), Err: err}
	}
	if sess.Empty() {
		return nil, &AuthError{Strategy: c.Name(), Err: errors.New("empty session returned")}
	}
	sess.IssuedVia = models.IssuedViaCredentials
	sess.IssuedAt = time.Now().UTC()
	return sess, nil
}

// QRLogin shows a QR code and waits for it to be scanned and confirmed.
type QRLogin struct {
	Client    connectors.CourseClient
	Presenter Presenter
	// Timeout bounds each confirmation wait. Zero means AuthTimeout.
	Timeout time.Duration
	// RefreshLimit is how many times an expired code is replaced.
	RefreshLimit int
	Logger       *slog.Logger
}

// Name returns the strategy identifier.
func (q *QRLogin) Name() string { return "qr" }

type confirmResult struct {
	session *models.Session
	err     error
}

// Authenticate runs the QR flow. A presenter implementing io.Closer is
// closed when the flow ends.
func (q *QRLogin) Authenticate(ctx context.Context) (*models.Session, error) {
	logger := q.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := q.Timeout
	if timeout <= 0 {
		timeout = AuthTimeout
	}
	if closer, ok := q.Presenter.(io.Closer); ok {
		defer closer.Close()
	}

	for refresh := 0; ; refresh++ {
		image, err := q.Client.BeginQRLogin(ctx)
		if err != nil {
			return nil, &AuthError{Strategy: q.Name(), Err: fmt.Errorf("requesting qr code: %w", err)}
		}
		if q.Presenter != nil {
			if err := q.Presenter.Present(ctx, image); err != nil {
				logger.Warn("failed to present qr code", "error", err)
			}
		}

		sess, err := q.confirm(ctx, timeout)
		if err == nil {
			sess.IssuedVia = models.IssuedViaQR
			sess.IssuedAt = time.Now().UTC()
			return sess, nil
		}
		if errors.Is(err, connectors.ErrQRExpired) && refresh < q.RefreshLimit {
			logger.Info("qr code expired, requesting a new one", "refresh", refresh+1, "limit", q.RefreshLimit)
			continue
		}
		return nil, &AuthError{Strategy: q.Name(), Err: err}
	}
}

// confirm waits for ConfirmQRLogin, giving up after timeout even if the
// client ignores its context.
func (q *QRLogin) confirm(ctx context.Context, timeout time.Duration) (*models.Session, error) {
	confirmCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan confirmResult, 1)
	go func() {
		s, err := q.Client.ConfirmQRLogin(confirmCtx)
		resultCh <- confirmResult{session: s, err: err}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil {
			return nil, r.err
		}
		if r.session.Empty() {
			return nil, errors.New("empty session returned")
		}
		return r.session, nil
	case <-confirmCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("authentication timed out after %v", timeout)
	}
}

// FromConfig selects the login strategy once, from configuration.
func FromConfig(cfg *config.Config, client connectors.CourseClient, presenter Presenter, logger *slog.Logger) Strategy {
	if cfg.QRLogin {
		return &QRLogin{
			Client:       client,
			Presenter:    presenter,
			RefreshLimit: cfg.QRExtra.RefreshLimit,
			Logger:       logger,
		}
	}
	return &CredentialLogin{
		Client:   client,
		Username: cfg.Username,
		Password: cfg.Password,
	}
}
