// Package connectors defines the course client interface for coursepilot.
package connectors

import (
	"context"
	"errors"

	"github.com/zsyeh/coursepilot/internal/models"
)

var (
	// ErrVerificationRequired means the platform demands human interaction
	// (a captcha or similar challenge) before the operation can proceed.
	ErrVerificationRequired = errors.New("human verification required")
	// ErrRejected means the platform refused the credentials or QR login.
	ErrRejected = errors.New("login rejected")
	// ErrQRExpired means the QR code expired before it was confirmed.
	ErrQRExpired = errors.New("qr code expired")
	// ErrUnsupported means the client does not implement the operation.
	ErrUnsupported = errors.New("operation not supported")
)

// CourseClient drives the remote learning platform. The session installed
// with UseSession is used for every later call.
type CourseClient interface {
	// Name returns the client identifier.
	Name() string

	// UseSession installs the session for subsequent calls.
	UseSession(s *models.Session)

	// Probe issues a cheap read-only call to check the installed session.
	Probe(ctx context.Context) (bool, error)

	// DiscoverCatalog lists every course the account can work on.
	DiscoverCatalog(ctx context.Context) ([]models.CatalogEntry, error)

	// CompleteItem drives one course, or one video of a course, to completion.
	CompleteItem(ctx context.Context, item models.WorkItem) error

	// ProcessExhaustive processes everything available on the account.
	ProcessExhaustive(ctx context.Context) error

	// BeginQRLogin starts a QR login and returns the PNG image to scan.
	BeginQRLogin(ctx context.Context) ([]byte, error)

	// ConfirmQRLogin blocks until the QR code is scanned and confirmed.
	ConfirmQRLogin(ctx context.Context) (*models.Session, error)

	// LoginWithCredentials signs in with a username and password.
	LoginWithCredentials(ctx context.Context, username, password string) (*models.Session, error)
}

// AICourseRunner is implemented by clients that can run AI courses.
type AICourseRunner interface {
	RunAICourse(ctx context.Context, courseID, classID string) error
}
