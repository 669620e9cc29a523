// Package fake provides an in-memory CourseClient for tests.
package fake

import (
	"context"
	"sync"

	"github.com/zsyeh/coursepilot/internal/connectors"
	"github.com/zsyeh/coursepilot/internal/models"
)

// Client is a scriptable connectors.CourseClient. Nil hooks succeed with zero
// values. Every call is recorded.
type Client struct {
	ProbeFunc      func(ctx context.Context, s *models.Session) (bool, error)
	CatalogFunc    func(ctx context.Context) ([]models.CatalogEntry, error)
	CompleteFunc   func(ctx context.Context, item models.WorkItem) error
	ExhaustiveFunc func(ctx context.Context) error
	QRBeginFunc    func(ctx context.Context) ([]byte, error)
	QRConfirmFunc  func(ctx context.Context) (*models.Session, error)
	LoginFunc      func(ctx context.Context, user, pass string) (*models.Session, error)
	AICourseFunc   func(ctx context.Context, courseID, classID string) error

	mu      sync.Mutex
	session *models.Session
	calls   []string
	items   []models.WorkItem
}

func (c *Client) record(op string) {
	c.mu.Lock()
	c.calls = append(c.calls, op)
	c.mu.Unlock()
}

// Calls returns the operations invoked so far, in order.
func (c *Client) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// Count returns how many times op was invoked.
func (c *Client) Count(op string) int {
	n := 0
	for _, call := range c.Calls() {
		if call == op {
			n++
		}
	}
	return n
}

// Completed returns the items passed to CompleteItem, in order.
func (c *Client) Completed() []models.WorkItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.WorkItem(nil), c.items...)
}

// Session returns the session last installed with UseSession.
func (c *Client) Session() *models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) Name() string { return "fake" }

func (c *Client) UseSession(s *models.Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
	c.record("use_session")
}

func (c *Client) Probe(ctx context.Context) (bool, error) {
	c.record("probe")
	if c.ProbeFunc == nil {
		return true, nil
	}
	return c.ProbeFunc(ctx, c.Session())
}

func (c *Client) DiscoverCatalog(ctx context.Context) ([]models.CatalogEntry, error) {
	c.record("catalog")
	if c.CatalogFunc == nil {
		return nil, nil
	}
	return c.CatalogFunc(ctx)
}

func (c *Client) CompleteItem(ctx context.Context, item models.WorkItem) error {
	c.record("complete")
	c.mu.Lock()
	c.items = append(c.items, item)
	c.mu.Unlock()
	if c.CompleteFunc == nil {
		return nil
	}
	return c.CompleteFunc(ctx, item)
}

func (c *Client) ProcessExhaustive(ctx context.Context) error {
	c.record("exhaustive")
	if c.ExhaustiveFunc == nil {
		return nil
	}
	return c.ExhaustiveFunc(ctx)
}

func (c *Client) BeginQRLogin(ctx context.Context) ([]byte, error) {
	c.record("qr_begin")
	if c.QRBeginFunc == nil {
		return []byte("qr"), nil
	}
	return c.QRBeginFunc(ctx)
}

func (c *Client) ConfirmQRLogin(ctx context.Context) (*models.Session, error) {
	c.record("qr_confirm")
	if c.QRConfirmFunc == nil {
		return &models.Session{Tokens: map[string]string{"sid": "qr"}, IssuedVia: models.IssuedViaQR}, nil
	}
	return c.QRConfirmFunc(ctx)
}

func (c *Client) LoginWithCredentials(ctx context.Context, user, pass string) (*models.Session, error) {
	c.record("login")
	if c.LoginFunc == nil {
		return &models.Session{Tokens: map[string]string{"sid": user}, IssuedVia: models.IssuedViaCredentials}, nil
	}
	return c.LoginFunc(ctx, user, pass)
}

func (c *Client) RunAICourse(ctx context.Context, courseID, classID string) error {
	c.record("ai_course")
	if c.AICourseFunc == nil {
		return nil
	}
	return c.AICourseFunc(ctx, courseID, classID)
}

var (
	_ connectors.CourseClient   = (*Client)(nil)
	_ connectors.AICourseRunner = (*Client)(nil)
)
