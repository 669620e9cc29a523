// Package notify delivers notifications through the configured transports,
// gated by the report level.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zsyeh/coursepilot/internal/models"
)

// Transport delivers one message to one service.
type Transport interface {
	Name() string
	Send(ctx context.Context, subject, body string) error
}

// TransportError is a delivery failure of a single transport. It is logged
// and never propagated to the caller of Gateway.Send.
type TransportError struct {
	Transport string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Transport, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Journal records gateway decisions.
type Journal interface {
	RecordNotification(ctx context.Context, rec models.NotificationRecord) error
}

// Gateway fans notifications out to transports. It is safe for concurrent use.
type Gateway struct {
	level      models.ReportLevel
	transports []Transport
	logger     *slog.Logger

	mu      sync.RWMutex
	journal Journal
	runID   string
}

// NewGateway creates a gateway for the given report level.
func NewGateway(level models.ReportLevel, transports []Transport, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		level:      level,
		transports: transports,
		logger:     logger,
	}
}

// SetJournal attaches a journal; later sends are recorded under runID.
func (g *Gateway) SetJournal(j Journal, runID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.journal = j
	g.runID = runID
}

// Transports returns the names of the configured transports.
func (g *Gateway) Transports() []string {
	names := make([]string, 0, len(g.transports))
	for _, t := range g.transports {
		names = append(names, t.Name())
	}
	return names
}

// Send delivers ev if it is forced or the report level is DEBUG. Every
// transport runs concurrently; Send returns once all of them finished.
// Failures are logged and never returned.
func (g *Gateway) Send(ctx context.Context, ev models.NotificationEvent) {
	deliver := ev.Force || g.level == models.ReportDebug
	if !deliver {
		g.logger.Debug("notification suppressed", "subject", ev.Subject, "severity", ev.Severity)
		g.record(ctx, ev, false, 0)
		return
	}

	errs := g.fanOut(ctx, ev)
	for _, err := range errs {
		g.logger.Warn("notification delivery failed", "subject", ev.Subject, "error", err)
	}
	if len(g.transports) == 0 {
		g.logger.Debug("no notification transports configured", "subject", ev.Subject)
	}
	g.record(ctx, ev, true, len(errs))
}

func (g *Gateway) fanOut(ctx context.Context, ev models.NotificationEvent) []error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, t := range g.transports {
		wg.Add(1)
		go func(t Transport) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					errs = append(errs, &TransportError{Transport: t.Name(), Err: fmt.Errorf("panic: %v", r)})
					mu.Unlock()
				}
			}()
			if err := t.Send(ctx, ev.Subject, ev.Body); err != nil {
				mu.Lock()
				errs = append(errs, &TransportError{Transport: t.Name(), Err: err})
				mu.Unlock()
				return
			}
			g.logger.Debug("notification delivered", "transport", t.Name(), "subject", ev.Subject)
		}(t)
	}
	wg.Wait()
	return errs
}

func (g *Gateway) record(ctx context.Context, ev models.NotificationEvent, delivered bool, failures int) {
	g.mu.RLock()
	j, runID := g.journal, g.runID
	g.mu.RUnlock()
	if j == nil {
		return
	}

	rec := models.NotificationRecord{
		ID:        uuid.New().String(),
		RunID:     runID,
		Subject:   ev.Subject,
		Severity:  ev.Severity,
		Forced:    ev.Force,
		Delivered: delivered,
		Failures:  failures,
		CreatedAt: time.Now().UTC(),
	}
	if err := j.RecordNotification(ctx, rec); err != nil {
		g.logger.Warn("failed to journal notification", "error", err)
	}
}
