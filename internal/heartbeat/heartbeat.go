// Package heartbeat emits periodic liveness notifications while a run is in
// progress.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zsyeh/coursepilot/internal/config"
	"github.com/zsyeh/coursepilot/internal/models"
)

// Sender is the notification capability the heartbeat reports through.
type Sender interface {
	Send(ctx context.Context, ev models.NotificationEvent)
}

// Config tunes the heartbeat loop.
type Config struct {
	// Interval between two heartbeats.
	Interval time.Duration
	// Tick is the cancellation polling granularity.
	Tick time.Duration
	// StopTimeout bounds how long Stop waits for the loop to exit.
	StopTimeout time.Duration
}

// DefaultConfig returns the standard heartbeat timings.
func DefaultConfig() Config {
	return Config{
		Interval:    60 * time.Second,
		Tick:        time.Second,
		StopTimeout: 2 * time.Second,
	}
}

// FromConfig converts the file configuration.
func FromConfig(hb config.Heartbeat) Config {
	return Config{Interval: hb.Interval, Tick: hb.Tick, StopTimeout: hb.StopTimeout}
}

// Scheduler runs the heartbeat loop. It only runs when the report level is
// DEBUG.
type Scheduler struct {
	sender  Sender
	runtime config.Runtime
	config  Config
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	running bool
	beats   int
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a heartbeat scheduler.
func New(sender Sender, rt config.Runtime, cfg Config, logger *slog.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Tick <= 0 {
		cfg.Tick = def.Tick
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = def.StopTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		sender:  sender,
		runtime: rt,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Start begins the heartbeat loop. It does nothing unless the report level
// is DEBUG or when the loop is already running.
func (s *Scheduler) Start() {
	if !s.runtime.Debug() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.loop(ctx, s.done)
	s.logger.Info("heartbeat started", "interval", s.config.Interval)
}

// Stop signals the loop to exit and waits up to StopTimeout for it. It
// reports whether the loop quiesced in time; a loop that did not is
// abandoned.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return true
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
		s.logger.Debug("heartbeat stopped")
		return true
	case <-time.After(s.config.StopTimeout):
		s.logger.Warn("heartbeat did not stop in time", "timeout", s.config.StopTimeout)
		return false
	}
}

// Beats returns how many heartbeats were sent.
func (s *Scheduler) Beats() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.beats
}

// loop waits one tick at a time until a full interval has passed, then sends
// a heartbeat.
func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.Tick)
	defer ticker.Stop()

	var waited time.Duration
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			waited += s.config.Tick
			if waited < s.config.Interval {
				continue
			}
			waited = 0
			if ctx.Err() != nil {
				return
			}
			s.beat(ctx)
		}
	}
}

func (s *Scheduler) beat(ctx context.Context) {
	now := s.now()
	elapsed := s.runtime.Elapsed(now)
	s.logger.Debug("sending heartbeat", "elapsed", elapsed)

	s.sender.Send(ctx, models.NotificationEvent{
		Subject:  "[heartbeat] running",
		Body:     fmt.Sprintf("Still running.\nElapsed: %s\nTime: %s", elapsed, now.Format("15:04:05")),
		Severity: models.SeverityRoutine,
	})

	s.mu.Lock()
	s.beats++
	s.mu.Unlock()
}
