package config

import (
	"time"

	"github.com/zsyeh/coursepilot/internal/models"
)

// Runtime is the process-wide configuration fixed at startup: the report
// level and the run clock. It has no setters; build it once and share it.
type Runtime struct {
	reportLevel models.ReportLevel
	startedAt   time.Time
}

// NewRuntime captures the report level and the run clock start.
func NewRuntime(level models.ReportLevel, startedAt time.Time) Runtime {
	if level != models.ReportDebug {
		level = models.ReportRough
	}
	return Runtime{reportLevel: level, startedAt: startedAt}
}

// ReportLevel returns the notification verbosity.
func (r Runtime) ReportLevel() models.ReportLevel { return r.reportLevel }

// Debug reports whether routine notifications and the heartbeat are enabled.
func (r Runtime) Debug() bool { return r.reportLevel == models.ReportDebug }

// StartedAt returns the run clock start.
func (r Runtime) StartedAt() time.Time { return r.startedAt }

// Elapsed returns the run duration at now, truncated to whole seconds.
func (r Runtime) Elapsed(now time.Time) time.Duration {
	return now.Sub(r.startedAt).Truncate(time.Second)
}
