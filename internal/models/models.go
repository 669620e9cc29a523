// Package models defines the core domain types for coursepilot.
package models

import (
	"strings"
	"time"
)

// ItemKind identifies what a work item points at.
type ItemKind string

const (
	ItemKindCourse ItemKind = "course"
	ItemKindVideo  ItemKind = "video"
)

// WorkItem is one schedulable unit the orchestrator attempts to complete.
type WorkItem struct {
	Kind     ItemKind `json:"kind"`
	ID       string   `json:"id"`
	ParentID string   `json:"parent_id,omitempty"` // course of a video
	Name     string   `json:"name,omitempty"`
}

// Label returns the most readable identifier for logs and notifications.
func (w WorkItem) Label() string {
	if w.Name != "" && w.Name != w.ID {
		return w.Name + " (" + w.ID + ")"
	}
	return w.ID
}

// Course builds a course work item.
func Course(id string) WorkItem {
	return WorkItem{Kind: ItemKindCourse, ID: id}
}

// Video builds a video work item nested in a course.
func Video(courseID, videoID string) WorkItem {
	return WorkItem{Kind: ItemKindVideo, ID: videoID, ParentID: courseID}
}

// IssuedVia records how a session came to exist.
type IssuedVia string

const (
	IssuedViaCredentials IssuedVia = "credentials"
	IssuedViaQR          IssuedVia = "qr"
	IssuedViaRestored    IssuedVia = "restored"
)

// Session is the opaque authenticated-identity token set the course client
// needs for subsequent calls.
type Session struct {
	Tokens    map[string]string `json:"tokens"`
	IssuedVia IssuedVia         `json:"issued_via"`
	IssuedAt  time.Time         `json:"issued_at"`
}

// Empty reports whether the session carries no tokens at all.
func (s *Session) Empty() bool {
	return s == nil || len(s.Tokens) == 0
}

// Severity of a notification.
type Severity string

const (
	SeverityRoutine Severity = "routine"
	SeverityAlert   Severity = "alert"
)

// NotificationEvent is a message handed to the notification gateway.
// Force bypasses the configured report level and is reserved for terminal,
// fatal and per-item failure events.
type NotificationEvent struct {
	Subject  string   `json:"subject"`
	Body     string   `json:"body"`
	Severity Severity `json:"severity"`
	Force    bool     `json:"force"`
}

// ReportLevel is the process-wide notification verbosity.
type ReportLevel string

const (
	// ReportRough only delivers forced notifications and disables the heartbeat.
	ReportRough ReportLevel = "ROUGH"
	// ReportDebug delivers routine notifications and enables the heartbeat.
	ReportDebug ReportLevel = "DEBUG"
)

// ParseReportLevel maps a configuration value to a ReportLevel. Anything
// other than DEBUG (case-insensitive) is ROUGH.
func ParseReportLevel(s string) ReportLevel {
	if strings.EqualFold(strings.TrimSpace(s), string(ReportDebug)) {
		return ReportDebug
	}
	return ReportRough
}

// CourseSource distinguishes the two catalog families the platform exposes.
type CourseSource string

const (
	// SourceShare courses are addressed by an opaque secret token.
	SourceShare CourseSource = "share"
	// SourceHike courses are addressed by a numeric course id.
	SourceHike CourseSource = "hike"
)

// CatalogEntry is a course as reported by discovery.
type CatalogEntry struct {
	Name     string       `json:"name"`
	Source   CourseSource `json:"source"`
	Secret   string       `json:"secret,omitempty"`
	CourseID int64        `json:"course_id,omitempty"`
}

// RunState is a state of the orchestrator state machine.
type RunState string

const (
	StateInit          RunState = "INIT"
	StateAuthenticated RunState = "AUTHENTICATED"
	StateQueued        RunState = "QUEUED"
	StateProcessing    RunState = "PROCESSING"
	StateDrained       RunState = "DRAINED"
	StateFatalAuth     RunState = "FATAL_AUTH"
	StateInterrupted   RunState = "INTERRUPTED"
)

// Terminal reports whether no further transition is possible.
func (s RunState) Terminal() bool {
	switch s {
	case StateDrained, StateFatalAuth, StateInterrupted:
		return true
	}
	return false
}

// RunMode describes which path a run took.
type RunMode string

const (
	ModeCourses    RunMode = "courses"
	ModeVideos     RunMode = "videos"
	ModeExhaustive RunMode = "exhaustive"
	ModeFetch      RunMode = "fetch"
	ModeAICourse   RunMode = "ai_course"
)

// AttemptOutcome classifies one completion attempt.
type AttemptOutcome string

const (
	OutcomeCompleted    AttemptOutcome = "completed"
	OutcomeFailed       AttemptOutcome = "failed"
	OutcomeVerification AttemptOutcome = "verification_required"
	OutcomeInterrupted  AttemptOutcome = "interrupted"
)

// RunRecord is one orchestrator run as stored in the ledger.
type RunRecord struct {
	ID        string     `json:"id"`
	Mode      RunMode    `json:"mode"`
	State     RunState   `json:"state"`
	ExitCode  int        `json:"exit_code"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Completed int        `json:"completed"`
	Failed    int        `json:"failed"`
}

// AttemptRecord is one completion attempt inside a run.
type AttemptRecord struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	Kind      ItemKind       `json:"kind"`
	ItemID    string         `json:"item_id"`
	ParentID  string         `json:"parent_id,omitempty"`
	Outcome   AttemptOutcome `json:"outcome"`
	Error     string         `json:"error,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
}

// NotificationRecord is one gateway decision as stored in the ledger.
type NotificationRecord struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id,omitempty"`
	Subject   string    `json:"subject"`
	Severity  Severity  `json:"severity"`
	Forced    bool      `json:"forced"`
	Delivered bool      `json:"delivered"`
	Failures  int       `json:"failures"`
	CreatedAt time.Time `json:"created_at"`
}

// DecisionRecord is an audit entry for a state-changing orchestrator decision.
type DecisionRecord struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id,omitempty"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	ItemID     string    `json:"item_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
