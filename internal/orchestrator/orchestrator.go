// Package orchestrator runs the course completion state machine:
// authenticate, resolve the work queue, process it, and report the outcome.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/zsyeh/coursepilot/internal/auth"
	"github.com/zsyeh/coursepilot/internal/config"
	"github.com/zsyeh/coursepilot/internal/connectors"
	"github.com/zsyeh/coursepilot/internal/models"
	"github.com/zsyeh/coursepilot/internal/queue"
	"github.com/zsyeh/coursepilot/internal/session"
)

// Exit codes of a run.
const (
	ExitOK    = 0
	ExitFatal = 1
)

// Notifier delivers notification events.
type Notifier interface {
	Send(ctx context.Context, ev models.NotificationEvent)
}

// Heartbeat is the background liveness loop.
type Heartbeat interface {
	Start()
	Stop() bool
}

// SessionStore persists the authenticated session.
type SessionStore interface {
	Load() (*models.Session, bool)
	Save(s *models.Session) error
}

// Journal records the run in the ledger. Journal failures are logged and
// never affect the run.
type Journal interface {
	StartRun(ctx context.Context, mode models.RunMode) (string, error)
	Transition(ctx context.Context, runID string, mode models.RunMode, state models.RunState) error
	RecordAttempt(ctx context.Context, rec models.AttemptRecord) error
	FinishRun(ctx context.Context, runID string, state models.RunState, exitCode int) error
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Client   connectors.CourseClient
	Sessions SessionStore
	// PersistSession saves freshly authenticated sessions.
	PersistSession bool
	Strategy       auth.Strategy
	Resolver       *queue.Resolver
	Notifier       Notifier
	Heartbeat      Heartbeat
	Journal        Journal
	Classifier     *Classifier
	Runtime        config.Runtime
	Logger         *slog.Logger
	// OnRunStarted is called with the ledger run id once it exists.
	OnRunStarted func(runID string)
}

// Options select what a run does.
type Options struct {
	// Courses are explicit course ids.
	Courses []string
	// Videos switches to video mode: only these videos are completed.
	Videos []string
	// FetchOnly discovers courses, saves the manifest and stops.
	FetchOnly bool
	// Exhaustive skips queue resolution and processes everything.
	Exhaustive bool
	// AICourseID and AIClassID run a single AI course when both are set.
	AICourseID string
	AIClassID  string
}

func (o Options) mode() models.RunMode {
	switch {
	case o.FetchOnly:
		return models.ModeFetch
	case o.AICourseID != "" || o.AIClassID != "":
		return models.ModeAICourse
	case o.Exhaustive:
		return models.ModeExhaustive
	case len(o.Videos) > 0:
		return models.ModeVideos
	}
	return models.ModeCourses
}

// Outcome summarizes a finished run.
type Outcome struct {
	RunID            string
	Mode             models.RunMode
	State            models.RunState
	ExitCode         int
	Completed        []string
	RemainingCourses []string
	RemainingVideos  []string
}

// Orchestrator drives one run at a time.
type Orchestrator struct {
	client         connectors.CourseClient
	sessions       SessionStore
	persistSession bool
	strategy       auth.Strategy
	resolver       *queue.Resolver
	notifier       Notifier
	heartbeat      Heartbeat
	journal        Journal
	classifier     *Classifier
	runtime        config.Runtime
	logger         *slog.Logger
	onRunStarted   func(string)

	mu    sync.Mutex
	state models.RunState
	runID string
	mode  models.RunMode
}

// New creates an orchestrator. Nil Heartbeat, Journal and Classifier get
// no-op or default implementations.
func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		client:         d.Client,
		sessions:       d.Sessions,
		persistSession: d.PersistSession,
		strategy:       d.Strategy,
		resolver:       d.Resolver,
		notifier:       d.Notifier,
		heartbeat:      d.Heartbeat,
		journal:        d.Journal,
		classifier:     d.Classifier,
		runtime:        d.Runtime,
		logger:         d.Logger,
		onRunStarted:   d.OnRunStarted,
		state:          models.StateInit,
	}
	if o.heartbeat == nil {
		o.heartbeat = noopHeartbeat{}
	}
	if o.journal == nil {
		o.journal = noopJournal{}
	}
	if o.classifier == nil {
		o.classifier = NewClassifier()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// State returns the current state.
func (o *Orchestrator) State() models.RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Run executes one run. The returned error is non-nil only for a fatal
// authentication failure; every other failure is reported through
// notifications and the outcome.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Outcome, error) {
	o.mu.Lock()
	o.state = models.StateInit
	o.mode = opts.mode()
	o.mu.Unlock()

	runID, err := o.journal.StartRun(ctx, o.mode)
	if err != nil {
		o.logger.Warn("failed to journal run start", "error", err)
	}
	o.runID = runID
	if runID != "" && o.onRunStarted != nil {
		o.onRunStarted(runID)
	}

	out := &Outcome{RunID: runID, Mode: o.mode}
	defer func() {
		out.State = o.State()
		if o.runID == "" {
			return
		}
		if err := o.journal.FinishRun(context.WithoutCancel(ctx), o.runID, out.State, out.ExitCode); err != nil {
			o.logger.Warn("failed to journal run finish", "error", err)
		}
	}()

	if err := o.authenticate(ctx); err != nil {
		if ctx.Err() != nil {
			o.interrupted(ctx)
			return out, nil
		}
		o.transition(ctx, models.StateFatalAuth)
		o.notify(ctx, models.NotificationEvent{
			Subject:  "[fatal] login failed",
			Body:     fmt.Sprintf("Login failed and needs your attention. The run has stopped.\nError: %v", err),
			Severity: models.SeverityAlert,
			Force:    true,
		})
		out.ExitCode = ExitFatal
		return out, err
	}
	o.transition(ctx, models.StateAuthenticated)

	o.heartbeat.Start()
	defer o.heartbeat.Stop()

	if opts.FetchOnly {
		o.fetch(ctx)
		return out, nil
	}

	if opts.mode() == models.ModeAICourse {
		o.transition(ctx, models.StateProcessing)
		o.runAICourse(ctx, opts.AICourseID, opts.AIClassID)
		return out, nil
	}

	var q *queue.Queue
	if !opts.Exhaustive {
		q, err = o.resolver.Resolve(ctx, opts.Courses)
		if err != nil {
			o.interrupted(ctx)
			return out, nil
		}
		o.logger.Info("work queue resolved", "source", q.Source, "items", len(q.Items))
	}
	o.transition(ctx, models.StateQueued)

	if q.Empty() {
		o.setMode(models.ModeExhaustive)
		out.Mode = models.ModeExhaustive
		o.transition(ctx, models.StateProcessing)
		o.runExhaustive(ctx)
		return out, nil
	}

	o.transition(ctx, models.StateProcessing)
	o.walk(ctx, q, opts.Videos, out)
	return out, nil
}

// authenticate restores the stored session when it still passes the probe,
// otherwise runs the login strategy and persists the new session.
func (o *Orchestrator) authenticate(ctx context.Context) error {
	if o.sessions != nil {
		if sess, ok := o.sessions.Load(); ok {
			if session.Probe(ctx, sess, o.client, o.logger) {
				o.logger.Info("restored saved session")
				return nil
			}
			o.logger.Info("saved session is no longer valid, logging in again")
			o.client.UseSession(nil)
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if o.strategy == nil {
		return &auth.AuthError{Strategy: "none", Err: errors.New("no login strategy configured")}
	}
	o.logger.Info("logging in", "strategy", o.strategy.Name())
	sess, err := o.strategy.Authenticate(ctx)
	if err != nil {
		return err
	}
	o.client.UseSession(sess)

	if o.persistSession && o.sessions != nil {
		if err := o.sessions.Save(sess); err != nil {
			o.logger.Warn("failed to save session", "error", err)
		}
	}
	return nil
}

func (o *Orchestrator) fetch(ctx context.Context) {
	entries, err := o.resolver.FetchAndSave(ctx)
	if ctx.Err() != nil {
		o.interrupted(ctx)
		return
	}
	defer o.finish(ctx, models.StateDrained)
	if err != nil {
		o.logger.Error("fetching courses failed", "error", err)
		o.notify(ctx, models.NotificationEvent{
			Subject:  "[error] course fetch failed",
			Body:     fmt.Sprintf("Could not fetch the course list.\nError: %v", err),
			Severity: models.SeverityAlert,
			Force:    true,
		})
		return
	}
	for _, e := range entries {
		o.logger.Info("course", "name", e.Name, "id", e.ID)
	}
}

func (o *Orchestrator) runAICourse(ctx context.Context, courseID, classID string) {
	var err error
	runner, ok := o.client.(connectors.AICourseRunner)
	switch {
	case courseID == "" || classID == "":
		err = ErrMissingAICourse
	case !ok:
		err = ErrNoAICourseSupport
	default:
		err = runner.RunAICourse(ctx, courseID, classID)
	}
	if ctx.Err() != nil {
		o.interrupted(ctx)
		return
	}

	if err != nil {
		o.logger.Error("AI course failed", "course", courseID, "class", classID, "error", err)
		o.notify(ctx, models.NotificationEvent{
			Subject:  "[error] AI course failed",
			Body:     fmt.Sprintf("AI course %s (class %s) failed.\nError: %v", courseID, classID, err),
			Severity: models.SeverityAlert,
			Force:    true,
		})
	}
	o.notify(ctx, models.NotificationEvent{
		Subject:  "[done] AI course finished",
		Body:     fmt.Sprintf("AI course %s (class %s) finished after %s.", courseID, classID, o.elapsed()),
		Severity: models.SeverityRoutine,
		Force:    true,
	})
	o.finish(ctx, models.StateDrained)
}

func (o *Orchestrator) runExhaustive(ctx context.Context) {
	o.logger.Info("no courses resolved, processing everything available")
	err := o.client.ProcessExhaustive(ctx)
	if ctx.Err() != nil {
		o.interrupted(ctx)
		return
	}

	if err != nil {
		o.logger.Error("exhaustive run failed", "error", err)
		o.notify(ctx, models.NotificationEvent{
			Subject:  "[error] exhaustive run failed",
			Body:     fmt.Sprintf("Processing everything available failed.\nError: %v", err),
			Severity: models.SeverityAlert,
			Force:    true,
		})
	} else {
		o.notify(ctx, models.NotificationEvent{
			Subject:  "[done] all complete",
			Body:     fmt.Sprintf("All available work finished in %s.", o.elapsed()),
			Severity: models.SeverityRoutine,
			Force:    true,
		})
	}
	o.finish(ctx, models.StateDrained)
}

// walk processes the queue snapshot once, in order.
func (o *Orchestrator) walk(ctx context.Context, q *queue.Queue, videoIDs []string, out *Outcome) {
	courses := queue.NewPending(q.IDs())
	var videos *queue.Pending
	if len(videoIDs) > 0 {
		videos = queue.NewPending(videoIDs)
	}

	for _, course := range q.Items {
		if ctx.Err() != nil {
			break
		}
		if videos != nil {
			o.processVideos(ctx, course, videos, out)
			continue
		}
		if o.processCourse(ctx, course) {
			courses.Remove(course.ID)
			out.Completed = append(out.Completed, course.ID)
		}
	}

	out.RemainingCourses = courses.Snapshot()
	if videos != nil {
		out.RemainingVideos = videos.Snapshot()
		out.RemainingCourses = nil
	}

	if ctx.Err() != nil {
		o.interrupted(ctx)
		return
	}

	switch {
	case len(out.RemainingVideos) > 0:
		o.notify(ctx, models.NotificationEvent{
			Subject: "[done] videos remaining",
			Body: fmt.Sprintf("Finished after %s with %d video(s) outstanding:\n%s",
				o.elapsed(), len(out.RemainingVideos), bullets(out.RemainingVideos)),
			Severity: models.SeverityAlert,
			Force:    true,
		})
	default:
		body := fmt.Sprintf("All work finished in %s.", o.elapsed())
		if len(out.RemainingCourses) > 0 {
			body += fmt.Sprintf("\nStill queued after failures:\n%s", bullets(out.RemainingCourses))
		}
		o.notify(ctx, models.NotificationEvent{
			Subject:  "[done] all complete",
			Body:     body,
			Severity: models.SeverityRoutine,
			Force:    true,
		})
	}
	o.finish(ctx, models.StateDrained)
}

// processCourse completes one course and reports whether it succeeded.
// Every failure is escalated with a forced alert.
func (o *Orchestrator) processCourse(ctx context.Context, course models.WorkItem) bool {
	err := o.complete(ctx, course)
	if err == nil || ctx.Err() != nil {
		return err == nil
	}

	var verr *VerificationRequiredError
	if errors.As(err, &verr) {
		o.logger.Warn("course needs verification", "course", course.Label(), "error", err)
		o.notify(ctx, models.NotificationEvent{
			Subject: "[action required] verification needed",
			Body: fmt.Sprintf("Course %s requires human verification. Pass the challenge on the platform, then run again.\nError: %v",
				course.Label(), verr.Err),
			Severity: models.SeverityAlert,
			Force:    true,
		})
		return false
	}

	o.logger.Error("course failed", "course", course.Label(), "error", err)
	o.notify(ctx, models.NotificationEvent{
		Subject:  "[error] course failed",
		Body:     fmt.Sprintf("Course %s failed and stays queued.\nError: %v", course.Label(), failureCause(err)),
		Severity: models.SeverityAlert,
		Force:    true,
	})
	return false
}

// failureCause strips the transient wrapper from err, if any.
func failureCause(err error) error {
	var terr *TransientTaskError
	if errors.As(err, &terr) && terr.Err != nil {
		return terr.Err
	}
	return err
}

// processVideos completes every pending video of course. Verification
// failures are escalated; other failures are only logged.
func (o *Orchestrator) processVideos(ctx context.Context, course models.WorkItem, videos *queue.Pending, out *Outcome) {
	for _, id := range videos.Snapshot() {
		if ctx.Err() != nil {
			return
		}
		item := models.Video(course.ID, id)
		err := o.complete(ctx, item)
		if err == nil {
			videos.Remove(id)
			out.Completed = append(out.Completed, id)
			continue
		}
		if ctx.Err() != nil {
			return
		}

		var verr *VerificationRequiredError
		if errors.As(err, &verr) {
			o.logger.Warn("video needs verification", "course", course.Label(), "video", id, "error", err)
			o.notify(ctx, models.NotificationEvent{
				Subject: "[action required] verification needed",
				Body: fmt.Sprintf("Video %s of course %s requires human verification. Pass the challenge on the platform, then run again.\nError: %v",
					id, course.Label(), verr.Err),
				Severity: models.SeverityAlert,
				Force:    true,
			})
			continue
		}
		o.logger.Error("video failed", "course", course.Label(), "video", id, "error", err)
	}
}

// complete runs one completion attempt, journals it and returns the
// classified error.
func (o *Orchestrator) complete(ctx context.Context, item models.WorkItem) error {
	started := time.Now()
	o.logger.Info("processing", "kind", item.Kind, "item", item.Label(), "parent", item.ParentID)
	err := o.client.CompleteItem(ctx, item)
	classified := o.classifier.Classify(item, err)

	rec := models.AttemptRecord{
		RunID:     o.runID,
		Kind:      item.Kind,
		ItemID:    item.ID,
		ParentID:  item.ParentID,
		Outcome:   models.OutcomeCompleted,
		StartedAt: started,
		EndedAt:   time.Now(),
	}
	var verr *VerificationRequiredError
	switch {
	case err == nil:
	case ctx.Err() != nil:
		rec.Outcome = models.OutcomeInterrupted
		rec.Error = err.Error()
	case errors.As(classified, &verr):
		rec.Outcome = models.OutcomeVerification
		rec.Error = err.Error()
	default:
		rec.Outcome = models.OutcomeFailed
		rec.Error = err.Error()
	}
	if o.runID == "" {
		return classified
	}
	if jerr := o.journal.RecordAttempt(context.WithoutCancel(ctx), rec); jerr != nil {
		o.logger.Warn("failed to journal attempt", "error", jerr)
	}
	return classified
}

func (o *Orchestrator) interrupted(ctx context.Context) {
	o.logger.Warn("run interrupted")
	o.notify(ctx, models.NotificationEvent{
		Subject:  "[stopped] run interrupted",
		Body:     fmt.Sprintf("The run was interrupted after %s.", o.elapsed()),
		Severity: models.SeverityAlert,
		Force:    true,
	})
	o.finish(ctx, models.StateInterrupted)
}

func (o *Orchestrator) finish(ctx context.Context, state models.RunState) {
	o.transition(ctx, state)
}

func (o *Orchestrator) transition(ctx context.Context, state models.RunState) {
	o.mu.Lock()
	from := o.state
	o.state = state
	mode := o.mode
	o.mu.Unlock()

	o.logger.Debug("state transition", "from", from, "to", state)
	if o.runID == "" {
		return
	}
	if err := o.journal.Transition(context.WithoutCancel(ctx), o.runID, mode, state); err != nil {
		o.logger.Warn("failed to journal transition", "error", err)
	}
}

func (o *Orchestrator) setMode(mode models.RunMode) {
	o.mu.Lock()
	o.mode = mode
	o.mu.Unlock()
}

// notify sends ev even when ctx was cancelled, so that final reports of an
// interrupted run still go out.
func (o *Orchestrator) notify(ctx context.Context, ev models.NotificationEvent) {
	if o.notifier == nil {
		return
	}
	o.notifier.Send(context.WithoutCancel(ctx), ev)
}

func (o *Orchestrator) elapsed() time.Duration {
	return o.runtime.Elapsed(time.Now())
}

func bullets(ids []string) string {
	lines := make([]string, len(ids))
	for i, id := range ids {
		lines[i] = "- " + id
	}
	return strings.Join(lines, "\n")
}

type noopHeartbeat struct{}

func (noopHeartbeat) Start()     {}
func (noopHeartbeat) Stop() bool { return true }

type noopJournal struct{}

func (noopJournal) StartRun(context.Context, models.RunMode) (string, error) { return "", nil }
func (noopJournal) Transition(context.Context, string, models.RunMode, models.RunState) error {
	return nil
}
func (noopJournal) RecordAttempt(context.Context, models.AttemptRecord) error { return nil }
func (noopJournal) FinishRun(context.Context, string, models.RunState, int) error {
	return nil
}
