package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zsyeh/coursepilot/internal/auth"
	"github.com/zsyeh/coursepilot/internal/config"
	"github.com/zsyeh/coursepilot/internal/connectors"
	"github.com/zsyeh/coursepilot/internal/connectors/fake"
	"github.com/zsyeh/coursepilot/internal/models"
	"github.com/zsyeh/coursepilot/internal/queue"
)

type mockNotifier struct {
	mu     sync.Mutex
	events []models.NotificationEvent
}

func (m *mockNotifier) Send(ctx context.Context, ev models.NotificationEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *mockNotifier) all() []models.NotificationEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.NotificationEvent(nil), m.events...)
}

func (m *mockNotifier) withSubject(prefix string) []models.NotificationEvent {
	var out []models.NotificationEvent
	for _, ev := range m.all() {
		if strings.HasPrefix(ev.Subject, prefix) {
			out = append(out, ev)
		}
	}
	return out
}

// alertsNaming returns alert-severity events whose body mentions id.
func (m *mockNotifier) alertsNaming(id string) []models.NotificationEvent {
	var out []models.NotificationEvent
	for _, ev := range m.all() {
		if ev.Severity == models.SeverityAlert && strings.Contains(ev.Body, id) {
			out = append(out, ev)
		}
	}
	return out
}

type mockHeartbeat struct {
	mu     sync.Mutex
	starts int
	stops  int
}

func (m *mockHeartbeat) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
}

func (m *mockHeartbeat) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	return true
}

type memSessions struct {
	stored *models.Session
	saved  []*models.Session
}

func (m *memSessions) Load() (*models.Session, bool) {
	if m.stored == nil {
		return nil, false
	}
	return m.stored, true
}

func (m *memSessions) Save(s *models.Session) error {
	m.saved = append(m.saved, s)
	m.stored = s
	return nil
}

type mockJournal struct {
	mu       sync.Mutex
	states   []models.RunState
	attempts []models.AttemptRecord
	finished models.RunState
	exitCode int
}

func (m *mockJournal) StartRun(ctx context.Context, mode models.RunMode) (string, error) {
	return "run-1", nil
}

func (m *mockJournal) Transition(ctx context.Context, runID string, mode models.RunMode, state models.RunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, state)
	return nil
}

func (m *mockJournal) RecordAttempt(ctx context.Context, rec models.AttemptRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, rec)
	return nil
}

func (m *mockJournal) FinishRun(ctx context.Context, runID string, state models.RunState, exitCode int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = state
	m.exitCode = exitCode
	return nil
}

type harness struct {
	orch      *Orchestrator
	client    *fake.Client
	notifier  *mockNotifier
	heartbeat *mockHeartbeat
	sessions  *memSessions
	journal   *mockJournal
	manifest  string
}

func newHarness(t *testing.T, client *fake.Client) *harness {
	t.Helper()
	h := &harness{
		client:    client,
		notifier:  &mockNotifier{},
		heartbeat: &mockHeartbeat{},
		sessions:  &memSessions{},
		journal:   &mockJournal{},
		manifest:  filepath.Join(t.TempDir(), "execution.json"),
	}
	h.orch = New(Deps{
		Client:         client,
		Sessions:       h.sessions,
		PersistSession: true,
		Strategy:       &auth.CredentialLogin{Client: client, Username: "alice", Password: "pw"},
		Resolver:       queue.NewResolver(client, h.manifest, nil),
		Notifier:       h.notifier,
		Heartbeat:      h.heartbeat,
		Journal:        h.journal,
		Runtime:        config.NewRuntime(models.ReportRough, time.Now()),
	})
	return h
}

func TestRun_ExhaustiveFallback(t *testing.T) {
	client := &fake.Client{}
	h := newHarness(t, client)
	if err := os.WriteFile(h.manifest, []byte("[]"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := h.orch.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if out.ExitCode != ExitOK || out.State != models.StateDrained {
		t.Errorf("Expected DRAINED/0, got %s/%d", out.State, out.ExitCode)
	}
	if out.Mode != models.ModeExhaustive {
		t.Errorf("Expected exhaustive mode, got %s", out.Mode)
	}
	if client.Count("catalog") != 1 {
		t.Errorf("Expected discovery to be attempted once, got %d", client.Count("catalog"))
	}
	if client.Count("exhaustive") != 1 {
		t.Errorf("Expected exhaustive processing exactly once, got %d", client.Count("exhaustive"))
	}
	if client.Count("complete") != 0 {
		t.Error("Expected no per-item completion")
	}

	events := h.notifier.all()
	if len(events) != 1 {
		t.Fatalf("Expected exactly one notification, got %d: %+v", len(events), events)
	}
	if !events[0].Force || events[0].Subject != "[done] all complete" {
		t.Errorf("Expected forced all-complete notification, got %+v", events[0])
	}
	if h.heartbeat.starts != 1 || h.heartbeat.stops != 1 {
		t.Errorf("Expected heartbeat started and stopped once, got %d/%d", h.heartbeat.starts, h.heartbeat.stops)
	}

	want := []models.RunState{models.StateAuthenticated, models.StateQueued, models.StateProcessing, models.StateDrained}
	if !reflect.DeepEqual(h.journal.states, want) {
		t.Errorf("Unexpected transitions: %v", h.journal.states)
	}
	if h.journal.finished != models.StateDrained {
		t.Errorf("Expected journal to finish DRAINED, got %s", h.journal.finished)
	}
}

func TestRun_ExhaustiveFailure(t *testing.T) {
	client := &fake.Client{
		ExhaustiveFunc: func(ctx context.Context) error { return errors.New("platform down") },
	}
	h := newHarness(t, client)

	out, err := h.orch.Run(context.Background(), Options{Exhaustive: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.ExitCode != ExitOK {
		t.Errorf("Expected exit 0, got %d", out.ExitCode)
	}
	if client.Count("catalog") != 0 {
		t.Error("Forced exhaustive mode must skip resolution")
	}
	if len(h.notifier.withSubject("[error] exhaustive run failed")) != 1 {
		t.Errorf("Expected one failure alert, got %+v", h.notifier.all())
	}
	if len(h.notifier.withSubject("[done] all complete")) != 0 {
		t.Error("Failure must not be reported as complete")
	}
}

func TestRun_VideoRemoveOnSuccess(t *testing.T) {
	client := &fake.Client{
		CompleteFunc: func(ctx context.Context, item models.WorkItem) error {
			if item.ID == "v2" {
				return errors.New("network timeout")
			}
			return nil
		},
	}
	h := newHarness(t, client)

	out, err := h.orch.Run(context.Background(), Options{
		Courses: []string{"c1", "c2"},
		Videos:  []string{"v1", "v2", "v3"},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !reflect.DeepEqual(out.RemainingVideos, []string{"v2"}) {
		t.Errorf("Expected remaining {v2}, got %v", out.RemainingVideos)
	}

	var attempted []string
	for _, item := range client.Completed() {
		if item.Kind != models.ItemKindVideo {
			t.Errorf("Expected only video completions, got %+v", item)
		}
		attempted = append(attempted, item.ParentID+"/"+item.ID)
	}
	want := []string{"c1/v1", "c1/v2", "c1/v3", "c2/v2"}
	if !reflect.DeepEqual(attempted, want) {
		t.Errorf("Expected completed videos never to be retried, got %v", attempted)
	}

	if len(h.notifier.alertsNaming("network timeout")) != 0 {
		t.Error("Non-verification video failures must not raise alerts")
	}
	summary := h.notifier.withSubject("[done] videos remaining")
	if len(summary) != 1 || !summary[0].Force || !strings.Contains(summary[0].Body, "v2") {
		t.Errorf("Expected one forced summary listing v2, got %+v", h.notifier.all())
	}
	if len(h.notifier.withSubject("[done] all complete")) != 0 {
		t.Error("All-complete must not be sent while videos remain")
	}
}

func TestRun_VideoVerification(t *testing.T) {
	client := &fake.Client{
		CompleteFunc: func(ctx context.Context, item models.WorkItem) error {
			if item.ID == "v1" {
				return connectors.ErrVerificationRequired
			}
			return nil
		},
	}
	h := newHarness(t, client)

	out, err := h.orch.Run(context.Background(), Options{Courses: []string{"c1"}, Videos: []string{"v1", "v2"}})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out.RemainingVideos, []string{"v1"}) {
		t.Errorf("Expected v1 to stay, got %v", out.RemainingVideos)
	}
	alerts := h.notifier.withSubject("[action required]")
	if len(alerts) != 1 || !alerts[0].Force || !strings.Contains(alerts[0].Body, "Video v1") {
		t.Errorf("Expected one forced verification alert for v1, got %+v", alerts)
	}
}

func TestRun_CourseFailureWording(t *testing.T) {
	client := &fake.Client{
		CompleteFunc: func(ctx context.Context, item models.WorkItem) error {
			switch item.ID {
			case "c1":
				return errors.New("please solve the CAPTCHA first")
			case "c2":
				return errors.New("server returned 500")
			}
			return nil
		},
	}
	h := newHarness(t, client)

	out, err := h.orch.Run(context.Background(), Options{Courses: []string{"c1", "c2", "c3"}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !reflect.DeepEqual(out.RemainingCourses, []string{"c1", "c2"}) {
		t.Errorf("Expected c1 and c2 to stay queued, got %v", out.RemainingCourses)
	}
	if !reflect.DeepEqual(out.Completed, []string{"c3"}) {
		t.Errorf("Expected c3 completed, got %v", out.Completed)
	}

	c1 := h.notifier.alertsNaming("c1")
	if len(c1) != 1 {
		t.Fatalf("Expected exactly one alert naming c1, got %d", len(c1))
	}
	c2 := h.notifier.alertsNaming("c2")
	if len(c2) != 1 {
		t.Fatalf("Expected exactly one alert naming c2, got %d", len(c2))
	}
	if !c1[0].Force || !c2[0].Force {
		t.Error("Course failures must be forced")
	}
	if c1[0].Subject == c2[0].Subject {
		t.Errorf("Expected different wording, both got %q", c1[0].Subject)
	}
	if !strings.Contains(c1[0].Subject, "verification") {
		t.Errorf("Expected verification wording for c1, got %q", c1[0].Subject)
	}
	if !strings.Contains(c2[0].Body, "server returned 500") {
		t.Errorf("Expected error text in generic alert, got %q", c2[0].Body)
	}

	done := h.notifier.withSubject("[done] all complete")
	if len(done) != 1 || !done[0].Force {
		t.Errorf("Expected one forced completion notification, got %+v", done)
	}

	outcomes := map[string]models.AttemptOutcome{}
	for _, a := range h.journal.attempts {
		outcomes[a.ItemID] = a.Outcome
	}
	wantOutcomes := map[string]models.AttemptOutcome{
		"c1": models.OutcomeVerification,
		"c2": models.OutcomeFailed,
		"c3": models.OutcomeCompleted,
	}
	if !reflect.DeepEqual(outcomes, wantOutcomes) {
		t.Errorf("Unexpected journaled outcomes: %v", outcomes)
	}
}

func TestRun_SessionRestoreFailsProbe(t *testing.T) {
	var atLogin *models.Session
	client := &fake.Client{
		ProbeFunc: func(ctx context.Context, s *models.Session) (bool, error) {
			return s.Tokens["sid"] != "stale", nil
		},
	}
	client.LoginFunc = func(ctx context.Context, user, pass string) (*models.Session, error) {
		atLogin = client.Session()
		return &models.Session{Tokens: map[string]string{"sid": user}, IssuedVia: models.IssuedViaCredentials}, nil
	}
	h := newHarness(t, client)
	h.sessions.stored = &models.Session{Tokens: map[string]string{"sid": "stale"}}

	out, err := h.orch.Run(context.Background(), Options{Exhaustive: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.State != models.StateDrained {
		t.Errorf("Expected DRAINED, got %s", out.State)
	}
	if client.Count("login") != 1 {
		t.Errorf("Expected fresh login, got %d", client.Count("login"))
	}
	if atLogin != nil {
		t.Errorf("Expected the rejected session to be dropped before login, got %+v", atLogin)
	}
	if got := client.Session(); got == nil || got.Tokens["sid"] != "alice" {
		t.Errorf("Expected fresh session in use, got %+v", got)
	}
	if len(h.sessions.saved) != 1 || h.sessions.saved[0].Tokens["sid"] != "alice" {
		t.Errorf("Expected fresh session to be saved, got %+v", h.sessions.saved)
	}
}

func TestRun_SessionRestored(t *testing.T) {
	client := &fake.Client{}
	h := newHarness(t, client)
	h.sessions.stored = &models.Session{Tokens: map[string]string{"sid": "good"}}

	if _, err := h.orch.Run(context.Background(), Options{Exhaustive: true}); err != nil {
		t.Fatal(err)
	}
	if client.Count("login") != 0 {
		t.Error("A valid stored session must not trigger login")
	}
	if len(h.sessions.saved) != 0 {
		t.Error("A restored session must not be saved again")
	}
}

func TestRun_FatalAuth(t *testing.T) {
	client := &fake.Client{
		LoginFunc: func(ctx context.Context, user, pass string) (*models.Session, error) {
			return nil, connectors.ErrRejected
		},
	}
	h := newHarness(t, client)

	out, err := h.orch.Run(context.Background(), Options{Courses: []string{"c1"}})
	var authErr *auth.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Expected AuthError, got %v", err)
	}
	if out.ExitCode != ExitFatal || out.State != models.StateFatalAuth {
		t.Errorf("Expected FATAL_AUTH/1, got %s/%d", out.State, out.ExitCode)
	}
	fatal := h.notifier.withSubject("[fatal]")
	if len(fatal) != 1 || !fatal[0].Force {
		t.Errorf("Expected one forced fatal notification, got %+v", h.notifier.all())
	}
	if client.Count("complete") != 0 || h.heartbeat.starts != 0 {
		t.Error("Nothing may run after a fatal login failure")
	}
	if h.journal.exitCode != ExitFatal {
		t.Errorf("Expected journaled exit code 1, got %d", h.journal.exitCode)
	}
}

func TestRun_Interrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fake.Client{
		CompleteFunc: func(c context.Context, item models.WorkItem) error {
			cancel()
			return c.Err()
		},
	}
	h := newHarness(t, client)

	out, err := h.orch.Run(ctx, Options{Courses: []string{"c1", "c2"}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.State != models.StateInterrupted || out.ExitCode != ExitOK {
		t.Errorf("Expected INTERRUPTED/0, got %s/%d", out.State, out.ExitCode)
	}
	if client.Count("complete") != 1 {
		t.Errorf("Expected processing to stop after c1, got %d attempts", client.Count("complete"))
	}
	if h.heartbeat.stops != 1 {
		t.Error("Expected heartbeat to be stopped on interruption")
	}
	if len(h.notifier.withSubject("[done]")) != 0 {
		t.Error("Interrupted runs must not report completion")
	}
	if len(h.journal.attempts) != 1 || h.journal.attempts[0].Outcome != models.OutcomeInterrupted {
		t.Errorf("Expected one interrupted attempt, got %+v", h.journal.attempts)
	}
}

func TestRun_FetchOnly(t *testing.T) {
	client := &fake.Client{
		CatalogFunc: func(ctx context.Context) ([]models.CatalogEntry, error) {
			return []models.CatalogEntry{{Name: "Physics", Source: models.SourceHike, CourseID: 9}}, nil
		},
	}
	h := newHarness(t, client)

	out, err := h.orch.Run(context.Background(), Options{FetchOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if out.State != models.StateDrained || out.Mode != models.ModeFetch {
		t.Errorf("Unexpected outcome: %+v", out)
	}
	entries, err := queue.LoadManifest(h.manifest)
	if err != nil {
		t.Fatalf("Expected manifest to be written: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "9" {
		t.Errorf("Unexpected manifest: %+v", entries)
	}
	if client.Count("complete") != 0 || client.Count("exhaustive") != 0 {
		t.Error("Fetch-only must not process anything")
	}
	if h.heartbeat.starts != 1 || h.heartbeat.stops != 1 {
		t.Errorf("Expected heartbeat around the fetch, got %d/%d", h.heartbeat.starts, h.heartbeat.stops)
	}
}

func TestRun_AICourse(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		alerts int
	}{
		{"success", nil, 0},
		{"failure", errors.New("quiz failed"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotCourse, gotClass string
			client := &fake.Client{
				AICourseFunc: func(ctx context.Context, courseID, classID string) error {
					gotCourse, gotClass = courseID, classID
					return tt.err
				},
			}
			h := newHarness(t, client)

			out, err := h.orch.Run(context.Background(), Options{AICourseID: "100", AIClassID: "200"})
			if err != nil {
				t.Fatal(err)
			}
			if out.ExitCode != ExitOK || out.State != models.StateDrained {
				t.Errorf("Unexpected outcome: %+v", out)
			}
			if gotCourse != "100" || gotClass != "200" {
				t.Errorf("Unexpected ids: %s %s", gotCourse, gotClass)
			}
			if n := len(h.notifier.withSubject("[error] AI course failed")); n != tt.alerts {
				t.Errorf("Expected %d failure alerts, got %d", tt.alerts, n)
			}
			if len(h.notifier.withSubject("[done] AI course finished")) != 1 {
				t.Error("Expected one forced finished notification")
			}
		})
	}
}

func TestClassifier(t *testing.T) {
	c := NewClassifier("滑块")

	tests := []struct {
		err  error
		want bool
	}{
		{errors.New("Captcha required"), true},
		{errors.New("请输入验证码"), true},
		{errors.New("请完成滑块"), true},
		{connectors.ErrVerificationRequired, true},
		{fmt.Errorf("course c1: %w", connectors.ErrVerificationRequired), true},
		{errors.New("connection reset"), false},
		{nil, false},
	}

	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			if got := c.IsVerification(tt.err); got != tt.want {
				t.Errorf("IsVerification(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}

	item := models.Course("c1")
	var terr *TransientTaskError
	if !errors.As(c.Classify(item, errors.New("boom")), &terr) {
		t.Error("Expected TransientTaskError")
	}
	var verr *VerificationRequiredError
	if !errors.As(c.Classify(item, errors.New("CAPTCHA")), &verr) {
		t.Error("Expected VerificationRequiredError")
	}
	if c.Classify(item, nil) != nil {
		t.Error("Expected nil for success")
	}
}

func TestFailureCause(t *testing.T) {
	base := errors.New("server returned 500")
	item := models.Course("c1")
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"transient", &TransientTaskError{Item: item, Err: base}, base},
		{"wrapped transient", fmt.Errorf("ctx: %w", &TransientTaskError{Item: item, Err: base}), base},
		{"transient without cause", &TransientTaskError{Item: item}, nil},
		{"plain", base, base},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := failureCause(tt.err)
			if tt.want == nil {
				if got != tt.err {
					t.Errorf("Expected err returned unchanged, got %v", got)
				}
				return
			}
			if got != tt.want {
				t.Errorf("failureCause() = %v, want %v", got, tt.want)
			}
		})
	}
}
