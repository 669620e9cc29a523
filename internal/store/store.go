// Package store provides the SQLite-backed run ledger for coursepilot.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/zsyeh/coursepilot/internal/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Store provides access to the ledger database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// The orchestrator and the heartbeat may write at the same time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		state TEXT NOT NULL,
		exit_code INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		ended_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS attempts (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		item_id TEXT NOT NULL,
		parent_id TEXT,
		outcome TEXT NOT NULL,
		error TEXT,
		started_at DATETIME NOT NULL,
		ended_at DATETIME NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		run_id TEXT,
		subject TEXT NOT NULL,
		severity TEXT NOT NULL,
		forced INTEGER NOT NULL,
		delivered INTEGER NOT NULL,
		failures INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		run_id TEXT,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		item_id TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_attempts_run_id ON attempts(run_id);
	CREATE INDEX IF NOT EXISTS idx_notifications_run_id ON notifications(run_id);
	CREATE INDEX IF NOT EXISTS idx_decisions_run_id ON decisions(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Run Operations ---

// CreateRun inserts a new run in the INIT state.
func (s *Store) CreateRun(ctx context.Context, mode models.RunMode) (*models.RunRecord, error) {
	run := &models.RunRecord{
		ID:        uuid.New().String(),
		Mode:      mode,
		State:     models.StateInit,
		StartedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, mode, state, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, string(run.Mode), string(run.State), run.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// UpdateRun sets the mode and state of a run that is still in progress.
func (s *Store) UpdateRun(ctx context.Context, id string, mode models.RunMode, state models.RunState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET mode = ?, state = ? WHERE id = ?`,
		string(mode), string(state), id,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return expectOne(res)
}

// FinishRun records the terminal state and exit code of a run.
func (s *Store) FinishRun(ctx context.Context, id string, state models.RunState, exitCode int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, exit_code = ?, ended_at = ? WHERE id = ?`,
		string(state), exitCode, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return expectOne(res)
}

const runColumns = `r.id, r.mode, r.state, r.exit_code, r.started_at, r.ended_at,
	(SELECT COUNT(*) FROM attempts a WHERE a.run_id = r.id AND a.outcome = 'completed'),
	(SELECT COUNT(*) FROM attempts a WHERE a.run_id = r.id AND a.outcome != 'completed')`

// GetRun returns one run with its attempt counts.
func (s *Store) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs r WHERE r.id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]models.RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs r ORDER BY r.started_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*models.RunRecord, error) {
	var run models.RunRecord
	var mode, state string
	var endedAt sql.NullTime
	if err := row.Scan(&run.ID, &mode, &state, &run.ExitCode, &run.StartedAt, &endedAt, &run.Completed, &run.Failed); err != nil {
		return nil, err
	}
	run.Mode = models.RunMode(mode)
	run.State = models.RunState(state)
	if endedAt.Valid {
		t := endedAt.Time
		run.EndedAt = &t
	}
	return &run, nil
}

// --- Attempt Operations ---

// RecordAttempt inserts one completion attempt. An empty ID is generated.
func (s *Store) RecordAttempt(ctx context.Context, rec models.AttemptRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts (id, run_id, kind, item_id, parent_id, outcome, error, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RunID, string(rec.Kind), rec.ItemID, rec.ParentID, string(rec.Outcome), rec.Error,
		rec.StartedAt.UTC(), rec.EndedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// AttemptsForRun returns the attempts of a run in the order they started.
func (s *Store) AttemptsForRun(ctx context.Context, runID string) ([]models.AttemptRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, kind, item_id, parent_id, outcome, error, started_at, ended_at
		 FROM attempts WHERE run_id = ? ORDER BY started_at ASC, rowid ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []models.AttemptRecord
	for rows.Next() {
		var a models.AttemptRecord
		var kind, outcome string
		var parentID, errText sql.NullString
		if err := rows.Scan(&a.ID, &a.RunID, &kind, &a.ItemID, &parentID, &outcome, &errText, &a.StartedAt, &a.EndedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Kind = models.ItemKind(kind)
		a.Outcome = models.AttemptOutcome(outcome)
		a.ParentID = parentID.String
		a.Error = errText.String
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// --- Notification Operations ---

// RecordNotification inserts one gateway decision. An empty ID is generated.
func (s *Store) RecordNotification(ctx context.Context, rec models.NotificationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, run_id, subject, severity, forced, delivered, failures, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RunID, rec.Subject, string(rec.Severity), rec.Forced, rec.Delivered, rec.Failures, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// NotificationsForRun returns the notifications of a run, oldest first.
func (s *Store) NotificationsForRun(ctx context.Context, runID string) ([]models.NotificationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, subject, severity, forced, delivered, failures, created_at
		 FROM notifications WHERE run_id = ? ORDER BY created_at ASC, rowid ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []models.NotificationRecord
	for rows.Next() {
		var n models.NotificationRecord
		var runIDCol sql.NullString
		var severity string
		if err := rows.Scan(&n.ID, &runIDCol, &n.Subject, &severity, &n.Forced, &n.Delivered, &n.Failures, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.RunID = runIDCol.String
		n.Severity = models.Severity(severity)
		out = append(out, n)
	}
	return out, rows.Err()
}

// --- Decision Operations ---

// WriteDecision writes a decision record.
func (s *Store) WriteDecision(ctx context.Context, runID, action, inputsHash, outcome, itemID, details string) (*models.DecisionRecord, error) {
	rec := &models.DecisionRecord{
		ID:         uuid.New().String(),
		RunID:      runID,
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		ItemID:     itemID,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (id, run_id, action, inputs_hash, outcome, item_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RunID, rec.Action, rec.InputsHash, rec.Outcome, rec.ItemID, rec.Details, rec.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert decision: %w", err)
	}
	return rec, nil
}

// DecisionsForRun returns the decisions of a run, oldest first.
func (s *Store) DecisionsForRun(ctx context.Context, runID string) ([]models.DecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, action, inputs_hash, outcome, item_id, details, timestamp
		 FROM decisions WHERE run_id = ? ORDER BY timestamp ASC, rowid ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []models.DecisionRecord
	for rows.Next() {
		var d models.DecisionRecord
		var runIDCol, itemID, details sql.NullString
		if err := rows.Scan(&d.ID, &runIDCol, &d.Action, &d.InputsHash, &d.Outcome, &itemID, &details, &d.Timestamp); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.RunID = runIDCol.String
		d.ItemID = itemID.String
		d.Details = details.String
		out = append(out, d)
	}
	return out, rows.Err()
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
