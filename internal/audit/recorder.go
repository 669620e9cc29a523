// Package audit records orchestrator decisions in the run ledger.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zsyeh/coursepilot/internal/models"
	"github.com/zsyeh/coursepilot/internal/store"
)

// Decision actions.
const (
	ActionRunStart      = "run.start"
	ActionRunTransition = "run.transition"
	ActionItemComplete  = "item.complete"
	ActionRunFinish     = "run.finish"
)

// Recorder writes runs and attempts to the ledger and leaves a decision
// record with hashed inputs for each of them.
type Recorder struct {
	store *store.Store
}

// NewRecorder creates a new recorder.
func NewRecorder(s *store.Store) *Recorder {
	return &Recorder{store: s}
}

// Record writes a decision record for a state-changing action.
func (r *Recorder) Record(ctx context.Context, runID, action string, inputs any, outcome, itemID, details string) (*models.DecisionRecord, error) {
	return r.store.WriteDecision(ctx, runID, action, hashInputs(inputs), outcome, itemID, details)
}

// StartRun creates a run and returns its id.
func (r *Recorder) StartRun(ctx context.Context, mode models.RunMode) (string, error) {
	run, err := r.store.CreateRun(ctx, mode)
	if err != nil {
		return "", err
	}
	if _, err := r.Record(ctx, run.ID, ActionRunStart, map[string]any{"mode": mode}, string(run.State), "", ""); err != nil {
		return run.ID, err
	}
	return run.ID, nil
}

// Transition moves a run to a new state.
func (r *Recorder) Transition(ctx context.Context, runID string, mode models.RunMode, state models.RunState) error {
	if err := r.store.UpdateRun(ctx, runID, mode, state); err != nil {
		return err
	}
	_, err := r.Record(ctx, runID, ActionRunTransition, map[string]any{"mode": mode, "state": state}, string(state), "", "")
	return err
}

// RecordAttempt stores a completion attempt.
func (r *Recorder) RecordAttempt(ctx context.Context, rec models.AttemptRecord) error {
	if err := r.store.RecordAttempt(ctx, rec); err != nil {
		return err
	}
	inputs := map[string]any{"kind": rec.Kind, "id": rec.ItemID, "parent": rec.ParentID}
	_, err := r.Record(ctx, rec.RunID, ActionItemComplete, inputs, string(rec.Outcome), rec.ItemID, rec.Error)
	return err
}

// FinishRun records the terminal state of a run.
func (r *Recorder) FinishRun(ctx context.Context, runID string, state models.RunState, exitCode int) error {
	if err := r.store.FinishRun(ctx, runID, state, exitCode); err != nil {
		return err
	}
	_, err := r.Record(ctx, runID, ActionRunFinish, map[string]any{"state": state, "exit_code": exitCode},
		string(state), "", fmt.Sprintf("exit code %d", exitCode))
	return err
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
