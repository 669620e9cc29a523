package tui

import (
	"context"

	"github.com/zsyeh/coursepilot/internal/models"
)

// Source reads recorded runs. The run ledger implements it.
type Source interface {
	ListRuns(ctx context.Context, limit int) ([]models.RunRecord, error)
	GetRun(ctx context.Context, id string) (*models.RunRecord, error)
	AttemptsForRun(ctx context.Context, runID string) ([]models.AttemptRecord, error)
	NotificationsForRun(ctx context.Context, runID string) ([]models.NotificationRecord, error)
}

// DefaultLimit is how many runs the browser loads.
const DefaultLimit = 100

type runsLoadedMsg struct {
	runs []models.RunRecord
}

type runDetailLoadedMsg struct {
	run           *models.RunRecord
	attempts      []models.AttemptRecord
	notifications []models.NotificationRecord
}

type errMsg struct{ err error }

func (e errMsg) Error() string { return e.err.Error() }
