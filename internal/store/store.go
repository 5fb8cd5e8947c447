// Package store persists the run ledger: one row per filter run and one
// outcome per completed task, used to resume interrupted runs and by the
// runs command.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/vqa-filter/internal/model"
)

// Drivers.
const (
	DriverNone     = "none"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

func (f RunFilter) limit() int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

// Store defines the run ledger.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *model.Run) error
	UpdateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Task outcomes
	RecordOutcomes(ctx context.Context, outcomes []model.TaskOutcome) error
	ListOutcomes(ctx context.Context, runID string) ([]model.TaskOutcome, error)
	CompletedKeys(ctx context.Context, runID string) (map[string]bool, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the ledger for driver and migrates it. Driver "none"
// (or empty) returns a nil Store and no error.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	var (
		s   Store
		err error
	)
	switch driver {
	case "", DriverNone:
		return nil, nil
	case DriverSQLite:
		s, err = NewSQLite(dsn)
	case DriverPostgres:
		s, err = NewPostgres(ctx, dsn, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

// prepareRun fills the id and timestamps of a new run.
func prepareRun(run *model.Run, id string) {
	now := time.Now().UTC()
	if run.ID == "" {
		run.ID = id
	}
	if run.Status == "" {
		run.Status = model.RunStatusRunning
	}
	run.CreatedAt = now
	run.UpdatedAt = now
}

// Summarize tallies outcomes into a run's counters.
func Summarize(run *model.Run, outcomes []model.TaskOutcome) {
	run.Total = len(outcomes)
	run.Succeeded, run.Failed = 0, 0
	for _, o := range outcomes {
		if o.Error != "" {
			run.Failed++
		} else {
			run.Succeeded++
		}
	}
}
