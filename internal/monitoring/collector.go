package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/vqa-filter/internal/model"
	"github.com/sells-group/vqa-filter/internal/store"
)

// MetricsSnapshot holds a point-in-time view of filter health.
type MetricsSnapshot struct {
	// Ledger runs within the lookback window.
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsRunning  int     `json:"runs_running"`
	RunFailRate  float64 `json:"run_fail_rate"`
	RunsCostUSD  float64 `json:"runs_cost_usd"`

	// Tasks of the run in progress.
	TasksSucceeded int     `json:"tasks_succeeded"`
	TasksFailed    int     `json:"tasks_failed"`
	TaskFailRate   float64 `json:"task_fail_rate"`
	LiveCostUSD    float64 `json:"live_cost_usd"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// CostUSD is the spend in the window plus the live run's spend.
func (s *MetricsSnapshot) CostUSD() float64 {
	return s.RunsCostUSD + s.LiveCostUSD
}

// RunLister abstracts the ledger query the collector needs.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// LiveStats is the progress of the run in this process.
type LiveStats struct {
	Succeeded int
	Failed    int
	CostUSD   float64
}

// Collector gathers metrics from the ledger and the live run.
type Collector struct {
	runs RunLister
	live func() LiveStats
}

// NewCollector creates a new metrics collector. Either source may be nil.
func NewCollector(runs RunLister, live func() LiveStats) *Collector {
	return &Collector{runs: runs, live: live}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	if c.runs != nil {
		runs, err := c.runs.ListRuns(ctx, store.RunFilter{
			CreatedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
			Limit:        10000,
		})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list runs")
		}

		snap.RunsTotal = len(runs)
		for _, r := range runs {
			switch r.Status {
			case model.RunStatusComplete:
				snap.RunsComplete++
			case model.RunStatusFailed:
				snap.RunsFailed++
			case model.RunStatusRunning:
				snap.RunsRunning++
			}
			snap.RunsCostUSD += r.CostUSD
		}
		if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
			snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
		}
	}

	if c.live != nil {
		live := c.live()
		snap.TasksSucceeded = live.Succeeded
		snap.TasksFailed = live.Failed
		snap.LiveCostUSD = live.CostUSD
		if done := live.Succeeded + live.Failed; done > 0 {
			snap.TaskFailRate = float64(live.Failed) / float64(done)
		}
	}

	return snap, nil
}
