package model

import "time"

// RunStatus represents the current state of a filter run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusComplete  RunStatus = "complete"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run is one invocation of the filter command over an input file.
type Run struct {
	ID         string    `json:"id"`
	InputPath  string    `json:"input_path"`
	OutputPath string    `json:"output_path"`
	Mode       string    `json:"mode"`
	Status     RunStatus `json:"status"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	CostUSD    float64   `json:"cost_usd"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TaskOutcome is the ledger entry for one completed task.
type TaskOutcome struct {
	RunID        string    `json:"run_id"`
	TaskKey      string    `json:"task_key"`
	PipelineType string    `json:"pipeline_type,omitempty"`
	Passed       bool      `json:"passed"`
	TotalScore   float64   `json:"total_score"`
	Error        string    `json:"error,omitempty"`
	CompletedAt  time.Time `json:"completed_at"`
}

// OutcomeOf summarises an output record for the ledger.
func OutcomeOf(runID string, rec OutputRecord) TaskOutcome {
	out := TaskOutcome{
		RunID:       runID,
		TaskKey:     rec.TaskKey,
		Error:       rec.Error,
		CompletedAt: rec.Timestamp,
	}
	if len(rec.Results) > 0 {
		out.PipelineType = rec.Results[0].PipelineType
		out.Passed = rec.Results[0].Passed
		out.TotalScore = rec.Results[0].TotalScore
	}
	return out
}
