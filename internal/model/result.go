package model

import "time"

// Route stages recorded on a RouteDecision.
const (
	StageExplicit = "explicit"
	StageKeyword  = "keyword"
	StageSemantic = "semantic"
	StageFallback = "fallback"
	StageNone     = "none"
)

// RouteDecision is the ordered set of pipeline ids a question maps to.
// Confidence is set only when the semantic stage produced the decision.
type RouteDecision struct {
	IDs        []string `json:"ids"`
	Confidence *float64 `json:"confidence,omitempty"`
	Stage      string   `json:"stage"`
}

// Empty reports whether no pipeline matched.
func (d RouteDecision) Empty() bool {
	return len(d.IDs) == 0
}

// ScoringResult is the canonical verdict for one (record, pipeline) pair.
type ScoringResult struct {
	Passed     bool    `json:"passed"`
	BasicScore float64 `json:"basic_score"`
	BonusScore float64 `json:"bonus_score"`
	TotalScore float64 `json:"total_score"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// PipelineResult pairs a verdict with the pipeline that produced it.
type PipelineResult struct {
	PipelineType string `json:"pipeline_type"`
	PipelineName string `json:"pipeline_name"`
	ScoringResult
}

// OutputRecord is the value written for one task: the record's pass-through
// fields plus either the scoring results or an error.
type OutputRecord struct {
	TaskKey   string
	Fields    *Fields
	Results   []PipelineResult
	Error     string
	Timestamp time.Time
}

// Failed reports whether the record carries an error instead of results.
func (o OutputRecord) Failed() bool {
	return o.Error != ""
}

// Flatten builds the serialised object. The first pipeline result is
// written at the top level; pipeline_results lists all of them when more
// than one pipeline matched.
func (o OutputRecord) Flatten() *Fields {
	out := o.Fields.Clone()
	if o.Failed() {
		out.Set("error", o.Error)
	} else if len(o.Results) > 0 {
		first := o.Results[0]
		out.Set("pipeline_type", first.PipelineType)
		out.Set("pipeline_name", first.PipelineName)
		out.Set("passed", first.Passed)
		out.Set("basic_score", first.BasicScore)
		out.Set("bonus_score", first.BonusScore)
		out.Set("total_score", first.TotalScore)
		out.Set("reason", first.Reason)
		out.Set("confidence", first.Confidence)
		if len(o.Results) > 1 {
			out.Set("pipeline_results", o.Results)
		}
	}
	out.Set("timestamp", o.Timestamp.UTC().Format(time.RFC3339Nano))
	return out
}

// MarshalJSON implements json.Marshaler.
func (o OutputRecord) MarshalJSON() ([]byte, error) {
	return o.Flatten().MarshalJSON()
}
