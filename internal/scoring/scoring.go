// Package scoring grades one image against a pipeline's rubric using a
// vision model and enforces the two-tier score law on the verdict.
package scoring

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vqa-filter/internal/model"
	"github.com/sells-group/vqa-filter/pkg/vision"
)

// Limits are the score bounds. Basic scores of passing images fall in
// [BasicMin, BasicMax]; bonus scores in [0, BonusMax].
type Limits struct {
	BasicMin float64
	BasicMax float64
	BonusMax float64
}

// DefaultLimits returns the standard 0.1/0.6/0.4 bounds.
func DefaultLimits() Limits {
	return Limits{BasicMin: 0.1, BasicMax: 0.6, BonusMax: 0.4}
}

// Options configures a Pipeline.
type Options struct {
	Limits      Limits
	Temperature *float64
	MaxTokens   int64
}

// Pipeline scores images. It holds no per-call state and is safe for
// concurrent use.
type Pipeline struct {
	opts Options
}

// New creates a Pipeline. Zero limits are replaced by DefaultLimits.
func New(opts Options) *Pipeline {
	if opts.Limits == (Limits{}) {
		opts.Limits = DefaultLimits()
	}
	return &Pipeline{opts: opts}
}

// Limits returns the configured score bounds.
func (p *Pipeline) Limits() Limits {
	return p.opts.Limits
}

// Filter asks the model to grade img against def. The error is non-nil
// only when the model call itself fails; a malformed response yields the
// conservative fail verdict.
func (p *Pipeline) Filter(ctx context.Context, client vision.Client, img *vision.Image, def model.PipelineDefinition, question string) (model.ScoringResult, error) {
	resp, err := client.Analyze(ctx, vision.Request{
		Image:       img,
		Prompt:      BuildPrompt(def, question, p.opts.Limits),
		Temperature: p.opts.Temperature,
		MaxTokens:   p.opts.MaxTokens,
	})
	if err != nil {
		return model.ScoringResult{}, eris.Wrapf(err, "scoring: analyze %s", def.ID)
	}

	res, perr := Parse(resp.Text)
	if perr != nil {
		zap.L().Warn("scoring: unparseable model response",
			zap.String("pipeline", def.ID),
			zap.Int("response_len", len(resp.Text)),
			zap.Error(perr),
		)
	}
	return Normalize(res, def, p.opts.Limits), nil
}

// Normalize enforces the score law: a failed gate zeroes every score; a
// passed gate clamps basic into [BasicMin, BasicMax], fixes bonus at
// BonusMax when def has no optional criteria, and recomputes the total.
func Normalize(res model.ScoringResult, def model.PipelineDefinition, limits Limits) model.ScoringResult {
	res.Confidence = clamp(res.Confidence, 0, 1)
	if !res.Passed {
		res.BasicScore, res.BonusScore, res.TotalScore = 0, 0, 0
		return res
	}

	res.BasicScore = clamp(res.BasicScore, limits.BasicMin, limits.BasicMax)
	if def.HasOptional() {
		res.BonusScore = clamp(res.BonusScore, 0, limits.BonusMax)
	} else {
		res.BonusScore = limits.BonusMax
	}
	res.TotalScore = clamp(res.BasicScore+res.BonusScore, 0, 1)
	return res
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}
