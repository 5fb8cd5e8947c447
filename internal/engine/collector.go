package engine

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vqa-filter/internal/model"
)

// collector is the only goroutine that touches the pending buffer, the
// sinks and the ledger.
type collector struct {
	e      *Engine
	total  int
	cancel context.CancelCauseFunc
	start  time.Time

	pending []model.OutputRecord
	preview []model.OutputRecord

	completed int
	succeeded int
	failed    int
	dropped   int

	err error
}

func newCollector(e *Engine, total int, cancel context.CancelCauseFunc) *collector {
	return &collector{e: e, total: total, cancel: cancel, start: time.Now()}
}

// run drains in until it is closed and flushes the remainder.
func (c *collector) run(ctx context.Context, in <-chan outcome) error {
	for o := range in {
		c.accept(ctx, o)
	}
	c.flush(ctx)
	return c.err
}

func (c *collector) accept(ctx context.Context, o outcome) {
	if c.err != nil {
		return
	}
	if ctx.Err() != nil && o.rec.Failed() {
		c.dropped++
		return
	}

	obs := c.e.deps.Observer
	if obs != nil {
		if o.stage != "" {
			obs.Routed(o.stage)
		}
		obs.TaskDone(o.rec, o.elapsed)
	}

	c.completed++
	if o.rec.Failed() {
		c.failed++
	} else {
		c.succeeded++
	}
	if len(c.preview) < c.e.opts.PreviewLimit {
		c.preview = append(c.preview, o.rec)
	}
	c.pending = append(c.pending, o.rec)

	if iv := c.e.opts.ProgressInterval; iv > 0 && c.completed%iv == 0 {
		c.logProgress()
	}
	if iv := c.e.opts.CheckpointInterval; iv > 0 && len(c.pending) >= iv {
		c.flush(ctx)
	}
}

// flush hands the pending records to the output sink. Output comes first
// so the ledger never marks a task that is not on disk.
func (c *collector) flush(ctx context.Context) {
	if len(c.pending) == 0 || c.err != nil {
		return
	}
	batch := c.pending
	c.pending = nil

	items := make([]any, len(batch))
	var failed []any
	for i, rec := range batch {
		items[i] = rec
		if rec.Failed() {
			failed = append(failed, rec)
		}
	}

	err := c.e.deps.Output.Append(items)
	if obs := c.e.deps.Observer; obs != nil {
		obs.Flushed(len(items), err)
	}
	if err != nil {
		c.err = eris.Wrapf(err, "engine: checkpoint of %d records", len(items))
		zap.L().Error("engine: writer failed, stopping run", zap.Error(c.err))
		c.cancel(c.err)
		return
	}

	if c.e.deps.Errors != nil && len(failed) > 0 {
		if err := c.e.deps.Errors.Append(failed); err != nil {
			zap.L().Warn("engine: errors file append failed", zap.Int("records", len(failed)), zap.Error(err))
		}
	}

	if c.e.deps.Ledger != nil {
		outcomes := make([]model.TaskOutcome, len(batch))
		for i, rec := range batch {
			outcomes[i] = model.OutcomeOf(c.e.deps.RunID, rec)
		}
		if err := c.e.deps.Ledger.RecordOutcomes(context.WithoutCancel(ctx), outcomes); err != nil {
			zap.L().Warn("engine: ledger update failed", zap.Int("records", len(outcomes)), zap.Error(err))
		}
	}

	zap.L().Debug("engine: checkpoint written",
		zap.Int("records", len(items)),
		zap.Int("completed", c.completed),
	)
}

func (c *collector) logProgress() {
	elapsed := time.Since(c.start)
	rate := float64(c.completed) / max(elapsed.Seconds(), 1e-9)
	fields := []zap.Field{
		zap.Int("completed", c.completed),
		zap.Int("total", c.total),
		zap.Int("succeeded", c.succeeded),
		zap.Int("failed", c.failed),
		zap.Float64("per_sec", rate),
	}
	if remaining := c.total - c.completed; remaining > 0 && rate > 0 {
		fields = append(fields, zap.Duration("eta", time.Duration(float64(remaining)/rate*float64(time.Second)).Round(time.Second)))
	}
	zap.L().Info("engine: progress", fields...)
}
