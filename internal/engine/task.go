package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vqa-filter/internal/model"
	"github.com/sells-group/vqa-filter/pkg/vision"
)

// Messages of error records produced before any model call.
const (
	MsgNoPipeline      = "no pipeline matched"
	MsgNoImage         = "no image found"
	MsgInvalidPipeline = "invalid pipeline type: %s"
)

// outcome is what a worker hands to the collector.
type outcome struct {
	rec     model.OutputRecord
	stage   string
	elapsed time.Duration
}

// execute runs one task with client and never panics.
func (e *Engine) execute(ctx context.Context, client vision.Client, t model.Task) (out outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("engine: task panicked",
				zap.String("task", t.Key()),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			out.rec = errorRecord(t, fmt.Sprintf("panic: %v", r))
		}
		out.elapsed = time.Since(start)
	}()

	if e.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.TaskTimeout)
		defer cancel()
	}

	defs, stage, err := e.pipelinesFor(ctx, t.Record)
	out.stage = stage
	if err != nil {
		out.rec = errorRecord(t, err.Error())
		return out
	}

	ref, _, ok := t.Record.ImageRef()
	if !ok {
		out.rec = errorRecord(t, MsgNoImage)
		return out
	}
	img, err := e.deps.Resolver.Resolve(ctx, ref)
	if err != nil {
		zap.L().Debug("engine: image resolve failed", zap.String("task", t.Key()), zap.Error(err))
		out.rec = errorRecord(t, err.Error())
		return out
	}

	question := t.Record.Question()
	results := make([]model.PipelineResult, 0, len(defs))
	for _, def := range defs {
		res, err := e.deps.Scorer.Filter(ctx, client, img, def, question)
		if err != nil {
			zap.L().Warn("engine: scoring failed",
				zap.String("task", t.Key()),
				zap.String("pipeline", def.ID),
				zap.Error(err),
			)
			out.rec = errorRecord(t, err.Error())
			return out
		}
		results = append(results, model.PipelineResult{
			PipelineType:  def.ID,
			PipelineName:  def.Name,
			ScoringResult: res,
		})
	}

	out.rec = model.OutputRecord{
		TaskKey:   t.Key(),
		Fields:    t.Record.PassThrough(),
		Results:   results,
		Timestamp: time.Now().UTC(),
	}
	return out
}

// pipelinesFor honours explicit pipeline_types on the record and routes
// the question otherwise.
func (e *Engine) pipelinesFor(ctx context.Context, rec model.Record) ([]model.PipelineDefinition, string, error) {
	ids := rec.PipelineTypes()
	stage := model.StageExplicit
	if len(ids) == 0 {
		dec := e.deps.Router.Route(ctx, rec.Question())
		if dec.Empty() {
			return nil, dec.Stage, eris.New(MsgNoPipeline)
		}
		ids, stage = dec.IDs, dec.Stage
	}

	defs := make([]model.PipelineDefinition, 0, len(ids))
	for _, id := range ids {
		def, ok := e.deps.Registry.Get(id)
		if !ok {
			return nil, stage, eris.Errorf(MsgInvalidPipeline, id)
		}
		defs = append(defs, def)
	}
	return defs, stage, nil
}

func errorRecord(t model.Task, msg string) model.OutputRecord {
	return model.OutputRecord{
		TaskKey:   t.Key(),
		Fields:    t.Record.PassThrough(),
		Error:     msg,
		Timestamp: time.Now().UTC(),
	}
}

// closeClient closes c and logs a failure.
func closeClient(c vision.Client, device string) {
	if err := c.Close(); err != nil {
		zap.L().Debug("engine: close client", zap.String("device", device), zap.Error(err))
	}
}
