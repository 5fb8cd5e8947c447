// Package engine runs filter tasks concurrently and streams their results
// to the output writer in checkpoints.
package engine

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vqa-filter/internal/config"
	"github.com/sells-group/vqa-filter/internal/cost"
	"github.com/sells-group/vqa-filter/internal/model"
	"github.com/sells-group/vqa-filter/internal/registry"
	"github.com/sells-group/vqa-filter/pkg/vision"
)

// Router selects pipelines for a question.
type Router interface {
	Route(ctx context.Context, question string) model.RouteDecision
}

// Scorer grades one image against one pipeline.
type Scorer interface {
	Filter(ctx context.Context, client vision.Client, img *vision.Image, def model.PipelineDefinition, question string) (model.ScoringResult, error)
}

// ImageResolver turns a record's image reference into image bytes.
type ImageResolver interface {
	Resolve(ctx context.Context, ref string) (*vision.Image, error)
}

// Sink receives checkpoint batches.
type Sink interface {
	Append(batch []any) error
}

// Observer is notified from the collector goroutine only.
type Observer interface {
	TaskDone(rec model.OutputRecord, elapsed time.Duration)
	Routed(stage string)
	Flushed(records int, err error)
}

// Ledger persists task outcomes for resume.
type Ledger interface {
	RecordOutcomes(ctx context.Context, outcomes []model.TaskOutcome) error
}

// Deps are the collaborators of an Engine. Errors, Observer, Ledger and
// Cost are optional.
type Deps struct {
	Registry *registry.Registry
	Router   Router
	Scorer   Scorer
	Resolver ImageResolver
	Factory  vision.Factory

	Output Sink
	Errors Sink

	Observer Observer
	Ledger   Ledger
	RunID    string
	// Skip holds task keys already completed by an earlier attempt.
	Skip map[string]bool
	Cost *cost.Tracker
}

// Options controls scheduling.
type Options struct {
	Mode                   string
	Workers                int
	NumDevices             int
	MaxConcurrentPerDevice int
	// CheckpointInterval is the number of completions per writer handoff;
	// zero writes once at the end of the run.
	CheckpointInterval int
	ProgressInterval   int
	GCInterval         int
	PreviewLimit       int
	TaskTimeout        time.Duration
}

// OptionsFrom maps the engine config section to Options.
func OptionsFrom(cfg config.EngineConfig) Options {
	return Options{
		Mode:                   cfg.Mode,
		Workers:                cfg.Workers,
		NumDevices:             cfg.NumGPUs,
		MaxConcurrentPerDevice: cfg.MaxConcurrentPerDevice,
		CheckpointInterval:     cfg.CheckpointInterval,
		ProgressInterval:       cfg.ProgressInterval,
		GCInterval:             cfg.GCInterval,
		PreviewLimit:           cfg.PreviewLimit,
		TaskTimeout:            time.Duration(cfg.TaskTimeoutSecs) * time.Second,
	}
}

// Summary describes a finished run.
type Summary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	// Dropped counts tasks that failed after cancellation. They are not
	// written, so a resumed run retries them.
	Dropped   int                  `json:"dropped"`
	Elapsed   time.Duration        `json:"elapsed"`
	Preview   []model.OutputRecord `json:"-"`
	Usage     []cost.ModelUsage    `json:"usage,omitempty"`
	CostUSD   float64              `json:"cost_usd"`
	Cancelled bool                 `json:"cancelled"`
}

// Engine schedules tasks in one of the configured modes.
type Engine struct {
	deps Deps
	opts Options
}

// New validates deps and fills option defaults.
func New(deps Deps, opts Options) (*Engine, error) {
	switch {
	case deps.Registry == nil:
		return nil, eris.New("engine: registry is required")
	case deps.Router == nil:
		return nil, eris.New("engine: router is required")
	case deps.Scorer == nil:
		return nil, eris.New("engine: scorer is required")
	case deps.Resolver == nil:
		return nil, eris.New("engine: image resolver is required")
	case deps.Factory == nil:
		return nil, eris.New("engine: client factory is required")
	case deps.Output == nil:
		return nil, eris.New("engine: output sink is required")
	}

	if opts.Mode == "" {
		opts.Mode = config.ModeThread
	}
	switch opts.Mode {
	case config.ModeThread, config.ModeProcess, config.ModeGPUProcess, config.ModeAsync:
	default:
		return nil, eris.Errorf("engine: unknown mode %q", opts.Mode)
	}
	opts.Workers = max(1, opts.Workers)
	opts.NumDevices = max(1, opts.NumDevices)
	opts.MaxConcurrentPerDevice = max(1, opts.MaxConcurrentPerDevice)
	opts.CheckpointInterval = max(0, opts.CheckpointInterval)

	return &Engine{deps: deps, opts: opts}, nil
}

// Run executes tasks and returns once every dispatched task has been
// collected and flushed. The error is non-nil when the writer fails or the
// mode cannot start; per-task failures become error records instead.
// Cancelling ctx stops dispatch and flushes what was collected.
func (e *Engine) Run(ctx context.Context, tasks []model.Task) (*Summary, error) {
	start := time.Now()
	pending, skipped := e.pending(tasks)

	log := zap.L().With(
		zap.String("mode", e.opts.Mode),
		zap.Int("tasks", len(pending)),
	)
	if skipped > 0 {
		log.Info("engine: skipping tasks completed by an earlier attempt", zap.Int("skipped", skipped))
	}
	log.Info("engine: starting run", zap.Int("workers", e.opts.Workers), zap.Int("devices", e.opts.NumDevices))

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	results := make(chan outcome, e.opts.Workers)
	col := newCollector(e, len(pending), cancel)
	collected := make(chan error, 1)
	go func() {
		collected <- col.run(runCtx, results)
	}()

	emit := func(o outcome) { results <- o }
	dispatchErr := e.dispatch(runCtx, pending, emit)
	close(results)
	writeErr := <-collected

	sum := &Summary{
		Total:     len(tasks),
		Succeeded: col.succeeded,
		Failed:    col.failed,
		Skipped:   skipped,
		Dropped:   col.dropped,
		Elapsed:   time.Since(start),
		Preview:   col.preview,
		Cancelled: ctx.Err() != nil,
	}
	if e.deps.Cost != nil {
		sum.Usage = e.deps.Cost.Snapshot()
		sum.CostUSD = e.deps.Cost.Total().CostUSD
	}

	log.Info("engine: run finished",
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Int("dropped", sum.Dropped),
		zap.Duration("elapsed", sum.Elapsed),
		zap.Bool("cancelled", sum.Cancelled),
	)

	if writeErr != nil {
		return sum, writeErr
	}
	if dispatchErr != nil {
		return sum, eris.Wrapf(dispatchErr, "engine: %s mode", e.opts.Mode)
	}
	return sum, nil
}

func (e *Engine) pending(tasks []model.Task) ([]model.Task, int) {
	if len(e.deps.Skip) == 0 {
		return tasks, 0
	}
	out := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		if e.deps.Skip[t.Key()] {
			continue
		}
		out = append(out, t)
	}
	return out, len(tasks) - len(out)
}

func (e *Engine) dispatch(ctx context.Context, tasks []model.Task, emit func(outcome)) error {
	if len(tasks) == 0 {
		return nil
	}
	switch e.opts.Mode {
	case config.ModeProcess:
		return e.runProcess(ctx, tasks, emit)
	case config.ModeGPUProcess:
		return e.runDevices(ctx, tasks, emit)
	case config.ModeAsync:
		return e.runAsync(ctx, tasks, emit)
	default:
		return e.runThread(ctx, tasks, emit)
	}
}
