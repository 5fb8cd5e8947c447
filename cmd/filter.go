package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/vqa-filter/internal/config"
	"github.com/sells-group/vqa-filter/internal/dataset"
	"github.com/sells-group/vqa-filter/internal/engine"
	"github.com/sells-group/vqa-filter/internal/model"
	"github.com/sells-group/vqa-filter/internal/monitoring"
	"github.com/sells-group/vqa-filter/internal/store"
	"github.com/sells-group/vqa-filter/internal/writer"
)

// filterRequest is the parsed command line of one filter invocation.
type filterRequest struct {
	Input      string
	Image      string
	Dir        string
	Extensions []string
	Pipelines  []string
	Question   string
	Output     string
	ResumeID   string
	Load       dataset.LoadOptions
}

var filterReq filterRequest

var filterCmd = &cobra.Command{
	Use:   "filter [input]",
	Short: "Route and score records from a JSON, JSONL, CSV or XLSX file",
	Long: `Routes every record to its pipelines, grades the image against each
pipeline's rubric and appends the verdicts to a JSON array file.

Use --image or --dir with --pipeline to score images without an input file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := applyFilterFlags(cmd, cfg); err != nil {
			return err
		}
		req := filterReq
		if len(args) == 1 {
			req.Input = args[0]
		}
		if err := cfg.Validate("filter"); err != nil {
			return err
		}
		if err := req.validate(); err != nil {
			return err
		}

		env, err := initFilter(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		records, err := loadFilterRecords(ctx, env, req)
		if err != nil {
			return err
		}
		req.Output = outputPath(req, cfg.Output.Path)

		return runFilter(ctx, env, req, records)
	},
}

func init() {
	f := filterCmd.Flags()
	f.StringVar(&filterReq.Image, "image", "", "score a single image path or URL")
	f.StringVar(&filterReq.Dir, "dir", "", "score every image under a directory")
	f.StringSliceVar(&filterReq.Extensions, "extensions", dataset.DefaultImageExtensions, "image extensions matched by --dir")
	f.StringSliceVar(&filterReq.Pipelines, "pipeline", nil, "pipeline ids for --image/--dir records")
	f.StringVar(&filterReq.Question, "question", "", "question attached to --image/--dir records")
	f.StringVarP(&filterReq.Output, "output", "o", "", "output JSON array file")
	f.StringVar(&filterReq.ResumeID, "resume", "", "resume the run with this id, skipping completed tasks")
	f.IntVar(&filterReq.Load.Offset, "offset", 0, "skip the first N input records")
	f.IntVar(&filterReq.Load.Limit, "limit", 0, "process at most N input records")
	f.StringVar(&filterReq.Load.Sheet, "sheet", "", "XLSX sheet name")
	f.String("format", "", "input format (json, jsonl, csv, xlsx); detected from the extension by default")
	f.String("mode", "", "execution mode (thread, process, gpu-process, async)")
	f.Int("workers", 0, "worker count")
	f.Int("num-gpus", 0, "device count for gpu-process and async modes")
	f.Bool("errors-file", false, "also write error records to <output>.errors.json")
	f.Bool("no-semantic", false, "disable the model classifier routing stage")
	rootCmd.AddCommand(filterCmd)
}

// applyFilterFlags overrides config values with the flags that were set.
func applyFilterFlags(cmd *cobra.Command, c *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("mode") {
		c.Engine.Mode, _ = flags.GetString("mode")
	}
	if flags.Changed("workers") {
		c.Engine.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("num-gpus") {
		c.Engine.NumGPUs, _ = flags.GetInt("num-gpus")
	}
	if flags.Changed("errors-file") {
		c.Output.ErrorsFile, _ = flags.GetBool("errors-file")
	}
	if noSemantic, _ := flags.GetBool("no-semantic"); noSemantic {
		c.Router.Semantic = false
	}
	if flags.Changed("format") {
		s, _ := flags.GetString("format")
		format, err := dataset.ParseFormat(s)
		if err != nil {
			return err
		}
		filterReq.Load.Format = format
	}
	return nil
}

func (r filterRequest) validate() error {
	sources := 0
	for _, s := range []string{r.Input, r.Image, r.Dir} {
		if s != "" {
			sources++
		}
	}
	switch {
	case sources == 0:
		return eris.New("filter: an input file, --image or --dir is required")
	case sources > 1:
		return eris.New("filter: use only one of an input file, --image or --dir")
	case r.Input == "" && len(r.Pipelines) == 0:
		return eris.New("filter: --pipeline is required with --image or --dir")
	}
	return nil
}

// loadFilterRecords reads the input file or builds records for --image and
// --dir. Explicit pipelines must exist in the registry.
func loadFilterRecords(ctx context.Context, env *filterEnv, req filterRequest) ([]model.Record, error) {
	for _, id := range req.Pipelines {
		if !env.Registry.Has(id) {
			return nil, eris.Errorf("filter: unknown pipeline %q (have %s)", id, strings.Join(env.Registry.IDs(), ", "))
		}
	}

	switch {
	case req.Image != "":
		return dataset.ImageRecords([]string{req.Image}, req.Pipelines, req.Question), nil
	case req.Dir != "":
		paths, err := dataset.ScanImages(req.Dir, req.Extensions)
		if err != nil {
			return nil, err
		}
		if len(paths) == 0 {
			return nil, eris.Errorf("filter: no images with extensions %v under %s", req.Extensions, req.Dir)
		}
		return dataset.ImageRecords(paths, req.Pipelines, req.Question), nil
	}

	records, err := dataset.Load(ctx, env.Fetcher, req.Input, req.Load)
	if err != nil {
		return nil, eris.Wrap(err, "filter: load input")
	}
	if len(req.Pipelines) > 0 {
		for _, rec := range records {
			if len(rec.PipelineTypes()) == 0 {
				rec.Fields.Set("pipeline_types", stringsToAny(req.Pipelines))
			}
		}
	}
	zap.L().Info("input loaded", zap.String("input", req.Input), zap.Int("records", len(records)))
	return records, nil
}

// outputPath picks the --output flag, then the configured path, then a
// name derived from the input.
func outputPath(req filterRequest, configured string) string {
	switch {
	case req.Output != "":
		return req.Output
	case configured != "":
		return configured
	case req.Input != "" && !strings.Contains(req.Input, "://"):
		base := strings.TrimSuffix(filepath.Base(req.Input), filepath.Ext(req.Input))
		return filepath.Join(filepath.Dir(req.Input), base+"_filtered.json")
	case req.Input != "":
		base := strings.TrimSuffix(filepath.Base(req.Input), filepath.Ext(req.Input))
		return base + "_filtered.json"
	default:
		return "filtered_results.json"
	}
}

// runFilter opens or resumes the ledger run, runs the engine and records
// the final status.
func runFilter(ctx context.Context, env *filterEnv, req filterRequest, records []model.Record) error {
	out := writer.New(req.Output)
	var errs *writer.Writer
	if cfg.Output.ErrorsFile {
		errs = writer.New(writer.ErrorsPath(req.Output))
	}

	run := &model.Run{
		ID:         req.ResumeID,
		InputPath:  inputLabel(req),
		OutputPath: req.Output,
		Mode:       cfg.Engine.Mode,
		Total:      len(records),
	}
	skip, err := startRun(ctx, env.Store, run, req.ResumeID != "")
	if err != nil {
		return err
	}
	if req.ResumeID == "" {
		if err := resetOutputs(out, errs); err != nil {
			return err
		}
	}

	stopMonitoring := startMonitoring(ctx, env)
	defer stopMonitoring()

	deps := engine.Deps{
		Registry: env.Registry,
		Router:   env.Router,
		Scorer:   env.Scorer,
		Resolver: env.Resolver,
		Factory:  env.Factory,
		Output:   out,
		Observer: env.Metrics,
		RunID:    run.ID,
		Skip:     skip,
		Cost:     env.Cost,
	}
	if errs != nil {
		deps.Errors = errs
	}
	if env.Store != nil {
		deps.Ledger = env.Store
	}

	eng, err := engine.New(deps, engine.OptionsFrom(cfg.Engine))
	if err != nil {
		return err
	}

	zap.L().Info("filter run starting",
		zap.String("run_id", run.ID),
		zap.String("output", req.Output),
		zap.Int("records", len(records)),
	)
	sum, runErr := eng.Run(ctx, model.NewTasks(records))

	finishRun(ctx, env.Store, run, sum, runErr)
	if sum != nil {
		printSummary(os.Stdout, run.ID, req.Output, sum)
	}
	if runErr != nil {
		return runErr
	}
	if sum.Cancelled {
		if run.ID != "" {
			return eris.Wrapf(context.Cause(ctx), "filter: interrupted, rerun with --resume %s", run.ID)
		}
		return eris.Wrap(context.Cause(ctx), "filter: interrupted")
	}
	return nil
}

// startRun creates the ledger row, or loads it and the completed task keys
// when resuming.
func startRun(ctx context.Context, st store.Store, run *model.Run, resume bool) (map[string]bool, error) {
	if st == nil {
		if resume {
			return nil, eris.New("filter: --resume needs a run ledger (set store.driver)")
		}
		return nil, nil
	}

	if !resume {
		if err := st.CreateRun(ctx, run); err != nil {
			return nil, eris.Wrap(err, "filter: create run")
		}
		return nil, nil
	}

	prev, err := st.GetRun(ctx, run.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "filter: load run %s", run.ID)
	}
	skip, err := st.CompletedKeys(ctx, run.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "filter: completed tasks of %s", run.ID)
	}
	if prev.OutputPath != "" && prev.OutputPath != run.OutputPath {
		zap.L().Warn("resumed run wrote to a different output",
			zap.String("previous", prev.OutputPath),
			zap.String("current", run.OutputPath),
		)
	}
	run.CreatedAt = prev.CreatedAt
	run.Status = model.RunStatusRunning
	run.Error = ""
	if err := st.UpdateRun(ctx, run); err != nil {
		return nil, eris.Wrap(err, "filter: mark run resumed")
	}
	zap.L().Info("resuming run", zap.String("run_id", run.ID), zap.Int("completed", len(skip)))
	return skip, nil
}

// finishRun writes the final counters and status. Ledger failures are
// logged only; the output file is already complete.
func finishRun(ctx context.Context, st store.Store, run *model.Run, sum *engine.Summary, runErr error) {
	if st == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	switch {
	case runErr != nil:
		run.Status = model.RunStatusFailed
		run.Error = runErr.Error()
	case sum != nil && sum.Cancelled:
		run.Status = model.RunStatusCancelled
	default:
		run.Status = model.RunStatusComplete
	}

	if outcomes, err := st.ListOutcomes(ctx, run.ID); err == nil {
		store.Summarize(run, outcomes)
	} else {
		zap.L().Warn("list run outcomes", zap.String("run_id", run.ID), zap.Error(err))
	}
	if sum != nil {
		run.Total = sum.Total
		run.CostUSD += sum.CostUSD
	}

	if err := st.UpdateRun(ctx, run); err != nil {
		zap.L().Warn("update run", zap.String("run_id", run.ID), zap.Error(err))
	}
}

// resetOutputs starts fresh runs from empty arrays.
func resetOutputs(out, errs *writer.Writer) error {
	if err := out.WriteAll(nil); err != nil {
		return eris.Wrap(err, "filter: reset output")
	}
	if errs != nil {
		if err := errs.WriteAll(nil); err != nil {
			return eris.Wrap(err, "filter: reset errors file")
		}
	}
	return nil
}

// startMonitoring serves /metrics and runs the alert checker when
// configured. The returned func runs a final check.
func startMonitoring(ctx context.Context, env *filterEnv) func() {
	mc := cfg.Monitoring
	if mc.MetricsAddr != "" {
		go func() {
			if err := env.Metrics.Serve(ctx, mc.MetricsAddr, mc.CORSOrigins); err != nil {
				zap.L().Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	if mc.WebhookURL == "" && mc.Textfile == "" {
		return func() {}
	}

	var runs monitoring.RunLister
	if env.Store != nil {
		runs = env.Store
	}
	collector := monitoring.NewCollector(runs, func() monitoring.LiveStats {
		succeeded, failed := env.Metrics.TaskCounts()
		return monitoring.LiveStats{
			Succeeded: succeeded,
			Failed:    failed,
			CostUSD:   env.Cost.Total().CostUSD,
		}
	})
	checker := monitoring.NewChecker(collector, monitoring.NewAlerter(mc), env.Metrics, mc)

	checkCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		checker.Run(checkCtx)
	}()

	return func() {
		cancel()
		<-done
		checker.Check(context.WithoutCancel(ctx))
	}
}

func inputLabel(req filterRequest) string {
	switch {
	case req.Image != "":
		return req.Image
	case req.Dir != "":
		return req.Dir
	default:
		return req.Input
	}
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
