package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/vqa-filter/internal/config"
	"github.com/sells-group/vqa-filter/internal/cost"
	"github.com/sells-group/vqa-filter/internal/dataset"
	"github.com/sells-group/vqa-filter/internal/engine"
	"github.com/sells-group/vqa-filter/internal/fetcher"
	"github.com/sells-group/vqa-filter/internal/model"
	"github.com/sells-group/vqa-filter/internal/monitoring"
	"github.com/sells-group/vqa-filter/internal/registry"
	"github.com/sells-group/vqa-filter/internal/router"
	"github.com/sells-group/vqa-filter/internal/scoring"
	"github.com/sells-group/vqa-filter/internal/store"
	"github.com/sells-group/vqa-filter/internal/writer"
	"github.com/sells-group/vqa-filter/pkg/vision"
	"github.com/sells-group/vqa-filter/pkg/vision/mocks"
)

const passJSON = `{"passed": true, "basic_score": 0.5, "bonus_score": 0.3, "reason": "clear", "confidence": 0.9}`

func useConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func testConfig() *config.Config {
	return &config.Config{
		Engine: config.EngineConfig{
			Mode:               config.ModeThread,
			Workers:            2,
			CheckpointInterval: 1,
		},
	}
}

func writePNG(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), 0o644))
	return path
}

func testLedger(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testEnv(t *testing.T, client vision.Client, st store.Store) *filterEnv {
	t.Helper()
	reg := registry.Default()
	rt, err := router.New(reg, nil, router.Options{})
	require.NoError(t, err)
	f := fetcher.New(fetcher.HTTPOptions{}, fetcher.FTPOptions{})
	return &filterEnv{
		Registry: reg,
		Fetcher:  f,
		Factory: func(context.Context, string) (vision.Client, error) {
			return client, nil
		},
		Router:   rt,
		Scorer:   scoring.New(scoring.Options{}),
		Resolver: vision.NewResolver(f),
		Metrics:  monitoring.NewMetrics(),
		Cost:     cost.NewTracker(cost.NewCalculator(cost.DefaultRates())),
		Store:    st,
	}
}

func passingClient(t *testing.T) *mocks.MockClient {
	t.Helper()
	client := mocks.NewMockClient(t)
	client.On("Analyze", mock.Anything, mock.Anything).
		Return(&vision.Response{Text: passJSON, Model: "test-model"}, nil).Maybe()
	client.On("Close").Return(nil).Maybe()
	return client
}

func TestFilterRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     filterRequest
		wantErr string
	}{
		{name: "input file", req: filterRequest{Input: "data.json"}},
		{name: "image with pipeline", req: filterRequest{Image: "a.png", Pipelines: []string{"ocr"}}},
		{name: "no source", req: filterRequest{}, wantErr: "is required"},
		{name: "two sources", req: filterRequest{Input: "data.json", Dir: "imgs"}, wantErr: "only one"},
		{name: "dir without pipeline", req: filterRequest{Dir: "imgs"}, wantErr: "--pipeline is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, "out.json", outputPath(filterRequest{Output: "out.json", Input: "data/in.json"}, "cfg.json"))
	assert.Equal(t, "cfg.json", outputPath(filterRequest{Input: "data/in.json"}, "cfg.json"))
	assert.Equal(t, filepath.Join("data", "in_filtered.json"), outputPath(filterRequest{Input: "data/in.json"}, ""))
	assert.Equal(t, "in_filtered.json", outputPath(filterRequest{Input: "https://example.com/sets/in.jsonl"}, ""))
	assert.Equal(t, "filtered_results.json", outputPath(filterRequest{Image: "a.png"}, ""))
}

func TestLoadFilterRecords(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "a.png")
	writePNG(t, dir, "b.png")
	env := testEnv(t, nil, nil)

	t.Run("unknown pipeline", func(t *testing.T) {
		_, err := loadFilterRecords(context.Background(), env, filterRequest{Dir: dir, Pipelines: []string{"nope"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown pipeline "nope"`)
	})

	t.Run("dir", func(t *testing.T) {
		recs, err := loadFilterRecords(context.Background(), env, filterRequest{
			Dir:        dir,
			Extensions: dataset.DefaultImageExtensions,
			Pipelines:  []string{"object_counting"},
		})
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, []string{"object_counting"}, recs[0].PipelineTypes())
	})

	t.Run("empty dir", func(t *testing.T) {
		_, err := loadFilterRecords(context.Background(), env, filterRequest{
			Dir:        t.TempDir(),
			Extensions: dataset.DefaultImageExtensions,
			Pipelines:  []string{"object_counting"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no images")
	})

	t.Run("input file gets explicit pipelines", func(t *testing.T) {
		input := filepath.Join(dir, "in.json")
		require.NoError(t, os.WriteFile(input, []byte(`[
			{"id": "1", "image": "a.png", "question": "How many cats?"},
			{"id": "2", "image": "b.png", "pipeline_types": ["ocr"]}
		]`), 0o644))

		recs, err := loadFilterRecords(context.Background(), env, filterRequest{Input: input, Pipelines: []string{"object_counting"}})
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, []string{"object_counting"}, recs[0].PipelineTypes())
		assert.Equal(t, []string{"ocr"}, recs[1].PipelineTypes())
	})
}

func TestRunFilter_WritesOutputAndLedger(t *testing.T) {
	useConfig(t, testConfig())
	dir := t.TempDir()
	paths := []string{writePNG(t, dir, "a.png"), writePNG(t, dir, "b.png"), filepath.Join(dir, "missing.png")}

	st := testLedger(t)
	env := testEnv(t, passingClient(t), st)
	output := filepath.Join(dir, "out.json")

	req := filterRequest{Dir: dir, Pipelines: []string{"object_counting"}, Output: output}
	err := runFilter(context.Background(), env, req, dataset.ImageRecords(paths, req.Pipelines, ""))
	require.NoError(t, err)

	recs, err := writer.ReadAll[map[string]any](output)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	byID := map[string]map[string]any{}
	for _, r := range recs {
		byID[r["id"].(string)] = r
	}
	assert.Equal(t, true, byID["a.png"]["passed"])
	assert.InDelta(t, 0.8, byID["a.png"]["total_score"], 1e-9)
	assert.Equal(t, "object_counting", byID["b.png"]["pipeline_type"])
	assert.Contains(t, byID["missing.png"]["error"], "read image")

	runs, err := st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusComplete, runs[0].Status)
	assert.Equal(t, 3, runs[0].Total)
	assert.Equal(t, 2, runs[0].Succeeded)
	assert.Equal(t, 1, runs[0].Failed)
	assert.Equal(t, output, runs[0].OutputPath)
}

func TestRunFilter_ResumeSkipsCompleted(t *testing.T) {
	useConfig(t, testConfig())
	dir := t.TempDir()
	a, b, c := writePNG(t, dir, "a.png"), writePNG(t, dir, "b.png"), writePNG(t, dir, "c.png")
	output := filepath.Join(dir, "out.json")
	pipelines := []string{"object_counting"}

	st := testLedger(t)
	first := passingClient(t)
	req := filterRequest{Dir: dir, Pipelines: pipelines, Output: output}
	require.NoError(t, runFilter(context.Background(), testEnv(t, first, st), req, dataset.ImageRecords([]string{a, b}, pipelines, "")))

	runs, err := st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)

	second := mocks.NewMockClient(t)
	second.On("Analyze", mock.Anything, mock.MatchedBy(func(req vision.Request) bool {
		return req.Image != nil && req.Image.Source == c
	})).Return(&vision.Response{Text: passJSON, Model: "test-model"}, nil).Once()
	second.On("Close").Return(nil).Maybe()

	req.ResumeID = runs[0].ID
	require.NoError(t, runFilter(context.Background(), testEnv(t, second, st), req, dataset.ImageRecords([]string{a, b, c}, pipelines, "")))

	recs, err := writer.ReadAll[map[string]any](output)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "c.png", recs[2]["id"])

	run, err := st.GetRun(context.Background(), runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, 3, run.Succeeded)
}

func TestRunFilter_FreshRunResetsOutput(t *testing.T) {
	useConfig(t, testConfig())
	dir := t.TempDir()
	output := filepath.Join(dir, "out.json")
	require.NoError(t, os.WriteFile(output, []byte(`[{"id": "stale"}]`), 0o644))

	req := filterRequest{Image: writePNG(t, dir, "a.png"), Pipelines: []string{"object_counting"}, Output: output}
	require.NoError(t, runFilter(context.Background(), testEnv(t, passingClient(t), nil), req,
		dataset.ImageRecords([]string{req.Image}, req.Pipelines, "")))

	recs, err := writer.ReadAll[map[string]any](output)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "a.png", recs[0]["id"])
}

func TestRunFilter_ErrorsFile(t *testing.T) {
	c := testConfig()
	c.Output.ErrorsFile = true
	useConfig(t, c)

	dir := t.TempDir()
	output := filepath.Join(dir, "out.json")
	paths := []string{writePNG(t, dir, "a.png"), filepath.Join(dir, "gone.png")}
	req := filterRequest{Dir: dir, Pipelines: []string{"object_counting"}, Output: output}
	require.NoError(t, runFilter(context.Background(), testEnv(t, passingClient(t), nil), req,
		dataset.ImageRecords(paths, req.Pipelines, "")))

	errs, err := writer.ReadAll[map[string]any](writer.ErrorsPath(output))
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "gone.png", errs[0]["id"])
}

func TestStartRun_ResumeNeedsLedger(t *testing.T) {
	_, err := startRun(context.Background(), nil, &model.Run{ID: "x"}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs a run ledger")

	skip, err := startRun(context.Background(), nil, &model.Run{}, false)
	require.NoError(t, err)
	assert.Nil(t, skip)
}

func TestFinishRun_Status(t *testing.T) {
	tests := []struct {
		name   string
		sum    *engine.Summary
		runErr error
		want   model.RunStatus
	}{
		{name: "complete", sum: &engine.Summary{Total: 2}, want: model.RunStatusComplete},
		{name: "cancelled", sum: &engine.Summary{Total: 2, Cancelled: true}, want: model.RunStatusCancelled},
		{name: "failed", sum: &engine.Summary{Total: 2}, runErr: errors.New("disk full"), want: model.RunStatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := testLedger(t)
			ctx := context.Background()
			run := &model.Run{InputPath: "in.json", Mode: config.ModeThread}
			require.NoError(t, st.CreateRun(ctx, run))
			require.NoError(t, st.RecordOutcomes(ctx, []model.TaskOutcome{
				{RunID: run.ID, TaskKey: "a", Passed: true, TotalScore: 0.9},
			}))

			finishRun(ctx, st, run, tt.sum, tt.runErr)

			got, err := st.GetRun(ctx, run.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, 2, got.Total)
			assert.Equal(t, 1, got.Succeeded)
			if tt.runErr != nil {
				assert.Equal(t, "disk full", got.Error)
			}
		})
	}
}

func TestInputLabel(t *testing.T) {
	assert.Equal(t, "a.png", inputLabel(filterRequest{Image: "a.png"}))
	assert.Equal(t, "imgs", inputLabel(filterRequest{Dir: "imgs"}))
	assert.Equal(t, "in.json", inputLabel(filterRequest{Input: "in.json"}))
}
