package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/vqa-filter/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:        "abc12345-6789-0000-0000-000000000000",
			InputPath: "data/questions.json",
			Mode:      "thread",
			Status:    model.RunStatusComplete,
			Total:     10,
			Succeeded: 9,
			Failed:    1,
			CostUSD:   0.42,
			CreatedAt: now,
			UpdatedAt: now.Add(2 * time.Minute),
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			InputPath: "/very/long/path/to/some/deeply/nested/input/file/questions.jsonl",
			Mode:      "gpu-process",
			Status:    model.RunStatusRunning,
			Total:     100,
			Succeeded: 20,
			CreatedAt: now.Add(-1 * time.Hour),
			UpdatedAt: now.Add(-30 * time.Minute),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "Status")
	assert.Contains(t, output, "abc12345")
	assert.Contains(t, output, "data/questions.json")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "10/10")
	assert.Contains(t, output, "$0.42")
	assert.Contains(t, output, "2025-06-15 10:30")
	assert.Contains(t, output, "2m0s")
	assert.Contains(t, output, "gpu-process")
	assert.Contains(t, output, "20/100")
	assert.Contains(t, output, "...")
	assert.NotContains(t, output, "/very/long")
}

func TestFormatOutcomes(t *testing.T) {
	var buf bytes.Buffer
	formatOutcomes(&buf, []model.TaskOutcome{
		{TaskKey: "a", PipelineType: "object_counting", Passed: true, TotalScore: 0.85},
		{TaskKey: "b", Error: "no image found"},
	})

	output := buf.String()
	assert.Contains(t, output, "object_counting")
	assert.Contains(t, output, "true")
	assert.Contains(t, output, "0.85")
	assert.Contains(t, output, "no image found")
}

func TestRunsStats(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

	runs := []model.Run{
		{ID: "1", Status: model.RunStatusComplete, Succeeded: 8, Failed: 2, CostUSD: 1.5, CreatedAt: now, UpdatedAt: now.Add(60 * time.Second)},
		{ID: "2", Status: model.RunStatusComplete, Succeeded: 10, CostUSD: 0.5, CreatedAt: now, UpdatedAt: now.Add(120 * time.Second)},
		{ID: "3", Status: model.RunStatusFailed, Failed: 1, CreatedAt: now, UpdatedAt: now.Add(5 * time.Second)},
		{ID: "4", Status: model.RunStatusCancelled, Succeeded: 3, CreatedAt: now, UpdatedAt: now},
		{ID: "5", Status: model.RunStatusRunning, CreatedAt: now, UpdatedAt: now},
	}

	s := computeRunStats(runs)
	assert.Equal(t, 5, s.Total)
	assert.Equal(t, 2, s.Complete)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Cancelled)
	assert.Equal(t, 1, s.Running)
	assert.Equal(t, 24, s.Tasks)
	assert.Equal(t, 3, s.TaskFailed)
	assert.InDelta(t, 2.0, s.CostUSD, 1e-9)
	assert.InDelta(t, 90.0, s.AvgDurSecs, 0.1)

	var buf bytes.Buffer
	formatRunStats(&buf, s)
	output := buf.String()
	assert.Contains(t, output, "Total runs:    5")
	assert.Contains(t, output, "Tasks:         24 (3 failed)")
	assert.Contains(t, output, "Avg duration:  90.0s")
}

func TestRunsStats_Empty(t *testing.T) {
	s := computeRunStats(nil)
	assert.Equal(t, 0, s.Total)
	assert.Equal(t, float64(0), s.AvgDurSecs)

	var buf bytes.Buffer
	formatRunStats(&buf, s)
	assert.NotContains(t, buf.String(), "Avg duration")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789-0000"))
	assert.Equal(t, "short", truncateID("short"))
	assert.Equal(t, "", truncateID(""))
}
