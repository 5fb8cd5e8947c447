package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeRecord(t *testing.T, s string) Record {
	t.Helper()
	var r Record
	require.NoError(t, json.Unmarshal([]byte(s), &r))
	return r
}

func TestFields_PreservesKeyOrder(t *testing.T) {
	r := decodeRecord(t, `{"zeta":1,"alpha":"a","mid":{"x":true},"id":12345678901234567}`)

	assert.Equal(t, []string{"zeta", "alpha", "mid", "id"}, r.Fields.Keys())

	out, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":1,"alpha":"a","mid":{"x":true},"id":12345678901234567}`, string(out))
}

func TestFields_SetAndDelete(t *testing.T) {
	f := NewFields()
	f.Set("a", 1)
	f.Set("b", 2)
	f.Set("a", 3)
	f.Delete("b")
	f.Delete("missing")

	assert.Equal(t, []string{"a"}, f.Keys())
	v, ok := f.Get("a")
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestFields_RejectsNonObject(t *testing.T) {
	var r Record
	err := json.Unmarshal([]byte(`[1,2]`), &r)
	assert.Error(t, err)
}

func TestRecord_IDAndSampleIndex(t *testing.T) {
	r := decodeRecord(t, `{"id":42,"sample_index":"7"}`)
	assert.Equal(t, "42", r.ID())
	idx, ok := r.SampleIndex()
	require.True(t, ok)
	assert.Equal(t, 7, idx)

	empty := decodeRecord(t, `{}`)
	assert.Equal(t, "", empty.ID())
	_, ok = empty.SampleIndex()
	assert.False(t, ok)
}

func TestRecord_QuestionLookupOrder(t *testing.T) {
	top := decodeRecord(t, `{"question":"top?","source_b":{"question":"b?"}}`)
	assert.Equal(t, "top?", top.Question())

	nested := decodeRecord(t, `{"source_a":{"question":"a?"},"source_b":{"question":"b?"}}`)
	assert.Equal(t, "b?", nested.Question())

	onlyA := decodeRecord(t, `{"source_a":{"question":"a?"}}`)
	assert.Equal(t, "a?", onlyA.Question())

	blank := decodeRecord(t, `{"question":"   "}`)
	assert.Equal(t, "", blank.Question())
}

func TestRecord_ImageRef(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantRef string
		wantKey string
		wantOK  bool
	}{
		{"top level first key", `{"image":"b.png","image_input":"a.png"}`, "a.png", "image_input", true},
		{"alias key", `{"img_src":"http://x/y.jpg"}`, "http://x/y.jpg", "img_src", true},
		{"nested source_a before source_b", `{"source_b":{"image":"b.png"},"source_a":{"pic":"a.png"}}`, "a.png", "source_a.pic", true},
		{"empty string skipped", `{"image_input":"","image":"c.png"}`, "c.png", "image", true},
		{"missing", `{"question":"q"}`, "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, key, ok := decodeRecord(t, tt.input).ImageRef()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantRef, ref)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}

func TestRecord_PipelineTypes(t *testing.T) {
	assert.Equal(t, []string{"caption", "question"}, decodeRecord(t, `{"pipeline_types":["caption"," question ",""]}`).PipelineTypes())
	assert.Equal(t, []string{"caption"}, decodeRecord(t, `{"pipeline_types":"caption"}`).PipelineTypes())
	assert.Nil(t, decodeRecord(t, `{"pipeline_types":null}`).PipelineTypes())
	assert.Nil(t, decodeRecord(t, `{}`).PipelineTypes())
}

func TestRecord_PassThroughDropsImagePayload(t *testing.T) {
	r := decodeRecord(t, `{"id":1,"image_input":"AAAA","base64":"BBBB","pipeline_types":["caption"],"question":"q","extra":true}`)
	pt := r.PassThrough()
	assert.Equal(t, []string{"id", "question", "extra"}, pt.Keys())

	// The source record is untouched.
	assert.Equal(t, 6, r.Fields.Len())
}

func TestRecord_PassThroughDropsNestedImagePayload(t *testing.T) {
	r := decodeRecord(t, `{"id":7,"source_a":{"image_base64":"PAYLOAD_XYZ","caption":"a dog"},"source_b":{"question":"q"}}`)

	ref, key, ok := r.ImageRef()
	require.True(t, ok)
	assert.Equal(t, "PAYLOAD_XYZ", ref)
	assert.Equal(t, "source_a.image_base64", key)

	out, err := json.Marshal(OutputRecord{Fields: r.PassThrough()})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "PAYLOAD_XYZ")
	assert.Contains(t, string(out), `"source_a":{"caption":"a dog"}`)
	assert.Contains(t, string(out), `"source_b":{"question":"q"}`)

	// The nested map of the source record is not edited.
	again, _, ok := r.ImageRef()
	require.True(t, ok)
	assert.Equal(t, "PAYLOAD_XYZ", again)
}

func TestOutputRecord_FlattenSingleResult(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := OutputRecord{
		TaskKey: "1",
		Fields:  FieldsFromMap(map[string]any{"id": 1}, "id"),
		Results: []PipelineResult{{
			PipelineType:  "caption",
			PipelineName:  "Caption",
			ScoringResult: ScoringResult{Passed: true, BasicScore: 0.5, BonusScore: 0.3, TotalScore: 0.8, Reason: "ok", Confidence: 0.9},
		}},
		Timestamp: ts,
	}

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"pipeline_type":"caption","pipeline_name":"Caption","passed":true,"basic_score":0.5,"bonus_score":0.3,"total_score":0.8,"reason":"ok","confidence":0.9,"timestamp":"2025-03-01T12:00:00Z"}`, string(out))
}

func TestOutputRecord_FlattenMultipleResults(t *testing.T) {
	rec := OutputRecord{
		Fields: NewFields(),
		Results: []PipelineResult{
			{PipelineType: "caption", ScoringResult: ScoringResult{Passed: true, TotalScore: 0.7}},
			{PipelineType: "question", ScoringResult: ScoringResult{}},
		},
	}
	flat := rec.Flatten()
	v, ok := flat.Get("pipeline_type")
	require.True(t, ok)
	assert.Equal(t, "caption", v)

	all, ok := flat.Get("pipeline_results")
	require.True(t, ok)
	assert.Len(t, all, 2)
}

func TestOutputRecord_FlattenError(t *testing.T) {
	rec := OutputRecord{
		Fields: FieldsFromMap(map[string]any{"id": "x"}, "id"),
		Error:  "no pipeline matched",
	}
	assert.True(t, rec.Failed())
	flat := rec.Flatten()
	assert.Equal(t, []string{"id", "error", "timestamp"}, flat.Keys())
	_, hasPassed := flat.Get("passed")
	assert.False(t, hasPassed)
}

func TestTask_Key(t *testing.T) {
	withID := Task{Index: 3, Record: decodeRecord(t, `{"id":"abc"}`)}
	assert.Equal(t, "abc", withID.Key())

	noID := Task{Index: 3, Record: decodeRecord(t, `{}`)}
	assert.Equal(t, "#3", noID.Key())

	tasks := NewTasks([]Record{noID.Record, withID.Record})
	assert.Equal(t, 0, tasks[0].Index)
	assert.Equal(t, 1, tasks[1].Index)
	assert.Equal(t, "#0", tasks[0].Key())
	assert.Equal(t, "abc", tasks[1].Key())
}

func TestNewTasks_RepeatedIDsGetDistinctKeys(t *testing.T) {
	tasks := NewTasks([]Record{
		decodeRecord(t, `{"id":"a"}`),
		decodeRecord(t, `{"id":"b"}`),
		decodeRecord(t, `{"id":"a"}`),
		decodeRecord(t, `{}`),
	})

	keys := make([]string, len(tasks))
	for i, task := range tasks {
		keys[i] = task.Key()
	}
	assert.Equal(t, []string{"a#0", "b", "a#2", "#3"}, keys)
}

func TestPipelineDefinition_CriteriaSplit(t *testing.T) {
	d := PipelineDefinition{Criteria: []Criterion{
		{Text: "r1", Required: true},
		{Text: "o1"},
		{Text: "r2", Required: true},
	}}
	assert.Len(t, d.Required(), 2)
	assert.Len(t, d.Optional(), 1)
	assert.True(t, d.HasOptional())

	d.Criteria = d.Required()
	assert.False(t, d.HasOptional())
}
