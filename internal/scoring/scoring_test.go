package scoring

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/vqa-filter/internal/model"
	"github.com/sells-group/vqa-filter/internal/registry"
	"github.com/sells-group/vqa-filter/pkg/vision"
	"github.com/sells-group/vqa-filter/pkg/vision/mocks"
)

func def(t *testing.T, id string) model.PipelineDefinition {
	t.Helper()
	d, ok := registry.Default().Get(id)
	require.True(t, ok, id)
	return d
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
		ok   bool
	}{
		{
			name: "fenced json",
			text: "Here you go:\n```json\n{\"passed\": true, \"basic_score\": 0.5}\n```\nThanks",
			want: `{"passed": true, "basic_score": 0.5}`,
			ok:   true,
		},
		{
			name: "bare fence",
			text: "```\n{\"passed\": false}\n```",
			want: `{"passed": false}`,
			ok:   true,
		},
		{
			name: "prose around object",
			text: `The verdict is {"passed": true, "reason": "ok"} as requested.`,
			want: `{"passed": true, "reason": "ok"}`,
			ok:   true,
		},
		{
			name: "braces inside strings",
			text: `{"passed": true, "reason": "a } brace and a \" quote {"}`,
			want: `{"passed": true, "reason": "a } brace and a \" quote {"}`,
			ok:   true,
		},
		{
			name: "skips unrelated object",
			text: `{"note": "first"} then {"passed": false, "reason": "x"}`,
			want: `{"passed": false, "reason": "x"}`,
			ok:   true,
		},
		{
			name: "smallest span with passed",
			text: `{"wrapper": {"passed": true}}`,
			want: `{"passed": true}`,
			ok:   true,
		},
		{
			name: "object without passed",
			text: `Result: {"reason": "blurry"}`,
			want: `{"reason": "blurry"}`,
			ok:   true,
		},
		{
			name: "verdict fence after schema fence",
			text: "The schema is:\n```json\n{\"type\": \"object\", \"properties\": {\"passed\": {\"type\": \"boolean\"}}}\n```\n" +
				"Verdict:\n```json\n{\"passed\": false, \"reason\": \"blurry\"}\n```",
			want: `{"passed": false, "reason": "blurry"}`,
			ok:   true,
		},
		{
			name: "fence without passed",
			text: "```json\n{\"reason\": \"blurry\"}\n```",
			want: `{"reason": "blurry"}`,
			ok:   true,
		},
		{
			name: "no object",
			text: "I cannot evaluate this image.",
			ok:   false,
		},
		{
			name: "unbalanced",
			text: `{"passed": true`,
			ok:   false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Extract(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Backfill(t *testing.T) {
	res, err := Parse(`{"passed": "TRUE", "basic_score": "0.4"}`)
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.InDelta(t, 0.4, res.BasicScore, 1e-9)
	assert.Equal(t, ReasonUnparseable, res.Reason)
	assert.InDelta(t, 0.5, res.Confidence, 1e-9)
	assert.Zero(t, res.BonusScore)
	assert.Zero(t, res.TotalScore)

	res, err = Parse(`{"reason": "no gate field", "confidence": 0.9}`)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, "no gate field", res.Reason)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)

	res, err = Parse(`{"passed": true, "basic_score": "NaN"}`)
	require.NoError(t, err)
	assert.Zero(t, res.BasicScore)
}

func TestParse_SkipsFenceWithoutVerdict(t *testing.T) {
	text := "```json\n{\"type\": \"object\", \"required\": [\"reason\"]}\n```\n" +
		"```json\n{\"passed\": true, \"basic_score\": 0.6, \"reason\": \"sharp\", \"confidence\": 0.8}\n```"
	res, err := Parse(text)
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.InDelta(t, 0.6, res.BasicScore, 1e-9)
	assert.Equal(t, "sharp", res.Reason)
}

func TestParse_RepairsTrailingCommas(t *testing.T) {
	res, err := Parse("```json\n{\"passed\": true, \"basic_score\": 0.5, \"reason\": \"ok\",\n}\n```")
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.InDelta(t, 0.5, res.BasicScore, 1e-9)
	assert.Equal(t, "ok", res.Reason)
}

func TestParse_Malformed(t *testing.T) {
	res, err := Parse("no json here")
	assert.Error(t, err)
	assert.Equal(t, Unparseable(), res)

	res, err = Parse("```json\n{\"passed\": tru}\n```")
	assert.Error(t, err)
	assert.Equal(t, Unparseable(), res)
}

func TestNormalize_NoOptionalFixesBonus(t *testing.T) {
	d := def(t, "question")
	require.False(t, d.HasOptional())

	got := Normalize(model.ScoringResult{Passed: true, BasicScore: 0.5, BonusScore: 0.1, Confidence: 0.8}, d, DefaultLimits())
	assert.InDelta(t, 0.5, got.BasicScore, 1e-9)
	assert.InDelta(t, 0.4, got.BonusScore, 1e-9)
	assert.InDelta(t, 0.9, got.TotalScore, 1e-9)
}

func TestNormalize_FailZeroesScores(t *testing.T) {
	for _, id := range []string{"question", "object_counting"} {
		got := Normalize(model.ScoringResult{Passed: false, BasicScore: 0.6, BonusScore: 0.4, TotalScore: 1, Confidence: 3}, def(t, id), DefaultLimits())
		assert.Zero(t, got.BasicScore, id)
		assert.Zero(t, got.BonusScore, id)
		assert.Zero(t, got.TotalScore, id)
		assert.InDelta(t, 1.0, got.Confidence, 1e-9, id)
	}
}

func TestNormalize_Clamps(t *testing.T) {
	d := def(t, "object_counting")
	require.True(t, d.HasOptional())
	limits := DefaultLimits()

	inputs := []model.ScoringResult{
		{Passed: true, BasicScore: 0, BonusScore: 0},
		{Passed: true, BasicScore: 5, BonusScore: 5, TotalScore: 9},
		{Passed: true, BasicScore: -1, BonusScore: -1, Confidence: -2},
		{Passed: true, BasicScore: 0.35, BonusScore: 0.2},
	}
	for _, in := range inputs {
		got := Normalize(in, d, limits)
		assert.GreaterOrEqual(t, got.BasicScore, limits.BasicMin)
		assert.LessOrEqual(t, got.BasicScore, limits.BasicMax)
		assert.GreaterOrEqual(t, got.BonusScore, 0.0)
		assert.LessOrEqual(t, got.BonusScore, limits.BonusMax)
		assert.GreaterOrEqual(t, got.TotalScore, 0.0)
		assert.LessOrEqual(t, got.TotalScore, 1.0)
		assert.InDelta(t, got.BasicScore+got.BonusScore, got.TotalScore, 1e-9)
		assert.GreaterOrEqual(t, got.Confidence, 0.0)
		assert.LessOrEqual(t, got.Confidence, 1.0)
	}

	got := Normalize(model.ScoringResult{Passed: true, BasicScore: 0.35, BonusScore: 0.2}, d, limits)
	assert.InDelta(t, 0.55, got.TotalScore, 1e-9)
}

func TestNormalize_CustomLimits(t *testing.T) {
	limits := Limits{BasicMin: 0.2, BasicMax: 0.7, BonusMax: 0.3}
	got := Normalize(model.ScoringResult{Passed: true, BasicScore: 0.9}, def(t, "question"), limits)
	assert.InDelta(t, 0.7, got.BasicScore, 1e-9)
	assert.InDelta(t, 0.3, got.BonusScore, 1e-9)
	assert.InDelta(t, 1.0, got.TotalScore, 1e-9)
}

func TestBuildPrompt(t *testing.T) {
	d := def(t, "question")
	p := BuildPrompt(d, "", DefaultLimits())

	assert.Equal(t, p, BuildPrompt(d, "  ", DefaultLimits()), "prompt is deterministic")
	assert.Contains(t, p, d.Description)
	assert.Contains(t, p, d.CanonicalQuestion)
	assert.Contains(t, p, "1. "+d.Criteria[0].Text)
	assert.Contains(t, p, "no optional criteria, bonus fixed at 0.4")
	assert.Contains(t, p, `"passed": true/false`)

	counting := def(t, "object_counting")
	p = BuildPrompt(counting, "How many dogs are in the picture?", DefaultLimits())
	assert.Contains(t, p, "How many dogs are in the picture?")
	assert.NotContains(t, p, "no optional criteria")
	opt := counting.Optional()
	assert.Contains(t, p, "1. "+opt[0].Text)
	assert.NotContains(t, p, "[optional]")
	assert.Less(t, strings.Index(p, "Required criteria"), strings.Index(p, "Optional criteria"))
}

func TestFilter_FencedResponse(t *testing.T) {
	client := mocks.NewMockClient(t)
	d := def(t, "question")
	temp := 0.3

	client.On("Analyze", mock.Anything, mock.MatchedBy(func(req vision.Request) bool {
		return req.Temperature != nil && *req.Temperature == temp && req.MaxTokens == 4096 &&
			strings.Contains(req.Prompt, d.CanonicalQuestion)
	})).Return(&vision.Response{
		Text: "```json\n{\"passed\": true, \"basic_score\": 0.5, \"bonus_score\": 0.1, \"total_score\": 0.6, \"reason\": \"ok\", \"confidence\": 0.9}\n```",
	}, nil).Once()

	p := New(Options{Temperature: &temp, MaxTokens: 4096})
	res, err := p.Filter(context.Background(), client, nil, d, "")
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.InDelta(t, 0.5, res.BasicScore, 1e-9)
	assert.InDelta(t, 0.4, res.BonusScore, 1e-9)
	assert.InDelta(t, 0.9, res.TotalScore, 1e-9)
	assert.Equal(t, "ok", res.Reason)
}

func TestFilter_MalformedIsConservativeFail(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("Analyze", mock.Anything, mock.Anything).
		Return(&vision.Response{Text: "Sorry, I can't help with that."}, nil).Once()

	res, err := New(Options{}).Filter(context.Background(), client, nil, def(t, "caption"), "q")
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, ReasonUnparseable, res.Reason)
	assert.InDelta(t, 0.5, res.Confidence, 1e-9)
	assert.Zero(t, res.TotalScore)
}

func TestFilter_TransportError(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("Analyze", mock.Anything, mock.Anything).
		Return(nil, errors.New("connection reset")).Once()

	_, err := New(Options{}).Filter(context.Background(), client, nil, def(t, "caption"), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestNew_DefaultLimits(t *testing.T) {
	assert.Equal(t, DefaultLimits(), New(Options{}).Limits())
}
