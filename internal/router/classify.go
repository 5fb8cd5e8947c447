package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/vqa-filter/internal/model"
	"github.com/sells-group/vqa-filter/pkg/vision"
)

const defaultClassifierTokens = 512

type classification struct {
	PipelineType string `json:"pipeline_type"`
	Confidence   any    `json:"confidence"`
	Reasoning    string `json:"reasoning"`
}

func (r *Router) classify(ctx context.Context, question string) (string, float64, error) {
	maxTokens := r.opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultClassifierTokens
	}
	resp, err := r.client.Analyze(ctx, vision.Request{
		Prompt:      ClassifierPrompt(r.reg.All(), question),
		Temperature: r.opts.Temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", 0, eris.Wrap(err, "router: classify")
	}
	return parseClassification(resp.Text)
}

// ClassifierPrompt lists every pipeline and asks the model to pick one.
func ClassifierPrompt(defs []model.PipelineDefinition, question string) string {
	var b strings.Builder
	b.WriteString("You are a question classifier. Given a question about an image, classify it into one of the following categories.\n\n")
	b.WriteString("Available Categories:\n")
	for _, d := range defs {
		fmt.Fprintf(&b, "\n%s:\n  Name: %s\n  Description: %s\n  Example: %s\n", d.ID, d.Name, d.Description, d.CanonicalQuestion)
	}
	fmt.Fprintf(&b, "\nQuestion to classify: %q\n\n", question)
	b.WriteString(`Analyze the question and determine which category it belongs to. Consider:
1. The main intent of the question (what is being asked)
2. The type of visual information needed to answer it
3. The similarity to example questions

Return ONLY a JSON object with this format:
{
    "pipeline_type": "the matching category key",
    "confidence": a float between 0.0-1.0,
    "reasoning": "brief explanation of why this category matches"
}`)
	return b.String()
}

func parseClassification(text string) (string, float64, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", 0, eris.New("router: no JSON object in classifier response")
	}

	var c classification
	if err := json.Unmarshal([]byte(text[start:end+1]), &c); err != nil {
		return "", 0, eris.Wrap(err, "router: decode classifier response")
	}

	conf := 0.5
	switch v := c.Confidence.(type) {
	case float64:
		conf = v
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			conf = f
		}
	}
	return strings.TrimSpace(c.PipelineType), conf, nil
}
