package scoring

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sells-group/vqa-filter/internal/model"
)

const rolePreamble = `You are a professional image filtering and quality evaluation expert.

Your task is to evaluate whether an image meets the required criteria, and to assign a quality score based on how well it satisfies both required and optional standards.`

// BuildPrompt renders the evaluation prompt for one pipeline. The output
// depends only on its arguments.
func BuildPrompt(def model.PipelineDefinition, question string, limits Limits) string {
	question = strings.TrimSpace(question)
	if question == "" {
		question = def.CanonicalQuestion
	}

	var b strings.Builder
	b.WriteString(rolePreamble)
	b.WriteString("\n\n")

	if def.Description != "" {
		fmt.Fprintf(&b, "Task:\n%s\n\n", def.Description)
	}
	fmt.Fprintf(&b, "Question:\n%s\n\n", question)

	b.WriteString("Required criteria (all must hold):\n")
	required := def.Required()
	if len(required) == 0 {
		b.WriteString("(none)\n")
	}
	for i, c := range required {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c.Text)
	}
	b.WriteString("\n")

	b.WriteString("Optional criteria:\n")
	optional := def.Optional()
	if len(optional) == 0 {
		fmt.Fprintf(&b, "This pipeline has no optional criteria, bonus fixed at %s.\n", num(limits.BonusMax))
	}
	for i, c := range optional {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c.Text)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, `Scoring rules:
1. If ANY required criterion is not satisfied, "passed" must be false and every score must be 0.0.
2. If ALL required criteria are satisfied, "passed" is true and basic_score is between %[1]s and %[2]s based on quality.
3. Optional criteria count only when the image passed. bonus_score is between 0.0 and %[3]s based on how many optional criteria are satisfied.
4. total_score = basic_score + bonus_score, in the range [0.0, 1.0].

Return the result in JSON format ONLY, with no extra text:

{
  "passed": true/false,
  "basic_score": float (0.0-%[2]s),
  "bonus_score": float (0.0-%[3]s),
  "total_score": float (0.0-1.0),
  "reason": "Detailed explanation",
  "confidence": float (0.0-1.0)
}`, num(limits.BasicMin), num(limits.BasicMax), num(limits.BonusMax))

	return b.String()
}

func num(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
