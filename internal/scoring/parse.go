package scoring

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/vqa-filter/internal/model"
)

// ReasonUnparseable is the reason recorded when a response carries no
// usable verdict.
const ReasonUnparseable = "unparseable"

const defaultConfidence = 0.5

var (
	fencedJSON    = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

// repair drops trailing commas before a closing brace or bracket.
func repair(raw string) string {
	return trailingComma.ReplaceAllString(raw, "$1")
}

func decodeObject(raw string) (map[string]any, error) {
	var m map[string]any
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	err := dec.Decode(&m)
	return m, err
}

// hasVerdict reports whether raw decodes to an object with a top-level
// "passed" key.
func hasVerdict(raw string) bool {
	m, err := decodeObject(repair(raw))
	if err != nil {
		return false
	}
	_, ok := m["passed"]
	return ok
}

// Extract finds the verdict object in a model response. The first fenced
// code block holding a top-level "passed" key wins, then the smallest
// balanced {...} span that mentions "passed". Without either, the first
// fenced block or the first balanced span is returned.
func Extract(text string) (string, bool) {
	fenced := ""
	for _, m := range fencedJSON.FindAllStringSubmatch(text, -1) {
		if hasVerdict(m[1]) {
			return m[1], true
		}
		if fenced == "" {
			fenced = m[1]
		}
	}

	best, first := "", ""
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end, ok := balancedEnd(text, start); ok {
			span := text[start : end+1]
			if first == "" {
				first = span
			}
			if strings.Contains(span, `"passed"`) && (best == "" || len(span) < len(best)) {
				best = span
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	switch {
	case best != "":
		return best, true
	case fenced != "":
		return fenced, true
	}
	return first, first != ""
}

// balancedEnd returns the index of the brace closing the one at start.
// Braces inside JSON strings are ignored.
func balancedEnd(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// Parse extracts and decodes the verdict, filling missing fields with
// conservative defaults. The result is not yet normalised.
func Parse(text string) (model.ScoringResult, error) {
	raw, ok := Extract(text)
	if !ok {
		return Unparseable(), eris.New("scoring: no JSON object in response")
	}

	m, err := decodeObject(raw)
	if err != nil {
		var rerr error
		if m, rerr = decodeObject(repair(raw)); rerr != nil {
			return Unparseable(), eris.Wrap(err, "scoring: decode verdict")
		}
	}

	res := model.ScoringResult{
		Reason:     ReasonUnparseable,
		Confidence: defaultConfidence,
	}
	res.Passed, _ = toBool(m["passed"])
	if s, ok := m["reason"].(string); ok && strings.TrimSpace(s) != "" {
		res.Reason = s
	}
	if f, ok := toFloat64(m["confidence"]); ok {
		res.Confidence = f
	}
	res.BasicScore, _ = toFloat64(m["basic_score"])
	res.BonusScore, _ = toFloat64(m["bonus_score"])
	res.TotalScore, _ = toFloat64(m["total_score"])
	return res, nil
}

// Unparseable is the conservative fail verdict.
func Unparseable() model.ScoringResult {
	return model.ScoringResult{
		Passed:     false,
		Reason:     ReasonUnparseable,
		Confidence: defaultConfidence,
	}
}

func toFloat64(v any) (float64, bool) {
	var (
		f   float64
		err error
	)
	switch n := v.(type) {
	case float64:
		f = n
	case json.Number:
		f, err = n.Float64()
	case int:
		f = float64(n)
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, false
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}
