// Package router maps a record's question to the pipelines that should
// grade it. A keyword and pattern stage runs first; a model classifier
// breaks ties or fills misses when enabled.
package router

import (
	"context"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/vqa-filter/internal/model"
	"github.com/sells-group/vqa-filter/internal/registry"
	"github.com/sells-group/vqa-filter/pkg/vision"
)

// DefaultThreshold is the minimum classifier confidence accepted.
const DefaultThreshold = 0.6

// Options configures a Router.
type Options struct {
	// Semantic enables the model classifier stage.
	Semantic    bool
	Threshold   float64
	Temperature *float64
	MaxTokens   int64
}

type matcher struct {
	id       string
	keywords []string
	patterns []*regexp.Regexp
}

// Router is safe for concurrent use.
type Router struct {
	reg      *registry.Registry
	client   vision.Client
	opts     Options
	matchers []matcher
}

// New builds a Router over reg. client may be nil when the semantic stage
// is disabled.
func New(reg *registry.Registry, client vision.Client, opts Options) (*Router, error) {
	if reg == nil {
		return nil, eris.New("router: registry is required")
	}
	if opts.Semantic && client == nil {
		return nil, eris.New("router: semantic stage needs a vision client")
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}

	r := &Router{reg: reg, client: client, opts: opts}
	for _, def := range reg.All() {
		m := matcher{id: def.ID}
		for _, kw := range def.Keywords {
			if kw = Normalize(kw); kw != "" {
				m.keywords = append(m.keywords, kw)
			}
		}
		for _, p := range def.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, eris.Wrapf(err, "router: compile pattern %q for %s", p, def.ID)
			}
			m.patterns = append(m.patterns, re)
		}
		r.matchers = append(r.matchers, m)
	}
	return r, nil
}

// Normalize applies NFKC, maps typographic apostrophes to ASCII, folds
// case and trims surrounding space.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = strings.NewReplacer("’", "'", "‘", "'", "ʼ", "'").Replace(s)
	return strings.TrimSpace(cases.Fold().String(s))
}

// Route returns the pipelines for question. It never fails; model errors
// degrade to the keyword result.
func (r *Router) Route(ctx context.Context, question string) model.RouteDecision {
	q := Normalize(question)
	if q == "" {
		return model.RouteDecision{Stage: model.StageNone}
	}

	ids := r.KeywordMatch(q)
	if len(ids) == 1 {
		return model.RouteDecision{IDs: ids, Stage: model.StageKeyword}
	}

	if !r.opts.Semantic {
		if len(ids) == 0 {
			return model.RouteDecision{Stage: model.StageNone}
		}
		return model.RouteDecision{IDs: ids, Stage: model.StageKeyword}
	}

	id, conf, err := r.classify(ctx, strings.TrimSpace(question))
	switch {
	case err != nil:
		zap.L().Warn("router: semantic stage failed, using keyword result",
			zap.String("question", question),
			zap.Strings("keyword_ids", ids),
			zap.Error(err),
		)
	case conf < r.opts.Threshold:
		zap.L().Debug("router: classifier below threshold",
			zap.String("question", question),
			zap.String("pipeline", id),
			zap.Float64("confidence", conf),
		)
	case !r.reg.Has(id):
		zap.L().Warn("router: classifier returned unknown pipeline",
			zap.String("question", question),
			zap.String("pipeline", id),
		)
	default:
		return model.RouteDecision{IDs: []string{id}, Confidence: &conf, Stage: model.StageSemantic}
	}

	return model.RouteDecision{IDs: ids, Stage: model.StageFallback}
}

// KeywordMatch scores every pipeline against an already normalised
// question: one point per keyword substring, two per pattern hit. The ids
// sharing the top non-zero score are returned in registry order.
func (r *Router) KeywordMatch(q string) []string {
	best := 0
	var ids []string
	for _, m := range r.matchers {
		score := 0
		for _, kw := range m.keywords {
			if strings.Contains(q, kw) {
				score++
			}
		}
		for _, re := range m.patterns {
			if re.MatchString(q) {
				score += 2
			}
		}
		switch {
		case score == 0 || score < best:
		case score > best:
			best = score
			ids = []string{m.id}
		default:
			ids = append(ids, m.id)
		}
	}
	return ids
}
