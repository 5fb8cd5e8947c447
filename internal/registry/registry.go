// Package registry holds the table of evaluation pipelines: their names,
// canonical questions, rubric criteria and routing hints.
package registry

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/vqa-filter/internal/model"
)

// OptionalPrefix marks an optional criterion in plain-text criteria lists.
const OptionalPrefix = "[optional]"

// Registry is an immutable, ordered set of pipeline definitions.
type Registry struct {
	defs []model.PipelineDefinition
	byID map[string]int
}

// New validates defs and builds a Registry. Definition order is kept; it
// decides tie order in routing.
func New(defs []model.PipelineDefinition) (*Registry, error) {
	if len(defs) == 0 {
		return nil, eris.New("registry: no pipeline definitions")
	}

	r := &Registry{
		defs: make([]model.PipelineDefinition, 0, len(defs)),
		byID: make(map[string]int, len(defs)),
	}
	for i, d := range defs {
		d.ID = strings.TrimSpace(d.ID)
		if d.ID == "" {
			return nil, eris.Errorf("registry: definition %d has no id", i)
		}
		if _, dup := r.byID[d.ID]; dup {
			return nil, eris.Errorf("registry: duplicate pipeline id %q", d.ID)
		}
		if len(d.Required()) == 0 {
			return nil, eris.Errorf("registry: pipeline %q has no required criteria", d.ID)
		}
		for _, p := range d.Patterns {
			if _, err := regexp.Compile(p); err != nil {
				return nil, eris.Wrapf(err, "registry: pipeline %q pattern %q", d.ID, p)
			}
		}
		if d.Name == "" {
			d.Name = d.ID
		}
		r.byID[d.ID] = len(r.defs)
		r.defs = append(r.defs, d)
	}
	return r, nil
}

// Default returns the built-in registry.
func Default() *Registry {
	r, err := New(defaultDefinitions())
	if err != nil {
		// The built-in table is static; a failure here is a programming error.
		panic(err)
	}
	return r
}

// Get returns the definition for id.
func (r *Registry) Get(id string) (model.PipelineDefinition, bool) {
	i, ok := r.byID[id]
	if !ok {
		return model.PipelineDefinition{}, false
	}
	return r.defs[i], true
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// All returns every definition in registry order.
func (r *Registry) All() []model.PipelineDefinition {
	out := make([]model.PipelineDefinition, len(r.defs))
	copy(out, r.defs)
	return out
}

// IDs returns every pipeline id in registry order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.defs))
	for i, d := range r.defs {
		ids[i] = d.ID
	}
	return ids
}

// Len returns the number of definitions.
func (r *Registry) Len() int {
	return len(r.defs)
}

// ParseCriteria converts plain-text criteria into Criterion values. Lines
// starting with "[optional]" are optional; the prefix is stripped.
func ParseCriteria(lines ...string) []model.Criterion {
	out := make([]model.Criterion, 0, len(lines))
	for _, line := range lines {
		out = append(out, parseCriterion(line))
	}
	return out
}

func parseCriterion(line string) model.Criterion {
	text := strings.TrimSpace(line)
	if len(text) >= len(OptionalPrefix) && strings.EqualFold(text[:len(OptionalPrefix)], OptionalPrefix) {
		return model.Criterion{Text: strings.TrimSpace(text[len(OptionalPrefix):]), Required: false}
	}
	return model.Criterion{Text: text, Required: true}
}
