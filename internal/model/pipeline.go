package model

// Criterion is one rubric line of a pipeline.
type Criterion struct {
	Text     string `json:"text" yaml:"text"`
	Required bool   `json:"required" yaml:"required"`
}

// PipelineDefinition describes one evaluation pipeline: what it checks and
// how the router recognises questions that belong to it.
type PipelineDefinition struct {
	ID                string      `json:"id" yaml:"id"`
	Name              string      `json:"name" yaml:"name"`
	Description       string      `json:"description" yaml:"description"`
	CanonicalQuestion string      `json:"canonical_question" yaml:"canonical_question"`
	Criteria          []Criterion `json:"criteria" yaml:"criteria"`
	Keywords          []string    `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Patterns          []string    `json:"patterns,omitempty" yaml:"patterns,omitempty"`
}

// Required returns the required criteria in order.
func (d PipelineDefinition) Required() []Criterion {
	return d.filter(true)
}

// Optional returns the optional criteria in order.
func (d PipelineDefinition) Optional() []Criterion {
	return d.filter(false)
}

// HasOptional reports whether any criterion is optional.
func (d PipelineDefinition) HasOptional() bool {
	for _, c := range d.Criteria {
		if !c.Required {
			return true
		}
	}
	return false
}

func (d PipelineDefinition) filter(required bool) []Criterion {
	var out []Criterion
	for _, c := range d.Criteria {
		if c.Required == required {
			out = append(out, c)
		}
	}
	return out
}
