package registry

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/vqa-filter/internal/model"
)

// fileDefinition is the on-disk shape of a pipeline. Criteria may be plain
// strings using the "[optional]" prefix or {text, required} objects.
type fileDefinition struct {
	ID                string          `yaml:"id"`
	Name              string          `yaml:"name"`
	Description       string          `yaml:"description"`
	CanonicalQuestion string          `yaml:"canonical_question"`
	Question          string          `yaml:"question"`
	Criteria          []fileCriterion `yaml:"criteria"`
	Keywords          []string        `yaml:"keywords"`
	Patterns          []string        `yaml:"patterns"`
}

type fileCriterion model.Criterion

func (c *fileCriterion) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*c = fileCriterion(parseCriterion(node.Value))
		return nil
	}
	var obj struct {
		Text     string `yaml:"text"`
		Required *bool  `yaml:"required"`
	}
	if err := node.Decode(&obj); err != nil {
		return err
	}
	c.Text = obj.Text
	c.Required = obj.Required == nil || *obj.Required
	return nil
}

func (d fileDefinition) toModel(id string) model.PipelineDefinition {
	if d.ID != "" {
		id = d.ID
	}
	question := d.CanonicalQuestion
	if question == "" {
		question = d.Question
	}
	crit := make([]model.Criterion, len(d.Criteria))
	for i, c := range d.Criteria {
		crit[i] = model.Criterion(c)
	}
	return model.PipelineDefinition{
		ID:                id,
		Name:              d.Name,
		Description:       d.Description,
		CanonicalQuestion: question,
		Criteria:          crit,
		Keywords:          d.Keywords,
		Patterns:          d.Patterns,
	}
}

// LoadFromFile reads pipeline definitions from a YAML or JSON file. The
// top-level "pipelines" key holds either a list of definitions or a mapping
// of id to definition; mapping order is kept.
func LoadFromFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read %s", path)
	}

	var wrapper struct {
		Pipelines yaml.Node `yaml:"pipelines"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "registry: parse file")
	}

	var defs []model.PipelineDefinition
	switch wrapper.Pipelines.Kind {
	case yaml.SequenceNode:
		var list []fileDefinition
		if err := wrapper.Pipelines.Decode(&list); err != nil {
			return nil, eris.Wrap(err, "registry: decode pipeline list")
		}
		for _, d := range list {
			defs = append(defs, d.toModel(""))
		}
	case yaml.MappingNode:
		content := wrapper.Pipelines.Content
		for i := 0; i+1 < len(content); i += 2 {
			var d fileDefinition
			if err := content[i+1].Decode(&d); err != nil {
				return nil, eris.Wrapf(err, "registry: decode pipeline %q", content[i].Value)
			}
			defs = append(defs, d.toModel(content[i].Value))
		}
	default:
		return nil, eris.New("registry: file has no pipelines")
	}

	return New(defs)
}

// Load returns the registry at path, or the built-in one when path is empty.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default(), nil
	}
	return LoadFromFile(path)
}
