package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ImageKeys lists the field names an image reference may be stored under,
// in lookup order.
var ImageKeys = []string{
	"image_input", "image", "img", "picture", "pic",
	"jpg", "png", "jpeg",
	"image_base64", "img_base64", "base64", "image_b64", "img_b64", "b64",
	"vision_input", "visual_input", "visual", "vision",
	"image_data", "img_data",
	"image_input_path", "image_input_url",
	"image_source", "image_src", "img_src",
}

// nestedSources are the sub-objects searched after the top level.
var nestedSources = []string{"source_a", "source_b"}

// Record is one input sample: an image reference, an optional question and
// arbitrary pass-through fields.
type Record struct {
	Fields *Fields
}

// NewRecord wraps fields as a Record.
func NewRecord(f *Fields) Record {
	if f == nil {
		f = NewFields()
	}
	return Record{Fields: f}
}

// MarshalJSON implements json.Marshaler.
func (r Record) MarshalJSON() ([]byte, error) {
	return r.Fields.MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Record) UnmarshalJSON(data []byte) error {
	f := NewFields()
	if err := f.UnmarshalJSON(data); err != nil {
		return err
	}
	r.Fields = f
	return nil
}

// ID returns the record id as a string, or "" when absent.
func (r Record) ID() string {
	v, ok := r.Fields.Get("id")
	if !ok || v == nil {
		return ""
	}
	return stringify(v)
}

// SampleIndex returns sample_index when present and integral.
func (r Record) SampleIndex() (int, bool) {
	v, ok := r.Fields.Get("sample_index")
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case json.Number:
		i, err := strconv.Atoi(n.String())
		return i, err == nil
	case float64:
		return int(n), true
	case int:
		return n, true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}

// Question returns the question text. The top level wins, then source_b,
// then source_a.
func (r Record) Question() string {
	if q, ok := stringValue(r.Fields.Get("question")); ok {
		return q
	}
	for _, src := range []string{"source_b", "source_a"} {
		if nested, ok := r.nested(src); ok {
			if q, ok := stringField(nested, "question"); ok {
				return q
			}
		}
	}
	return ""
}

// ImageRef returns the first non-empty image reference and the key it was
// found under. Nested keys are reported as "source_a.image".
func (r Record) ImageRef() (ref string, key string, ok bool) {
	for _, k := range ImageKeys {
		if s, found := stringValue(r.Fields.Get(k)); found {
			return s, k, true
		}
	}
	for _, src := range nestedSources {
		nested, found := r.nested(src)
		if !found {
			continue
		}
		for _, k := range ImageKeys {
			if s, found := stringField(nested, k); found {
				return s, src + "." + k, true
			}
		}
	}
	return "", "", false
}

// PipelineTypes returns the explicit pipeline_types list, if the record
// carries one.
func (r Record) PipelineTypes() []string {
	v, ok := r.Fields.Get("pipeline_types")
	if !ok || v == nil {
		return nil
	}
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case []string:
		return t
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}
		return []string{strings.TrimSpace(t)}
	}
	return nil
}

// PassThrough returns a copy of the record fields without image payload
// keys and pipeline_types. Image keys are also dropped from source_a and
// source_b; those objects are copied, never edited in place.
func (r Record) PassThrough() *Fields {
	out := r.Fields.Clone()
	for _, k := range ImageKeys {
		out.Delete(k)
	}
	out.Delete("pipeline_types")

	for _, src := range nestedSources {
		nested, ok := r.nested(src)
		if !ok {
			continue
		}
		if stripped, changed := withoutImageKeys(nested); changed {
			out.Set(src, stripped)
		}
	}
	return out
}

// withoutImageKeys returns a copy of m minus any image keys, and whether
// anything was removed. m itself is returned when nothing matches.
func withoutImageKeys(m map[string]any) (map[string]any, bool) {
	changed := false
	for _, k := range ImageKeys {
		if _, ok := m[k]; ok {
			changed = true
			break
		}
	}
	if !changed {
		return m, false
	}

	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	for _, k := range ImageKeys {
		delete(out, k)
	}
	return out, true
}

func (r Record) nested(key string) (map[string]any, bool) {
	v, ok := r.Fields.Get(key)
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

func stringField(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	return stringValue(v, ok)
}

func stringValue(v any, ok bool) (string, bool) {
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
