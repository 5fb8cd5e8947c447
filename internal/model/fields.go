package model

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Fields is a JSON object that remembers the order its keys arrived in, so
// a record written back out lists its pass-through fields in source order.
type Fields struct {
	om *orderedmap.OrderedMap[string, any]
}

// NewFields returns an empty Fields.
func NewFields() *Fields {
	return &Fields{om: orderedmap.New[string, any]()}
}

// FieldsFromMap builds Fields from a map. Key order follows the optional
// keys slice; keys not listed there are ignored.
func FieldsFromMap(m map[string]any, keys ...string) *Fields {
	f := NewFields()
	for _, k := range keys {
		if v, ok := m[k]; ok {
			f.Set(k, v)
		}
	}
	return f
}

// Get returns the value stored under key.
func (f *Fields) Get(key string) (any, bool) {
	if f == nil || f.om == nil {
		return nil, false
	}
	return f.om.Get(key)
}

// Set stores value under key. New keys are appended to the key order;
// existing keys keep their position.
func (f *Fields) Set(key string, value any) {
	if f.om == nil {
		f.om = orderedmap.New[string, any]()
	}
	f.om.Set(key, value)
}

// Delete removes key if present.
func (f *Fields) Delete(key string) {
	if f == nil || f.om == nil {
		return
	}
	f.om.Delete(key)
}

// Keys returns the keys in insertion order.
func (f *Fields) Keys() []string {
	if f == nil || f.om == nil {
		return nil
	}
	out := make([]string, 0, f.om.Len())
	for p := f.om.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Key)
	}
	return out
}

// Len returns the number of keys.
func (f *Fields) Len() int {
	if f == nil || f.om == nil {
		return 0
	}
	return f.om.Len()
}

// Clone returns a shallow copy. Nested values are shared.
func (f *Fields) Clone() *Fields {
	out := NewFields()
	if f == nil || f.om == nil {
		return out
	}
	for p := f.om.Oldest(); p != nil; p = p.Next() {
		out.om.Set(p.Key, p.Value)
	}
	return out
}

// MarshalJSON writes the object with keys in insertion order.
func (f *Fields) MarshalJSON() ([]byte, error) {
	if f == nil || f.om == nil {
		return []byte("{}"), nil
	}
	b, err := f.om.MarshalJSON()
	if err != nil {
		return nil, eris.Wrap(err, "model: marshal fields")
	}
	return b, nil
}

// UnmarshalJSON decodes a JSON object, keeping key order. Numbers are kept
// as json.Number so integer ids survive a round trip unchanged.
func (f *Fields) UnmarshalJSON(data []byte) error {
	raw := orderedmap.New[string, json.RawMessage]()
	if err := raw.UnmarshalJSON(data); err != nil {
		return eris.Wrap(err, "model: decode object")
	}

	f.om = orderedmap.New[string, any](raw.Len())
	for p := raw.Oldest(); p != nil; p = p.Next() {
		dec := json.NewDecoder(bytes.NewReader(p.Value))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return eris.Wrapf(err, "model: decode field %q", p.Key)
		}
		f.om.Set(p.Key, v)
	}
	return nil
}
