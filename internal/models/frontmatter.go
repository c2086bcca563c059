package models

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Frontmatter is an ordered mapping decoded from a YAML metadata block.
// Nested mappings are themselves *Frontmatter, sequences are []any.
type Frontmatter struct {
	keys   []string
	values map[string]any
}

// NewFrontmatter returns an empty mapping.
func NewFrontmatter() *Frontmatter {
	return &Frontmatter{values: make(map[string]any)}
}

// Set stores value under key, keeping the first insertion position.
func (f *Frontmatter) Set(key string, value any) {
	if _, ok := f.values[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
}

// Keys returns the top-level keys in document order.
func (f *Frontmatter) Keys() []string {
	if f == nil {
		return nil
	}
	return f.keys
}

// Len returns the number of top-level keys.
func (f *Frontmatter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.keys)
}

// Get resolves a dot-separated path such as "meta.topics".
func (f *Frontmatter) Get(path string) (any, bool) {
	if f == nil || path == "" {
		return nil, false
	}
	cur := f
	parts := strings.Split(path, ".")
	for i, p := range parts {
		v, ok := cur.values[p]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return v, true
		}
		next, ok := v.(*Frontmatter)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return nil, false
}

// String returns the value at path when it is a non-empty string.
func (f *Frontmatter) String(path string) string {
	v, ok := f.Get(path)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// MarshalJSON writes keys in document order.
func (f *Frontmatter) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range f.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(f.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
