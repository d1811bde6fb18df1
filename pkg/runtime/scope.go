// Package runtime runs formula programs: it owns the variable scope of a run
// and decides how function calls resolve.
package runtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/lemonberrylabs/chemcalc/pkg/types"
)

// Scope is the variable environment of one interpretation run. It remembers
// the order in which names were first bound and encodes them in that order.
type Scope struct {
	mu    sync.RWMutex
	names []string
	vars  map[string]types.Value
}

// NewScope creates an empty scope.
func NewScope() *Scope {
	return &Scope{vars: make(map[string]types.Value)}
}

// ScopeFromMap creates a scope from decoded JSON/YAML values. Map order is
// not defined, so names are bound in sorted order.
func ScopeFromMap(m map[string]any) (*Scope, error) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	s := NewScope()
	for _, name := range names {
		v, err := scopeValue(name, m[name])
		if err != nil {
			return nil, err
		}
		s.Set(name, v)
	}
	return s, nil
}

// scopeValue converts an initial binding. Only numbers, strings and lists of
// scalars can live in a scope.
func scopeValue(name string, raw any) (types.Value, error) {
	v, err := types.ValueFromGo(raw)
	if err != nil {
		return types.Null, fmt.Errorf("variable '%s': %w", name, err)
	}
	if v.IsNull() {
		return types.Null, types.NewTypeError(fmt.Sprintf("variable '%s' has no value", name))
	}
	return v, nil
}

// Get returns the value bound to name.
func (s *Scope) Get(name string) (types.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vars[name]
	return v, ok
}

// Set binds name to value. Comparison results are stored as 1 or 0.
func (s *Scope) Set(name string, value types.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vars[name]; !ok {
		s.names = append(s.names, name)
	}
	s.vars[name] = value.Coerce()
}

// Exists reports whether name is bound.
func (s *Scope) Exists(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// Len returns the number of bound names.
func (s *Scope) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.names)
}

// Names returns the bound names in binding order.
func (s *Scope) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.names...)
}

// Clone returns an independent copy.
func (s *Scope) Clone() *Scope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := &Scope{
		names: append([]string(nil), s.names...),
		vars:  make(map[string]types.Value, len(s.vars)),
	}
	for k, v := range s.vars {
		c.vars[k] = v
	}
	return c
}

// ToMap returns the bindings as plain Go values.
func (s *Scope) ToMap() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := make(map[string]any, len(s.vars))
	for k, v := range s.vars {
		m[k] = v.ToGoValue()
	}
	return m
}

// MarshalJSON encodes the scope as an object in binding order.
func (s *Scope) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range s.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(s.vars[name])
		if err != nil {
			return nil, fmt.Errorf("variable '%s': %w", name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object, keeping the document order.
func (s *Scope) UnmarshalJSON(data []byte) error {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return err
	}
	return s.UnmarshalYAML(&node)
}

// MarshalYAML encodes the scope as a mapping in binding order.
func (s *Scope) MarshalYAML() (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, name := range s.names {
		var val yaml.Node
		if err := val.Encode(s.vars[name].ToGoValue()); err != nil {
			return nil, fmt.Errorf("variable '%s': %w", name, err)
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name},
			&val)
	}
	return node, nil
}

// UnmarshalYAML decodes a mapping, keeping the document order.
func (s *Scope) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return nil
		}
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("scope must be a mapping, got %s", kindName(node.Kind))
	}

	s.mu.Lock()
	if s.vars == nil {
		s.vars = make(map[string]types.Value)
	}
	s.mu.Unlock()

	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		var raw any
		if err := node.Content[i+1].Decode(&raw); err != nil {
			return fmt.Errorf("variable '%s': %w", name, err)
		}
		v, err := scopeValue(name, raw)
		if err != nil {
			return err
		}
		s.Set(name, v)
	}
	return nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "document"
	}
}
