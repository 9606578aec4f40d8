// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package fields provides the field type registry of a resource and derives
the legal filter keys from it.

A registry is built from the field descriptors of a resource:

  registry, err := fields.BuildRegistry([]fields.Descriptor{
    {Name: "age", Type: fields.Number},
    {Name: "name", Type: fields.String},
  })

and the filter keys are derived with

  filterFields := fields.DeriveFilterFields(registry)

which yields "age", "age_lt", "age_lte", "age_gt", "age_gte", "name", "q" and
"ids". A Cache keeps the compiled result per resource.
*/
package fields

import (
	"fmt"
	"sort"

	"github.com/goccy/go-json"
)

// SemanticType is the logical type of a field, independent of its storage
// representation
type SemanticType string

// all semantic types
const (
	String   SemanticType = "string"
	Number   SemanticType = "number"
	Boolean  SemanticType = "boolean"
	Date     SemanticType = "date"
	DateTime SemanticType = "datetime"
	Relation SemanticType = "relation"
)

// Valid returns true if t is a known semantic type
func (t SemanticType) Valid() bool {
	switch t {
	case String, Number, Boolean, Date, DateTime, Relation:
		return true
	}
	return false
}

// Ordered returns true if values of t have an order, i.e. range filters
// apply
func (t SemanticType) Ordered() bool {
	return t == Number || t == Date || t == DateTime
}

// UnmarshalJSON implements json.Unmarshaler
func (t *SemanticType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	st := SemanticType(s)
	if !st.Valid() {
		return fmt.Errorf("unknown semantic type '%s'", s)
	}
	*t = st
	return nil
}

// Descriptor describes one field of a resource
type Descriptor struct {
	Name        string       `json:"name" yaml:"name"`
	Type        SemanticType `json:"type" yaml:"type"`
	Multivalued bool         `json:"multivalued,omitempty" yaml:"multivalued,omitempty"`
}

// SchemaError is returned when a registry cannot be built from a list of
// descriptors
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return "schema error: " + e.Reason
	}
	return fmt.Sprintf("schema error in field '%s': %s", e.Field, e.Reason)
}

// Registry maps the field names of a resource to their descriptors. A
// registry is immutable.
type Registry struct {
	descriptors map[string]Descriptor
	names       []string
}

// BuildRegistry builds a registry from descriptors. Names must be unique and
// non-empty, types must be valid.
func BuildRegistry(descriptors []Descriptor) (*Registry, error) {
	r := &Registry{
		descriptors: make(map[string]Descriptor, len(descriptors)),
		names:       make([]string, 0, len(descriptors)),
	}
	for _, d := range descriptors {
		if d.Name == "" {
			return nil, &SchemaError{Reason: "field name must not be empty"}
		}
		if !d.Type.Valid() {
			return nil, &SchemaError{Field: d.Name, Reason: fmt.Sprintf("unknown semantic type '%s'", d.Type)}
		}
		if _, ok := r.descriptors[d.Name]; ok {
			return nil, &SchemaError{Field: d.Name, Reason: "duplicate field name"}
		}
		r.descriptors[d.Name] = d
		r.names = append(r.names, d.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Type returns the semantic type of the named field
func (r *Registry) Type(name string) (SemanticType, bool) {
	d, ok := r.Descriptor(name)
	return d.Type, ok
}

// Descriptor returns the descriptor of the named field
func (r *Registry) Descriptor(name string) (Descriptor, bool) {
	if r == nil {
		return Descriptor{}, false
	}
	d, ok := r.descriptors[name]
	return d, ok
}

// Names returns the sorted field names
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.names...)
}

// Types returns the map from field name to semantic type
func (r *Registry) Types() map[string]SemanticType {
	types := map[string]SemanticType{}
	if r == nil {
		return types
	}
	for name, d := range r.descriptors {
		types[name] = d.Type
	}
	return types
}

// Descriptors returns all descriptors sorted by name
func (r *Registry) Descriptors() []Descriptor {
	result := make([]Descriptor, 0, len(r.Names()))
	for _, name := range r.Names() {
		result = append(result, r.descriptors[name])
	}
	return result
}

// NamesOfType returns the sorted names of all fields of type t
func (r *Registry) NamesOfType(t SemanticType) []string {
	var result []string
	for _, name := range r.Names() {
		if r.descriptors[name].Type == t {
			result = append(result, name)
		}
	}
	return result
}
