// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package fields

import (
	"sort"
)

// Operator is the comparison a filter key stands for
type Operator string

// all filter operators
const (
	OperatorEq     Operator = "eq"
	OperatorLt     Operator = "lt"
	OperatorLte    Operator = "lte"
	OperatorGt     Operator = "gt"
	OperatorGte    Operator = "gte"
	OperatorIDs    Operator = "ids"
	OperatorSearch Operator = "q"
)

// RangeOperators are the operators derived for ordered fields, in the order
// of their key suffixes
var RangeOperators = []Operator{OperatorLt, OperatorLte, OperatorGt, OperatorGte}

// the universal filter keys
const (
	KeySearch = "q"
	KeyIDs    = "ids"
)

// FilterField is one legal filter key
type FilterField struct {
	Key      string       `json:"key"`
	Field    string       `json:"field,omitempty"`
	Operator Operator     `json:"operator"`
	Type     SemanticType `json:"type"`
	List     bool         `json:"list,omitempty"`
}

// FilterFields maps filter keys to their definitions
type FilterFields map[string]FilterField

// Keys returns the sorted filter keys
func (f FilterFields) Keys() []string {
	keys := make([]string, 0, len(f))
	for key := range f {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Operators returns the set of operators that apply to the named field
func (f FilterFields) Operators(field string) map[Operator]bool {
	operators := map[Operator]bool{}
	for _, ff := range f {
		if ff.Field == field {
			operators[ff.Operator] = true
		}
	}
	return operators
}

// DeriveFilterFields derives the filter keys of a registry. Every field is
// filterable for equality under its own name, ordered fields additionally
// get the keys <field>_lt, <field>_lte, <field>_gt and <field>_gte. The keys
// "q" and "ids" are always present.
//
// A field named like a universal key or like a derived range key of another
// field is shadowed by the derived key.
func DeriveFilterFields(r *Registry) FilterFields {
	result := FilterFields{}
	for _, name := range r.Names() {
		d, _ := r.Descriptor(name)
		if _, ok := result[name]; !ok {
			result[name] = FilterField{Key: name, Field: name, Operator: OperatorEq, Type: d.Type, List: d.Multivalued}
		}
		if !d.Type.Ordered() {
			continue
		}
		for _, op := range RangeOperators {
			key := name + "_" + string(op)
			result[key] = FilterField{Key: key, Field: name, Operator: op, Type: d.Type}
		}
	}
	result[KeySearch] = FilterField{Key: KeySearch, Operator: OperatorSearch, Type: String}
	result[KeyIDs] = FilterField{Key: KeyIDs, Operator: OperatorIDs, Type: Relation, List: true}
	return result
}

// Compiled is the compiled schema of a resource
type Compiled struct {
	Registry     *Registry
	FilterFields FilterFields
}

// Compile builds the registry and derives the filter fields
func Compile(descriptors []Descriptor) (*Compiled, error) {
	registry, err := BuildRegistry(descriptors)
	if err != nil {
		return nil, err
	}
	return &Compiled{Registry: registry, FilterFields: DeriveFilterFields(registry)}, nil
}
