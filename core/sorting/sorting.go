// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package sorting compiles sort descriptors into pipeline stages.

A sort descriptor names exactly one field and a direction. Most fields sort
directly on the stored value. Virtual fields are computed within the
pipeline first:

  name           case-insensitive, sorts on a lowercase projection
  recordsCount   number of non-archived dependent records
  versionsCount  length of the embedded version list
  parentForm     name of the non-archived parent, unless the entity is core

The set of virtual fields is a strategy table and can be extended with
Compiler.Register. Temporary pipeline fields, prefixed with an underscore,
are removed again by a trailing unset stage. The computed virtual fields
stay in the documents.
*/
package sorting

import (
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/resquery/core/pipeline"
)

// Descriptor is a sort descriptor
type Descriptor struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

// ParseDirection maps "asc" to ascending and everything else to descending
func ParseDirection(direction string) pipeline.Direction {
	if strings.EqualFold(strings.TrimSpace(direction), "asc") {
		return pipeline.Ascending
	}
	return pipeline.Descending
}

// Parse decodes a sort descriptor. It accepts {"field":"name","direction":"asc"}
// as well as the single-pair form {"name":"asc"}. Empty input yields nil.
func Parse(data []byte) (*Descriptor, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &Error{Reason: "invalid sort", Err: err}
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if field, ok := raw["field"].(string); ok {
		direction, _ := raw["direction"].(string)
		return &Descriptor{Field: field, Direction: direction}, nil
	}
	if len(raw) > 1 {
		return nil, &Error{Reason: "only one sort field is supported"}
	}
	for field, direction := range raw {
		s, _ := direction.(string)
		return &Descriptor{Field: field, Direction: s}, nil
	}
	return nil, nil
}

// Error is a sort descriptor error
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Kind describes where the data for virtual fields is found. A resource
// passes its kind explicitly to Compile.
type Kind struct {
	// NameField holds the display name, sorted by "name"
	NameField string `json:"name_field,omitempty" yaml:"name_field,omitempty"`
	// IDField is the identifier of an entity
	IDField string `json:"id_field,omitempty" yaml:"id_field,omitempty"`
	// RecordsCollection holds the dependent records counted by "recordsCount"
	RecordsCollection string `json:"records_collection,omitempty" yaml:"records_collection,omitempty"`
	// RecordsForeignField is the field of a record referencing the entity
	RecordsForeignField string `json:"records_foreign_field,omitempty" yaml:"records_foreign_field,omitempty"`
	// VersionsField is the embedded version list counted by "versionsCount"
	VersionsField string `json:"versions_field,omitempty" yaml:"versions_field,omitempty"`
	// ParentCollection holds the parent entities for "parentForm"
	ParentCollection string `json:"parent_collection,omitempty" yaml:"parent_collection,omitempty"`
	// ParentLocalField is the field of the entity referencing its parent
	ParentLocalField string `json:"parent_local_field,omitempty" yaml:"parent_local_field,omitempty"`
	// ParentForeignField is the identifier field of the parent
	ParentForeignField string `json:"parent_foreign_field,omitempty" yaml:"parent_foreign_field,omitempty"`
	// CoreField flags core entities, which never show a parent
	CoreField string `json:"core_field,omitempty" yaml:"core_field,omitempty"`
	// ArchivedField flags soft-archived entities
	ArchivedField string `json:"archived_field,omitempty" yaml:"archived_field,omitempty"`
}

// DefaultKind is the kind of form-like entities: records reference their
// form with "form", forms reference their parent form with "parent".
var DefaultKind = Kind{
	NameField:           "name",
	IDField:             "id",
	RecordsCollection:   "records",
	RecordsForeignField: "form",
	VersionsField:       "versions",
	ParentCollection:    "forms",
	ParentLocalField:    "parent",
	ParentForeignField:  "id",
	CoreField:           "core",
	ArchivedField:       "archived",
}

// WithDefaults returns k with empty settings taken from DefaultKind
func (k Kind) WithDefaults() Kind {
	set := func(value *string, fallback string) {
		if *value == "" {
			*value = fallback
		}
	}
	set(&k.NameField, DefaultKind.NameField)
	set(&k.IDField, DefaultKind.IDField)
	set(&k.RecordsCollection, DefaultKind.RecordsCollection)
	set(&k.RecordsForeignField, DefaultKind.RecordsForeignField)
	set(&k.VersionsField, DefaultKind.VersionsField)
	set(&k.ParentCollection, DefaultKind.ParentCollection)
	set(&k.ParentLocalField, DefaultKind.ParentLocalField)
	set(&k.ParentForeignField, DefaultKind.ParentForeignField)
	set(&k.CoreField, DefaultKind.CoreField)
	set(&k.ArchivedField, DefaultKind.ArchivedField)
	return k
}

// the virtual fields
const (
	FieldName          = "name"
	FieldRecordsCount  = "recordsCount"
	FieldVersionsCount = "versionsCount"
	FieldParentForm    = "parentForm"
)

// Strategy compiles the stages sorting by one virtual field
type Strategy func(direction pipeline.Direction, kind Kind) []pipeline.Stage

// Compiler compiles sort descriptors with a table of virtual field strategies
type Compiler struct {
	strategies map[string]Strategy
}

// NewCompiler returns a compiler with the strategies for name, recordsCount,
// versionsCount and parentForm
func NewCompiler() *Compiler {
	return &Compiler{strategies: map[string]Strategy{
		FieldName:          sortByName,
		FieldRecordsCount:  sortByRecordsCount,
		FieldVersionsCount: sortByVersionsCount,
		FieldParentForm:    sortByParentForm,
	}}
}

// Register adds or replaces the strategy for a virtual field. Register must
// not be called concurrently with Compile.
func (c *Compiler) Register(field string, strategy Strategy) {
	c.strategies[field] = strategy
}

// VirtualFields returns the sorted names of all virtual fields
func (c *Compiler) VirtualFields() []string {
	result := make([]string, 0, len(c.strategies))
	for field := range c.strategies {
		result = append(result, field)
	}
	sort.Strings(result)
	return result
}

// IsVirtual returns true if field is computed by a strategy
func (c *Compiler) IsVirtual(field string) bool {
	_, ok := c.strategies[field]
	return ok
}

// Compile returns the stages for descriptor. A nil descriptor or an empty
// field yields no stages.
func (c *Compiler) Compile(descriptor *Descriptor, kind Kind) []pipeline.Stage {
	if descriptor == nil || descriptor.Field == "" {
		return []pipeline.Stage{}
	}
	direction := ParseDirection(descriptor.Direction)
	if strategy, ok := c.strategies[descriptor.Field]; ok {
		return strategy(direction, kind.WithDefaults())
	}
	return []pipeline.Stage{pipeline.Sort{Path: descriptor.Field, Direction: direction}}
}

var defaultCompiler = NewCompiler()

// Compile compiles descriptor with the default strategies
func Compile(descriptor *Descriptor, kind Kind) []pipeline.Stage {
	return defaultCompiler.Compile(descriptor, kind)
}

func notArchived(kind Kind) pipeline.Expr {
	return pipeline.Comparison{Path: kind.ArchivedField, Op: pipeline.OpNe, Value: true}
}

func sortByName(direction pipeline.Direction, kind Kind) []pipeline.Stage {
	const lower = "_nameLower"
	return []pipeline.Stage{
		pipeline.AddFields{Fields: []pipeline.Field{{Name: lower, Value: pipeline.Lower{Path: kind.NameField}}}},
		pipeline.Sort{Path: lower, Direction: direction},
		pipeline.Unset{Paths: []string{lower}},
	}
}

func sortByRecordsCount(direction pipeline.Direction, kind Kind) []pipeline.Stage {
	const records = "_records"
	return []pipeline.Stage{
		pipeline.Lookup{
			From:         kind.RecordsCollection,
			LocalField:   kind.IDField,
			ForeignField: kind.RecordsForeignField,
			Where:        notArchived(kind),
			As:           records,
		},
		pipeline.AddFields{Fields: []pipeline.Field{{Name: FieldRecordsCount, Value: pipeline.Size{Path: records}}}},
		pipeline.Sort{Path: FieldRecordsCount, Direction: direction},
		pipeline.Unset{Paths: []string{records}},
	}
}

func sortByVersionsCount(direction pipeline.Direction, kind Kind) []pipeline.Stage {
	return []pipeline.Stage{
		pipeline.AddFields{Fields: []pipeline.Field{{Name: FieldVersionsCount, Value: pipeline.Size{Path: kind.VersionsField}}}},
		pipeline.Sort{Path: FieldVersionsCount, Direction: direction},
	}
}

func sortByParentForm(direction pipeline.Direction, kind Kind) []pipeline.Stage {
	const parent = "_parent"
	return []pipeline.Stage{
		pipeline.Lookup{
			From:         kind.ParentCollection,
			LocalField:   kind.ParentLocalField,
			ForeignField: kind.ParentForeignField,
			Where:        notArchived(kind),
			As:           parent,
		},
		pipeline.AddFields{Fields: []pipeline.Field{{
			Name: FieldParentForm,
			Value: pipeline.FirstOf{
				Path:    parent,
				Unless:  pipeline.Comparison{Path: kind.CoreField, Op: pipeline.OpEq, Value: true},
				Default: map[string]interface{}{kind.NameField: nil},
			},
		}}},
		pipeline.Sort{Path: FieldParentForm + "." + kind.NameField, Direction: direction},
		pipeline.Unset{Paths: []string{parent}},
	}
}
