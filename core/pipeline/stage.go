// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package pipeline

import (
	"strings"
)

// Direction is a sort direction, +1 for ascending and -1 for descending
type Direction int

// the two sort directions
const (
	Ascending  Direction = 1
	Descending Direction = -1
)

// Stage is one unit of a storage execution pipeline
type Stage interface {
	// Name returns the stage operator, e.g. "$match"
	Name() string
	// Describe returns a JSON-friendly representation of the stage
	Describe() map[string]interface{}
}

// Match keeps the documents for which Expr matches
type Match struct {
	Expr Expr
}

// Lookup joins documents of another collection. For every document, all
// documents of From whose ForeignField equals the document's LocalField and
// which match Where (if set) are stored as an array in As.
type Lookup struct {
	From         string
	LocalField   string
	ForeignField string
	Where        Expr
	As           string
}

// AddFields stores computed values in the documents
type AddFields struct {
	Fields []Field
}

// Field is a computed field of AddFields
type Field struct {
	Name  string
	Value Computation
}

// Sort orders the documents by the value at Path
type Sort struct {
	Path      string
	Direction Direction
}

// Unset removes pipeline-local fields from the documents
type Unset struct {
	Paths []string
}

// Skip drops the first N documents
type Skip struct {
	N int
}

// Limit keeps at most N documents
type Limit struct {
	N int
}

// Name implements Stage
func (Match) Name() string { return "$match" }

// Describe implements Stage
func (s Match) Describe() map[string]interface{} {
	return map[string]interface{}{s.Name(): s.Expr.Describe()}
}

// Name implements Stage
func (Lookup) Name() string { return "$lookup" }

// Describe implements Stage
func (s Lookup) Describe() map[string]interface{} {
	lookup := map[string]interface{}{
		"from":         s.From,
		"localField":   s.LocalField,
		"foreignField": s.ForeignField,
		"as":           s.As,
	}
	if s.Where != nil {
		lookup["pipeline"] = []interface{}{Match{Expr: s.Where}.Describe()}
	}
	return map[string]interface{}{s.Name(): lookup}
}

// Name implements Stage
func (AddFields) Name() string { return "$addFields" }

// Describe implements Stage
func (s AddFields) Describe() map[string]interface{} {
	fields := map[string]interface{}{}
	for _, f := range s.Fields {
		fields[f.Name] = f.Value.Describe()
	}
	return map[string]interface{}{s.Name(): fields}
}

// Name implements Stage
func (Sort) Name() string { return "$sort" }

// Describe implements Stage
func (s Sort) Describe() map[string]interface{} {
	return map[string]interface{}{s.Name(): map[string]interface{}{s.Path: int(s.Direction)}}
}

// Name implements Stage
func (Unset) Name() string { return "$unset" }

// Describe implements Stage
func (s Unset) Describe() map[string]interface{} {
	return map[string]interface{}{s.Name(): s.Paths}
}

// Name implements Stage
func (Skip) Name() string { return "$skip" }

// Describe implements Stage
func (s Skip) Describe() map[string]interface{} {
	return map[string]interface{}{s.Name(): s.N}
}

// Name implements Stage
func (Limit) Name() string { return "$limit" }

// Describe implements Stage
func (s Limit) Describe() map[string]interface{} {
	return map[string]interface{}{s.Name(): s.N}
}

// Describe returns a JSON-friendly representation of all stages
func Describe(stages []Stage) []map[string]interface{} {
	result := make([]map[string]interface{}, len(stages))
	for i, stage := range stages {
		result[i] = stage.Describe()
	}
	return result
}

// Computation computes a value from a document
type Computation interface {
	Compute(doc Document) interface{}
	Describe() interface{}
}

// Lower is the lowercase representation of the string at Path, or an empty
// string if there is no string
type Lower struct {
	Path string
}

// Size is the length of the array at Path, or 0 if there is no array
type Size struct {
	Path string
}

// FirstOf is the first element of the array at Path. If the array is empty,
// or Unless matches the document, Default is used instead.
type FirstOf struct {
	Path    string
	Unless  Expr
	Default interface{}
}

// Compute implements Computation
func (c Lower) Compute(doc Document) interface{} {
	value, _ := doc.Get(c.Path)
	s, _ := value.(string)
	return strings.ToLower(s)
}

// Describe implements Computation
func (c Lower) Describe() interface{} {
	return map[string]interface{}{"$toLower": "$" + c.Path}
}

// Compute implements Computation
func (c Size) Compute(doc Document) interface{} {
	value, _ := doc.Get(c.Path)
	array, _ := value.([]interface{})
	return len(array)
}

// Describe implements Computation
func (c Size) Describe() interface{} {
	return map[string]interface{}{"$size": map[string]interface{}{"$ifNull": []interface{}{"$" + c.Path, []interface{}{}}}}
}

// Compute implements Computation
func (c FirstOf) Compute(doc Document) interface{} {
	if c.Unless != nil && c.Unless.Match(doc) {
		return c.Default
	}
	value, _ := doc.Get(c.Path)
	array, _ := value.([]interface{})
	if len(array) == 0 {
		return c.Default
	}
	return array[0]
}

// Describe implements Computation
func (c FirstOf) Describe() interface{} {
	var unless interface{} = false
	if c.Unless != nil {
		unless = c.Unless.Describe()
	}
	return map[string]interface{}{
		"$cond": map[string]interface{}{
			"if": map[string]interface{}{"$and": []interface{}{
				map[string]interface{}{"$gt": []interface{}{map[string]interface{}{"$size": "$" + c.Path}, 0}},
				map[string]interface{}{"$not": unless},
			}},
			"then": map[string]interface{}{"$first": "$" + c.Path},
			"else": c.Default,
		},
	}
}
