// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package pipeline

import (
	"strings"
)

// Operator is a comparison operator
type Operator string

// all supported comparison operators
const (
	OpEq  Operator = "$eq"
	OpNe  Operator = "$ne"
	OpLt  Operator = "$lt"
	OpLte Operator = "$lte"
	OpGt  Operator = "$gt"
	OpGte Operator = "$gte"
)

// Expr is a boolean expression over a single document
type Expr interface {
	// Match evaluates the expression against doc
	Match(doc Document) bool
	// Describe returns a JSON-friendly representation of the expression
	Describe() interface{}
}

// All matches every document
type All struct{}

// None matches no document
type None struct{}

// And matches if all children match. Evaluation stops at the first child
// that does not match.
type And struct {
	Children []Expr
}

// Or matches if at least one child matches. Evaluation stops at the first
// child that matches.
type Or struct {
	Children []Expr
}

// Comparison compares the value at Path with Value. If the stored value is an
// array, the comparison matches if any element matches, except for OpNe
// which requires that no element is equal.
type Comparison struct {
	Path  string
	Op    Operator
	Value interface{}
}

// In matches if the value at Path equals one of Values
type In struct {
	Path   string
	Values []interface{}
}

// Contains is a case-insensitive substring search. It matches if any of the
// string values at Paths contains Term. If Paths is empty, all string values
// of the object at Root are searched.
type Contains struct {
	Paths []string
	Root  string
	Term  string
}

// Match implements Expr
func (All) Match(Document) bool { return true }

// Describe implements Expr
func (All) Describe() interface{} { return map[string]interface{}{} }

// Match implements Expr
func (None) Match(Document) bool { return false }

// Describe implements Expr
func (None) Describe() interface{} { return map[string]interface{}{"$expr": false} }

// Match implements Expr
func (e And) Match(doc Document) bool {
	for _, child := range e.Children {
		if !child.Match(doc) {
			return false
		}
	}
	return true
}

// Describe implements Expr
func (e And) Describe() interface{} {
	return map[string]interface{}{"$and": describeAll(e.Children)}
}

// Match implements Expr
func (e Or) Match(doc Document) bool {
	for _, child := range e.Children {
		if child.Match(doc) {
			return true
		}
	}
	return false
}

// Describe implements Expr
func (e Or) Describe() interface{} {
	return map[string]interface{}{"$or": describeAll(e.Children)}
}

// Match implements Expr
func (e Comparison) Match(doc Document) bool {
	value, _ := doc.Get(e.Path)
	if e.Op == OpNe {
		return !matchEqual(value, e.Value)
	}
	if e.Op == OpEq {
		return matchEqual(value, e.Value)
	}
	if array, ok := value.([]interface{}); ok {
		for _, element := range array {
			if e.compare(element) {
				return true
			}
		}
		return false
	}
	return e.compare(value)
}

func (e Comparison) compare(value interface{}) bool {
	result, ok := Compare(value, e.Value)
	if !ok {
		return false
	}
	switch e.Op {
	case OpLt:
		return result < 0
	case OpLte:
		return result <= 0
	case OpGt:
		return result > 0
	case OpGte:
		return result >= 0
	}
	return false
}

// Describe implements Expr
func (e Comparison) Describe() interface{} {
	return map[string]interface{}{e.Path: map[string]interface{}{string(e.Op): e.Value}}
}

// Match implements Expr
func (e In) Match(doc Document) bool {
	value, _ := doc.Get(e.Path)
	for _, candidate := range e.Values {
		if matchEqual(value, candidate) {
			return true
		}
	}
	return false
}

// Describe implements Expr
func (e In) Describe() interface{} {
	return map[string]interface{}{e.Path: map[string]interface{}{"$in": e.Values}}
}

// Match implements Expr
func (e Contains) Match(doc Document) bool {
	term := strings.ToLower(e.Term)
	if len(e.Paths) == 0 {
		var object map[string]interface{}
		if e.Root == "" {
			object = doc
		} else {
			object, _ = doc.Object(e.Root)
		}
		for _, value := range object {
			if containsTerm(value, term) {
				return true
			}
		}
		return false
	}
	for _, path := range e.Paths {
		value, _ := doc.Get(path)
		if containsTerm(value, term) {
			return true
		}
	}
	return false
}

// Describe implements Expr
func (e Contains) Describe() interface{} {
	search := map[string]interface{}{"$search": e.Term}
	if len(e.Paths) > 0 {
		search["$paths"] = e.Paths
	} else if e.Root != "" {
		search["$root"] = e.Root
	}
	return map[string]interface{}{"$text": search}
}

func matchEqual(value, expected interface{}) bool {
	if Equal(value, expected) {
		return true
	}
	if array, ok := value.([]interface{}); ok {
		for _, element := range array {
			if Equal(element, expected) {
				return true
			}
		}
	}
	return false
}

func containsTerm(value interface{}, term string) bool {
	switch v := value.(type) {
	case string:
		return strings.Contains(strings.ToLower(v), term)
	case []interface{}:
		for _, element := range v {
			if s, ok := element.(string); ok && strings.Contains(strings.ToLower(s), term) {
				return true
			}
		}
	}
	return false
}

func describeAll(exprs []Expr) []interface{} {
	result := make([]interface{}, len(exprs))
	for i, expr := range exprs {
		result[i] = expr.Describe()
	}
	return result
}
