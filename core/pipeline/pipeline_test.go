// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package pipeline

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestDocument_GetSetUnset(t *testing.T) {
	inner := map[string]interface{}{"age": 20.0}
	source := Document{"id": "a", "data": inner}

	value, ok := source.Get("data.age")
	assert.True(t, ok)
	assert.Equal(t, 20.0, value)

	_, ok = source.Get("data.name")
	assert.False(t, ok)
	_, ok = source.Get("id.nested")
	assert.False(t, ok)

	clone := source.Clone()
	clone.Set("data.name", "Alice")
	clone.Unset("data.age")

	_, ok = inner["name"]
	assert.False(t, ok, "set must not modify shared nested objects")
	_, ok = inner["age"]
	assert.True(t, ok, "unset must not modify shared nested objects")

	name, _ := clone.Get("data.name")
	assert.Equal(t, "Alice", name)
	_, ok = clone.Get("data.age")
	assert.False(t, ok)

	clone.Set("computed.value", 3)
	value, _ = clone.Get("computed.value")
	assert.Equal(t, 3, value)
}

func TestEqualAndCompare(t *testing.T) {
	id := uuid.New()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	assert.True(t, Equal(18, 18.0))
	assert.True(t, Equal(id, id.String()))
	assert.True(t, Equal(now, now.Format(time.RFC3339)))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(nil, 0))
	assert.False(t, Equal("18", 18))
	assert.False(t, Equal(true, "true"))

	result, ok := Compare(15, 18.0)
	assert.True(t, ok)
	assert.Equal(t, -1, result)

	result, ok = Compare(now.Add(time.Hour).Format(time.RFC3339), now)
	assert.True(t, ok)
	assert.Equal(t, 1, result)

	// dates without zone are local
	midnight := time.Date(2024, 3, 1, 0, 0, 0, 0, time.Local)
	result, ok = Compare("2024-03-01", midnight)
	assert.True(t, ok)
	assert.Equal(t, 0, result)
	result, ok = Compare("2024-03-01T12:00:00", midnight)
	assert.True(t, ok)
	assert.Equal(t, 1, result)

	_, ok = Compare("a", 1)
	assert.False(t, ok)
	_, ok = Compare(nil, 1)
	assert.False(t, ok)
}

func TestOrder(t *testing.T) {
	assert.Equal(t, -1, Order(nil, 1))
	assert.Equal(t, -1, Order(1, "a"))
	assert.Equal(t, 1, Order("b", "a"))
	assert.Equal(t, 0, Order(nil, nil))
	assert.Equal(t, -1, Order(false, true))
}

func TestExpressions(t *testing.T) {
	doc := Document{
		"id":   "1",
		"tags": []interface{}{"red", "Blue"},
		"data": map[string]interface{}{"age": 20.0, "name": "Alice"},
	}

	assert.True(t, Comparison{Path: "data.age", Op: OpGte, Value: 18}.Match(doc))
	assert.False(t, Comparison{Path: "data.age", Op: OpLt, Value: 18}.Match(doc))
	assert.True(t, Comparison{Path: "tags", Op: OpEq, Value: "red"}.Match(doc))
	assert.False(t, Comparison{Path: "tags", Op: OpNe, Value: "red"}.Match(doc))
	assert.True(t, Comparison{Path: "archived", Op: OpNe, Value: true}.Match(doc))
	assert.False(t, Comparison{Path: "data.name", Op: OpGt, Value: 3}.Match(doc))

	assert.True(t, In{Path: "id", Values: []interface{}{"0", "1"}}.Match(doc))
	assert.False(t, In{Path: "id", Values: []interface{}{"2"}}.Match(doc))

	assert.True(t, Contains{Root: "data", Term: "ali"}.Match(doc))
	assert.True(t, Contains{Paths: []string{"tags"}, Term: "blue"}.Match(doc))
	assert.False(t, Contains{Paths: []string{"data.name"}, Term: "bob"}.Match(doc))

	assert.True(t, And{}.Match(doc))
	assert.False(t, Or{}.Match(doc))
	assert.True(t, Or{Children: []Expr{None{}, All{}}}.Match(doc))
	assert.False(t, And{Children: []Expr{All{}, None{}}}.Match(doc))
}

type countingExpr struct {
	result bool
	calls  *int
}

func (e countingExpr) Match(Document) bool {
	*e.calls++
	return e.result
}

func (e countingExpr) Describe() interface{} { return e.result }

func TestLogicShortCircuits(t *testing.T) {
	calls := 0
	or := Or{Children: []Expr{countingExpr{true, &calls}, countingExpr{true, &calls}}}
	assert.True(t, or.Match(Document{}))
	assert.Equal(t, 1, calls)

	calls = 0
	and := And{Children: []Expr{countingExpr{false, &calls}, countingExpr{true, &calls}}}
	assert.False(t, and.Match(Document{}))
	assert.Equal(t, 1, calls)
}

func TestComputations(t *testing.T) {
	doc := Document{
		"name":     "Zebra",
		"core":     false,
		"versions": []interface{}{"v1", "v2"},
		"_parent":  []interface{}{Document{"name": "Parent"}},
	}
	assert.Equal(t, "zebra", Lower{Path: "name"}.Compute(doc))
	assert.Equal(t, 2, Size{Path: "versions"}.Compute(doc))
	assert.Equal(t, 0, Size{Path: "missing"}.Compute(doc))

	placeholder := Document{"name": nil}
	first := FirstOf{Path: "_parent", Unless: Comparison{Path: "core", Op: OpEq, Value: true}, Default: placeholder}
	assert.Equal(t, Document{"name": "Parent"}, first.Compute(doc))

	doc["core"] = true
	assert.Equal(t, placeholder, first.Compute(doc))

	doc["core"] = false
	doc["_parent"] = []interface{}{}
	assert.Equal(t, placeholder, first.Compute(doc))
}

func TestDescribe(t *testing.T) {
	stages := []Stage{
		Match{Expr: Comparison{Path: "data.age", Op: OpGte, Value: 18}},
		Sort{Path: "name", Direction: Descending},
		Limit{N: 10},
	}
	described := Describe(stages)
	assert.Len(t, described, 3)
	assert.Equal(t, map[string]interface{}{"$sort": map[string]interface{}{"name": -1}}, described[1])
	assert.Equal(t, map[string]interface{}{"$limit": 10}, described[2])
}
