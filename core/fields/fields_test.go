// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package fields

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allTypes = []SemanticType{String, Number, Boolean, Date, DateTime, Relation}

func TestBuildRegistry(t *testing.T) {
	r, err := BuildRegistry([]Descriptor{
		{Name: "name", Type: String},
		{Name: "age", Type: Number},
		{Name: "tags", Type: String, Multivalued: true},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"age", "name", "tags"}, r.Names())
	typ, ok := r.Type("age")
	assert.True(t, ok)
	assert.Equal(t, Number, typ)
	_, ok = r.Type("unknown")
	assert.False(t, ok)
	d, _ := r.Descriptor("tags")
	assert.True(t, d.Multivalued)
	assert.Equal(t, map[string]SemanticType{"age": Number, "name": String, "tags": String}, r.Types())
	assert.Equal(t, []string{"name", "tags"}, r.NamesOfType(String))
}

func TestBuildRegistry_Errors(t *testing.T) {
	tests := []struct {
		name        string
		descriptors []Descriptor
		field       string
	}{
		{"duplicate", []Descriptor{{Name: "a", Type: String}, {Name: "a", Type: Number}}, "a"},
		{"empty name", []Descriptor{{Name: "", Type: String}}, ""},
		{"unknown type", []Descriptor{{Name: "b", Type: "blob"}}, "b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildRegistry(tt.descriptors)
			var schemaErr *SchemaError
			require.True(t, errors.As(err, &schemaErr))
			assert.Equal(t, tt.field, schemaErr.Field)
		})
	}
}

func TestBuildRegistry_Empty(t *testing.T) {
	r, err := BuildRegistry(nil)
	require.NoError(t, err)
	assert.Empty(t, r.Names())
}

func TestDescriptor_JSON(t *testing.T) {
	var descriptors []Descriptor
	err := json.Unmarshal([]byte(`[{"name":"born","type":"date"},{"name":"tags","type":"string","multivalued":true}]`), &descriptors)
	require.NoError(t, err)
	assert.Equal(t, []Descriptor{{Name: "born", Type: Date}, {Name: "tags", Type: String, Multivalued: true}}, descriptors)

	err = json.Unmarshal([]byte(`[{"name":"x","type":"blob"}]`), &descriptors)
	assert.Error(t, err)
}

func TestDeriveFilterFields_UniversalKeys(t *testing.T) {
	schemas := [][]Descriptor{
		nil,
		{{Name: "name", Type: String}},
		{{Name: "age", Type: Number}, {Name: "born", Type: Date}},
	}
	for i, descriptors := range schemas {
		r, err := BuildRegistry(descriptors)
		require.NoError(t, err)
		ff := DeriveFilterFields(r)
		assert.Contains(t, ff, KeySearch, "schema %d", i)
		assert.Contains(t, ff, KeyIDs, "schema %d", i)
		assert.True(t, ff[KeyIDs].List)
		assert.Equal(t, OperatorSearch, ff[KeySearch].Operator)
	}
}

func TestDeriveFilterFields_RangeKeys(t *testing.T) {
	for _, typ := range allTypes {
		t.Run(string(typ), func(t *testing.T) {
			r, err := BuildRegistry([]Descriptor{{Name: "f", Type: typ}})
			require.NoError(t, err)
			ff := DeriveFilterFields(r)

			rangeKeys := 0
			for _, suffix := range []string{"_lt", "_lte", "_gt", "_gte"} {
				if _, ok := ff["f"+suffix]; ok {
					rangeKeys++
				}
			}
			if typ == Number || typ == Date || typ == DateTime {
				assert.Equal(t, 4, rangeKeys)
				assert.Len(t, ff, 7)
			} else {
				assert.Equal(t, 0, rangeKeys)
				assert.Len(t, ff, 3)
			}
			assert.Equal(t, OperatorEq, ff["f"].Operator)
			assert.Equal(t, typ, ff["f"].Type)
		})
	}
}

func TestDeriveFilterFields_Keys(t *testing.T) {
	r, err := BuildRegistry([]Descriptor{{Name: "age", Type: Number}, {Name: "name", Type: String}})
	require.NoError(t, err)
	ff := DeriveFilterFields(r)
	assert.Equal(t, []string{"age", "age_gt", "age_gte", "age_lt", "age_lte", "ids", "name", "q"}, ff.Keys())
	assert.Equal(t, FilterField{Key: "age_gte", Field: "age", Operator: OperatorGte, Type: Number}, ff["age_gte"])
	assert.Equal(t, map[Operator]bool{OperatorEq: true, OperatorLt: true, OperatorLte: true, OperatorGt: true, OperatorGte: true},
		ff.Operators("age"))
}

func TestCache(t *testing.T) {
	c := NewCache()
	assert.Nil(t, c.Read("user"))

	first, err := c.Update("user", []Descriptor{{Name: "age", Type: Number}})
	require.NoError(t, err)
	assert.Same(t, first, c.Read("user"))

	// unchanged descriptors keep the compiled schema
	same, err := c.Update("user", []Descriptor{{Name: "age", Type: Number}})
	require.NoError(t, err)
	assert.Same(t, first, same)

	second, err := c.Update("user", []Descriptor{{Name: "age", Type: Number}, {Name: "name", Type: String}})
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Contains(t, c.Read("user").FilterFields, "name")

	// a failing update keeps the previous schema
	_, err = c.Update("user", []Descriptor{{Name: "x", Type: String}, {Name: "x", Type: String}})
	assert.Error(t, err)
	assert.Same(t, second, c.Read("user"))

	assert.Equal(t, []string{"user"}, c.Resources())
	c.Delete("user")
	assert.Nil(t, c.Read("user"))
}

func TestCache_Concurrent(t *testing.T) {
	c := NewCache()
	_, err := c.Update("device", []Descriptor{{Name: "f0", Type: Number}})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			descriptors := []Descriptor{}
			for j := 0; j <= i; j++ {
				descriptors = append(descriptors, Descriptor{Name: fmt.Sprintf("f%d", j), Type: Number})
			}
			_, err := c.Update("device", descriptors)
			assert.NoError(t, err)
		}(i)
		go func() {
			defer wg.Done()
			compiled := c.Read("device")
			// a compiled schema is always complete
			for _, name := range compiled.Registry.Names() {
				assert.Contains(t, compiled.FilterFields, name+"_gte")
			}
		}()
	}
	wg.Wait()
}
