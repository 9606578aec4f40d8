// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package filter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/resquery/core/datexpr"
)

// Kind is the kind of a filter value
type Kind int

// all value kinds
const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBoolean
	KindDateToken
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindDateToken:
		return "date token"
	case KindList:
		return "list"
	}
	return "unknown"
}

// Value is the value of a filter predicate. The zero value is null.
type Value struct {
	kind    Kind
	str     string
	number  float64
	boolean bool
	list    []Value
}

// Null returns the null value
func Null() Value { return Value{} }

// String returns a string value
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number returns a number value
func Number(n float64) Value { return Value{kind: KindNumber, number: n} }

// Boolean returns a boolean value
func Boolean(b bool) Value { return Value{kind: KindBoolean, boolean: b} }

// DateToken returns a date expression value, see package datexpr
func DateToken(expression string) Value { return Value{kind: KindDateToken, str: expression} }

// List returns a list value
func List(values ...Value) Value { return Value{kind: KindList, list: values} }

// Kind returns the kind of the value
func (v Value) Kind() Kind { return v.kind }

// IsNull returns true for the null value
func (v Value) IsNull() bool { return v.kind == KindNull }

// Str returns the string of a string or date token value
func (v Value) Str() (string, bool) {
	return v.str, v.kind == KindString || v.kind == KindDateToken
}

// Num returns the number of a number value
func (v Value) Num() (float64, bool) { return v.number, v.kind == KindNumber }

// Bool returns the boolean of a boolean value
func (v Value) Bool() (bool, bool) { return v.boolean, v.kind == KindBoolean }

// Elements returns the elements of a list value
func (v Value) Elements() ([]Value, bool) { return v.list, v.kind == KindList }

// Interface returns the plain Go representation of the value
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindString, KindDateToken:
		return v.str
	case KindNumber:
		return v.number
	case KindBoolean:
		return v.boolean
	case KindList:
		result := make([]interface{}, len(v.list))
		for i, element := range v.list {
			result[i] = element.Interface()
		}
		return result
	}
	return nil
}

func (v Value) String() string {
	switch v.kind {
	case KindString, KindDateToken:
		return strconv.Quote(v.str)
	case KindNumber:
		return strconv.FormatFloat(v.number, 'g', -1, 64)
	case KindBoolean:
		return strconv.FormatBool(v.boolean)
	case KindList:
		parts := make([]string, len(v.list))
		for i, element := range v.list {
			parts[i] = element.String()
		}
		return "[" + strings.Join(parts, ",") + "]"
	}
	return "null"
}

// FromInterface converts a decoded JSON value into a Value. Strings which
// are date tokens become date token values.
func FromInterface(i interface{}) (Value, error) {
	switch t := i.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case string:
		if datexpr.IsToken(t) {
			return DateToken(t), nil
		}
		return String(t), nil
	case bool:
		return Boolean(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return Null(), fmt.Errorf("invalid number %s", t)
		}
		return Number(n), nil
	case []string:
		list := make([]Value, len(t))
		for i, s := range t {
			list[i], _ = FromInterface(s)
		}
		return List(list...), nil
	case []interface{}:
		list := make([]Value, len(t))
		for i, element := range t {
			v, err := FromInterface(element)
			if err != nil {
				return Null(), err
			}
			if v.kind == KindList {
				return Null(), fmt.Errorf("nested lists are not supported")
			}
			list[i] = v
		}
		return List(list...), nil
	}
	return Null(), fmt.Errorf("unsupported value type %T", i)
}

// MarshalJSON implements json.Marshaler
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON implements json.Unmarshaler
func (v *Value) UnmarshalJSON(data []byte) error {
	var i interface{}
	if err := json.Unmarshal(data, &i); err != nil {
		return err
	}
	value, err := FromInterface(i)
	if err != nil {
		return err
	}
	*v = value
	return nil
}
