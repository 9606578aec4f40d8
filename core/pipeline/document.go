// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package pipeline describes storage execution pipelines.

A pipeline is an ordered list of stages (match, lookup, add fields, sort,
unset, skip, limit) applied to the documents of one collection. The query
compilers only produce stage descriptions; executing them is up to a
storage executor. For the in-memory executor and for tests, expressions and
computations can also be evaluated directly against a Document.
*/
package pipeline

import (
	"strings"
)

// Document is a single stored document. Nested objects are either Documents
// or plain map[string]interface{} values, both are accepted everywhere.
type Document map[string]interface{}

// Get returns the value at the dotted path, e.g. "data.age"
func (d Document) Get(path string) (interface{}, bool) {
	if d == nil {
		return nil, false
	}
	var current interface{} = map[string]interface{}(d)
	for _, part := range strings.Split(path, ".") {
		object, ok := asObject(current)
		if !ok {
			return nil, false
		}
		current, ok = object[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Set stores value at the dotted path, creating intermediate objects. Nested
// objects on the path are copied, so documents sharing nested maps with
// their source are not modified.
func (d Document) Set(path string, value interface{}) {
	parts := strings.Split(path, ".")
	object := map[string]interface{}(d)
	for _, part := range parts[:len(parts)-1] {
		next, ok := asObject(object[part])
		if ok {
			next = copyObject(next)
		} else {
			next = map[string]interface{}{}
		}
		object[part] = next
		object = next
	}
	object[parts[len(parts)-1]] = value
}

// Unset removes the value at the dotted path
func (d Document) Unset(path string) {
	parts := strings.Split(path, ".")
	object := map[string]interface{}(d)
	for _, part := range parts[:len(parts)-1] {
		next, ok := asObject(object[part])
		if !ok {
			return
		}
		next = copyObject(next)
		object[part] = next
		object = next
	}
	delete(object, parts[len(parts)-1])
}

// Clone returns a shallow copy of the document
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(copyObject(d))
}

// Object returns the nested object at path. The returned map must not be
// modified.
func (d Document) Object(path string) (map[string]interface{}, bool) {
	value, ok := d.Get(path)
	if !ok {
		return nil, false
	}
	return asObject(value)
}

func asObject(value interface{}) (map[string]interface{}, bool) {
	switch v := value.(type) {
	case map[string]interface{}:
		return v, true
	case Document:
		return map[string]interface{}(v), true
	}
	return nil, false
}

func copyObject(object map[string]interface{}) map[string]interface{} {
	c := make(map[string]interface{}, len(object))
	for key, value := range object {
		c[key] = value
	}
	return c
}
