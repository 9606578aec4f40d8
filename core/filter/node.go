// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package filter

import (
	"strings"

	"github.com/goccy/go-json"
)

// the logic operators
const (
	LogicAnd = "and"
	LogicOr  = "or"
)

// Node is a node of a filter tree. A node with a Field is a predicate, all
// other nodes are logic nodes combining Filters with Logic.
//
// JSON representation:
//
//  {"logic":"and","filters":[{"field":"age_gte","value":18},{"field":"name","value":"Alice"}]}
type Node struct {
	Logic   string `json:"logic,omitempty"`
	Filters []Node `json:"filters,omitempty"`
	Field   string `json:"field,omitempty"`
	Value   Value  `json:"value"`
}

// And returns an and-node of children
func And(children ...Node) Node {
	return Node{Logic: LogicAnd, Filters: children}
}

// Or returns an or-node of children
func Or(children ...Node) Node {
	return Node{Logic: LogicOr, Filters: children}
}

// Logic returns a logic node with an arbitrary operator
func Logic(operator string, children ...Node) Node {
	return Node{Logic: operator, Filters: children}
}

// Predicate returns a predicate node. value is converted with FromInterface;
// unsupported values become null.
func Predicate(field string, value interface{}) Node {
	v, _ := FromInterface(value)
	return Node{Field: field, Value: v}
}

// IsPredicate returns true for predicate nodes
func (n Node) IsPredicate() bool {
	return n.Field != ""
}

// Operator returns the normalized logic operator of a logic node
func (n Node) Operator() string {
	return strings.ToLower(strings.TrimSpace(n.Logic))
}

type predicateJSON struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

type logicJSON struct {
	Logic   string `json:"logic"`
	Filters []Node `json:"filters"`
}

// MarshalJSON implements json.Marshaler
func (n Node) MarshalJSON() ([]byte, error) {
	if n.IsPredicate() {
		return json.Marshal(predicateJSON{Field: n.Field, Value: n.Value})
	}
	filters := n.Filters
	if filters == nil {
		filters = []Node{}
	}
	return json.Marshal(logicJSON{Logic: n.Logic, Filters: filters})
}

// Parse decodes a filter tree from its JSON representation
func Parse(data []byte) (*Node, error) {
	var node Node
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, &Error{Reason: "invalid filter", Err: err}
	}
	return &node, nil
}
