// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package filter compiles filter trees into pipeline expressions.

A filter tree combines predicates with "and" and "or". Predicates name a
filter key as derived by fields.DeriveFilterFields and a value:

  node := filter.And(
    filter.Predicate("age_gte", 18),
    filter.Predicate("name", "Alice"),
  )
  expr, err := filter.Compile(ctx, &node, filter.Options{Schema: compiled, DataPath: "data"})

Equality is implicit, range comparisons use the derived keys <field>_lt,
<field>_lte, <field>_gt and <field>_gte. Date values may be date tokens like
"today()-7", see package datexpr.

A logic node with an operator other than "and" or "or" matches every
document. The node is ignored and a warning is logged.
*/
package filter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/resquery/core/datexpr"
	"github.com/relabs-tech/resquery/core/fields"
	"github.com/relabs-tech/resquery/core/logger"
	"github.com/relabs-tech/resquery/core/pipeline"
)

// DefaultMaxDepth is the maximum nesting depth of a filter tree unless
// configured otherwise
const DefaultMaxDepth = 64

// ErrTooDeep is returned for filter trees nested deeper than the maximum depth
var ErrTooDeep = errors.New("filter tree too deep")

// Error is a compilation error of a filter tree
type Error struct {
	Key    string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Reason
	if e.Key != "" {
		msg = fmt.Sprintf("filter '%s': %s", e.Key, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Options configures the compilation of a filter tree
type Options struct {
	// Schema is the compiled schema of the resource. Required.
	Schema *fields.Compiled
	// Resolver resolves date tokens and date literals
	Resolver datexpr.Resolver
	// DataPath is the path of the object holding the field values, e.g.
	// "data". Empty means the fields are stored at the top level.
	DataPath string
	// IDPath is the path of the document identifier, default "id"
	IDPath string
	// StrictDates makes unresolvable date values a compilation error.
	// Otherwise they compile to a predicate that matches nothing.
	StrictDates bool
	// MaxDepth is the maximum nesting depth, default DefaultMaxDepth
	MaxDepth int
	// Readable reports whether the caller may read a field. Predicates on
	// unreadable fields fail and the search only covers readable fields.
	// Nil allows every field.
	Readable func(field string) bool
}

// Compile compiles a filter tree. A nil node compiles to an expression that
// matches every document. Compilation either fully succeeds or fails.
func Compile(ctx context.Context, node *Node, opts Options) (pipeline.Expr, error) {
	if node == nil {
		return pipeline.All{}, nil
	}
	if opts.Schema == nil {
		return nil, &Error{Reason: "no schema"}
	}
	if opts.IDPath == "" {
		opts.IDPath = "id"
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	c := compiler{ctx: ctx, opts: opts}
	return c.compile(*node, 1)
}

// Matcher returns expr as a plain predicate function
func Matcher(expr pipeline.Expr) func(pipeline.Document) bool {
	return expr.Match
}

// Apply returns the documents matching expr, in their original order
func Apply(expr pipeline.Expr, docs []pipeline.Document) []pipeline.Document {
	result := []pipeline.Document{}
	for _, doc := range docs {
		if expr.Match(doc) {
			result = append(result, doc)
		}
	}
	return result
}

type compiler struct {
	ctx  context.Context
	opts Options
}

func (c *compiler) compile(node Node, depth int) (pipeline.Expr, error) {
	if depth > c.opts.MaxDepth {
		return nil, ErrTooDeep
	}
	if node.IsPredicate() {
		return c.predicate(node)
	}

	operator := node.Operator()
	if operator != LogicAnd && operator != LogicOr {
		logger.FromContext(c.ctx).Warnf("ignoring filter node with unknown logic operator '%s'", node.Logic)
		return pipeline.All{}, nil
	}
	if len(node.Filters) == 0 {
		return nil, &Error{Reason: fmt.Sprintf("logic '%s' requires at least one filter", operator)}
	}

	children := make([]pipeline.Expr, 0, len(node.Filters))
	for _, child := range node.Filters {
		expr, err := c.compile(child, depth+1)
		if err != nil {
			return nil, err
		}
		children = append(children, expr)
	}
	if operator == LogicAnd {
		return pipeline.And{Children: children}, nil
	}
	return pipeline.Or{Children: children}, nil
}

func (c *compiler) predicate(node Node) (pipeline.Expr, error) {
	ff, ok := c.opts.Schema.FilterFields[node.Field]
	if !ok {
		return nil, &Error{Key: node.Field, Reason: "unknown filter key"}
	}
	switch ff.Operator {
	case fields.OperatorIDs:
		return c.ids(ff, node.Value)
	case fields.OperatorSearch:
		return c.search(ff, node.Value)
	}
	if !c.readable(ff.Field) {
		return nil, &Error{Key: ff.Key, Reason: "field is not readable"}
	}

	if elements, ok := node.Value.Elements(); ok {
		if ff.Operator != fields.OperatorEq {
			return nil, &Error{Key: ff.Key, Reason: "lists are only supported for equality"}
		}
		alternatives := make([]pipeline.Expr, 0, len(elements))
		for _, element := range elements {
			expr, err := c.comparison(ff, element)
			if err != nil {
				return nil, err
			}
			alternatives = append(alternatives, expr)
		}
		return pipeline.Or{Children: alternatives}, nil
	}
	return c.comparison(ff, node.Value)
}

func (c *compiler) comparison(ff fields.FilterField, value Value) (pipeline.Expr, error) {
	path := c.path(ff.Field)
	if value.IsNull() {
		if ff.Operator != fields.OperatorEq {
			return nil, &Error{Key: ff.Key, Reason: "null is only supported for equality"}
		}
		return pipeline.Comparison{Path: path, Op: pipeline.OpEq, Value: nil}, nil
	}

	if ff.Type == fields.Date || ff.Type == fields.DateTime || value.Kind() == KindDateToken {
		res, ok, err := c.date(ff, value)
		if err != nil {
			return nil, err
		}
		if !ok {
			return pipeline.None{}, nil
		}
		if ff.Type == fields.Date {
			return dayComparison(path, ff.Operator, res), nil
		}
		return pipeline.Comparison{Path: path, Op: operator(ff.Operator), Value: res.Instant}, nil
	}

	coerced, err := coerce(ff, value)
	if err != nil {
		return nil, err
	}
	return pipeline.Comparison{Path: path, Op: operator(ff.Operator), Value: coerced}, nil
}

// dayComparison compares against the calendar day of res
func dayComparison(path string, op fields.Operator, res datexpr.Resolution) pipeline.Expr {
	switch op {
	case fields.OperatorLt:
		return pipeline.Comparison{Path: path, Op: pipeline.OpLt, Value: res.StartOfDay}
	case fields.OperatorLte:
		return pipeline.Comparison{Path: path, Op: pipeline.OpLte, Value: res.EndOfDay}
	case fields.OperatorGt:
		return pipeline.Comparison{Path: path, Op: pipeline.OpGt, Value: res.EndOfDay}
	case fields.OperatorGte:
		return pipeline.Comparison{Path: path, Op: pipeline.OpGte, Value: res.StartOfDay}
	}
	return pipeline.And{Children: []pipeline.Expr{
		pipeline.Comparison{Path: path, Op: pipeline.OpGte, Value: res.StartOfDay},
		pipeline.Comparison{Path: path, Op: pipeline.OpLte, Value: res.EndOfDay},
	}}
}

func (c *compiler) date(ff fields.FilterField, value Value) (datexpr.Resolution, bool, error) {
	var res datexpr.Resolution
	switch value.Kind() {
	case KindString, KindDateToken:
		s, _ := value.Str()
		res = c.opts.Resolver.Resolve(s)
	case KindNumber:
		// milliseconds since epoch
		n, _ := value.Num()
		res = c.opts.Resolver.ResolveTime(time.UnixMilli(int64(n)))
	default:
		return res, false, &Error{Key: ff.Key, Reason: fmt.Sprintf("cannot compare %s with a date", value.Kind())}
	}
	if res.Valid {
		return res, true, nil
	}
	s, _ := value.Str()
	if c.opts.StrictDates {
		return res, false, &Error{Key: ff.Key, Reason: "invalid date", Err: &datexpr.UnresolvedDateError{Expression: s}}
	}
	logger.FromContext(c.ctx).Debugf("filter '%s': unresolvable date '%s' matches nothing", ff.Key, s)
	return res, false, nil
}

func (c *compiler) ids(ff fields.FilterField, value Value) (pipeline.Expr, error) {
	var elements []Value
	if list, ok := value.Elements(); ok {
		elements = list
	} else {
		elements = []Value{value}
	}
	ids := make([]interface{}, 0, len(elements))
	for _, element := range elements {
		s, ok := element.Str()
		if !ok {
			return nil, &Error{Key: ff.Key, Reason: fmt.Sprintf("identifiers must be strings, got %s", element.Kind())}
		}
		s = strings.TrimSpace(s)
		if id, err := uuid.Parse(s); err == nil {
			s = id.String()
		}
		ids = append(ids, s)
	}
	return pipeline.In{Path: c.opts.IDPath, Values: ids}, nil
}

func (c *compiler) search(ff fields.FilterField, value Value) (pipeline.Expr, error) {
	term, ok := value.Str()
	if !ok {
		if value.IsNull() {
			return pipeline.All{}, nil
		}
		term = strings.Trim(value.String(), `"`)
	}
	if term == "" {
		return pipeline.All{}, nil
	}
	var paths []string
	for _, name := range c.opts.Schema.Registry.NamesOfType(fields.String) {
		if c.readable(name) {
			paths = append(paths, c.path(name))
		}
	}
	if len(paths) == 0 {
		return pipeline.None{}, nil
	}
	return pipeline.Contains{Paths: paths, Term: term}, nil
}

func (c *compiler) readable(field string) bool {
	return c.opts.Readable == nil || c.opts.Readable(field)
}

func (c *compiler) path(field string) string {
	if c.opts.DataPath == "" {
		return field
	}
	return c.opts.DataPath + "." + field
}

// coerce converts value to the representation of the field's semantic type
func coerce(ff fields.FilterField, value Value) (interface{}, error) {
	fail := func() (interface{}, error) {
		return nil, &Error{Key: ff.Key, Reason: fmt.Sprintf("cannot use %s value %s for %s field", value.Kind(), value, ff.Type)}
	}
	switch ff.Type {
	case fields.Number:
		if n, ok := value.Num(); ok {
			return n, nil
		}
		if s, ok := value.Str(); ok {
			if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return n, nil
			}
		}
		return fail()
	case fields.Boolean:
		if b, ok := value.Bool(); ok {
			return b, nil
		}
		if s, ok := value.Str(); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
				return b, nil
			}
		}
		return fail()
	case fields.String, fields.Relation:
		if s, ok := value.Str(); ok {
			return s, nil
		}
		if ff.Type == fields.String {
			if n, ok := value.Num(); ok {
				return strconv.FormatFloat(n, 'f', -1, 64), nil
			}
		}
		return fail()
	}
	return fail()
}

func operator(op fields.Operator) pipeline.Operator {
	switch op {
	case fields.OperatorLt:
		return pipeline.OpLt
	case fields.OperatorLte:
		return pipeline.OpLte
	case fields.OperatorGt:
		return pipeline.OpGt
	case fields.OperatorGte:
		return pipeline.OpGte
	}
	return pipeline.OpEq
}
