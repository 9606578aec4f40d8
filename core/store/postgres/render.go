// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package postgres

import (
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/relabs-tech/resquery/core/pipeline"
	"github.com/relabs-tech/resquery/core/store"
)

// timestampPattern guards casts to timestamptz
const timestampPattern = `^\d{4}-\d{2}-\d{2}([T ]\d{2}:\d{2}(:\d{2}(\.\d+)?)?)?(Z|[+-]\d{2}(:?\d{2})?)?$`

// fragment is a piece of SQL with '?' placeholders
type fragment struct {
	sql  string
	args []interface{}
}

// ToSql implements sq.Sqlizer
func (f fragment) ToSql() (string, []interface{}, error) {
	return f.sql, f.args, nil
}

func frag(sql string, args ...interface{}) fragment {
	return fragment{sql: sql, args: args}
}

// param is a query parameter of compose
type param struct {
	value interface{}
}

// compose concatenates strings as SQL, fragments and params. Params become
// '?' placeholders, arguments keep the order of their placeholders.
func compose(parts ...interface{}) fragment {
	var (
		b    strings.Builder
		args []interface{}
	)
	for _, part := range parts {
		switch p := part.(type) {
		case string:
			b.WriteString(p)
		case fragment:
			b.WriteString(p.sql)
			args = append(args, p.args...)
		case param:
			b.WriteString("?")
			args = append(args, p.value)
		default:
			panic(fmt.Sprintf("compose: unsupported part %T", part))
		}
	}
	return fragment{sql: b.String(), args: args}
}

func join(fragments []fragment, separator, empty string) fragment {
	if len(fragments) == 0 {
		return frag(empty)
	}
	parts := []interface{}{"("}
	for i, f := range fragments {
		if i > 0 {
			parts = append(parts, separator)
		}
		parts = append(parts, f)
	}
	return compose(append(parts, ")")...)
}

// path is the jsonb path array of a dotted path
func path(p string) param {
	return param{pq.Array(strings.Split(p, "."))}
}

// at is the jsonb value at p in doc
func at(doc fragment, p string) fragment {
	return compose("(", doc, " #> ", path(p), "::text[])")
}

// elements is the set returning expression of the array at p in doc, or
// the value itself wrapped in an array
func elements(doc fragment, p string) fragment {
	value := at(doc, p)
	return compose("jsonb_array_elements(CASE WHEN jsonb_typeof(", value, ") = 'array' THEN ", value,
		" ELSE jsonb_build_array(", value, ") END)")
}

func jsonValue(value interface{}) (fragment, error) {
	body, err := json.Marshal(value)
	if err != nil {
		return fragment{}, err
	}
	return compose(param{string(body)}, "::jsonb"), nil
}

// renderer renders pipelines to SQL. Documents are jsonb values: the
// properties of a row merged with its id.
type renderer struct {
	table func(collection string) (string, error)
}

// level is one nesting level of the rendered query. Sort keys are carried
// as extra columns through all following levels.
type level struct {
	query sq.SelectBuilder
	keys  []string
	order []string
}

func (l *level) wrap(doc fragment) sq.SelectBuilder {
	q := sq.Select().Column(sq.Alias(doc, "doc"))
	for _, key := range l.keys {
		q = q.Column("s." + key)
	}
	return q.FromSelect(l.query, "s")
}

func (l *level) orderBy() []string {
	return append(append([]string{}, l.order...), "s.doc ->> 'id'")
}

var current = frag("s.doc")

func (r *renderer) base(collection string) (sq.SelectBuilder, error) {
	table, err := r.table(collection)
	if err != nil {
		return sq.SelectBuilder{}, err
	}
	return sq.Select().
		Column(sq.Alias(frag("t.properties || jsonb_build_object('id', t.id)"), "doc")).
		From(table + " t"), nil
}

// render renders stages on collection into a query selecting one jsonb
// column "doc" per document, in pipeline order
func (r *renderer) render(collection string, stages []pipeline.Stage) (sq.SelectBuilder, error) {
	base, err := r.base(collection)
	if err != nil {
		return base, err
	}
	l := &level{query: base}

	for _, stage := range stages {
		switch s := stage.(type) {
		case pipeline.Match:
			condition, err := r.condition(s.Expr, current)
			if err != nil {
				return l.query, err
			}
			l.query = l.wrap(current).Where(condition)

		case pipeline.Lookup:
			joined, err := r.lookup(s)
			if err != nil {
				return l.query, err
			}
			l.query = l.wrap(set(current, s.As, joined))

		case pipeline.AddFields:
			doc := current
			for _, f := range s.Fields {
				value, err := r.computation(f.Value, current)
				if err != nil {
					return l.query, err
				}
				doc = set(doc, f.Name, value)
			}
			l.query = l.wrap(doc)

		case pipeline.Sort:
			key := fmt.Sprintf("k%d", len(l.keys))
			l.query = l.wrap(current).Column(sq.Alias(at(current, s.Path), key))
			l.keys = append(l.keys, key)
			direction := "ASC NULLS FIRST"
			if s.Direction == pipeline.Descending {
				direction = "DESC NULLS LAST"
			}
			l.order = append([]string{"s." + key + " " + direction}, l.order...)

		case pipeline.Unset:
			doc := current
			for _, p := range s.Paths {
				doc = compose("(", doc, " #- ", path(p), "::text[])")
			}
			l.query = l.wrap(doc)

		case pipeline.Skip:
			if s.N > 0 {
				l.query = l.wrap(current).OrderBy(l.orderBy()...).Offset(uint64(s.N))
			}

		case pipeline.Limit:
			if s.N >= 0 {
				l.query = l.wrap(current).OrderBy(l.orderBy()...).Limit(uint64(s.N))
			}

		default:
			return l.query, &store.UnsupportedStageError{Stage: stage}
		}
	}

	return sq.Select("s.doc").FromSelect(l.query, "s").OrderBy(l.orderBy()...).PlaceholderFormat(sq.Dollar), nil
}

// set sets the top level key name of doc to value
func set(doc fragment, name string, value fragment) fragment {
	return compose("jsonb_set(", doc, ", ", path(name), "::text[], COALESCE(", value, ", 'null'::jsonb), true)")
}

func (r *renderer) lookup(s pipeline.Lookup) (fragment, error) {
	foreign, err := r.base(s.From)
	if err != nil {
		return fragment{}, err
	}
	foreignSQL, foreignArgs, err := foreign.ToSql()
	if err != nil {
		return fragment{}, err
	}
	foreignDoc := frag("f.doc")
	where := frag("TRUE")
	if s.Where != nil {
		if where, err = r.condition(s.Where, foreignDoc); err != nil {
			return fragment{}, err
		}
	}
	return compose("COALESCE((SELECT jsonb_agg(f.doc) FROM (", frag(foreignSQL, foreignArgs...), ") f WHERE ",
		at(foreignDoc, s.ForeignField), " = ", at(current, s.LocalField), " AND ", where, "), '[]'::jsonb)"), nil
}

func (r *renderer) computation(c pipeline.Computation, doc fragment) (fragment, error) {
	switch c := c.(type) {
	case pipeline.Lower:
		value := at(doc, c.Path)
		return compose("to_jsonb(lower(COALESCE(CASE WHEN jsonb_typeof(", value, ") = 'string' THEN ", value, " #>> '{}' END, '')))"), nil
	case pipeline.Size:
		value := at(doc, c.Path)
		return compose("to_jsonb(CASE WHEN jsonb_typeof(", value, ") = 'array' THEN jsonb_array_length(", value, ") ELSE 0 END)"), nil
	case pipeline.FirstOf:
		unless := frag("FALSE")
		if c.Unless != nil {
			var err error
			if unless, err = r.condition(c.Unless, doc); err != nil {
				return fragment{}, err
			}
		}
		fallback, err := jsonValue(c.Default)
		if err != nil {
			return fragment{}, err
		}
		value := at(doc, c.Path)
		return compose("(CASE WHEN ", unless, " THEN ", fallback,
			" WHEN jsonb_typeof(", value, ") = 'array' AND jsonb_array_length(", value, ") > 0 THEN ", value, " -> 0",
			" ELSE ", fallback, " END)"), nil
	}
	return fragment{}, fmt.Errorf("unsupported computation %T", c)
}

func (r *renderer) condition(expr pipeline.Expr, doc fragment) (fragment, error) {
	switch e := expr.(type) {
	case pipeline.All:
		return frag("TRUE"), nil
	case pipeline.None:
		return frag("FALSE"), nil
	case pipeline.And:
		return r.conjunction(e.Children, doc, " AND ", "TRUE")
	case pipeline.Or:
		return r.conjunction(e.Children, doc, " OR ", "FALSE")
	case pipeline.Comparison:
		return r.comparison(e, doc)
	case pipeline.In:
		return r.in(e, doc)
	case pipeline.Contains:
		return r.contains(e, doc), nil
	}
	return fragment{}, fmt.Errorf("unsupported expression %T", expr)
}

func (r *renderer) conjunction(children []pipeline.Expr, doc fragment, separator, empty string) (fragment, error) {
	fragments := make([]fragment, len(children))
	for i, child := range children {
		f, err := r.condition(child, doc)
		if err != nil {
			return fragment{}, err
		}
		fragments[i] = f
	}
	return join(fragments, separator, empty), nil
}

var sqlOperators = map[pipeline.Operator]string{
	pipeline.OpLt:  " < ",
	pipeline.OpLte: " <= ",
	pipeline.OpGt:  " > ",
	pipeline.OpGte: " >= ",
}

func (r *renderer) comparison(e pipeline.Comparison, doc fragment) (fragment, error) {
	switch e.Op {
	case pipeline.OpEq:
		return equality(doc, e.Path, e.Value)
	case pipeline.OpNe:
		eq, err := equality(doc, e.Path, e.Value)
		if err != nil {
			return fragment{}, err
		}
		return compose("NOT ", eq), nil
	}
	op, ok := sqlOperators[e.Op]
	if !ok {
		return fragment{}, fmt.Errorf("unsupported operator %s", e.Op)
	}

	v := frag("v")
	var scalar fragment
	switch value := e.Value.(type) {
	case float64, float32, int, int32, int64:
		scalar = compose("(CASE WHEN jsonb_typeof(v) = 'number' THEN (v #>> '{}')::numeric END)", op, param{value})
	case string:
		scalar = compose(`(CASE WHEN jsonb_typeof(v) = 'string' THEN v #>> '{}' END) COLLATE "C"`, op, param{value})
	case time.Time:
		scalar = compose(timestamp(v), op, param{value})
	default:
		return frag("FALSE"), nil
	}
	return compose("EXISTS (SELECT 1 FROM ", elements(doc, e.Path), " AS v WHERE ", scalar, ")"), nil
}

// timestamp is the instant of the string v, or null
func timestamp(v fragment) fragment {
	return compose("(CASE WHEN jsonb_typeof(", v, ") = 'string' AND (", v, " #>> '{}') ~ ", param{timestampPattern},
		" THEN (", v, " #>> '{}')::timestamptz END)")
}

// equality matches if the value at p equals value, or any element of the
// array at p does. A nil value matches missing and null values.
func equality(doc fragment, p string, value interface{}) (fragment, error) {
	if value == nil {
		value := at(doc, p)
		return compose("(", value, " IS NULL OR ", value, " = 'null'::jsonb)"), nil
	}
	v := frag("v")
	var scalar fragment
	switch value := value.(type) {
	case time.Time:
		scalar = compose(timestamp(v), " = ", param{value})
	case uuid.UUID:
		scalar = compose("v #>> '{}' = ", param{value.String()})
	default:
		j, err := jsonValue(value)
		if err != nil {
			return fragment{}, err
		}
		scalar = compose("v = ", j)
	}
	return compose("EXISTS (SELECT 1 FROM ", elements(doc, p), " AS v WHERE ", scalar, ")"), nil
}

func (r *renderer) in(e pipeline.In, doc fragment) (fragment, error) {
	strs := make([]string, 0, len(e.Values))
	for _, value := range e.Values {
		s, ok := value.(string)
		if !ok {
			break
		}
		strs = append(strs, s)
	}
	if len(strs) == len(e.Values) {
		return compose("(", doc, " #>> ", path(e.Path), "::text[]) = ANY(", param{pq.Array(strs)}, "::text[])"), nil
	}
	alternatives := make([]fragment, len(e.Values))
	for i, value := range e.Values {
		f, err := equality(doc, e.Path, value)
		if err != nil {
			return fragment{}, err
		}
		alternatives[i] = f
	}
	return join(alternatives, " OR ", "FALSE"), nil
}

func (r *renderer) contains(e pipeline.Contains, doc fragment) fragment {
	match := compose("jsonb_typeof(v) = 'string' AND strpos(lower(v #>> '{}'), ", param{strings.ToLower(e.Term)}, ") > 0")
	if len(e.Paths) > 0 {
		alternatives := make([]fragment, len(e.Paths))
		for i, p := range e.Paths {
			alternatives[i] = compose("EXISTS (SELECT 1 FROM ", elements(doc, p), " AS v WHERE ", match, ")")
		}
		return join(alternatives, " OR ", "FALSE")
	}
	root := doc
	if e.Root != "" {
		root = at(doc, e.Root)
	}
	return compose("EXISTS (SELECT 1 FROM jsonb_each(CASE WHEN jsonb_typeof(", root, ") = 'object' THEN ", root, " ELSE '{}'::jsonb END) AS e, ",
		"jsonb_array_elements(CASE WHEN jsonb_typeof(e.value) = 'array' THEN e.value ELSE jsonb_build_array(e.value) END) AS v WHERE ", match, ")")
}
