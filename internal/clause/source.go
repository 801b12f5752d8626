// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package clause

import (
	"reflect"
	"sort"

	"github.com/canonical/dblite/internal/typeinfo"
)

// Ident is a table or column name. Unlike a plain string it is quoted by the
// dialect when it needs quoting.
type Ident string

// M is a condition or value source keyed by column. Keys are plain strings and
// are used as raw SQL.
type M map[string]any

// Cond is a single condition: {raw SQL}, {column, value} or
// {column, operator, value}. The column may be a string or an Ident.
type Cond []any

// Where is an ordered list of conditions.
type Where []Cond

// Term is one canonical item of a condition or value source, before operator
// resolution.
type Term struct {
	// Column is a string or an Ident.
	Column any
	// Op is the operator given as the middle element of a three element
	// condition.
	Op    string
	Value any
	// Arity is the number of elements the condition was given with.
	Arity int
}

// Source is implemented by every condition and value source.
type Source interface {
	Terms() ([]Term, error)
}

// Terms returns the conditions of m in sorted key order.
func (m M) Terms() ([]Term, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	terms := make([]Term, len(keys))
	for i, k := range keys {
		terms[i] = Term{Column: k, Value: m[k], Arity: 2}
	}
	return terms, nil
}

// Terms returns the conditions of w in order.
func (w Where) Terms() ([]Term, error) {
	terms := make([]Term, 0, len(w))
	for _, c := range w {
		t, err := c.term()
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	return terms, nil
}

// Terms returns c as a single term.
func (c Cond) Terms() ([]Term, error) {
	t, err := c.term()
	if err != nil {
		return nil, err
	}
	return []Term{t}, nil
}

func (c Cond) term() (Term, error) {
	switch len(c) {
	case 1:
		raw, ok := c[0].(string)
		if !ok {
			return Term{}, specErrorf("single element condition must be a SQL string, got %T", c[0])
		}
		return Term{Column: raw, Arity: 1}, nil
	case 2, 3:
		col, err := column(c[0])
		if err != nil {
			return Term{}, err
		}
		if len(c) == 2 {
			return Term{Column: col, Value: c[1], Arity: 2}, nil
		}
		op, ok := c[1].(string)
		if !ok {
			return Term{}, specErrorf("operator must be a string, got %T", c[1])
		}
		return Term{Column: col, Op: op, Value: c[2], Arity: 3}, nil
	}
	return Term{}, specErrorf("condition must have 1 to 3 elements, got %d", len(c))
}

// column checks that a condition column is a name.
func column(v any) (any, error) {
	switch v := v.(type) {
	case string, Ident:
		return v, nil
	}
	return nil, specErrorf("column must be a string or Ident, got %T", v)
}

type raw string

func (r raw) Terms() ([]Term, error) {
	if r == "" {
		return nil, nil
	}
	return []Term{{Column: string(r), Arity: 1}}, nil
}

// Object is a source built from the mapped fields of a struct value.
type Object struct {
	value any
}

// NewObject returns the source for the struct value v.
func NewObject(v any) Object {
	return Object{value: v}
}

// Terms returns one term per mapped field, named by Ident.
func (o Object) Terms() ([]Term, error) {
	members, err := typeinfo.Members(o.value)
	if err != nil {
		return nil, specErrorf("cannot use %T as clause source: %s", o.value, err)
	}
	terms := make([]Term, len(members))
	for i, m := range members {
		terms[i] = Term{Column: Ident(m.Column), Value: m.Value, Arity: 2}
	}
	return terms, nil
}

// Canonical returns the terms of any supported condition or value source.
// A nil source yields no terms.
func Canonical(src any) ([]Term, error) {
	s, err := Normalize(src)
	if err != nil {
		return nil, err
	}
	return s.Terms()
}

// Normalize returns the Source for src.
func Normalize(src any) (Source, error) {
	switch src := src.(type) {
	case nil:
		return Where(nil), nil
	case Source:
		return src, nil
	case string:
		return raw(src), nil
	case []Cond:
		return Where(src), nil
	case map[string]any:
		return M(src), nil
	case []any:
		w := make(Where, 0, len(src))
		for _, item := range src {
			switch item := item.(type) {
			case string:
				w = append(w, Cond{item})
			case Cond:
				w = append(w, item)
			case []any:
				w = append(w, Cond(item))
			default:
				return nil, specErrorf("cannot use %T as condition", item)
			}
		}
		return w, nil
	}

	v := reflect.ValueOf(src)
	if v.Kind() == reflect.Map && v.Type().Key().Kind() == reflect.String {
		m := make(M, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return m, nil
	}
	if typeinfo.IsStruct(src) {
		return NewObject(src), nil
	}
	return nil, specErrorf("cannot use %T as clause source", src)
}

// IsObject reports whether src is a struct value source.
func IsObject(src any) bool {
	if _, ok := src.(Object); ok {
		return true
	}
	if _, ok := src.(Source); ok {
		return false
	}
	return typeinfo.IsStruct(src)
}
