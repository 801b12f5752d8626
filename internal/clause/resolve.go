// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package clause

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/canonical/dblite/internal/sqltext"
)

// Expr is the operator of raw SQL clauses with positional placeholders, and
// the sentinel column that introduces one: {"EXPR", []any{sql, values}}.
const Expr = "EXPR"

// Rules are the dialect facts the resolver needs.
type Rules interface {
	// Operator returns the canonical spelling of op if the dialect knows it.
	Operator(op string) (string, bool)
	// QuoteIdent returns the SQL text for an identifier.
	QuoteIdent(name string) string
	// EmptyMembership returns a condition on column that is equivalent to
	// membership in an empty collection, or to non-membership when negate
	// is set.
	EmptyMembership(column string, negate bool) string
}

// Clause is a resolved condition.
type Clause struct {
	// Name is the unquoted column name, used for type hints. It is empty for
	// raw SQL.
	Name string
	// SQL is the column text, or the raw SQL for Expr clauses.
	SQL string
	// Op is the effective operator.
	Op string
	// Value is the bound value. For IN and NOT IN it is the list of members.
	Value any
	// Values holds one value per placeholder of an Expr clause.
	Values []any
	// Key is the parameter key. Expr placeholders are bound as Key_0,
	// Key_1, ... It is empty when nothing is bound.
	Key string
}

// IsNull reports whether the clause compares against NULL and binds nothing.
func (c Clause) IsNull() bool {
	return c.Op != Expr && c.Key == ""
}

var nonWordRx = regexp.MustCompile(`\W+`)

// Key returns the parameter key for column name at index i of a clause list
// of the given kind ("W" for conditions, "I" for inserted values, "U" for
// updated values). Keys always start with a letter.
func Key(name, kind string, i int) string {
	base := nonWordRx.ReplaceAllString(name, "_")
	if base == "" || !isASCIILetter(base[0]) {
		base = "p" + base
	}
	return fmt.Sprintf("%s%s%d", base, kind, i)
}

func isASCIILetter(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// ColumnSQL returns the unquoted name and the SQL text of a column reference.
func ColumnSQL(col any, rules Rules) (name, sql string) {
	switch col := col.(type) {
	case Ident:
		return string(col), rules.QuoteIdent(string(col))
	case string:
		return col, col
	}
	s := fmt.Sprint(col)
	return s, s
}

// Resolve turns the i-th term of a condition list into a clause.
func Resolve(i int, t Term, rules Rules) (Clause, error) {
	if t.Arity == 1 {
		sql, ok := t.Column.(string)
		if !ok {
			return Clause{}, specErrorf("raw condition must be a string, got %T", t.Column)
		}
		return Clause{SQL: sql, Op: Expr}, nil
	}

	name, colSQL := ColumnSQL(t.Column, rules)
	_, pure := t.Column.(string)
	c := Clause{Name: name, SQL: colSQL, Op: "=", Value: t.Value, Key: Key(name, "W", i)}
	if t.Arity == 3 {
		op, ok := rules.Operator(t.Op)
		if !ok {
			return Clause{}, specErrorf("unknown operator %q", t.Op)
		}
		c.Op = op
	}

	placeholders, err := sqltext.CountPositional(colSQL)
	if err != nil {
		return Clause{}, specErrorf("column %q: %s", colSQL, err)
	}
	switch {
	case pure && strings.EqualFold(name, Expr):
		sql, values, ok := exprPair(t.Value)
		if !ok {
			return Clause{}, specErrorf("EXPR condition needs a (SQL, values) pair, got %T", t.Value)
		}
		c = Clause{SQL: sql, Op: Expr, Values: List(values), Key: fmt.Sprintf("%sW%d", Expr, i)}
	case pure && placeholders > 0 && placeholders == Arity(t.Value):
		c = Clause{SQL: colSQL, Op: Expr, Values: List(t.Value), Key: fmt.Sprintf("%sW%d", Expr, i)}
	default:
		if head, tail, ok := exprPair(t.Value); ok {
			if op, ok := rules.Operator(head); ok {
				c.Op, c.Value = op, tail
			} else if n, err := sqltext.CountPositional(head); err == nil && n == Arity(tail) {
				c.SQL, c.Op, c.Value, c.Values = colSQL+" = "+head, Expr, nil, List(tail)
			}
		}
	}
	if pure && placeholders > 0 && c.Op != Expr {
		return Clause{}, specErrorf("%q has %d placeholders but %d values were given", colSQL, placeholders, Arity(t.Value))
	}

	switch {
	case c.Op == Expr:
		return c, checkPlaceholders(c)
	case c.Op == "IN" || c.Op == "NOT IN":
		members := List(c.Value)
		if IsNull(c.Value) {
			members = nil
		}
		if len(members) == 0 {
			return Clause{SQL: rules.EmptyMembership(colSQL, c.Op == "NOT IN"), Op: Expr}, nil
		}
		c.Value = members
	case IsNull(c.Value):
		switch c.Op {
		case "=":
			c.Op = "IS"
		case "!=", "<>":
			c.Op = "IS NOT"
		}
		c.Value, c.Key = nil, ""
	}
	return c, nil
}

// exprPair unpacks a two element sequence whose head is a string.
func exprPair(v any) (string, any, bool) {
	if !IsCollection(v) || Arity(v) != 2 {
		return "", nil, false
	}
	list := List(v)
	head, ok := list[0].(string)
	return head, list[1], ok
}

func checkPlaceholders(c Clause) error {
	n, err := sqltext.CountPositional(c.SQL)
	if err != nil {
		return specErrorf("%q: %s", c.SQL, err)
	}
	if n != len(c.Values) {
		return specErrorf("%q has %d placeholders but %d values were given", c.SQL, n, len(c.Values))
	}
	return nil
}
