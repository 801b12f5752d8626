// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package dialect compiles query descriptions into parameterized SQL for
// SQLite and Postgres.
package dialect

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/canonical/dblite/internal/clause"
	"github.com/canonical/dblite/internal/sqltext"
)

// Action is the kind of statement to compile.
type Action string

const (
	Select Action = "SELECT"
	Insert Action = "INSERT"
	Update Action = "UPDATE"
	Delete Action = "DELETE"
)

// Query is a query description. Every field is normalized by the clause
// package; see its documentation for the accepted shapes.
type Query struct {
	Table   any
	Columns any
	Where   any
	Group   any
	Order   any
	Limit   any
	Values  any
}

// Statement is compiled SQL together with its named parameters. Every
// placeholder in SQL has a parameter and every parameter has a placeholder.
type Statement struct {
	SQL    string
	Params map[string]any
}

// Options carry the external collaborators of compilation.
type Options struct {
	// Schema supplies column type hints and primary keys. It may be nil.
	Schema Schema
	// Adapt transforms a value with the adapter registered for its type. It
	// reports false when no adapter is registered. It may be nil.
	Adapt func(v any) (any, bool, error)
}

// Dialect is a SQL backend.
type Dialect interface {
	clause.Rules

	// Name returns the engine name of the dialect.
	Name() string

	// Quote returns name quoted and escaped if it needs quoting, or always
	// when force is set.
	Quote(name string, force bool) string

	// Placeholder returns the SQL text that binds the named parameter key.
	Placeholder(key string) string

	// membership renders a non-empty IN or NOT IN clause.
	membership(c *compiler, cl clause.Clause) (string, error)

	// paging renders the LIMIT and OFFSET clauses.
	paging(c *compiler, page []*int64) string

	// returning renders the clause that returns the new primary key of an
	// inserted row, or "" if the dialect returns it otherwise.
	returning(pk string) string

	// castHinted normalizes a value bound to a column of a known type. It
	// reports true when the result is final.
	castHinted(v any, hint TypeHint) (any, bool)
}

// CompileError reports a query that cannot be compiled. When the cause is a
// malformed query description, Unwrap returns the *clause.SpecError.
type CompileError struct {
	Action Action
	Err    error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("cannot compile %s: %s", e.Action, e.Err)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// Compile compiles the query for action in dialect d.
func Compile(d Dialect, action Action, q Query, opts Options) (Statement, error) {
	action = Action(strings.ToUpper(strings.TrimSpace(string(action))))
	c := &compiler{dialect: d, opts: opts, params: map[string]any{}}
	sql, err := c.compile(action, q)
	if err != nil {
		var ce *CompileError
		if errors.As(err, &ce) {
			return Statement{}, err
		}
		return Statement{}, &CompileError{Action: action, Err: err}
	}
	return Statement{SQL: sql, Params: c.params}, nil
}

type compiler struct {
	dialect Dialect
	opts    Options
	// table is the table name used for schema lookups.
	table  string
	params map[string]any
}

func (c *compiler) compile(action Action, q Query) (string, error) {
	ref, err := clause.Table(q.Table)
	if err != nil {
		return "", err
	}
	tableSQL := c.tableSQL(ref)

	var b strings.Builder
	switch action {
	case Select:
		cols, err := c.names(q.Columns)
		if err != nil {
			return "", err
		}
		if cols == "" {
			cols = "*"
		}
		fmt.Fprintf(&b, "SELECT %s FROM %s", cols, tableSQL)
	case Delete:
		fmt.Fprintf(&b, "DELETE FROM %s", tableSQL)
	case Insert:
		fmt.Fprintf(&b, "INSERT INTO %s", tableSQL)
		if err := c.insertValues(&b, q.Values); err != nil {
			return "", err
		}
	case Update:
		fmt.Fprintf(&b, "UPDATE %s SET ", tableSQL)
		if err := c.updateValues(&b, q.Values); err != nil {
			return "", err
		}
	default:
		return "", &CompileError{Action: action, Err: fmt.Errorf("unsupported action")}
	}

	if err := c.where(&b, q.Where); err != nil {
		return "", err
	}
	group, err := c.names(q.Group)
	if err != nil {
		return "", err
	}
	if group != "" {
		b.WriteString(" GROUP BY " + group)
	}
	if err := c.order(&b, q.Order); err != nil {
		return "", err
	}
	page, err := clause.Paging(q.Limit)
	if err != nil {
		return "", err
	}
	b.WriteString(c.dialect.paging(c, page))
	return b.String(), nil
}

// tableSQL records the table name for schema lookups and returns its SQL
// text.
func (c *compiler) tableSQL(ref any) string {
	if id, ok := ref.(clause.Ident); ok {
		c.table = c.matchName("", string(id))
		return c.dialect.QuoteIdent(c.table)
	}
	c.table = ref.(string)
	return c.table
}

func (c *compiler) matchName(table, name string) string {
	if m, ok := c.opts.Schema.(NameMatcher); ok {
		return m.MatchName(table, name)
	}
	return name
}

// ident resolves the declared case of an identifier column.
func (c *compiler) ident(col any) any {
	if id, ok := col.(clause.Ident); ok {
		return clause.Ident(c.matchName(c.table, string(id)))
	}
	return col
}

// column returns the unquoted name and the SQL text of a column reference.
func (c *compiler) column(col any) (string, string) {
	return clause.ColumnSQL(c.ident(col), c.dialect)
}

func (c *compiler) names(src any) (string, error) {
	names, err := clause.Names(src)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(names))
	for i, n := range names {
		_, parts[i] = c.column(n)
	}
	return strings.Join(parts, ", "), nil
}

// pairs returns the (column, value) terms of a value source.
func (c *compiler) pairs(src any) ([]clause.Term, error) {
	terms, err := clause.Canonical(src)
	if err != nil {
		return nil, err
	}
	for i, t := range terms {
		if t.Arity != 2 {
			return nil, fmt.Errorf("values must be (column, value) pairs, got %d elements", t.Arity)
		}
		terms[i].Column = c.ident(t.Column)
	}
	return terms, nil
}

func (c *compiler) insertValues(b *strings.Builder, src any) error {
	terms, err := c.pairs(src)
	if err != nil {
		return err
	}
	pk, hasPK := "", false
	if c.opts.Schema != nil {
		pk, hasPK = c.opts.Schema.PrimaryKey(c.table)
	}
	if hasPK && clause.IsObject(src) {
		// A struct cannot leave its key out, so a NULL key means "generate".
		kept := terms[:0]
		for _, t := range terms {
			if name, _ := c.column(t.Column); name == pk && clause.IsNull(t.Value) {
				continue
			}
			kept = append(kept, t)
		}
		terms = kept
	}
	if len(terms) == 0 {
		b.WriteString(" DEFAULT VALUES")
	} else {
		cols := make([]string, len(terms))
		vals := make([]string, len(terms))
		for i, t := range terms {
			name, sql := c.column(t.Column)
			key := clause.Key(name, "I", i)
			if err := c.bind(key, name, t.Value); err != nil {
				return err
			}
			cols[i], vals[i] = sql, c.dialect.Placeholder(key)
		}
		fmt.Fprintf(b, " (%s) VALUES (%s)", strings.Join(cols, ", "), strings.Join(vals, ", "))
	}
	if hasPK {
		b.WriteString(c.dialect.returning(pk))
	}
	return nil
}

func (c *compiler) updateValues(b *strings.Builder, src any) error {
	terms, err := c.pairs(src)
	if err != nil {
		return err
	}
	if len(terms) == 0 {
		return fmt.Errorf("no values to update")
	}
	for i, t := range terms {
		name, sql := c.column(t.Column)
		key := clause.Key(name, "U", i)
		if err := c.bind(key, name, t.Value); err != nil {
			return err
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sql + " = " + c.dialect.Placeholder(key))
	}
	return nil
}

func (c *compiler) where(b *strings.Builder, src any) error {
	terms, err := clause.Canonical(src)
	if err != nil {
		return err
	}
	for i, t := range terms {
		t.Column = c.ident(t.Column)
		cl, err := clause.Resolve(i, t, c.dialect)
		if err != nil {
			return err
		}
		sql, err := c.condition(cl)
		if err != nil {
			return err
		}
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString(sql)
	}
	return nil
}

func (c *compiler) condition(cl clause.Clause) (string, error) {
	switch {
	case cl.Op == clause.Expr:
		if len(cl.Values) == 0 {
			return "(" + cl.SQL + ")", nil
		}
		var bindErr error
		sql, err := sqltext.ReplacePositional(cl.SQL, func(j int) string {
			key := fmt.Sprintf("%s_%d", cl.Key, j)
			if err := c.bind(key, "", cl.Values[j]); err != nil && bindErr == nil {
				bindErr = err
			}
			return c.dialect.Placeholder(key)
		})
		if err != nil {
			return "", err
		}
		if bindErr != nil {
			return "", bindErr
		}
		return "(" + sql + ")", nil
	case cl.Op == "IN" || cl.Op == "NOT IN":
		return c.dialect.membership(c, cl)
	case cl.IsNull():
		return cl.SQL + " " + cl.Op + " NULL", nil
	}
	if err := c.bind(cl.Key, cl.Name, cl.Value); err != nil {
		return "", err
	}
	return cl.SQL + " " + cl.Op + " " + c.dialect.Placeholder(cl.Key), nil
}

func (c *compiler) order(b *strings.Builder, src any) error {
	sorts, err := clause.Orders(src)
	if err != nil {
		return err
	}
	for i, s := range sorts {
		dir, err := s.Direction()
		if err != nil {
			return err
		}
		if i == 0 {
			b.WriteString(" ORDER BY ")
		} else {
			b.WriteString(", ")
		}
		_, sql := c.column(s.Column)
		b.WriteString(sql)
		if dir != "" {
			b.WriteString(" " + dir)
		}
	}
	return nil
}

// bind casts v for column (empty if unknown) and stores it under key.
func (c *compiler) bind(key, column string, v any) error {
	if _, ok := c.params[key]; ok {
		return fmt.Errorf("parameter %q bound twice", key)
	}
	cast, err := c.cast(column, v)
	if err != nil {
		return err
	}
	c.params[key] = cast
	return nil
}

// cast prepares a value for binding: registered adapters first, then the
// column type hint, then collections become ordered lists.
func (c *compiler) cast(column string, v any) (any, error) {
	if clause.IsNull(v) {
		return nil, nil
	}
	var hint TypeHint
	hinted := false
	if column != "" && c.opts.Schema != nil {
		hint, hinted = c.opts.Schema.ColumnType(c.table, column)
	}
	adapted := false
	if c.opts.Adapt != nil {
		av, ok, err := c.opts.Adapt(v)
		if err != nil {
			return nil, fmt.Errorf("cannot adapt value for %q: %w", column, err)
		}
		if ok {
			v, adapted = av, true
		}
	}
	if hinted && hint.IsJSON() && !adapted {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("cannot encode JSON for %q: %w", column, err)
		}
		return string(data), nil
	}
	if hinted {
		if cast, final := c.dialect.castHinted(v, hint); final {
			return cast, nil
		}
	}
	if clause.IsCollection(v) {
		return clause.List(v), nil
	}
	return v, nil
}
