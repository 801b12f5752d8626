// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package dblite

import (
	"github.com/canonical/dblite/internal/clause"
	"github.com/canonical/dblite/internal/dialect"
)

// Ident is a table or column name. Unlike a plain string, which is used as
// raw SQL, an Ident is quoted when it needs quoting.
type Ident = clause.Ident

// M is a condition or value source keyed by column, rendered in key order.
//
//	db.Update(ctx, "person", dblite.M{"name": "Fred"}, dblite.M{"id": 10})
type M = clause.M

// Cond is a single condition: {raw SQL}, {column, value} or
// {column, operator, value}.
type Cond = clause.Cond

// Where is an ordered list of conditions, all of which must hold.
//
//	dblite.Where{{"age", ">", 18}, {"name", []any{"LIKE", "F%"}}, {"deleted IS NULL"}}
type Where = clause.Where

// Sort is one ordering entry.
type Sort = clause.Sort

// Query describes a statement to compile. Table is a raw string, an Ident or
// a struct value; Columns and Group are names; Where and Values are clause
// sources; Order is an ordering source; Limit is a limit or a
// (limit, offset) pair.
type Query = dialect.Query

// Statement is compiled SQL with its named parameters.
type Statement = dialect.Statement

// Action is the kind of statement to compile.
type Action = dialect.Action

const (
	Select = dialect.Select
	Insert = dialect.Insert
	Update = dialect.Update
	Delete = dialect.Delete
)

// Schema supplies column types and primary keys to the compiler.
type Schema = dialect.Schema

// Tables is a Schema held in memory.
type Tables = dialect.Tables

// Table is the structure of one table in Tables.
type Table = dialect.Table

// TypeHint is the declared type of a column.
type TypeHint = dialect.TypeHint

// Asc orders by col ascending.
func Asc(col any) Sort {
	return clause.Asc(col)
}

// Desc orders by col descending.
func Desc(col any) Sort {
	return clause.Desc(col)
}

// Fields returns the column names of a struct value, for use as Columns or
// Group.
func Fields(v any) ([]Ident, error) {
	return clause.Fields(v)
}

// Source is a condition or value source.
type Source = clause.Source

// Object returns the clause source of a struct value: one (column, value)
// pair per mapped field.
func Object(v any) Source {
	return clause.NewObject(v)
}
