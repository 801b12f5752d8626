// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package dialect

import "strings"

// TypeHint describes the declared type of a column.
type TypeHint struct {
	// Name is the lower-case type name. For arrays it is the element type.
	Name string
	// Array is set for array-typed columns.
	Array bool
}

// IsJSON reports whether the column holds JSON documents.
func (h TypeHint) IsJSON() bool {
	return !h.Array && (h.Name == "json" || h.Name == "jsonb")
}

// Schema is a read-only lookup of column types and primary keys.
type Schema interface {
	ColumnType(table, column string) (TypeHint, bool)
	PrimaryKey(table string) (string, bool)
}

// NameMatcher is implemented by schemas that can recover the declared case of
// table and column names.
type NameMatcher interface {
	// MatchName returns the declared spelling of a column of table, or of a
	// table when table is empty. Unknown names are returned unchanged.
	MatchName(table, name string) string
}

// Table is the structure of one table or view.
type Table struct {
	Columns map[string]TypeHint
	// Key is the primary key column, if the table has a single one.
	Key string
}

// Tables is a Schema held in memory, keyed by table name.
type Tables map[string]Table

// ColumnType implements Schema.
func (t Tables) ColumnType(table, column string) (TypeHint, bool) {
	tbl, ok := t[table]
	if !ok {
		return TypeHint{}, false
	}
	hint, ok := tbl.Columns[column]
	return hint, ok
}

// PrimaryKey implements Schema.
func (t Tables) PrimaryKey(table string) (string, bool) {
	tbl, ok := t[table]
	if !ok || tbl.Key == "" {
		return "", false
	}
	return tbl.Key, true
}

// MatchName implements NameMatcher. A name that is not present as given is
// matched to its lower-case form, or, when it is itself lower-case, to the
// single name that differs from it only in case.
func (t Tables) MatchName(table, name string) string {
	var names []string
	if table == "" {
		for n := range t {
			names = append(names, n)
		}
	} else {
		for n := range t[table].Columns {
			names = append(names, n)
		}
	}
	for _, n := range names {
		if n == name {
			return name
		}
	}
	lower := strings.ToLower(name)
	for _, n := range names {
		if n == lower {
			return lower
		}
	}
	if lower != name {
		return name
	}
	match := ""
	for _, n := range names {
		if strings.ToLower(n) == lower {
			if match != "" {
				return name
			}
			match = n
		}
	}
	if match == "" {
		return name
	}
	return match
}
