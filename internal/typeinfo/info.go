// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package typeinfo

import (
	"reflect"
)

// Field represents a single column-mapped field from a struct type.
type Field struct {
	Type reflect.Type

	// Name is the name of the struct field.
	Name string

	// Column is the name from the "db" tag, or the field name when the
	// field is untagged.
	Column string

	// Index of this field in the structure, as used by
	// reflect.Value.FieldByIndex. Fields of embedded structs have an index
	// longer than one.
	Index []int

	// OmitEmpty is true when "omitempty" is
	// a property of the field's "db" tag.
	OmitEmpty bool

	// Tagged is true when the column name came from a "db" tag.
	Tagged bool
}

// Info represents reflected information about a struct type.
type Info struct {
	Type reflect.Type

	// Fields in declaration order.
	Fields []Field

	// Relate column names to fields.
	ColumnToField map[string]Field
}

// Member is a column name with the value held by a struct field.
type Member struct {
	Column string
	Value  any
}
