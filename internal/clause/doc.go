// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

/*
Package clause turns the loosely shaped inputs of a query (table, columns,
conditions, grouping, ordering, paging and values) into canonical lists, and
resolves each condition into a canonical clause with its effective operator
and parameter key.

A condition source is one of:

  - M, or any map with string keys: conditions in sorted key order.
  - Where, a list of Cond: conditions in the given order.
  - a string: a single raw SQL fragment without parameters.
  - a struct value: one condition per mapped field, in declaration order.

Plain strings used as names are raw SQL and are never quoted. Ident values,
struct type names and struct field names are quoted by the dialect when
needed.

The package knows nothing of SQL dialects beyond the Rules interface.
*/
package clause
