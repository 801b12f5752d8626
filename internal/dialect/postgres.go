// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package dialect

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/canonical/dblite/internal/clause"
)

var postgresOperators = newWordSet(
	"!=", "!~", "!~*", "#", "%", "&", "*", "+", "-", "/", "<", "<<", "<=",
	"<>", "<@", "=", ">", ">=", ">>", "@>", "^", "|", "||", "&&", "~", "~*",
	"ANY", "ILIKE", "IN", "IS", "IS NOT", "LIKE", "NOT ILIKE", "NOT IN",
	"NOT LIKE", "NOT SIMILAR TO", "OR", "OVERLAPS", "SIMILAR TO", "SOME",
)

var postgresReserved = newWordSet(strings.Fields(`
	ALL ANALYSE ANALYZE AND ANY ASC ASYMMETRIC BOTH CASE CAST CHECK COLLATE
	COLUMN CONSTRAINT CURRENT_CATALOG CURRENT_DATE CURRENT_ROLE CURRENT_TIME
	CURRENT_TIMESTAMP CURRENT_USER DEFAULT DEFERRABLE DESC DISTINCT DO ELSE END
	FALSE FOREIGN IN INITIALLY LATERAL LEADING LOCALTIME LOCALTIMESTAMP NOT
	NULL ONLY OR PLACING PRIMARY REFERENCES SELECT SESSION_USER SOME SYMMETRIC
	TABLE THEN TRAILING TRUE UNIQUE USER USING VARIADIC WHEN AUTHORIZATION
	BINARY COLLATION CONCURRENTLY CROSS CURRENT_SCHEMA FREEZE FULL ILIKE INNER
	IS JOIN LEFT LIKE NATURAL OUTER RIGHT SIMILAR TABLESAMPLE VERBOSE ISNULL
	NOTNULL OVERLAPS ARRAY AS CREATE EXCEPT FETCH FOR FROM GRANT GROUP HAVING
	INTERSECT INTO LIMIT OFFSET ON ORDER RETURNING TO UNION WHERE WINDOW WITH`)...)

// Postgres is the dialect of PostgreSQL. Placeholders are named ("@key") and
// rewritten to positional parameters before execution. Collections are bound
// as a single array parameter.
var Postgres Dialect = postgres{}

type postgres struct{}

func (postgres) Name() string {
	return "postgres"
}

func (postgres) Operator(op string) (string, bool) {
	return postgresOperators.match(op)
}

// Quote quotes name when needed. Names with characters outside printable
// ASCII use the U& form with escaped code points.
func (postgres) Quote(name string, force bool) string {
	if !force && !needsQuote(name, postgresReserved) {
		return name
	}
	ascii := true
	for _, r := range name {
		if r < 0x01 || r > 0x7e {
			ascii = false
			break
		}
	}
	if ascii {
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
	var b strings.Builder
	b.WriteString(`U&"`)
	for _, r := range name {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == '"':
			b.WriteString(`""`)
		case r < 0x01 || r > 0x7e:
			fmt.Fprintf(&b, `\+%06X`, r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// QuoteIdent quotes any name that is not entirely lower case, since unquoted
// names are folded to lower case by the server.
func (d postgres) QuoteIdent(name string) string {
	return d.Quote(name, !isLower(name))
}

func (postgres) Placeholder(key string) string {
	return "@" + key
}

func (postgres) EmptyMembership(column string, negate bool) string {
	if negate {
		return "NOT " + column + " = ANY('{}')"
	}
	return column + " = ANY('{}')"
}

func (d postgres) membership(c *compiler, cl clause.Clause) (string, error) {
	members := cl.Value.([]any)
	list := make([]any, len(members))
	for j, m := range members {
		v, err := c.cast(cl.Name, m)
		if err != nil {
			return "", err
		}
		list[j] = v
	}
	if _, ok := c.params[cl.Key]; ok {
		return "", fmt.Errorf("parameter %q bound twice", cl.Key)
	}
	c.params[cl.Key] = typedSlice(list)
	if cl.Op == "NOT IN" {
		return fmt.Sprintf("%s <> ALL(%s)", cl.SQL, d.Placeholder(cl.Key)), nil
	}
	return fmt.Sprintf("%s = ANY(%s)", cl.SQL, d.Placeholder(cl.Key)), nil
}

func (d postgres) paging(c *compiler, page []*int64) string {
	var sql string
	if len(page) > 0 && page[0] != nil {
		c.params["limit"] = *page[0]
		sql += " LIMIT " + d.Placeholder("limit")
	}
	if len(page) > 1 && page[1] != nil {
		c.params["offset"] = *page[1]
		sql += " OFFSET " + d.Placeholder("offset")
	}
	return sql
}

func (d postgres) returning(pk string) string {
	return " RETURNING " + d.QuoteIdent(pk) + " AS id"
}

func (postgres) castHinted(v any, hint TypeHint) (any, bool) {
	if hint.Array {
		return typedSlice(clause.List(v)), true
	}
	return v, false
}

// typedSlice returns list as a slice of its element type when every element
// has the same dynamic type, so the driver can pick an array type for it.
func typedSlice(list []any) any {
	if len(list) == 0 {
		return list
	}
	var elem reflect.Type
	for _, v := range list {
		if v == nil {
			return list
		}
		t := reflect.TypeOf(v)
		if elem != nil && t != elem {
			return list
		}
		elem = t
	}
	s := reflect.MakeSlice(reflect.SliceOf(elem), len(list), len(list))
	for i, v := range list {
		s.Index(i).Set(reflect.ValueOf(v))
	}
	return s.Interface()
}
