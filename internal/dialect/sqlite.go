// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package dialect

import (
	"fmt"
	"strings"

	"github.com/canonical/dblite/internal/clause"
)

var sqliteOperators = newWordSet(
	"||", "*", "/", "%", "+", "-", "<<", ">>", "&", "|", "<", "<=", ">",
	">=", "=", "==", "!=", "<>", "IS", "IS NOT", "IN", "NOT IN", "LIKE",
	"GLOB", "MATCH", "REGEXP", "AND", "OR",
)

var sqliteReserved = newWordSet(strings.Fields(`
	ACTION ADD AFTER ALL ALTER ALWAYS ANALYZE AND AS ASC ATTACH AUTOINCREMENT
	BEFORE BEGIN BETWEEN BY CASE CAST CHECK COLLATE COMMIT CONSTRAINT CREATE
	CURRENT_DATE CURRENT_TIME CURRENT_TIMESTAMP DEFAULT DEFERRABLE DEFERRED
	DELETE DESC DETACH DISTINCT DO DROP EACH ELSE END ESCAPE EXCEPT EXISTS
	EXPLAIN FOR FOREIGN FROM GENERATED GROUP HAVING IF IMMEDIATE IN INDEX
	INITIALLY INSERT INSTEAD INTERSECT INTO IS ISNULL JOIN KEY LIKE LIMIT MATCH
	NO NOT NOTHING NOTNULL NULL OF ON OR ORDER OVER PRAGMA PRECEDING PRIMARY
	RAISE RECURSIVE REFERENCES REGEXP REINDEX RELEASE RENAME REPLACE RESTRICT
	ROLLBACK SAVEPOINT SELECT SET TABLE TEMPORARY THEN TIES TO TRANSACTION
	TRIGGER UNBOUNDED UNION UNIQUE UPDATE USING VACUUM VALUES VIEW WHEN WHERE
	WITHOUT`)...)

// SQLite is the dialect of SQLite and dqlite. Placeholders are named
// (":key") and collections are expanded into one placeholder per element.
var SQLite Dialect = sqlite{}

type sqlite struct{}

func (sqlite) Name() string {
	return "sqlite"
}

func (sqlite) Operator(op string) (string, bool) {
	return sqliteOperators.match(op)
}

func (sqlite) Quote(name string, force bool) string {
	if !force && !needsQuote(name, sqliteReserved) {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d sqlite) QuoteIdent(name string) string {
	return d.Quote(name, false)
}

func (sqlite) Placeholder(key string) string {
	return ":" + key
}

func (sqlite) EmptyMembership(column string, negate bool) string {
	if negate {
		return "1 = 1"
	}
	return "1 = 0"
}

func (d sqlite) membership(c *compiler, cl clause.Clause) (string, error) {
	members := cl.Value.([]any)
	holders := make([]string, len(members))
	for j, m := range members {
		key := fmt.Sprintf("%s_%d", cl.Key, j)
		if err := c.bind(key, cl.Name, m); err != nil {
			return "", err
		}
		holders[j] = d.Placeholder(key)
	}
	return fmt.Sprintf("%s %s (%s)", cl.SQL, cl.Op, strings.Join(holders, ", ")), nil
}

// paging always emits LIMIT before OFFSET, as the grammar requires; -1 means
// unbounded.
func (d sqlite) paging(c *compiler, page []*int64) string {
	var limit, offset *int64
	if len(page) > 0 {
		limit = page[0]
	}
	if len(page) > 1 {
		offset = page[1]
	}
	if limit == nil && offset == nil {
		return ""
	}
	if limit == nil {
		unbounded := int64(-1)
		limit = &unbounded
	}
	c.params["limit"] = *limit
	sql := " LIMIT " + d.Placeholder("limit")
	if offset != nil {
		c.params["offset"] = *offset
		sql += " OFFSET " + d.Placeholder("offset")
	}
	return sql
}

// returning is empty: the driver reports the last insert id.
func (sqlite) returning(string) string {
	return ""
}

func (sqlite) castHinted(v any, hint TypeHint) (any, bool) {
	return v, false
}
