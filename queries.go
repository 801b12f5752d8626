// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package dblite

import (
	"context"

	"github.com/canonical/dblite/internal/dialect"
)

// querier is implemented by Database and Transaction.
type querier interface {
	Compile(ctx context.Context, action Action, q Query) (Statement, error)
	Execute(ctx context.Context, sql string, args ...any) (*Cursor, error)
	// batch runs fn atomically.
	batch(ctx context.Context, fn func(ctx context.Context, q querier) error) error
}

// queries are the query helpers shared by Database and Transaction.
type queries struct {
	q querier
	d dialect.Dialect
}

func (qs queries) runQuery(ctx context.Context, action Action, q Query) (*Cursor, error) {
	stmt, err := qs.q.Compile(ctx, action, q)
	if err != nil {
		return nil, err
	}
	return qs.q.Execute(ctx, stmt.SQL, stmt.Params)
}

// Select runs a SELECT query and returns its cursor.
func (qs queries) Select(ctx context.Context, q Query) (*Cursor, error) {
	return qs.runQuery(ctx, Select, q)
}

// FetchOne returns the first row matching q, which is limited to one row
// unless it has a limit. It returns ErrNoRows if nothing matches.
func (qs queries) FetchOne(ctx context.Context, q Query) (Row, error) {
	if q.Limit == nil {
		q.Limit = 1
	}
	c, err := qs.Select(ctx, q)
	if err != nil {
		return nil, err
	}
	return c.FetchOne()
}

// FetchAll returns all rows matching q.
func (qs queries) FetchAll(ctx context.Context, q Query) ([]Row, error) {
	c, err := qs.Select(ctx, q)
	if err != nil {
		return nil, err
	}
	return c.FetchAll()
}

// Insert inserts a row into table and returns its primary key. On Postgres
// the key is only known for tables with a single-column primary key; nil is
// returned otherwise.
func (qs queries) Insert(ctx context.Context, table any, values any) (any, error) {
	c, err := qs.runQuery(ctx, Insert, Query{Table: table, Values: values})
	if err != nil {
		return nil, err
	}
	defer c.Close()
	if c.rows != nil {
		row, err := c.FetchOne()
		if err != nil {
			return nil, err
		}
		return row["id"], nil
	}
	if qs.d == dialect.Postgres {
		return nil, nil
	}
	return c.LastInsertID()
}

// InsertMany inserts rows into table atomically and returns their primary
// keys in order.
func (qs queries) InsertMany(ctx context.Context, table any, rows ...any) ([]any, error) {
	ids := make([]any, 0, len(rows))
	err := qs.q.batch(ctx, func(ctx context.Context, q querier) error {
		for _, values := range rows {
			id, err := (queries{q: q, d: qs.d}).Insert(ctx, table, values)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Update sets values on the rows of table matching where and returns the
// number of rows updated.
func (qs queries) Update(ctx context.Context, table any, values any, where any) (int64, error) {
	c, err := qs.runQuery(ctx, Update, Query{Table: table, Values: values, Where: where})
	if err != nil {
		return 0, err
	}
	defer c.Close()
	return c.RowCount(), nil
}

// Delete deletes the rows of table matching where and returns the number of
// rows deleted.
func (qs queries) Delete(ctx context.Context, table any, where any) (int64, error) {
	c, err := qs.runQuery(ctx, Delete, Query{Table: table, Where: where})
	if err != nil {
		return 0, err
	}
	defer c.Close()
	return c.RowCount(), nil
}

// Quote quotes a table or column name if it needs quoting, or always when
// force is set.
func (qs queries) Quote(name string, force bool) string {
	return qs.d.Quote(name, force)
}
