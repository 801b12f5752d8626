// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package dblite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Row is a result row keyed by column name.
type Row map[string]any

// Cursor is the result of a statement: the rows of a query, or the outcome
// of a statement that returns none. A Cursor of rows must be closed, which
// FetchAll and FetchOne do.
type Cursor struct {
	rows       *sql.Rows
	columns    []string
	converters []Converter
	result     sql.Result
	err        error

	closeOnce sync.Once
	onClose   func(*Cursor)
}

func (db *Database) newRowsCursor(rows *sql.Rows) (*Cursor, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		rows.Close()
		return nil, err
	}
	c := &Cursor{
		rows:       rows,
		columns:    make([]string, len(types)),
		converters: make([]Converter, len(types)),
	}
	for i, t := range types {
		c.columns[i] = t.Name()
		if fn, ok := db.converter(t.DatabaseTypeName()); ok {
			c.converters[i] = fn
		}
	}
	return c, nil
}

// Columns returns the column names of the rows, or nil for a statement that
// returns none.
func (c *Cursor) Columns() []string {
	return c.columns
}

// Next advances to the next row, reporting false when there are no more
// rows or on error. It closes the cursor after the last row.
func (c *Cursor) Next() bool {
	if c.rows == nil || c.err != nil {
		return false
	}
	if c.rows.Next() {
		return true
	}
	c.err = c.rows.Err()
	c.Close()
	return false
}

// Row returns the current row, with registered converters applied.
func (c *Cursor) Row() (Row, error) {
	if c.rows == nil {
		return nil, errors.New("statement returns no rows")
	}
	values := make([]any, len(c.columns))
	dest := make([]any, len(c.columns))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := c.rows.Scan(dest...); err != nil {
		return nil, err
	}
	row := make(Row, len(c.columns))
	for i, name := range c.columns {
		v := values[i]
		if fn := c.converters[i]; fn != nil && v != nil {
			var err error
			if v, err = fn(v); err != nil {
				return nil, fmt.Errorf("cannot convert column %q: %w", name, err)
			}
		}
		row[name] = v
	}
	return row, nil
}

// Err returns the error, if any, that ended the iteration.
func (c *Cursor) Err() error {
	return c.err
}

// FetchOne returns the next row and closes the cursor. It returns ErrNoRows
// if there is none.
func (c *Cursor) FetchOne() (Row, error) {
	defer c.Close()
	if !c.Next() {
		if c.err != nil {
			return nil, c.err
		}
		return nil, ErrNoRows
	}
	return c.Row()
}

// FetchMany returns up to n of the next rows. Fewer rows are returned only
// when the rows are exhausted.
func (c *Cursor) FetchMany(n int) ([]Row, error) {
	var rows []Row
	for len(rows) < n && c.Next() {
		row, err := c.Row()
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, c.err
}

// FetchAll returns the remaining rows and closes the cursor.
func (c *Cursor) FetchAll() ([]Row, error) {
	defer c.Close()
	rows := []Row{}
	for c.Next() {
		row, err := c.Row()
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, c.err
}

// RowCount returns the number of rows affected by the statement, or -1 for a
// query.
func (c *Cursor) RowCount() int64 {
	if c.result == nil {
		return -1
	}
	n, err := c.result.RowsAffected()
	if err != nil {
		return -1
	}
	return n
}

// LastInsertID returns the row ID of the last row inserted by the
// statement, where the driver supports it.
func (c *Cursor) LastInsertID() (int64, error) {
	if c.result == nil {
		return 0, errors.New("statement returns rows")
	}
	return c.result.LastInsertId()
}

// Close releases the rows of the cursor.
func (c *Cursor) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.rows != nil {
			err = c.rows.Close()
		}
		if c.onClose != nil {
			c.onClose(c)
		}
	})
	return err
}

// String describes the cursor for logging.
func (c *Cursor) String() string {
	if c.rows != nil {
		return "rows(" + strings.Join(c.columns, ", ") + ")"
	}
	return fmt.Sprintf("result(%d)", c.RowCount())
}
