// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package dblite

import (
	"context"
	"database/sql"
	"sort"

	"github.com/canonical/dblite/internal/dialect"
)

// queryer runs statements. It is implemented by *sql.DB, *sql.Conn and
// *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// backend is a database engine.
type backend interface {
	dialect() dialect.Dialect

	open(ctx context.Context) error
	close() error

	// queryer returns the queryer of statements run on the Database itself,
	// in autocommit mode.
	queryer() queryer

	// txConn returns the connection state of a new transaction.
	txConn(opts txOptions) txConn

	// sharedState reports whether all transactions share one connection,
	// so that ending one must exclude the others.
	sharedState() bool

	// exclusive is the default exclusivity of transactions.
	exclusive() bool

	// loadSchema reads the structure of the tables visible in schema. It
	// returns nil if the engine does not supply type hints.
	loadSchema(ctx context.Context, schema string) (dialect.Schema, error)

	// typeName returns the name under which the driver reports columns of
	// the named database type.
	typeName(ctx context.Context, name string) (string, error)

	// bind converts named parameters into driver arguments.
	bind(sql string, params map[string]any) (string, []any, error)
}

// txConn is the connection of a transaction. A transaction begins lazily on
// the first call to queryer, and begins again after each reset.
type txConn interface {
	queryer(ctx context.Context) (queryer, error)

	// active reports whether a transaction is in progress.
	active() bool

	// reset commits or rolls back the transaction in progress, if any.
	reset(ctx context.Context, commit bool) error

	// release gives back the resources held by the connection. It is only
	// called after reset.
	release(ctx context.Context) error
}

// namedArgs returns params as sql.Named arguments in key order.
func namedArgs(params map[string]any) []any {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = sql.Named(k, params[k])
	}
	return args
}
