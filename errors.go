// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package dblite

import (
	"database/sql"
	"errors"

	"github.com/canonical/dblite/internal/clause"
	"github.com/canonical/dblite/internal/dialect"
)

var (
	// ErrNotOpen is returned by operations on a Database that is not open.
	ErrNotOpen = errors.New("database not open")

	// ErrTransactionClosed is returned by operations on a closed Transaction.
	ErrTransactionClosed = errors.New("transaction already closed")

	// ErrRollback can be returned from a transaction scope to roll back the
	// transaction and leave the scope cleanly. It is never returned to the
	// caller of the scope.
	ErrRollback = errors.New("rollback")

	// ErrNoRows is returned by FetchOne when the query matches no rows.
	ErrNoRows = sql.ErrNoRows

	// ErrUnknownEngine is returned when a database engine cannot be
	// determined from the configuration.
	ErrUnknownEngine = errors.New("unknown database engine")
)

// QuerySpecError reports a malformed query description: a clause of the wrong
// shape, or raw SQL whose placeholders do not match the values given.
type QuerySpecError = clause.SpecError

// CompileError reports a query that cannot be compiled. Its Unwrap method
// returns the underlying cause, a *QuerySpecError for malformed queries.
type CompileError = dialect.CompileError
