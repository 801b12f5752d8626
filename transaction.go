// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package dblite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Directive says how to end a transaction that is closed.
type Directive int

const (
	// Default commits if the transaction commits automatically, and rolls
	// back otherwise.
	Default Directive = iota
	Commit
	Rollback
)

func (d Directive) String() string {
	switch d {
	case Commit:
		return "commit"
	case Rollback:
		return "rollback"
	}
	return "default"
}

// TxOption configures a Transaction.
type TxOption func(*txOptions)

type txOptions struct {
	commit    bool
	exclusive *bool
	schema    string
	isolation sql.IsolationLevel
	readOnly  bool
}

// WithCommit sets whether the transaction commits when a scope ends without
// error. It is true by default; when false every scope rolls back.
func WithCommit(commit bool) TxOption {
	return func(o *txOptions) {
		o.commit = commit
	}
}

// WithExclusive sets whether the transaction holds the database lock while
// entered, so that no other exclusive transaction runs at the same time.
func WithExclusive(exclusive bool) TxOption {
	return func(o *txOptions) {
		o.exclusive = &exclusive
	}
}

// WithSchema sets the Postgres schema searched before "public".
func WithSchema(schema string) TxOption {
	return func(o *txOptions) {
		o.schema = schema
	}
}

// WithIsolation sets the isolation level of Postgres transactions.
func WithIsolation(level sql.IsolationLevel) TxOption {
	return func(o *txOptions) {
		o.isolation = level
	}
}

// WithReadOnly makes Postgres transactions read-only.
func WithReadOnly(readOnly bool) TxOption {
	return func(o *txOptions) {
		o.readOnly = readOnly
	}
}

// Transaction is a reentrant unit of work. Each Enter opens a scope and each
// Exit ends one. Ending an inner scope commits or rolls back the work done so
// far and a new transaction begins with the next statement; ending the
// outermost scope also closes the transaction.
type Transaction struct {
	queries

	db         *Database
	autoCommit bool
	exclusive  bool
	schema     string

	// connMu guards conn.
	connMu sync.Mutex
	conn   txConn

	mu       sync.Mutex
	depth    int
	closed   bool
	releases []func()
	cursors  map[*Cursor]struct{}

	// owner holds the database lock taken by a statement run outside any
	// scope, until the work is committed or rolled back.
	owner  context.Context
	unlock func()
}

// Database returns the database of the transaction.
func (tx *Transaction) Database() *Database {
	return tx.db
}

// Closed reports whether the transaction is closed.
func (tx *Transaction) Closed() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.closed
}

// Depth returns the number of scopes entered and not yet exited.
func (tx *Transaction) Depth() int {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.depth
}

// Enter opens a scope of the transaction. An exclusive transaction first
// waits for the database lock. The returned context must be used within the
// scope and passed to the matching Exit. Nested scopes, of this transaction
// or of others on the same database, must be entered with the returned
// context. Entering with the original one waits for the lock held by the
// outer scope until that context is done.
func (tx *Transaction) Enter(ctx context.Context) (context.Context, error) {
	if tx.Closed() {
		return ctx, ErrTransactionClosed
	}
	if tx.db.Closed() {
		return ctx, ErrNotOpen
	}
	release := func() {}
	tx.mu.Lock()
	owner := tx.owner
	tx.mu.Unlock()
	if owner != nil {
		ctx = tx.db.lock.share(ctx, owner)
	}
	if tx.exclusive {
		var err error
		ctx, release, err = tx.db.lock.acquire(ctx)
		if err != nil {
			return ctx, fmt.Errorf("cannot enter transaction: %w", err)
		}
	}

	tx.mu.Lock()
	if tx.closed {
		tx.mu.Unlock()
		release()
		return ctx, ErrTransactionClosed
	}
	tx.depth++
	tx.releases = append(tx.releases, release)
	depth := tx.depth
	tx.mu.Unlock()

	if depth == 1 {
		if _, err := tx.queryer(ctx); err != nil {
			tx.mu.Lock()
			tx.depth--
			tx.releases = tx.releases[:len(tx.releases)-1]
			tx.mu.Unlock()
			release()
			return ctx, err
		}
		tx.db.logger.DebugContext(ctx, "transaction entered", slog.Bool("exclusive", tx.exclusive))
	}
	return ctx, nil
}

// Exit ends the innermost scope. The work is committed if err is nil and the
// transaction commits automatically, and rolled back otherwise. ErrRollback
// is swallowed; any other err is returned.
func (tx *Transaction) Exit(ctx context.Context, err error) error {
	tx.mu.Lock()
	if tx.depth == 0 {
		tx.mu.Unlock()
		return err
	}
	tx.depth--
	depth := tx.depth
	release := tx.releases[len(tx.releases)-1]
	tx.releases = tx.releases[:len(tx.releases)-1]
	tx.mu.Unlock()
	defer release()

	commit := tx.autoCommit && err == nil
	var endErr error
	if depth > 0 {
		endErr = tx.reset(ctx, tx.exclusive, commit)
	} else {
		endErr = tx.finish(ctx, tx.exclusive, commit)
	}

	if errors.Is(err, ErrRollback) {
		err = nil
	}
	if err != nil {
		if endErr != nil {
			tx.db.logger.WarnContext(ctx, "cannot end transaction", slog.Any("error", endErr))
		}
		return err
	}
	return endErr
}

// Do runs fn within a scope of the transaction. A panic in fn rolls the scope
// back before it is propagated.
func (tx *Transaction) Do(ctx context.Context, fn func(ctx context.Context, tx *Transaction) error) error {
	ctx, err := tx.Enter(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Exit(ctx, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()
	return tx.Exit(ctx, fn(ctx, tx))
}

// Commit commits the work done so far. The transaction stays usable.
func (tx *Transaction) Commit(ctx context.Context) error {
	if tx.Closed() {
		return ErrTransactionClosed
	}
	return tx.reset(ctx, tx.holdsLock(ctx), true)
}

// Rollback rolls back the work done so far. The transaction stays usable.
func (tx *Transaction) Rollback(ctx context.Context) error {
	if tx.Closed() {
		return ErrTransactionClosed
	}
	return tx.reset(ctx, tx.holdsLock(ctx), false)
}

// Close ends the transaction as directed by d, whatever its depth, and
// releases its connection. Closing a closed transaction does nothing.
func (tx *Transaction) Close(ctx context.Context, d ...Directive) error {
	commit := tx.autoCommit
	if len(d) > 0 {
		switch d[0] {
		case Commit:
			commit = true
		case Rollback:
			commit = false
		}
	}
	return tx.finish(ctx, tx.holdsLock(ctx), commit)
}

// holdsLock reports whether work on the shared connection can proceed
// without taking the database lock.
func (tx *Transaction) holdsLock(ctx context.Context) bool {
	if tx.db.lock.holds(ctx) {
		return true
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.exclusive && (tx.depth > 0 || tx.owner != nil)
}

// claim takes the database lock for an exclusive transaction about to run a
// statement outside any scope. The lock is kept until the work ends.
func (tx *Transaction) claim(ctx context.Context) (context.Context, error) {
	if !tx.exclusive || !tx.db.backend.sharedState() || tx.holdsLock(ctx) {
		return ctx, nil
	}
	held, release, err := tx.db.lock.acquire(ctx)
	if err != nil {
		return ctx, fmt.Errorf("cannot begin transaction: %w", err)
	}
	tx.mu.Lock()
	if tx.owner != nil {
		tx.mu.Unlock()
		release()
		return ctx, nil
	}
	tx.owner, tx.unlock = held, release
	tx.mu.Unlock()
	return held, nil
}

// unclaim gives back the lock taken by claim once no scope is open.
func (tx *Transaction) unclaim(all bool) {
	tx.mu.Lock()
	unlock := tx.unlock
	if unlock == nil || (!all && tx.depth > 0) {
		tx.mu.Unlock()
		return
	}
	tx.owner, tx.unlock = nil, nil
	tx.mu.Unlock()
	unlock()
}

// locked runs fn holding the database lock if the connection is shared with
// other transactions and the lock is not held already.
func (tx *Transaction) locked(ctx context.Context, held bool, fn func(ctx context.Context) error) error {
	if held || !tx.db.backend.sharedState() {
		return fn(ctx)
	}
	ctx, release, err := tx.db.lock.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

func (tx *Transaction) reset(ctx context.Context, held, commit bool) error {
	tx.closeCursors()
	defer tx.unclaim(false)
	return tx.locked(ctx, held, func(ctx context.Context) error {
		tx.connMu.Lock()
		defer tx.connMu.Unlock()
		if !tx.conn.active() {
			return nil
		}
		tx.db.logger.DebugContext(ctx, "transaction reset", slog.Bool("commit", commit))
		return tx.conn.reset(ctx, commit)
	})
}

func (tx *Transaction) finish(ctx context.Context, held, commit bool) error {
	tx.mu.Lock()
	if tx.closed {
		tx.mu.Unlock()
		tx.db.forget(tx)
		return nil
	}
	tx.closed = true
	tx.mu.Unlock()

	tx.closeCursors()
	err := tx.locked(ctx, held, func(ctx context.Context) error {
		tx.connMu.Lock()
		defer tx.connMu.Unlock()
		return errors.Join(tx.conn.reset(ctx, commit), tx.conn.release(ctx))
	})
	tx.unclaim(true)
	tx.db.forget(tx)
	tx.db.logger.DebugContext(ctx, "transaction closed", slog.Bool("commit", commit))
	return err
}

func (tx *Transaction) closeCursors() {
	tx.mu.Lock()
	cursors := tx.cursors
	tx.cursors = map[*Cursor]struct{}{}
	tx.mu.Unlock()
	for c := range cursors {
		c.Close()
	}
}

func (tx *Transaction) queryer(ctx context.Context) (queryer, error) {
	tx.connMu.Lock()
	defer tx.connMu.Unlock()
	return tx.conn.queryer(ctx)
}

// Execute runs a SQL statement in the transaction, beginning a new one if
// needed. Arguments are bound as by Database.Execute.
func (tx *Transaction) Execute(ctx context.Context, sql string, args ...any) (*Cursor, error) {
	if tx.Closed() {
		return nil, ErrTransactionClosed
	}
	if tx.db.Closed() {
		return nil, ErrNotOpen
	}
	ctx, err := tx.claim(ctx)
	if err != nil {
		return nil, err
	}
	q, err := tx.queryer(ctx)
	if err != nil {
		tx.connMu.Lock()
		begun := tx.conn.active()
		tx.connMu.Unlock()
		if !begun {
			tx.unclaim(false)
		}
		return nil, err
	}
	c, err := tx.db.run(ctx, q, sql, args)
	if err != nil {
		return nil, err
	}
	if c.rows != nil {
		tx.mu.Lock()
		tx.cursors[c] = struct{}{}
		tx.mu.Unlock()
		c.onClose = tx.untrack
	}
	return c, nil
}

func (tx *Transaction) untrack(c *Cursor) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	delete(tx.cursors, c)
}

// ExecuteScript runs a script of several statements. On SQLite, where a
// script cannot run within a savepoint, the work done so far is committed
// and the script runs on its own.
func (tx *Transaction) ExecuteScript(ctx context.Context, script string) error {
	if tx.Closed() {
		return ErrTransactionClosed
	}
	if tx.db.Closed() {
		return ErrNotOpen
	}
	if tx.db.backend.sharedState() {
		tx.closeCursors()
		defer tx.unclaim(false)
		return tx.locked(ctx, tx.holdsLock(ctx), func(ctx context.Context) error {
			tx.connMu.Lock()
			err := tx.conn.reset(ctx, true)
			tx.connMu.Unlock()
			if err != nil {
				return err
			}
			return tx.db.script(ctx, tx.db.backend.queryer(), script)
		})
	}
	q, err := tx.queryer(ctx)
	if err != nil {
		return err
	}
	return tx.db.script(ctx, q, script)
}

// Compile compiles a query description for the database, with the column
// types of the transaction's schema.
func (tx *Transaction) Compile(ctx context.Context, action Action, q Query) (Statement, error) {
	return tx.db.compile(ctx, tx.schema, action, q)
}

func (tx *Transaction) batch(ctx context.Context, fn func(ctx context.Context, q querier) error) error {
	return fn(ctx, tx)
}
