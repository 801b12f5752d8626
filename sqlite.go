// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package dblite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/canonical/dblite/internal/dialect"
)

// DefaultSQLiteDriver is the database/sql driver used for SQLite unless
// Config.Driver says otherwise.
const DefaultSQLiteDriver = "sqlite3"

// sqliteBackend runs every statement on one pinned connection. SQLite keeps
// one transaction state per connection, so transactions are savepoints on
// that connection.
type sqliteBackend struct {
	connect func(ctx context.Context) (*sql.DB, error)
	// disconnect is run after the database is closed.
	disconnect func() error
	// owned is set when db was opened here and must be closed here.
	owned bool

	db   *sql.DB
	conn *sql.Conn
}

func newSQLiteBackend(cfg Config) *sqliteBackend {
	driver := cfg.Driver
	if driver == "" {
		driver = DefaultSQLiteDriver
	}
	dsn := cfg.DSN
	return &sqliteBackend{
		owned: true,
		connect: func(ctx context.Context) (*sql.DB, error) {
			if err := makeParentDir(dsn); err != nil {
				return nil, err
			}
			return sql.Open(driver, dsn)
		},
	}
}

// makeParentDir creates the directory of a database file path.
func makeParentDir(dsn string) error {
	if dsn == "" || strings.HasPrefix(dsn, ":memory:") || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}
	return nil
}

func (b *sqliteBackend) dialect() dialect.Dialect {
	return dialect.SQLite
}

func (b *sqliteBackend) open(ctx context.Context) error {
	db, err := b.connect(ctx)
	if err != nil {
		return err
	}
	if b.owned {
		db.SetMaxOpenConns(1)
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		if b.owned {
			db.Close()
		}
		return err
	}
	b.db, b.conn = db, conn
	return nil
}

func (b *sqliteBackend) close() error {
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	if b.owned {
		if cerr := b.db.Close(); err == nil {
			err = cerr
		}
	}
	if b.disconnect != nil {
		if derr := b.disconnect(); err == nil {
			err = derr
		}
	}
	b.db, b.conn = nil, nil
	return err
}

func (b *sqliteBackend) queryer() queryer {
	return b.conn
}

func (b *sqliteBackend) txConn(txOptions) txConn {
	name := dialect.SQLite.Quote("tx_"+strings.ReplaceAll(uuid.NewString(), "-", ""), true)
	return &savepointConn{backend: b, name: name}
}

func (b *sqliteBackend) sharedState() bool {
	return true
}

func (b *sqliteBackend) exclusive() bool {
	return true
}

func (b *sqliteBackend) loadSchema(context.Context, string) (dialect.Schema, error) {
	return nil, nil
}

// typeName returns the declared type name, which SQLite drivers report as
// given.
func (b *sqliteBackend) typeName(_ context.Context, name string) (string, error) {
	return strings.ToUpper(name), nil
}

func (b *sqliteBackend) bind(sql string, params map[string]any) (string, []any, error) {
	return sql, namedArgs(params), nil
}

// savepointConn is a transaction on the shared connection.
type savepointConn struct {
	backend *sqliteBackend
	name    string
	begun   bool
}

func (s *savepointConn) queryer(ctx context.Context) (queryer, error) {
	if s.backend.conn == nil {
		return nil, ErrNotOpen
	}
	if !s.begun {
		if _, err := s.backend.conn.ExecContext(ctx, "SAVEPOINT "+s.name); err != nil {
			return nil, fmt.Errorf("cannot begin transaction: %w", err)
		}
		s.begun = true
	}
	return s.backend.conn, nil
}

func (s *savepointConn) active() bool {
	return s.begun
}

func (s *savepointConn) reset(ctx context.Context, commit bool) error {
	if !s.begun {
		return nil
	}
	s.begun = false
	conn := s.backend.conn
	if conn == nil {
		return ErrNotOpen
	}
	if !commit {
		if _, err := conn.ExecContext(ctx, "ROLLBACK TO "+s.name); err != nil {
			return ignoreReleased(err)
		}
	}
	_, err := conn.ExecContext(ctx, "RELEASE "+s.name)
	if commit && err != nil && ignoreReleased(err) == nil {
		return fmt.Errorf("cannot commit transaction: savepoint ended by an enclosing transaction: %w", err)
	}
	return ignoreReleased(err)
}

func (s *savepointConn) release(context.Context) error {
	return nil
}

// ignoreReleased ignores the error of rolling back a savepoint that was
// already ended along with an enclosing one.
func ignoreReleased(err error) error {
	if err != nil && strings.Contains(err.Error(), "no such savepoint") {
		return nil
	}
	return err
}
