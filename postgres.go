// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package dblite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"github.com/canonical/dblite/internal/dialect"
	"github.com/canonical/dblite/internal/sqltext"
)

// postgresBackend runs statements on a pool of connections. Each transaction
// holds one pooled connection from its first statement until it is closed.
type postgresBackend struct {
	connect  func(ctx context.Context) (*sql.DB, error)
	owned    bool
	minConns int
	maxConns int

	db *sql.DB
}

func newPostgresBackend(cfg Config) *postgresBackend {
	lo, hi := cfg.poolSize()
	dsn := cfg.DSN
	return &postgresBackend{
		owned:    true,
		minConns: lo,
		maxConns: hi,
		connect: func(ctx context.Context) (*sql.DB, error) {
			connCfg, err := pgx.ParseConfig(dsn)
			if err != nil {
				return nil, fmt.Errorf("cannot parse connection string: %w", err)
			}
			return stdlib.OpenDB(*connCfg), nil
		},
	}
}

func (b *postgresBackend) dialect() dialect.Dialect {
	return dialect.Postgres
}

func (b *postgresBackend) open(ctx context.Context) error {
	db, err := b.connect(ctx)
	if err != nil {
		return err
	}
	if b.owned {
		db.SetMaxOpenConns(b.maxConns)
		db.SetMaxIdleConns(b.maxConns)
		if err := warmUp(ctx, db, b.minConns); err != nil {
			db.Close()
			return err
		}
	}
	b.db = db
	return nil
}

// warmUp opens n connections at once and returns them to the pool idle.
func warmUp(ctx context.Context, db *sql.DB, n int) error {
	conns := make([]*sql.Conn, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := range conns {
		g.Go(func() error {
			conn, err := db.Conn(gctx)
			conns[i] = conn
			return err
		})
	}
	err := g.Wait()
	for _, conn := range conns {
		if conn != nil {
			conn.Close()
		}
	}
	return err
}

func (b *postgresBackend) close() error {
	if b.db == nil {
		return nil
	}
	var err error
	if b.owned {
		err = b.db.Close()
	}
	b.db = nil
	return err
}

func (b *postgresBackend) queryer() queryer {
	return b.db
}

func (b *postgresBackend) txConn(opts txOptions) txConn {
	return &pooledConn{
		backend: b,
		schema:  opts.schema,
		opts:    &sql.TxOptions{Isolation: opts.isolation, ReadOnly: opts.readOnly},
	}
}

func (b *postgresBackend) sharedState() bool {
	return false
}

func (b *postgresBackend) exclusive() bool {
	return false
}

const columnsQuery = `
SELECT table_schema, table_name, column_name, data_type, udt_name
FROM information_schema.columns
WHERE table_schema = ANY($1)
ORDER BY table_schema = 'public', table_name, ordinal_position`

const keysQuery = `
SELECT tc.table_schema, tc.table_name, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name
 AND tc.table_schema = kcu.table_schema
 AND tc.table_name = kcu.table_name
WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = ANY($1)`

// loadSchema reads the tables of schema and of "public". A table found in
// both is taken from schema, as it would be through the search path.
func (b *postgresBackend) loadSchema(ctx context.Context, schema string) (dialect.Schema, error) {
	if b.db == nil {
		return nil, ErrNotOpen
	}
	schemas := []string{"public"}
	if schema != "" && schema != "public" {
		schemas = append(schemas, schema)
	}

	rows, err := b.db.QueryContext(ctx, columnsQuery, schemas)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tables := dialect.Tables{}
	owner := map[string]string{}
	for rows.Next() {
		var tschema, table, column, dataType, udtName string
		if err := rows.Scan(&tschema, &table, &column, &dataType, &udtName); err != nil {
			return nil, err
		}
		if s, ok := owner[table]; ok && s != tschema {
			continue
		}
		owner[table] = tschema
		tbl, ok := tables[table]
		if !ok {
			tbl = dialect.Table{Columns: map[string]dialect.TypeHint{}}
		}
		hint := dialect.TypeHint{Name: strings.ToLower(dataType)}
		if strings.EqualFold(dataType, "ARRAY") {
			hint = dialect.TypeHint{Name: strings.TrimPrefix(udtName, "_"), Array: true}
		} else if hint.Name == "user-defined" {
			hint.Name = udtName
		}
		tbl.Columns[column] = hint
		tables[table] = tbl
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	keys, err := b.db.QueryContext(ctx, keysQuery, schemas)
	if err != nil {
		return nil, err
	}
	defer keys.Close()
	counts := map[string]int{}
	for keys.Next() {
		var tschema, table, column string
		if err := keys.Scan(&tschema, &table, &column); err != nil {
			return nil, err
		}
		if owner[table] != tschema {
			continue
		}
		tbl := tables[table]
		counts[table]++
		tbl.Key = column
		if counts[table] > 1 {
			tbl.Key = ""
		}
		tables[table] = tbl
	}
	return tables, keys.Err()
}

func (b *postgresBackend) typeName(ctx context.Context, name string) (string, error) {
	if b.db == nil {
		return "", ErrNotOpen
	}
	rows, err := b.db.QueryContext(ctx, "SELECT NULL::"+name)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	types, err := rows.ColumnTypes()
	if err != nil {
		return "", err
	}
	if len(types) != 1 {
		return "", fmt.Errorf("cannot resolve type %q", name)
	}
	return types[0].DatabaseTypeName(), nil
}

func (b *postgresBackend) bind(sql string, params map[string]any) (string, []any, error) {
	return sqltext.Positional(sql, params)
}

// pooledConn is a transaction on a connection taken from the pool.
type pooledConn struct {
	backend *postgresBackend
	schema  string
	opts    *sql.TxOptions

	conn *sql.Conn
	tx   *sql.Tx
}

func (p *pooledConn) queryer(ctx context.Context) (queryer, error) {
	if p.tx != nil {
		return p.tx, nil
	}
	if p.conn == nil {
		if p.backend.db == nil {
			return nil, ErrNotOpen
		}
		conn, err := p.backend.db.Conn(ctx)
		if err != nil {
			return nil, fmt.Errorf("cannot acquire connection: %w", err)
		}
		if p.schema != "" {
			path := "SET search_path TO " + dialect.Postgres.Quote(p.schema, false) + ",public"
			if _, err := conn.ExecContext(ctx, path); err != nil {
				conn.Close()
				return nil, fmt.Errorf("cannot set schema: %w", err)
			}
		}
		p.conn = conn
	}
	// The transaction outlives the context of the statement that began it.
	tx, err := p.conn.BeginTx(context.WithoutCancel(ctx), p.opts)
	if err != nil {
		return nil, fmt.Errorf("cannot begin transaction: %w", err)
	}
	p.tx = tx
	return tx, nil
}

func (p *pooledConn) active() bool {
	return p.tx != nil
}

func (p *pooledConn) reset(_ context.Context, commit bool) error {
	if p.tx == nil {
		return nil
	}
	tx := p.tx
	p.tx = nil
	if commit {
		return tx.Commit()
	}
	return tx.Rollback()
}

func (p *pooledConn) release(ctx context.Context) error {
	if p.conn == nil {
		return nil
	}
	var errs []error
	if p.tx != nil {
		errs = append(errs, p.tx.Rollback())
		p.tx = nil
	}
	if p.schema != "" {
		_, err := p.conn.ExecContext(ctx, "RESET search_path")
		errs = append(errs, err)
	}
	errs = append(errs, p.conn.Close())
	p.conn = nil
	return errors.Join(errs...)
}
