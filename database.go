// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package dblite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/canonical/dblite/internal/dialect"
	"github.com/canonical/dblite/internal/sqltext"
)

// Database is a connection to a SQLite, Postgres or dqlite database. Its
// query methods run in autocommit mode; use Transaction for atomic work.
type Database struct {
	queries

	id       string
	cfg      Config
	backend  backend
	registry *Registry
	logger   *slog.Logger
	lock     *exclusiveLock
	static   dialect.Schema

	mu         sync.Mutex
	open       bool
	txs        []*Transaction
	schemas    map[string]dialect.Schema
	converters map[string]Converter
}

// Option configures a Database.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	registry *Registry
	schema   dialect.Schema
	db       *sql.DB
}

// WithLogger sets the logger of the database. SQL statements are logged at
// LevelTrace and transaction boundaries at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRegistry sets the registry of adapters and converters used by the
// database. The default registry is used otherwise.
func WithRegistry(r *Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithSchemaLookup supplies the column types and primary keys of the
// database instead of reading them from the database itself.
func WithSchemaLookup(s Schema) Option {
	return func(o *options) {
		o.schema = s
	}
}

// WithDB runs the database on an existing *sql.DB instead of opening one
// from the DSN. The caller keeps ownership of db.
func WithDB(db *sql.DB) Option {
	return func(o *options) {
		o.db = db
	}
}

// New returns a Database for cfg. It must be opened before use.
func New(cfg Config, opts ...Option) (*Database, error) {
	engine, err := cfg.engine()
	if err != nil {
		return nil, err
	}
	cfg.Engine = engine
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.registry == nil {
		o.registry = defaultRegistry
	}

	var b backend
	switch engine {
	case EngineSQLite:
		sb := newSQLiteBackend(cfg)
		if o.db != nil {
			sb.connect = existing(o.db)
			sb.owned = false
		}
		b = sb
	case EnginePostgres:
		pb := newPostgresBackend(cfg)
		if o.db != nil {
			pb.connect = existing(o.db)
			pb.owned = false
		}
		b = pb
	case EngineDqlite:
		if b, err = newDqliteBackend(cfg); err != nil {
			return nil, err
		}
	}

	id := uuid.NewString()
	db := &Database{
		id:       id,
		cfg:      cfg,
		backend:  b,
		registry: o.registry,
		logger:   o.logger.With(slog.String("engine", engine), slog.String("db", id[:8])),
		lock:     newExclusiveLock(),
		static:   o.schema,
		schemas:  map[string]dialect.Schema{},
	}
	db.queries = queries{q: db, d: b.dialect()}
	return db, nil
}

func existing(db *sql.DB) func(context.Context) (*sql.DB, error) {
	return func(context.Context) (*sql.DB, error) {
		return db, nil
	}
}

// Engine returns the engine name of the database.
func (db *Database) Engine() string {
	return db.cfg.Engine
}

// Config returns the configuration of the database.
func (db *Database) Config() Config {
	return db.cfg
}

// Open connects to the database. Opening an open database does nothing.
func (db *Database) Open(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.open {
		return nil
	}
	if err := db.backend.open(ctx); err != nil {
		return fmt.Errorf("cannot open %s database: %w", db.cfg.Engine, err)
	}
	db.open = true
	db.converters = map[string]Converter{}
	for name, fn := range db.registry.convertersFor(db.cfg.Engine) {
		db.converters[name] = fn
		reported, err := db.backend.typeName(ctx, name)
		if err != nil {
			db.logger.WarnContext(ctx, "cannot resolve converter type", slog.String("type", name), slog.Any("error", err))
			continue
		}
		db.converters[strings.ToUpper(reported)] = fn
	}
	db.logger.DebugContext(ctx, "database opened")
	return nil
}

// Closed reports whether the database is not open.
func (db *Database) Closed() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return !db.open
}

// Close closes the open transactions of the database, newest first and as
// directed by d, and then the database itself.
func (db *Database) Close(ctx context.Context, d ...Directive) error {
	db.mu.Lock()
	txs := db.txs
	db.txs = nil
	db.mu.Unlock()

	var errs []error
	for i := len(txs) - 1; i >= 0; i-- {
		errs = append(errs, txs[i].Close(ctx, d...))
	}

	db.mu.Lock()
	if db.open {
		errs = append(errs, db.backend.close())
		db.open = false
		db.schemas = map[string]dialect.Schema{}
		db.logger.DebugContext(ctx, "database closed")
	}
	db.mu.Unlock()
	db.registry.forget(db)
	return errors.Join(errs...)
}

// Transaction returns a new transaction on the database. Nothing is run
// until it is entered, or until its first statement.
func (db *Database) Transaction(opts ...TxOption) *Transaction {
	o := txOptions{commit: true, schema: db.cfg.Schema}
	for _, opt := range opts {
		opt(&o)
	}
	exclusive := db.backend.exclusive()
	if db.cfg.Exclusive != nil {
		exclusive = *db.cfg.Exclusive
	}
	if o.exclusive != nil {
		exclusive = *o.exclusive
	}
	if db.backend.dialect() != dialect.Postgres {
		o.schema = ""
	}
	tx := &Transaction{
		db:         db,
		conn:       db.backend.txConn(o),
		autoCommit: o.commit,
		exclusive:  exclusive,
		schema:     o.schema,
		cursors:    map[*Cursor]struct{}{},
	}
	tx.queries = queries{q: tx, d: db.backend.dialect()}
	db.mu.Lock()
	db.txs = append(db.txs, tx)
	db.mu.Unlock()
	return tx
}

// WithTransaction runs fn in a new transaction. The transaction is committed
// if fn succeeds and rolled back otherwise; returning ErrRollback rolls it
// back without error.
func (db *Database) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx *Transaction) error, opts ...TxOption) error {
	return db.Transaction(opts...).Do(ctx, fn)
}

// forget removes a closed transaction from the open ones.
func (db *Database) forget(tx *Transaction) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for i, t := range db.txs {
		if t == tx {
			db.txs = append(db.txs[:i], db.txs[i+1:]...)
			return
		}
	}
}

// Execute runs a SQL statement. A single map[string]any or M argument binds
// named parameters; other arguments are bound by position.
func (db *Database) Execute(ctx context.Context, sql string, args ...any) (*Cursor, error) {
	if db.Closed() {
		return nil, ErrNotOpen
	}
	return db.run(ctx, db.backend.queryer(), sql, args)
}

// ExecuteScript runs a script of several statements separated by semicolons.
// Statements that create or alter tables invalidate the cached schema.
func (db *Database) ExecuteScript(ctx context.Context, script string) error {
	if db.Closed() {
		return ErrNotOpen
	}
	return db.script(ctx, db.backend.queryer(), script)
}

func (db *Database) script(ctx context.Context, q queryer, script string) error {
	logSQL(ctx, db.logger, "execute script", script, nil)
	_, err := q.ExecContext(ctx, script)
	db.mu.Lock()
	db.schemas = map[string]dialect.Schema{}
	db.mu.Unlock()
	return err
}

// Compile compiles a query description for the database.
func (db *Database) Compile(ctx context.Context, action Action, q Query) (Statement, error) {
	return db.compile(ctx, "", action, q)
}

func (db *Database) compile(ctx context.Context, schema string, action Action, q Query) (Statement, error) {
	s, err := db.schema(ctx, schema)
	if err != nil {
		return Statement{}, fmt.Errorf("cannot load schema: %w", err)
	}
	stmt, err := dialect.Compile(db.backend.dialect(), action, q, dialect.Options{
		Schema: s,
		Adapt:  db.adapt,
	})
	if err != nil {
		return Statement{}, err
	}
	logSQL(ctx, db.logger, "compiled", stmt.SQL, []any{stmt.Params})
	return stmt, nil
}

// schema returns the structure of the tables visible in the named schema,
// reading it on first use.
func (db *Database) schema(ctx context.Context, name string) (dialect.Schema, error) {
	if db.static != nil {
		return db.static, nil
	}
	db.mu.Lock()
	s, ok := db.schemas[name]
	open := db.open
	db.mu.Unlock()
	if ok {
		return s, nil
	}
	if !open {
		return nil, ErrNotOpen
	}
	s, err := db.backend.loadSchema(ctx, name)
	if err != nil {
		return nil, err
	}
	db.mu.Lock()
	db.schemas[name] = s
	db.mu.Unlock()
	return s, nil
}

func (db *Database) adapt(v any) (any, bool, error) {
	fn, ok := db.registry.adapter(db.cfg.Engine, reflect.TypeOf(v))
	if !ok {
		return v, false, nil
	}
	out, err := fn(v)
	return out, true, err
}

// run executes a statement on q and returns its cursor.
func (db *Database) run(ctx context.Context, q queryer, query string, args []any) (*Cursor, error) {
	query, args, err := db.bind(query, args)
	if err != nil {
		return nil, err
	}
	logSQL(ctx, db.logger, "execute", query, args)
	if sqltext.ReturnsRows(query) {
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		return db.newRowsCursor(rows)
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &Cursor{result: res}, nil
}

func (db *Database) bind(query string, args []any) (string, []any, error) {
	if len(args) != 1 {
		return query, args, nil
	}
	var params map[string]any
	switch a := args[0].(type) {
	case map[string]any:
		params = a
	case M:
		params = a
	default:
		return query, args, nil
	}
	query, bound, err := db.backend.bind(query, params)
	if err != nil {
		return "", nil, fmt.Errorf("cannot bind parameters: %w", err)
	}
	return query, bound, nil
}

func (db *Database) converter(typeName string) (Converter, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	fn, ok := db.converters[strings.ToUpper(typeName)]
	return fn, ok
}

// batch runs fn in a transaction.
func (db *Database) batch(ctx context.Context, fn func(ctx context.Context, q querier) error) error {
	return db.WithTransaction(ctx, func(ctx context.Context, tx *Transaction) error {
		return fn(ctx, tx)
	})
}
