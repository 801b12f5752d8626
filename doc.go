// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

/*
Package dblite is a convenience layer over SQLite, Postgres and dqlite databases.
It compiles small query descriptions into parameterized SQL for the dialect of each engine, and runs them in reentrant transactions.

The same query description compiles to equivalent SQL on every engine, so that code written against SQLite in tests runs unchanged against Postgres in production.
The package does not parse SQL beyond its placeholders; raw SQL can be mixed into conditions and run directly with Execute.

# Opening a database

A database is described by a Config and opened with Open:

	db, err := dblite.Open(ctx, dblite.Config{DSN: "/var/lib/app/app.db"})
	if err != nil {
		return err
	}
	defer db.Close(ctx)

The engine is detected from the DSN when not given: postgres:// URLs and keyword=value strings are Postgres, paths and ":memory:" are SQLite.
Databases opened through the same Registry with the same engine and DSN are shared.
Configurations can also be read from YAML with LoadConfig, or from DBLITE_* environment variables with ConfigFromEnv.

# Queries

A Query names a table, the columns to read, and optional conditions, grouping, ordering and paging:

	rows, err := db.FetchAll(ctx, dblite.Query{
		Table:   "person",
		Columns: []string{"id", "name"},
		Where:   dblite.Where{{"age", ">=", 18}, {"team", []any{"IN", []string{"red", "blue"}}}},
		Order:   dblite.Desc("age"),
		Limit:   []int{10, 20},
	})

Conditions and values are given as an M, keyed and rendered by column name, as a Where list, or as a struct value.
A condition is one of:

	{"name", "Fred"}                   name = :nameW0
	{"age", ">", 18}                   age > :ageW0
	{"deleted", nil}                   deleted IS NULL
	{"id", []any{"IN", ids}}           id IN (...) on SQLite, id = ANY(...) on Postgres
	{"archived IS NOT NULL"}           raw SQL, rendered as given
	{"age BETWEEN ? AND ?", 18, 65}    raw SQL with positional values

Plain strings are raw SQL.
Names that must be quoted are given as Ident, which is quoted when needed.
Values are bound as named parameters and never interpolated into the SQL.

Insert, Update and Delete take the same shapes:

	id, err := db.Insert(ctx, "person", dblite.M{"name": "Fred", "age": 40})
	n, err := db.Update(ctx, "person", dblite.M{"age": 41}, dblite.M{"id": id})
	n, err = db.Delete(ctx, "person", dblite.Where{{"age", ">", 100}})

Compile returns the SQL and parameters of a query without running it.
Malformed queries are reported as a *CompileError wrapping a *QuerySpecError.

# Transactions

A Transaction is entered and exited in matching pairs, and may be entered again while entered:

	err := db.WithTransaction(ctx, func(ctx context.Context, tx *dblite.Transaction) error {
		if _, err := tx.Insert(ctx, "item", dblite.M{"name": "a"}); err != nil {
			return err
		}
		return tx.Do(ctx, func(ctx context.Context, tx *dblite.Transaction) error {
			return dblite.ErrRollback
		})
	})

Leaving a scope without error commits; leaving it with an error rolls back.
ErrRollback rolls back and is not returned.
Leaving an inner scope ends the work done so far, and the next statement begins anew; leaving the outermost scope closes the transaction.

Exclusive transactions hold a lock of their database while entered, so that no other exclusive transaction on it runs at the same time.
The context returned by Enter, and passed to the function run by Do, holds the lock: transactions entered with it do not wait for it.
Transactions are exclusive by default on SQLite, where all of them share one connection, and not on Postgres, where each one runs on its own pooled connection.

# Adapters and converters

Values of Go types that the driver cannot bind are converted by adapters registered with RegisterAdapter.
Values read from columns of registered database types are converted by converters registered with RegisterConverter.
On Postgres, values bound to json and jsonb columns are encoded as JSON, and values bound to array columns are bound as arrays.
*/
package dblite
