package dblite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"

	"github.com/DATA-DOG/go-sqlmock"
	. "gopkg.in/check.v1"

	"github.com/canonical/dblite/internal/dialect"
)

type PostgresSuite struct {
	db   *Database
	mock sqlmock.Sqlmock
	sql  *sql.DB
}

var _ = Suite(&PostgresSuite{})

// passThrough lets slices reach the mock as they reach pgx.
type passThrough struct{}

func (passThrough) ConvertValue(v any) (driver.Value, error) {
	return v, nil
}

var itemTables = dialect.Tables{
	"item": {
		Columns: map[string]dialect.TypeHint{
			"id":   {Name: "integer"},
			"name": {Name: "text"},
			"tags": {Name: "text", Array: true},
			"doc":  {Name: "jsonb"},
		},
		Key: "id",
	},
}

func (s *PostgresSuite) open(c *C, cfg Config, opts ...Option) {
	sqldb, mock, err := sqlmock.New(
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual),
		sqlmock.ValueConverterOption(passThrough{}),
	)
	c.Assert(err, IsNil)
	cfg.Engine = EnginePostgres
	opts = append([]Option{WithDB(sqldb), WithRegistry(NewRegistry())}, opts...)
	db, err := New(cfg, opts...)
	c.Assert(err, IsNil)
	c.Assert(db.Open(context.Background()), IsNil)
	s.db, s.mock, s.sql = db, mock, sqldb
}

func (s *PostgresSuite) TearDownTest(c *C) {
	if s.db == nil {
		return
	}
	c.Check(s.db.Close(context.Background()), IsNil)
	c.Check(s.mock.ExpectationsWereMet(), IsNil)
	s.sql.Close()
	s.db = nil
}

func (s *PostgresSuite) TestTransactionWithSchema(c *C) {
	s.open(c, Config{}, WithSchemaLookup(itemTables))
	s.mock.ExpectExec("SET search_path TO tenant,public").WillReturnResult(sqlmock.NewResult(0, 0))
	s.mock.ExpectBegin()
	s.mock.ExpectQuery("INSERT INTO item (name) VALUES ($1) RETURNING id AS id").
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	s.mock.ExpectCommit()
	s.mock.ExpectExec("RESET search_path").WillReturnResult(sqlmock.NewResult(0, 0))

	var id any
	err := s.db.WithTransaction(context.Background(), func(ctx context.Context, tx *Transaction) error {
		var err error
		id, err = tx.Insert(ctx, "item", M{"name": "a"})
		return err
	}, WithSchema("tenant"))
	c.Assert(err, IsNil)
	c.Check(id, Equals, int64(7))
}

func (s *PostgresSuite) TestRollbackSignal(c *C) {
	s.open(c, Config{}, WithSchemaLookup(itemTables))
	s.mock.ExpectBegin()
	s.mock.ExpectExec("DELETE FROM item WHERE id = $1").WithArgs(1).WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectRollback()

	err := s.db.WithTransaction(context.Background(), func(ctx context.Context, tx *Transaction) error {
		n, err := tx.Delete(ctx, "item", M{"id": 1})
		if err != nil {
			return err
		}
		c.Check(n, Equals, int64(1))
		return ErrRollback
	})
	c.Assert(err, IsNil)
}

func (s *PostgresSuite) TestErrorRollsBack(c *C) {
	s.open(c, Config{}, WithSchemaLookup(itemTables))
	s.mock.ExpectBegin()
	s.mock.ExpectRollback()

	boom := errors.New("boom")
	err := s.db.WithTransaction(context.Background(), func(ctx context.Context, tx *Transaction) error {
		return boom
	})
	c.Assert(err, Equals, boom)
}

func (s *PostgresSuite) TestInnerScopeBeginsAnew(c *C) {
	s.open(c, Config{}, WithSchemaLookup(itemTables))
	s.mock.ExpectBegin()
	s.mock.ExpectRollback()
	s.mock.ExpectBegin()
	s.mock.ExpectExec("UPDATE item SET name = $1").WithArgs("b").WillReturnResult(sqlmock.NewResult(0, 3))
	s.mock.ExpectCommit()

	tx := s.db.Transaction()
	c.Check(tx.exclusive, Equals, false)
	err := tx.Do(context.Background(), func(ctx context.Context, tx *Transaction) error {
		if err := tx.Do(ctx, func(context.Context, *Transaction) error { return ErrRollback }); err != nil {
			return err
		}
		_, err := tx.Update(ctx, "item", M{"name": "b"}, nil)
		return err
	})
	c.Assert(err, IsNil)
}

func (s *PostgresSuite) TestCloseDirective(c *C) {
	s.open(c, Config{}, WithSchemaLookup(itemTables))
	s.mock.ExpectBegin()
	s.mock.ExpectExec("DELETE FROM item").WillReturnResult(sqlmock.NewResult(0, 2))
	s.mock.ExpectCommit()

	ctx := context.Background()
	tx := s.db.Transaction(WithCommit(false))
	_, err := tx.Delete(ctx, "item", nil)
	c.Assert(err, IsNil)
	c.Assert(s.db.Close(ctx, Commit), IsNil)
	c.Check(tx.Closed(), Equals, true)
	c.Check(s.db.Closed(), Equals, true)
}

func (s *PostgresSuite) TestAutocommitMembership(c *C) {
	s.open(c, Config{}, WithSchemaLookup(itemTables))
	s.mock.ExpectQuery("SELECT name FROM item WHERE id = ANY($1) AND name <> ALL($2)").
		WithArgs([]int{1, 2}, []string{"x"}).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("a"))

	rows, err := s.db.FetchAll(context.Background(), Query{
		Table:   "item",
		Columns: []string{"name"},
		Where:   Where{{"id", "IN", []int{1, 2}}, {"name", "NOT IN", []string{"x"}}},
	})
	c.Assert(err, IsNil)
	c.Check(rows, DeepEquals, []Row{{"name": "a"}})
}

func (s *PostgresSuite) TestLoadSchema(c *C) {
	s.open(c, Config{Schema: "tenant"})
	s.mock.ExpectQuery(columnsQuery).
		WithArgs([]string{"public"}).
		WillReturnRows(sqlmock.NewRows([]string{"table_schema", "table_name", "column_name", "data_type", "udt_name"}).
			AddRow("public", "item", "id", "integer", "int4").
			AddRow("public", "item", "tags", "ARRAY", "_text").
			AddRow("public", "item", "doc", "jsonb", "jsonb"))
	s.mock.ExpectQuery(keysQuery).
		WithArgs([]string{"public"}).
		WillReturnRows(sqlmock.NewRows([]string{"table_schema", "table_name", "column_name"}).
			AddRow("public", "item", "id"))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		stmt, err := s.db.Compile(ctx, Insert, Query{
			Table:  "item",
			Values: M{"tags": []any{"a", "b"}, "doc": map[string]int{"k": 1}},
		})
		c.Assert(err, IsNil)
		c.Check(stmt.SQL, Equals, "INSERT INTO item (doc, tags) VALUES (@docI0, @tagsI1) RETURNING id AS id")
		c.Check(stmt.Params, DeepEquals, map[string]any{
			"docI0":  `{"k":1}`,
			"tagsI1": []string{"a", "b"},
		})
	}
}

func (s *PostgresSuite) TestLoadTransactionSchema(c *C) {
	s.open(c, Config{Schema: "tenant"})
	s.mock.ExpectQuery(columnsQuery).
		WithArgs([]string{"public", "tenant"}).
		WillReturnRows(sqlmock.NewRows([]string{"table_schema", "table_name", "column_name", "data_type", "udt_name"}).
			AddRow("tenant", "item", "id", "text", "text").
			AddRow("public", "item", "id", "integer", "int4").
			AddRow("public", "other", "n", "integer", "int4"))
	s.mock.ExpectQuery(keysQuery).
		WithArgs([]string{"public", "tenant"}).
		WillReturnRows(sqlmock.NewRows([]string{"table_schema", "table_name", "column_name"}).
			AddRow("public", "item", "id"))

	tx := s.db.Transaction()
	c.Check(tx.schema, Equals, "tenant")
	stmt, err := tx.Compile(context.Background(), Insert, Query{Table: "item", Values: M{"id": "x"}})
	c.Assert(err, IsNil)
	// The key of public.item does not apply to tenant.item.
	c.Check(stmt.SQL, Equals, "INSERT INTO item (id) VALUES (@idI0)")
	c.Assert(tx.Close(context.Background()), IsNil)
}
