package dialect_test

import (
	"errors"
	"fmt"
	"regexp"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/canonical/dblite/internal/clause"
	"github.com/canonical/dblite/internal/dialect"
	"github.com/canonical/dblite/internal/sqltext"
)

// Hook up gocheck into the "go test" runner.
func TestDialect(t *testing.T) { TestingT(t) }

type DialectSuite struct{}

var _ = Suite(&DialectSuite{})

type Item struct {
	ID   *int           `db:"id"`
	Name string         `db:"name"`
	Tags []string       `db:"tags"`
	Doc  map[string]any `db:"doc"`
}

func (Item) TableName() string { return "item" }

type Point struct {
	X, Y int
}

var itemSchema = dialect.Tables{
	"item": {
		Columns: map[string]dialect.TypeHint{
			"id":   {Name: "integer"},
			"name": {Name: "text"},
			"tags": {Name: "text", Array: true},
			"doc":  {Name: "jsonb"},
			"pos":  {Name: "point"},
		},
		Key: "id",
	},
	"person": {
		Columns: map[string]dialect.TypeHint{
			"id":       {Name: "integer"},
			"FullName": {Name: "text"},
		},
		Key: "id",
	},
}

func adaptPoint(v any) (any, bool, error) {
	if p, ok := v.(Point); ok {
		return fmt.Sprintf("(%d,%d)", p.X, p.Y), true, nil
	}
	return nil, false, nil
}

type compileTest struct {
	summary string
	action  dialect.Action
	query   dialect.Query
	sql     string
	params  map[string]any
}

func checkCompile(c *C, d dialect.Dialect, sigil byte, opts dialect.Options, tests []compileTest) {
	for _, t := range tests {
		stmt, err := dialect.Compile(d, t.action, t.query, opts)
		c.Assert(err, IsNil, Commentf("test %q failed", t.summary))
		c.Check(stmt.SQL, Equals, t.sql, Commentf("test %q failed", t.summary))
		if t.params == nil {
			t.params = map[string]any{}
		}
		c.Check(stmt.Params, DeepEquals, t.params, Commentf("test %q failed", t.summary))
		checkParity(c, stmt, sigil, t.summary)
	}
}

// checkParity asserts that every placeholder has a parameter and every
// parameter has a placeholder.
func checkParity(c *C, stmt dialect.Statement, sigil byte, summary string) {
	names, err := sqltext.Named(stmt.SQL, sigil)
	c.Assert(err, IsNil)
	used := map[string]bool{}
	for _, n := range names {
		used[n] = true
		_, ok := stmt.Params[n]
		c.Check(ok, Equals, true, Commentf("test %q: placeholder %q has no parameter", summary, n))
	}
	for k := range stmt.Params {
		c.Check(used[k], Equals, true, Commentf("test %q: parameter %q has no placeholder", summary, k))
	}
}

func (s *DialectSuite) TestSQLiteCompile(c *C) {
	tests := []compileTest{{
		summary: "select everything",
		action:  dialect.Select,
		query:   dialect.Query{Table: "person"},
		sql:     "SELECT * FROM person",
	}, {
		summary: "lower case action",
		action:  "select",
		query:   dialect.Query{Table: "person", Columns: "name"},
		sql:     "SELECT name FROM person",
	}, {
		summary: "map conditions in key order with NULL",
		action:  dialect.Select,
		query:   dialect.Query{Table: "person", Where: clause.M{"name": "Fred", "age": nil}},
		sql:     "SELECT * FROM person WHERE age IS NULL AND name = :nameW1",
		params:  map[string]any{"nameW1": "Fred"},
	}, {
		summary: "not equal NULL",
		action:  dialect.Select,
		query:   dialect.Query{Table: "person", Where: clause.M{"a": []any{"!=", nil}}},
		sql:     "SELECT * FROM person WHERE a IS NOT NULL",
	}, {
		summary: "identifiers are quoted when needed",
		action:  dialect.Select,
		query:   dialect.Query{Table: clause.Ident("order"), Columns: []any{clause.Ident("id"), "COUNT(*)"}},
		sql:     `SELECT id, COUNT(*) FROM "order"`,
	}, {
		summary: "full select",
		action:  dialect.Select,
		query: dialect.Query{
			Table:   "person",
			Columns: []string{"name", "COUNT(*)"},
			Where:   clause.M{"age": []any{">", 18}},
			Group:   "name",
			Order:   []any{"name", true},
			Limit:   []int{10, 20},
		},
		sql:    "SELECT name, COUNT(*) FROM person WHERE age > :ageW0 GROUP BY name ORDER BY name LIMIT :limit OFFSET :offset",
		params: map[string]any{"ageW0": 18, "limit": int64(10), "offset": int64(20)},
	}, {
		summary: "membership expands one placeholder per element",
		action:  dialect.Select,
		query:   dialect.Query{Table: "t", Where: clause.Where{{"id", "in", []int{1, 2}}}},
		sql:     "SELECT * FROM t WHERE id IN (:idW0_0, :idW0_1)",
		params:  map[string]any{"idW0_0": 1, "idW0_1": 2},
	}, {
		summary: "negated membership of a set",
		action:  dialect.Select,
		query:   dialect.Query{Table: "t", Where: clause.M{"id": []any{"NOT IN", map[string]bool{"b": true, "a": true}}}},
		sql:     "SELECT * FROM t WHERE id NOT IN (:idW0_0, :idW0_1)",
		params:  map[string]any{"idW0_0": "a", "idW0_1": "b"},
	}, {
		summary: "empty membership is always false",
		action:  dialect.Select,
		query:   dialect.Query{Table: "t", Where: clause.Where{{"id", "IN", []int{}}}},
		sql:     "SELECT * FROM t WHERE (1 = 0)",
	}, {
		summary: "empty negated membership is always true",
		action:  dialect.Select,
		query:   dialect.Query{Table: "t", Where: clause.Where{{"id", "NOT IN", nil}}},
		sql:     "SELECT * FROM t WHERE (1 = 1)",
	}, {
		summary: "EXPR condition",
		action:  dialect.Select,
		query:   dialect.Query{Table: "t", Where: clause.Where{{"EXPR", []any{"a > ? OR b < ?", []int{1, 2}}}}},
		sql:     "SELECT * FROM t WHERE (a > :EXPRW0_0 OR b < :EXPRW0_1)",
		params:  map[string]any{"EXPRW0_0": 1, "EXPRW0_1": 2},
	}, {
		summary: "value fragment with placeholder",
		action:  dialect.Select,
		query:   dialect.Query{Table: "t", Where: clause.M{"name": []any{"LOWER(?)", "FRED"}}},
		sql:     "SELECT * FROM t WHERE (name = LOWER(:nameW0_0))",
		params:  map[string]any{"nameW0_0": "FRED"},
	}, {
		summary: "raw conditions",
		action:  dialect.Delete,
		query:   dialect.Query{Table: "t", Where: []any{"deleted = 1", []any{"age", "<", 3}}},
		sql:     "DELETE FROM t WHERE (deleted = 1) AND age < :ageW1",
		params:  map[string]any{"ageW1": 3},
	}, {
		summary: "offset without limit",
		action:  dialect.Select,
		query:   dialect.Query{Table: "t", Limit: []any{nil, 1}},
		sql:     "SELECT * FROM t LIMIT :limit OFFSET :offset",
		params:  map[string]any{"limit": int64(-1), "offset": int64(1)},
	}, {
		summary: "offset zero without limit",
		action:  dialect.Select,
		query:   dialect.Query{Table: "t", Limit: []any{-1, 0}},
		sql:     "SELECT * FROM t LIMIT :limit OFFSET :offset",
		params:  map[string]any{"limit": int64(-1), "offset": int64(0)},
	}, {
		summary: "zero limit",
		action:  dialect.Select,
		query:   dialect.Query{Table: "t", Limit: 0},
		sql:     "SELECT * FROM t LIMIT :limit",
		params:  map[string]any{"limit": int64(0)},
	}, {
		summary: "no paging",
		action:  dialect.Select,
		query:   dialect.Query{Table: "t", Limit: []any{nil, nil}},
		sql:     "SELECT * FROM t",
	}, {
		summary: "mixed ordering",
		action:  dialect.Select,
		query:   dialect.Query{Table: "t", Order: []any{clause.Ident("Name"), []any{"age", "DESC NULLS LAST"}, clause.Desc("id")}},
		sql:     "SELECT * FROM t ORDER BY Name, age DESC NULLS LAST, id DESC",
	}, {
		summary: "insert",
		action:  dialect.Insert,
		query:   dialect.Query{Table: "person", Values: clause.M{"name": "Fred", "id": 1}},
		sql:     "INSERT INTO person (id, name) VALUES (:idI0, :nameI1)",
		params:  map[string]any{"idI0": 1, "nameI1": "Fred"},
	}, {
		summary: "insert defaults",
		action:  dialect.Insert,
		query:   dialect.Query{Table: "person"},
		sql:     "INSERT INTO person DEFAULT VALUES",
	}, {
		summary: "insert collection",
		action:  dialect.Insert,
		query:   dialect.Query{Table: "t", Values: clause.M{"v": [2]int{1, 2}}},
		sql:     "INSERT INTO t (v) VALUES (:vI0)",
		params:  map[string]any{"vI0": []any{1, 2}},
	}, {
		summary: "update with condition",
		action:  dialect.Update,
		query:   dialect.Query{Table: "person", Values: clause.Where{{"name", "Mary"}, {"age", 30}}, Where: clause.M{"id": 1}},
		sql:     "UPDATE person SET name = :nameU0, age = :ageU1 WHERE id = :idW0",
		params:  map[string]any{"nameU0": "Mary", "ageU1": 30, "idW0": 1},
	}, {
		summary: "blob is scalar",
		action:  dialect.Update,
		query:   dialect.Query{Table: "t", Values: clause.M{"data": []byte("ab")}},
		sql:     "UPDATE t SET data = :dataU0",
		params:  map[string]any{"dataU0": []byte("ab")},
	}, {
		summary: "key of a quoted column",
		action:  dialect.Select,
		query:   dialect.Query{Table: "t", Where: clause.Where{{clause.Ident("my col"), 1}}},
		sql:     `SELECT * FROM t WHERE "my col" = :my_colW0`,
		params:  map[string]any{"my_colW0": 1},
	}}
	checkCompile(c, dialect.SQLite, ':', dialect.Options{}, tests)
}

func (s *DialectSuite) TestPostgresCompile(c *C) {
	one := 1
	tests := []compileTest{{
		summary: "map conditions",
		action:  dialect.Select,
		query:   dialect.Query{Table: "person", Where: clause.M{"name": "Fred", "age": nil}},
		sql:     "SELECT * FROM person WHERE age IS NULL AND name = @nameW1",
		params:  map[string]any{"nameW1": "Fred"},
	}, {
		summary: "membership binds one array",
		action:  dialect.Select,
		query:   dialect.Query{Table: "t", Where: clause.Where{{"id", "in", []int{3, 1}}}},
		sql:     "SELECT * FROM t WHERE id = ANY(@idW0)",
		params:  map[string]any{"idW0": []int{3, 1}},
	}, {
		summary: "negated membership of a set",
		action:  dialect.Select,
		query:   dialect.Query{Table: "t", Where: clause.Where{{"id", "NOT IN", map[string]bool{"b": true, "a": true}}}},
		sql:     "SELECT * FROM t WHERE id <> ALL(@idW0)",
		params:  map[string]any{"idW0": []string{"a", "b"}},
	}, {
		summary: "empty membership",
		action:  dialect.Select,
		query:   dialect.Query{Table: "t", Where: clause.Where{{"id", "IN", []int{}}}},
		sql:     "SELECT * FROM t WHERE (id = ANY('{}'))",
	}, {
		summary: "empty negated membership",
		action:  dialect.Select,
		query:   dialect.Query{Table: "t", Where: clause.Where{{"id", "NOT IN", []string{}}}},
		sql:     "SELECT * FROM t WHERE (NOT id = ANY('{}'))",
	}, {
		summary: "offset without limit",
		action:  dialect.Select,
		query:   dialect.Query{Table: "t", Limit: []any{nil, 1}},
		sql:     "SELECT * FROM t OFFSET @offset",
		params:  map[string]any{"offset": int64(1)},
	}, {
		summary: "limit and offset",
		action:  dialect.Select,
		query:   dialect.Query{Table: "t", Limit: []int{2, 1}},
		sql:     "SELECT * FROM t LIMIT @limit OFFSET @offset",
		params:  map[string]any{"limit": int64(2), "offset": int64(1)},
	}, {
		summary: "mixed case identifiers are quoted",
		action:  dialect.Select,
		query:   dialect.Query{Table: clause.Ident("Order"), Order: []any{clause.Ident("Name"), false}},
		sql:     `SELECT * FROM "Order" ORDER BY "Name" DESC`,
	}, {
		summary: "struct insert drops NULL key and returns it",
		action:  dialect.Insert,
		query:   dialect.Query{Table: Item{}, Values: Item{Name: "x", Tags: []string{"b", "a"}, Doc: map[string]any{"k": 1}}},
		sql:     "INSERT INTO item (name, tags, doc) VALUES (@nameI0, @tagsI1, @docI2) RETURNING id AS id",
		params:  map[string]any{"nameI0": "x", "tagsI1": []string{"b", "a"}, "docI2": `{"k":1}`},
	}, {
		summary: "struct insert keeps a set key",
		action:  dialect.Insert,
		query:   dialect.Query{Table: Item{}, Values: Item{ID: &one, Name: "y"}},
		sql:     "INSERT INTO item (id, name, tags, doc) VALUES (@idI0, @nameI1, @tagsI2, @docI3) RETURNING id AS id",
		params:  map[string]any{"idI0": &one, "nameI1": "y", "tagsI2": nil, "docI3": nil},
	}, {
		summary: "default values with returning",
		action:  dialect.Insert,
		query:   dialect.Query{Table: clause.Ident("item")},
		sql:     "INSERT INTO item DEFAULT VALUES RETURNING id AS id",
	}, {
		summary: "table without key",
		action:  dialect.Insert,
		query:   dialect.Query{Table: "log", Values: clause.M{"msg": "hi"}},
		sql:     "INSERT INTO log (msg) VALUES (@msgI0)",
		params:  map[string]any{"msgI0": "hi"},
	}, {
		summary: "adapter wins over JSON encoding",
		action:  dialect.Update,
		query:   dialect.Query{Table: clause.Ident("item"), Values: clause.Where{{clause.Ident("pos"), Point{1, 2}}, {clause.Ident("doc"), Point{3, 4}}}},
		sql:     "UPDATE item SET pos = @posU0, doc = @docU1",
		params:  map[string]any{"posU0": "(1,2)", "docU1": "(3,4)"},
	}, {
		summary: "declared case of names is recovered",
		action:  dialect.Update,
		query:   dialect.Query{Table: clause.Ident("Person"), Values: clause.Where{{clause.Ident("fullname"), "Fred"}}, Where: clause.M{"id": 7}},
		sql:     `UPDATE person SET "FullName" = @FullNameU0 WHERE id = @idW0`,
		params:  map[string]any{"FullNameU0": "Fred", "idW0": 7},
	}, {
		summary: "array column value from a set",
		action:  dialect.Update,
		query:   dialect.Query{Table: clause.Ident("item"), Values: clause.M{"tags": map[string]bool{"y": true, "x": true}}},
		sql:     "UPDATE item SET tags = @tagsU0",
		params:  map[string]any{"tagsU0": []string{"x", "y"}},
	}, {
		summary: "EXPR keeps the dialect placeholder",
		action:  dialect.Delete,
		query:   dialect.Query{Table: "t", Where: clause.Where{{"EXPR", []any{"data @> ?", "{}"}}}},
		sql:     "DELETE FROM t WHERE (data @> @EXPRW0_0)",
		params:  map[string]any{"EXPRW0_0": "{}"},
	}}
	opts := dialect.Options{Schema: itemSchema, Adapt: adaptPoint}
	checkCompile(c, dialect.Postgres, '@', opts, tests)
}

func (s *DialectSuite) TestDeterministic(c *C) {
	q := dialect.Query{
		Table: "t",
		Where: map[string]any{"a": 1, "b": []int{1, 2}, "c": nil, "d": "x", "e": []any{"LIKE", "y%"}},
		Order: map[string]bool{"b": false, "a": true},
	}
	for _, d := range []dialect.Dialect{dialect.SQLite, dialect.Postgres} {
		first, err := dialect.Compile(d, dialect.Select, q, dialect.Options{})
		c.Assert(err, IsNil)
		for i := 0; i < 20; i++ {
			next, err := dialect.Compile(d, dialect.Select, q, dialect.Options{})
			c.Assert(err, IsNil)
			c.Assert(next, DeepEquals, first)
		}
	}
}

func (s *DialectSuite) TestCompileErrors(c *C) {
	tests := []struct {
		summary string
		action  dialect.Action
		query   dialect.Query
		err     string
		spec    bool
	}{{
		summary: "unsupported action",
		action:  "MERGE",
		query:   dialect.Query{Table: "t"},
		err:     "cannot compile MERGE: unsupported action",
	}, {
		summary: "update without values",
		action:  dialect.Update,
		query:   dialect.Query{Table: "t"},
		err:     "cannot compile UPDATE: no values to update",
	}, {
		summary: "missing table",
		action:  dialect.Select,
		query:   dialect.Query{},
		err:     "cannot compile SELECT: invalid query: missing table",
		spec:    true,
	}, {
		summary: "placeholder count mismatch",
		action:  dialect.Select,
		query:   dialect.Query{Table: "t", Where: clause.Where{{"EXPR", []any{"a = ? AND b = ?", 1}}}},
		err:     `cannot compile SELECT: invalid query: "a = ? AND b = ?" has 2 placeholders but 1 values were given`,
		spec:    true,
	}, {
		summary: "placeholders in a column without matching values",
		action:  dialect.Select,
		query:   dialect.Query{Table: "t", Where: clause.Where{{"a = ? OR b = ?", 5}}},
		err:     `cannot compile SELECT: invalid query: "a = ? OR b = ?" has 2 placeholders but 1 values were given`,
		spec:    true,
	}, {
		summary: "unknown operator",
		action:  dialect.Select,
		query:   dialect.Query{Table: "t", Where: clause.Where{{"a", "GLOB", "x*"}}},
		err:     `cannot compile SELECT: invalid query: unknown operator "GLOB"`,
		spec:    true,
	}, {
		summary: "bad ordering direction",
		action:  dialect.Select,
		query:   dialect.Query{Table: "t", Order: []any{[]any{"a", 1}}},
		err:     "cannot compile SELECT: invalid query: cannot use int as ordering direction",
		spec:    true,
	}}
	for _, t := range tests {
		_, err := dialect.Compile(dialect.Postgres, t.action, t.query, dialect.Options{})
		c.Assert(err, ErrorMatches, regexp.QuoteMeta(t.err), Commentf("test %q failed", t.summary))
		var compileErr *dialect.CompileError
		c.Check(errors.As(err, &compileErr), Equals, true)
		var specErr *clause.SpecError
		c.Check(errors.As(err, &specErr), Equals, t.spec, Commentf("test %q failed", t.summary))
	}
}

func (s *DialectSuite) TestQuote(c *C) {
	tests := []struct {
		dialect dialect.Dialect
		name    string
		force   bool
		quoted  string
	}{
		{dialect.SQLite, "name", false, "name"},
		{dialect.SQLite, "name", true, `"name"`},
		{dialect.SQLite, "select", false, `"select"`},
		{dialect.SQLite, "1abc", false, `"1abc"`},
		{dialect.SQLite, "a b", false, `"a b"`},
		{dialect.SQLite, `a"b`, false, `"a""b"`},
		{dialect.SQLite, "café", false, "café"},
		{dialect.SQLite, "Name", false, "Name"},
		{dialect.Postgres, "name", false, "name"},
		{dialect.Postgres, "user", false, `"user"`},
		{dialect.Postgres, "Name", false, "Name"},
		{dialect.Postgres, "Name", true, `"Name"`},
		{dialect.Postgres, "café", true, `U&"caf\+0000E9"`},
		{dialect.Postgres, `a\é"`, true, `U&"a\\\+0000E9"""`},
	}
	for _, t := range tests {
		c.Check(t.dialect.Quote(t.name, t.force), Equals, t.quoted, Commentf("%s %q", t.dialect.Name(), t.name))
	}

	c.Check(dialect.Postgres.QuoteIdent("name"), Equals, "name")
	c.Check(dialect.Postgres.QuoteIdent("Name"), Equals, `"Name"`)
	c.Check(dialect.Postgres.QuoteIdent("123"), Equals, `"123"`)
	c.Check(dialect.SQLite.QuoteIdent("Name"), Equals, "Name")
}

func (s *DialectSuite) TestOperators(c *C) {
	op, ok := dialect.SQLite.Operator(" is  not ")
	c.Check(ok, Equals, true)
	c.Check(op, Equals, "IS NOT")
	_, ok = dialect.SQLite.Operator("ILIKE")
	c.Check(ok, Equals, false)
	op, ok = dialect.Postgres.Operator("not similar to")
	c.Check(ok, Equals, true)
	c.Check(op, Equals, "NOT SIMILAR TO")
	_, ok = dialect.Postgres.Operator("GLOB")
	c.Check(ok, Equals, false)
}

func (s *DialectSuite) TestMatchName(c *C) {
	tables := dialect.Tables{
		"Person": {Columns: map[string]dialect.TypeHint{"Name": {}, "name_x": {}, "AB": {}, "ab": {}}},
		"person": {},
	}
	c.Check(tables.MatchName("", "Person"), Equals, "Person")
	c.Check(tables.MatchName("", "PERSON"), Equals, "person")
	c.Check(tables.MatchName("Person", "name"), Equals, "Name")
	c.Check(tables.MatchName("Person", "NAME_X"), Equals, "name_x")
	c.Check(tables.MatchName("Person", "Ab"), Equals, "ab")
	c.Check(tables.MatchName("Person", "missing"), Equals, "missing")
}
