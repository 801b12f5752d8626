package dblite

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"regexp"
	"time"

	. "gopkg.in/check.v1"
)

type RegistrySuite struct{}

var _ = Suite(&RegistrySuite{})

type celsius float64

func (s *RegistrySuite) TestAdapterPrecedence(c *C) {
	r := NewRegistry()
	r.RegisterAdapter(func(v any) (any, error) { return "any", nil }, []any{celsius(0)})
	r.RegisterAdapter(func(v any) (any, error) { return "postgres", nil }, []any{celsius(0)}, EnginePostgres)

	for engine, want := range map[string]string{EnginePostgres: "postgres", EngineSQLite: "any"} {
		fn, ok := r.adapter(engine, reflect.TypeOf(celsius(1)))
		c.Assert(ok, Equals, true)
		v, err := fn(celsius(1))
		c.Assert(err, IsNil)
		c.Check(v, Equals, want)
	}
	_, ok := r.adapter(EngineSQLite, reflect.TypeOf(1.5))
	c.Check(ok, Equals, false)
}

func (s *RegistrySuite) TestConvertersFor(c *C) {
	r := NewRegistry()
	r.RegisterConverter(func(v any) (any, error) { return "all", nil }, []string{"point", "Box"})
	r.RegisterConverter(func(v any) (any, error) { return "sqlite", nil }, []string{"POINT"}, EngineSQLite)

	convs := r.convertersFor(EngineSQLite)
	c.Assert(convs, HasLen, 2)
	v, _ := convs["POINT"](nil)
	c.Check(v, Equals, "sqlite")
	v, _ = convs["BOX"](nil)
	c.Check(v, Equals, "all")

	convs = r.convertersFor(EnginePostgres)
	v, _ = convs["POINT"](nil)
	c.Check(v, Equals, "all")
}

func (s *RegistrySuite) TestNamedArgs(c *C) {
	args := namedArgs(map[string]any{"b": 2, "a": 1})
	c.Check(args, DeepEquals, []any{sql.Named("a", 1), sql.Named("b", 2)})
}

type LockSuite struct{}

var _ = Suite(&LockSuite{})

func (s *LockSuite) TestReentrant(c *C) {
	l := newExclusiveLock()
	ctx := context.Background()
	c.Check(l.holds(ctx), Equals, false)

	held, release, err := l.acquire(ctx)
	c.Assert(err, IsNil)
	c.Check(l.holds(held), Equals, true)

	again, releaseAgain, err := l.acquire(held)
	c.Assert(err, IsNil)
	c.Check(again, Equals, held)
	releaseAgain()
	c.Check(l.holds(held), Equals, true)

	timeout, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, _, err = l.acquire(timeout)
	c.Check(errors.Is(err, context.DeadlineExceeded), Equals, true)

	release()
	release()
	c.Check(l.holds(held), Equals, false)

	// A context kept past its release waits like any other.
	_, release, err = l.acquire(held)
	c.Assert(err, IsNil)
	release()
}

func (s *LockSuite) TestLocksAreIndependent(c *C) {
	a, b := newExclusiveLock(), newExclusiveLock()
	ctx, release, err := a.acquire(context.Background())
	c.Assert(err, IsNil)
	defer release()
	c.Check(b.holds(ctx), Equals, false)
	_, releaseB, err := b.acquire(ctx)
	c.Assert(err, IsNil)
	releaseB()
}

type SavepointSuite struct {
	db *Database
}

var _ = Suite(&SavepointSuite{})

func (s *SavepointSuite) SetUpTest(c *C) {
	sqldb, err := sql.Open("sqlite3_recorded", ":memory:?"+testNameTag+"="+c.TestName())
	c.Assert(err, IsNil)
	sqldb.SetMaxOpenConns(1)
	db, err := New(Config{Engine: EngineSQLite}, WithDB(sqldb), WithRegistry(NewRegistry()))
	c.Assert(err, IsNil)
	c.Assert(db.Open(context.Background()), IsNil)
	c.Assert(db.ExecuteScript(context.Background(), "CREATE TABLE t (x INTEGER)"), IsNil)
	s.db = db
}

func (s *SavepointSuite) TearDownTest(c *C) {
	c.Check(s.db.Close(context.Background()), IsNil)
	sqldb := s.db.backend.(*sqliteBackend)
	c.Check(sqldb.conn, IsNil)
}

var savepointRx = regexp.MustCompile(`"tx_[0-9a-f]{32}"`)

// savepoints returns the transaction statements run in the test, with
// savepoint names replaced by their order of appearance.
func savepoints(c *C) []string {
	names := map[string]string{}
	var out []string
	for _, q := range recorded(c.TestName(), "SAVEPOINT", "RELEASE", "ROLLBACK") {
		out = append(out, savepointRx.ReplaceAllStringFunc(q, func(name string) string {
			if _, ok := names[name]; !ok {
				names[name] = string(rune('A' + len(names)))
			}
			return names[name]
		}))
	}
	return out
}

func (s *SavepointSuite) TestNestedScopes(c *C) {
	ctx := context.Background()
	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx *Transaction) error {
		if _, err := tx.Insert(ctx, "t", M{"x": 1}); err != nil {
			return err
		}
		err := tx.Do(ctx, func(ctx context.Context, tx *Transaction) error {
			return ErrRollback
		})
		if err != nil {
			return err
		}
		_, err = tx.Insert(ctx, "t", M{"x": 2})
		return err
	})
	c.Assert(err, IsNil)
	c.Check(savepoints(c), DeepEquals, []string{
		"SAVEPOINT A",
		"ROLLBACK TO A",
		"RELEASE A",
		"SAVEPOINT A",
		"RELEASE A",
	})
}

func (s *SavepointSuite) TestTransactionsInTransaction(c *C) {
	ctx := context.Background()
	err := s.db.WithTransaction(ctx, func(ctx context.Context, outer *Transaction) error {
		return s.db.WithTransaction(ctx, func(ctx context.Context, inner *Transaction) error {
			return ErrRollback
		})
	})
	c.Assert(err, IsNil)
	c.Check(savepoints(c), DeepEquals, []string{
		"SAVEPOINT A",
		"SAVEPOINT B",
		"ROLLBACK TO B",
		"RELEASE B",
		"RELEASE A",
	})
}

func (s *SavepointSuite) TestUnusedTransactionRunsNothing(c *C) {
	ctx := context.Background()
	tx := s.db.Transaction()
	c.Assert(tx.Close(ctx), IsNil)
	c.Check(savepoints(c), HasLen, 0)
	c.Check(s.db.txs, HasLen, 0)
}
