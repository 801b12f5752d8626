package dblite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"
)

// This file contains a wrapper sql.Driver over the SQLite driver which
// records the statements run on each connection, so that tests can check the
// transaction statements issued.

// statementsRun stores the statements run, indexed by test name. The mutex
// must be held when accessing it.
var statementsRun = map[string][]string{}
var statementsRunMutex sync.Mutex

type recordingDriver struct {
	driver.Driver
}

type recordingConn struct {
	testName string
	*sqlite3.SQLiteConn
}

func (c *recordingConn) record(query string) {
	statementsRunMutex.Lock()
	defer statementsRunMutex.Unlock()
	statementsRun[c.testName] = append(statementsRun[c.testName], query)
}

func (c *recordingConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	rows, err := c.SQLiteConn.QueryContext(ctx, query, args)
	if err == nil {
		c.record(query)
	}
	return rows, err
}

func (c *recordingConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	res, err := c.SQLiteConn.ExecContext(ctx, query, args)
	if err == nil {
		c.record(query)
	}
	return res, err
}

const testNameTag = "testName"

// Open expects the DSN to contain the test name using the testNameTag
// attribute.
func (d *recordingDriver) Open(name string) (driver.Conn, error) {
	var testName string
	if _, parameters, ok := strings.Cut(name, "?"); ok {
		for _, p := range strings.Split(parameters, "&") {
			if v, ok := strings.CutPrefix(p, testNameTag+"="); ok {
				testName = v
			}
		}
	}
	if testName == "" {
		panic("internal error: testName is not found in the db DSN")
	}

	baseConn, err := d.Driver.Open(name)
	if err != nil {
		return nil, err
	}
	if baseConn, ok := baseConn.(*sqlite3.SQLiteConn); ok {
		return &recordingConn{SQLiteConn: baseConn, testName: testName}, nil
	}
	panic(fmt.Sprintf("internal error: base driver is not SQLite, got %T", baseConn))
}

// recorded returns the statements run for testName that start with one of
// the given prefixes.
func recorded(testName string, prefixes ...string) []string {
	statementsRunMutex.Lock()
	defer statementsRunMutex.Unlock()
	var out []string
	for _, q := range statementsRun[testName] {
		for _, p := range prefixes {
			if strings.HasPrefix(q, p) {
				out = append(out, q)
				break
			}
		}
	}
	return out
}

func init() {
	sql.Register("sqlite3_recorded", &recordingDriver{
		&sqlite3.SQLiteDriver{},
	})
}
