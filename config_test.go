package dblite_test

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"

	. "gopkg.in/check.v1"

	"github.com/canonical/dblite"
)

type ConfigSuite struct {
	env map[string]*string
}

var _ = Suite(&ConfigSuite{})

// setenv sets an environment variable until the end of the test.
func (s *ConfigSuite) setenv(key, value string) {
	if _, ok := s.env[key]; !ok {
		if old, ok := os.LookupEnv(key); ok {
			s.env[key] = &old
		} else {
			s.env[key] = nil
		}
	}
	os.Setenv(key, value)
}

func (s *ConfigSuite) SetUpTest(c *C) {
	s.env = map[string]*string{}
}

func (s *ConfigSuite) TearDownTest(c *C) {
	for key, old := range s.env {
		if old == nil {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, *old)
		}
	}
}

func (s *ConfigSuite) TestDetectEngine(c *C) {
	tests := []struct {
		dsn    string
		engine string
		err    string
	}{
		{dsn: "postgres://user@localhost/app", engine: dblite.EnginePostgres},
		{dsn: "postgresql://localhost", engine: dblite.EnginePostgres},
		{dsn: "host=localhost dbname=app", engine: dblite.EnginePostgres},
		{dsn: "/var/lib/app/app.db", engine: dblite.EngineSQLite},
		{dsn: "app.db", engine: dblite.EngineSQLite},
		{dsn: "data/a=b.db", engine: dblite.EngineSQLite},
		{dsn: "/srv/user=x/app.db", engine: dblite.EngineSQLite},
		{dsn: "dbname=app sslmode=disable", engine: dblite.EnginePostgres},
		{dsn: ":memory:", engine: dblite.EngineSQLite},
		{dsn: "file:app.db?mode=memory", engine: dblite.EngineSQLite},
		{dsn: "dqlite://data/app", engine: dblite.EngineDqlite},
		{dsn: "mysql://localhost/app", err: `unknown database engine: cannot detect engine of "mysql://localhost/app"`},
		{dsn: "", err: "unknown database engine: empty connection string"},
	}
	for _, t := range tests {
		engine, err := dblite.DetectEngine(t.dsn)
		if t.err != "" {
			c.Check(err, ErrorMatches, regexp.QuoteMeta(t.err), Commentf("dsn %q", t.dsn))
			c.Check(errors.Is(err, dblite.ErrUnknownEngine), Equals, true)
			continue
		}
		c.Check(err, IsNil, Commentf("dsn %q", t.dsn))
		c.Check(engine, Equals, t.engine, Commentf("dsn %q", t.dsn))
	}
}

func (s *ConfigSuite) TestUnknownEngine(c *C) {
	_, err := dblite.New(dblite.Config{Engine: "oracle", DSN: "x"})
	c.Check(errors.Is(err, dblite.ErrUnknownEngine), Equals, true)
}

func (s *ConfigSuite) TestPostgresURL(c *C) {
	tests := []struct {
		opts map[string]string
		url  string
	}{{
		opts: map[string]string{"user": "u", "password": "p w", "host": "h", "port": "5432", "dbname": "db", "sslmode": "disable"},
		url:  "postgresql://u:p%20w@h:5432/db?sslmode=disable",
	}, {
		opts: map[string]string{"host": "h"},
		url:  "postgresql://h",
	}, {
		opts: map[string]string{"host": "h", "connect_timeout": "10", "application_name": "app"},
		url:  "postgresql://h/?application_name=app&connect_timeout=10",
	}, {
		opts: map[string]string{"user": "u", "host": "h", "dbname": "db"},
		url:  "postgresql://u@h/db",
	}}
	for _, t := range tests {
		c.Check(dblite.PostgresURL(t.opts), Equals, t.url)
	}
}

func (s *ConfigSuite) TestLoadConfig(c *C) {
	path := filepath.Join(c.MkDir(), "db.yaml")
	err := os.WriteFile(path, []byte(`
engine: postgres
dsn: postgres://localhost/app
min-conns: 2
max-conns: 8
exclusive: true
schema: tenant
`), 0o644)
	c.Assert(err, IsNil)

	cfg, err := dblite.LoadConfig(path)
	c.Assert(err, IsNil)
	exclusive := true
	c.Check(cfg, DeepEquals, dblite.Config{
		Engine:    "postgres",
		DSN:       "postgres://localhost/app",
		MinConns:  2,
		MaxConns:  8,
		Exclusive: &exclusive,
		Schema:    "tenant",
	})

	_, err = dblite.LoadConfig(filepath.Join(c.MkDir(), "missing.yaml"))
	c.Check(err, ErrorMatches, "cannot load config: .*")
}

func (s *ConfigSuite) TestConfigFromEnv(c *C) {
	dir := c.MkDir()
	envFile := filepath.Join(dir, ".env")
	err := os.WriteFile(envFile, []byte("DBLITE_DSN=/var/lib/app/app.db\nDBLITE_MAX_CONNS=3\nDBLITE_EXCLUSIVE=false\n"), 0o644)
	c.Assert(err, IsNil)
	s.setenv("DBLITE_ENGINE", "sqlite")
	s.setenv("DBLITE_DSN", "overridden.db")
	s.setenv("DBLITE_MIN_CONNS", "")

	cfg, err := dblite.ConfigFromEnv(envFile, filepath.Join(dir, "missing.env"))
	c.Assert(err, IsNil)
	exclusive := false
	c.Check(cfg, DeepEquals, dblite.Config{
		Engine:    "sqlite",
		DSN:       "/var/lib/app/app.db",
		MaxConns:  3,
		Exclusive: &exclusive,
	})

	s.setenv("DBLITE_MIN_CONNS", "lots")
	_, err = dblite.ConfigFromEnv()
	c.Check(err, ErrorMatches, `cannot parse DBLITE_MIN_CONNS: .*`)
}
