// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package dblite

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Database engines.
const (
	EngineSQLite   = "sqlite"
	EnginePostgres = "postgres"
	EngineDqlite   = "dqlite"
)

// Default Postgres pool size.
const (
	DefaultMinConns = 1
	DefaultMaxConns = 4
)

// Config describes a database to open.
type Config struct {
	// Engine is one of "sqlite", "postgres" or "dqlite". When empty it is
	// detected from DSN.
	Engine string `yaml:"engine"`
	// DSN is a SQLite path, file: URI or ":memory:", a Postgres URL or
	// keyword=value string, or the data directory and database name of a
	// dqlite node ("dir/name").
	DSN string `yaml:"dsn"`
	// Driver overrides the database/sql driver name for SQLite, e.g. "sqlite"
	// for the pure Go driver.
	Driver string `yaml:"driver"`
	// Address is the bind address of a dqlite node.
	Address string `yaml:"address"`
	// MinConns and MaxConns size the Postgres connection pool.
	MinConns int `yaml:"min-conns"`
	MaxConns int `yaml:"max-conns"`
	// Exclusive sets whether transactions exclude each other by default.
	// When nil the engine default is used: true for SQLite, false for
	// Postgres.
	Exclusive *bool `yaml:"exclusive"`
	// Schema is the Postgres schema searched before "public" in transactions.
	Schema string `yaml:"schema"`
}

// engine returns the engine of c, detecting it from the DSN if needed.
func (c Config) engine() (string, error) {
	if c.Engine == "" {
		return DetectEngine(c.DSN)
	}
	switch e := strings.ToLower(c.Engine); e {
	case EngineSQLite, EnginePostgres, EngineDqlite:
		return e, nil
	case "sqlite3":
		return EngineSQLite, nil
	case "postgresql":
		return EnginePostgres, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEngine, c.Engine)
}

func (c Config) poolSize() (int, int) {
	lo, hi := c.MinConns, c.MaxConns
	if lo <= 0 {
		lo = DefaultMinConns
	}
	if hi <= 0 {
		hi = DefaultMaxConns
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("cannot load config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("cannot load config %q: %w", path, err)
	}
	return cfg, nil
}

// ConfigFromEnv reads the configuration from DBLITE_* environment variables.
// Values in the given .env files take precedence over the process
// environment. Missing files are skipped.
func ConfigFromEnv(files ...string) (Config, error) {
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	env := map[string]string{}
	if len(present) > 0 {
		var err error
		env, err = godotenv.Read(present...)
		if err != nil {
			return Config{}, fmt.Errorf("cannot read env files: %w", err)
		}
	}
	lookup := func(key string) string {
		if v, ok := env[key]; ok {
			return v
		}
		return os.Getenv(key)
	}

	cfg := Config{
		Engine:  lookup("DBLITE_ENGINE"),
		DSN:     lookup("DBLITE_DSN"),
		Driver:  lookup("DBLITE_DRIVER"),
		Address: lookup("DBLITE_ADDRESS"),
		Schema:  lookup("DBLITE_SCHEMA"),
	}
	for key, dst := range map[string]*int{"DBLITE_MIN_CONNS": &cfg.MinConns, "DBLITE_MAX_CONNS": &cfg.MaxConns} {
		v := lookup(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("cannot parse %s: %w", key, err)
		}
		*dst = n
	}
	if v := lookup("DBLITE_EXCLUSIVE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("cannot parse DBLITE_EXCLUSIVE: %w", err)
		}
		cfg.Exclusive = &b
	}
	return cfg, nil
}

var schemeRx = regexp.MustCompile(`^\w+://`)

// pgKeywordRx matches a keyword=value connection string setting one of the
// libpq connection keywords.
var pgKeywordRx = regexp.MustCompile(`(?:^|\s)(?:host|hostaddr|port|dbname|user|password|passfile|sslmode|service|application_name|connect_timeout|options|target_session_attrs)\s*=`)

// DetectEngine returns the engine that a connection string is meant for.
// Postgres URLs and keyword=value strings are Postgres; paths, file: URIs
// and ":memory:" are SQLite.
func DetectEngine(dsn string) (string, error) {
	if u, err := url.Parse(dsn); err == nil {
		switch strings.ToLower(u.Scheme) {
		case "postgres", "postgresql":
			return EnginePostgres, nil
		case "sqlite", "sqlite3", "file":
			return EngineSQLite, nil
		case "dqlite":
			return EngineDqlite, nil
		}
	}
	if schemeRx.MatchString(dsn) {
		return "", fmt.Errorf("%w: cannot detect engine of %q", ErrUnknownEngine, dsn)
	}
	if pgKeywordRx.MatchString(dsn) {
		if _, err := pgconn.ParseConfig(dsn); err == nil {
			return EnginePostgres, nil
		}
	}
	if dsn == "" {
		return "", fmt.Errorf("%w: empty connection string", ErrUnknownEngine)
	}
	return EngineSQLite, nil
}

var urlBasics = []struct{ key, prefix string }{
	{"user", ""}, {"password", ":"}, {"host", ""}, {"port", ":"}, {"dbname", "/"},
}

// PostgresURL builds a postgresql:// URL from keyword options such as
// "user", "host" and "dbname". Options other than the URL parts are added
// as query parameters.
func PostgresURL(opts map[string]string) string {
	var b strings.Builder
	b.WriteString("postgresql://")
	creds := false
	for i, part := range urlBasics {
		if creds && i > 1 {
			b.WriteString("@")
			creds = false
		}
		if v, ok := opts[part.key]; ok {
			b.WriteString(part.prefix + escapeURLPart(v))
			creds = i < 2
		}
	}
	var extra []string
	for k := range opts {
		if !isURLBasic(k) {
			extra = append(extra, k)
		}
	}
	if len(extra) > 0 {
		if _, ok := opts["dbname"]; !ok {
			b.WriteString("/")
		}
		sort.Strings(extra)
		q := url.Values{}
		for _, k := range extra {
			q.Set(k, opts[k])
		}
		b.WriteString("?" + q.Encode())
	}
	return b.String()
}

func isURLBasic(key string) bool {
	for _, part := range urlBasics {
		if part.key == key {
			return true
		}
	}
	return false
}

func escapeURLPart(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
