// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

//go:build dqlite

package dblite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/canonical/go-dqlite/app"
)

// newDqliteBackend runs a dqlite node in the directory of cfg.DSN and opens
// the database named by its last element. Statements use the SQLite dialect.
func newDqliteBackend(cfg Config) (backend, error) {
	dir, name := filepath.Dir(cfg.DSN), filepath.Base(cfg.DSN)
	if cfg.DSN == "" || name == "." || name == string(filepath.Separator) {
		return nil, fmt.Errorf("invalid dqlite database %q: want \"dir/name\"", cfg.DSN)
	}
	var node *app.App
	b := &sqliteBackend{}
	b.connect = func(ctx context.Context) (*sql.DB, error) {
		if err := makeParentDir(filepath.Join(dir, name)); err != nil {
			return nil, err
		}
		var opts []app.Option
		if cfg.Address != "" {
			opts = append(opts, app.WithAddress(cfg.Address))
		}
		var err error
		node, err = app.New(dir, opts...)
		if err != nil {
			return nil, fmt.Errorf("cannot start dqlite node: %w", err)
		}
		if err := node.Ready(ctx); err != nil {
			node.Close()
			return nil, fmt.Errorf("dqlite node not ready: %w", err)
		}
		db, err := node.Open(ctx, name)
		if err != nil {
			node.Close()
			return nil, err
		}
		return db, nil
	}
	b.owned = true
	b.disconnect = func() error {
		if node == nil {
			return nil
		}
		err := node.Close()
		node = nil
		return err
	}
	return b, nil
}
