// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

//go:build !dqlite

package dblite

import "fmt"

func newDqliteBackend(Config) (backend, error) {
	return nil, fmt.Errorf("%w: dqlite support requires the dqlite build tag", ErrUnknownEngine)
}
