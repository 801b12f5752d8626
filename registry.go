// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package dblite

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
)

// Adapter converts a Go value into a value the driver can bind.
type Adapter func(v any) (any, error)

// Converter converts a value read from a column of a registered database type.
// It is not called for NULL.
type Converter func(v any) (any, error)

// Registry holds value adapters, column converters and the databases opened
// through it. Adapters and converters registered for no engine in particular
// apply to all of them.
//
// The mutex must be locked when accessing any of the maps.
type Registry struct {
	adapters   map[string]map[reflect.Type]Adapter
	converters map[string]map[string]Converter
	dbs        map[string]*Database
	// order lists the keys of dbs in insertion order.
	order []string
	mutex sync.RWMutex
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters:   map[string]map[reflect.Type]Adapter{},
		converters: map[string]map[string]Converter{},
		dbs:        map[string]*Database{},
	}
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the registry used by the package-level functions.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// RegisterAdapter registers fn for the types of the sample values, for the
// given engines or for all of them.
func (r *Registry) RegisterAdapter(fn Adapter, samples []any, engines ...string) {
	if len(engines) == 0 {
		engines = []string{""}
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, e := range engines {
		m, ok := r.adapters[e]
		if !ok {
			m = map[reflect.Type]Adapter{}
			r.adapters[e] = m
		}
		for _, v := range samples {
			m[reflect.TypeOf(v)] = fn
		}
	}
}

// RegisterConverter registers fn for columns of the named database types, for
// the given engines or for all of them. Type names are case-insensitive.
func (r *Registry) RegisterConverter(fn Converter, typeNames []string, engines ...string) {
	if len(engines) == 0 {
		engines = []string{""}
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, e := range engines {
		m, ok := r.converters[e]
		if !ok {
			m = map[string]Converter{}
			r.converters[e] = m
		}
		for _, name := range typeNames {
			m[strings.ToUpper(name)] = fn
		}
	}
}

// adapter returns the adapter of t, preferring one registered for engine.
func (r *Registry) adapter(engine string, t reflect.Type) (Adapter, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if fn, ok := r.adapters[engine][t]; ok {
		return fn, true
	}
	fn, ok := r.adapters[""][t]
	return fn, ok
}

// convertersFor returns the converters that apply to engine, by type name.
func (r *Registry) convertersFor(engine string) map[string]Converter {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	out := map[string]Converter{}
	for name, fn := range r.converters[""] {
		out[name] = fn
	}
	for name, fn := range r.converters[engine] {
		out[name] = fn
	}
	return out
}

// Open returns the open database described by cfg, opening it if it is not
// open yet. A database is shared by all callers opening the same engine and
// DSN.
func (r *Registry) Open(ctx context.Context, cfg Config, opts ...Option) (*Database, error) {
	engine, err := cfg.engine()
	if err != nil {
		return nil, err
	}
	cfg.Engine = engine
	key := engine + ":" + cfg.DSN

	r.mutex.RLock()
	db, ok := r.dbs[key]
	r.mutex.RUnlock()
	if !ok {
		db, err = New(cfg, append(opts, WithRegistry(r))...)
		if err != nil {
			return nil, err
		}
		r.mutex.Lock()
		// Check if a database has been inserted by someone else since we
		// last checked.
		if dbAlt, ok := r.dbs[key]; ok {
			db = dbAlt
		} else {
			r.dbs[key] = db
			r.order = append(r.order, key)
		}
		r.mutex.Unlock()
	}
	if err := db.Open(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// Lookup returns the first database opened for engine, or the first database
// opened at all if engine is empty.
func (r *Registry) Lookup(engine string) (*Database, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	for _, key := range r.order {
		db := r.dbs[key]
		if engine == "" || db.Engine() == engine {
			return db, true
		}
	}
	return nil, false
}

// Close closes all databases opened through r and forgets them.
func (r *Registry) Close(ctx context.Context) error {
	r.mutex.Lock()
	dbs := make([]*Database, 0, len(r.order))
	for _, key := range r.order {
		dbs = append(dbs, r.dbs[key])
	}
	r.dbs = map[string]*Database{}
	r.order = nil
	r.mutex.Unlock()

	var errs []error
	for _, db := range dbs {
		errs = append(errs, db.Close(ctx))
	}
	return errors.Join(errs...)
}

// forget removes db from r.
func (r *Registry) forget(db *Database) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for i, key := range r.order {
		if r.dbs[key] == db {
			delete(r.dbs, key)
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// Open opens the database described by cfg through the default registry.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Database, error) {
	return defaultRegistry.Open(ctx, cfg, opts...)
}

// RegisterAdapter registers fn in the default registry.
func RegisterAdapter(fn Adapter, samples []any, engines ...string) {
	defaultRegistry.RegisterAdapter(fn, samples, engines...)
}

// RegisterConverter registers fn in the default registry.
func RegisterConverter(fn Converter, typeNames []string, engines ...string) {
	defaultRegistry.RegisterConverter(fn, typeNames, engines...)
}
