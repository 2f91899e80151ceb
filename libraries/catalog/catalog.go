// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

// Package catalog tracks the named databases that share one kv.Store.
package catalog

import (
	"context"
	"sort"
	"sync"

	json "github.com/goccy/go-json"
	"gopkg.in/src-d/go-errors.v1"

	"github.com/peterbraden/browsercouch/libraries/database"
	"github.com/peterbraden/browsercouch/store/kv"
)

var (
	ErrDatabaseExists   = errors.NewKind("database '%s' already exists")
	ErrDatabaseNotFound = errors.NewKind("database '%s' does not exist")
)

const catalogKey = "BC_CATALOG"

// Catalog hands out one *database.Database per name. Databases are
// registered in a catalog record the first time they are opened.
type Catalog struct {
	store kv.Store
	opts  []database.Option

	mu  sync.Mutex
	dbs map[string]*database.Database
}

func New(store kv.Store, opts ...database.Option) *Catalog {
	return &Catalog{
		store: store,
		opts:  opts,
		dbs:   make(map[string]*database.Database),
	}
}

func (c *Catalog) Store() kv.Store {
	return c.store
}

// Open returns the database |name|, creating it if needed.
func (c *Catalog) Open(ctx context.Context, name string) (*database.Database, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openLocked(ctx, name)
}

// Get returns the database |name| only if it already exists.
func (c *Catalog) Get(ctx context.Context, name string) (*database.Database, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	names, err := c.readNames(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := names[name]; !ok {
		return nil, ErrDatabaseNotFound.New(name)
	}
	return c.openLocked(ctx, name)
}

// Create registers a new database. It fails if |name| is already taken.
func (c *Catalog) Create(ctx context.Context, name string) (*database.Database, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	names, err := c.readNames(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := names[name]; ok {
		return nil, ErrDatabaseExists.New(name)
	}
	return c.openLocked(ctx, name)
}

// Drop wipes the database |name| and removes it from the catalog.
func (c *Catalog) Drop(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	names, err := c.readNames(ctx)
	if err != nil {
		return err
	}
	if _, ok := names[name]; !ok {
		return ErrDatabaseNotFound.New(name)
	}

	db, err := c.openLocked(ctx, name)
	if err != nil {
		return err
	}
	if err := db.Wipe(ctx); err != nil {
		return err
	}

	delete(names, name)
	delete(c.dbs, name)
	return c.writeNames(ctx, names)
}

// AllDbs returns the names of every database in the catalog, sorted.
func (c *Catalog) AllDbs(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	names, err := c.readNames(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (c *Catalog) Close() error {
	return c.store.Close()
}

func (c *Catalog) openLocked(ctx context.Context, name string) (*database.Database, error) {
	if db, ok := c.dbs[name]; ok {
		return db, nil
	}

	db, err := database.Open(ctx, name, c.store, c.opts...)
	if err != nil {
		return nil, err
	}

	names, err := c.readNames(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := names[name]; !ok {
		names[name] = struct{}{}
		if err := c.writeNames(ctx, names); err != nil {
			return nil, err
		}
	}

	c.dbs[name] = db
	return db, nil
}

func (c *Catalog) readNames(ctx context.Context) (map[string]struct{}, error) {
	names := make(map[string]struct{})
	data, ok, err := c.store.Get(ctx, catalogKey)
	if err != nil || !ok {
		return names, err
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	for _, n := range list {
		names[n] = struct{}{}
	}
	return names, nil
}

func (c *Catalog) writeNames(ctx context.Context, names map[string]struct{}) error {
	list := make([]string, 0, len(names))
	for n := range names {
		list = append(list, n)
	}
	sort.Strings(list)

	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return c.store.Put(ctx, catalogKey, data)
}
