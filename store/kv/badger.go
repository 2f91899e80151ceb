// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package kv

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// BadgerStore persists keys in a badger LSM directory.
type BadgerStore struct {
	db *badger.DB
}

var _ Store = (*BadgerStore)(nil)

// NewBadgerStore opens (creating if needed) the badger database in |dir|. An
// empty |dir| opens a purely in-memory badger instance.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(logrus.WithField("backend", "badger")).
		WithLoggingLevel(badger.WARNING)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, ErrBackend.Wrap(err, "open")
	}
	return &BadgerStore{db: db}, nil
}

func (bs *BadgerStore) Get(ctx context.Context, key string) (val []byte, ok bool, err error) {
	err = bs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		} else if err != nil {
			return err
		}

		val, err = item.ValueCopy(nil)
		ok = err == nil
		return err
	})
	if err != nil {
		return nil, false, ErrBackend.Wrap(err, "get")
	}
	return val, ok, nil
}

func (bs *BadgerStore) Put(ctx context.Context, key string, val []byte) error {
	err := bs.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), copyBytes(val))
	})
	if err != nil {
		return ErrBackend.Wrap(err, "put")
	}
	return nil
}

func (bs *BadgerStore) Remove(ctx context.Context, key string) error {
	err := bs.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return ErrBackend.Wrap(err, "remove")
	}
	return nil
}

func (bs *BadgerStore) KeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	p := []byte(prefix)
	err := bs.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = p

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, ErrBackend.Wrap(err, "keys")
	}
	return keys, nil
}

func (bs *BadgerStore) Close() error {
	if err := bs.db.Close(); err != nil {
		return ErrBackend.Wrap(err, "close")
	}
	return nil
}
