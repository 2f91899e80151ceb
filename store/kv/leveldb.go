// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package kv

import (
	"context"
	"os"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBStore persists keys in a leveldb directory.
type LevelDBStore struct {
	db *leveldb.DB
}

var _ Store = (*LevelDBStore)(nil)

// NewLevelDBStore opens (creating if needed) the leveldb database in |dir|.
func NewLevelDBStore(dir string) (*LevelDBStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, ErrBackend.Wrap(err, "open")
	}

	db, err := leveldb.OpenFile(dir, &opt.Options{
		Filter:      filter.NewBloomFilter(10), // 10 bits/key
		WriteBuffer: 1 << 22,                   // 4MiB
	})
	if err != nil {
		return nil, ErrBackend.Wrap(err, "open")
	}

	return &LevelDBStore{db: db}, nil
}

func (ls *LevelDBStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := ls.db.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	} else if err != nil {
		return nil, false, ErrBackend.Wrap(err, "get")
	}
	return val, true, nil
}

func (ls *LevelDBStore) Put(ctx context.Context, key string, val []byte) error {
	if err := ls.db.Put([]byte(key), val, nil); err != nil {
		return ErrBackend.Wrap(err, "put")
	}
	return nil
}

func (ls *LevelDBStore) Remove(ctx context.Context, key string) error {
	if err := ls.db.Delete([]byte(key), nil); err != nil {
		return ErrBackend.Wrap(err, "remove")
	}
	return nil
}

func (ls *LevelDBStore) KeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	iter := ls.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	var keys []string
	for iter.Next() {
		keys = append(keys, string(iter.Key()))
	}
	if err := iter.Error(); err != nil {
		return nil, ErrBackend.Wrap(err, "keys")
	}
	return keys, nil
}

func (ls *LevelDBStore) Close() error {
	if err := ls.db.Close(); err != nil {
		return ErrBackend.Wrap(err, "close")
	}
	return nil
}
