// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package kv

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("browsercouch")

// BoltStore keeps all keys in a single bbolt bucket.
type BoltStore struct {
	db *bolt.DB
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore opens (creating if needed) the bbolt file at |path|.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, ErrBackend.Wrap(err, "open")
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, ErrBackend.Wrap(err, "open")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, ErrBackend.Wrap(err, "open")
	}

	return &BoltStore{db: db}, nil
}

func (bs *BoltStore) Get(ctx context.Context, key string) (val []byte, ok bool, err error) {
	err = bs.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boltBucket).Get([]byte(key))
		if v != nil {
			// bolt values are only valid for the life of the transaction
			val, ok = copyBytes(v), true
		}
		return nil
	})
	if err != nil {
		return nil, false, ErrBackend.Wrap(err, "get")
	}
	return val, ok, nil
}

func (bs *BoltStore) Put(ctx context.Context, key string, val []byte) error {
	err := bs.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(key), copyBytes(val))
	})
	if err != nil {
		return ErrBackend.Wrap(err, "put")
	}
	return nil
}

func (bs *BoltStore) Remove(ctx context.Context, key string) error {
	err := bs.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Delete([]byte(key))
	})
	if err != nil {
		return ErrBackend.Wrap(err, "remove")
	}
	return nil
}

func (bs *BoltStore) KeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	p := []byte(prefix)
	err := bs.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(boltBucket).Cursor()
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, ErrBackend.Wrap(err, "keys")
	}
	return keys, nil
}

func (bs *BoltStore) Close() error {
	if err := bs.db.Close(); err != nil {
		return ErrBackend.Wrap(err, "close")
	}
	return nil
}
