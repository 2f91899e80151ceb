// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

// Package kv holds the key/value backends that databases persist into. A
// backend is an opaque map from string keys to byte values with prefix
// enumeration. It makes no transactional promises and imposes no ordering
// between keys beyond what callers encode in the keys themselves.
package kv

import (
	"context"
	"io"

	"gopkg.in/src-d/go-errors.v1"
)

// ErrBackend wraps any failure surfaced by an underlying storage driver. The
// wrapped cause is not interpreted further.
var ErrBackend = errors.NewKind("kv backend failure during %s")

// Store is the contract every backend implements.
type Store interface {
	// Get returns the value stored at |key|. The returned bool is false when
	// the key is absent, in which case the returned slice is nil.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put stores |val| at |key|, replacing any previous value. Implementations
	// must not retain |val| after returning.
	Put(ctx context.Context, key string, val []byte) error

	// Remove deletes |key|. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// KeysWithPrefix returns every key beginning with |prefix| in ascending
	// byte order.
	KeysWithPrefix(ctx context.Context, prefix string) ([]string, error)

	io.Closer
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}
