// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package kv

import (
	"context"
	"strings"
	"sync"

	"github.com/google/btree"
)

const memoryDegree = 32

type memItem struct {
	key string
	val []byte
}

func memItemLess(a, b memItem) bool {
	return a.key < b.key
}

// MemoryStore is a non-persistent Store, useful for tests and for databases
// that only live as long as the process. Values are copied on the way in and
// on the way out so callers can never alias stored data.
type MemoryStore struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[memItem]
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tree: btree.NewG[memItem](memoryDegree, memItemLess)}
}

func (ms *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	item, ok := ms.tree.Get(memItem{key: key})
	if !ok {
		return nil, false, nil
	}
	return copyBytes(item.val), true, nil
}

func (ms *MemoryStore) Put(ctx context.Context, key string, val []byte) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if val == nil {
		val = []byte{}
	}
	ms.tree.ReplaceOrInsert(memItem{key: key, val: copyBytes(val)})
	return nil
}

func (ms *MemoryStore) Remove(ctx context.Context, key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.tree.Delete(memItem{key: key})
	return nil
}

func (ms *MemoryStore) KeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var keys []string
	ms.tree.AscendGreaterOrEqual(memItem{key: prefix}, func(item memItem) bool {
		if !strings.HasPrefix(item.key, prefix) {
			return false
		}
		keys = append(keys, item.key)
		return true
	})
	return keys, nil
}

// Len returns the number of keys held.
func (ms *MemoryStore) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.tree.Len()
}

func (ms *MemoryStore) Close() error {
	return nil
}
