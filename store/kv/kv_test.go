// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package kv

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type StoreSuite struct {
	suite.Suite
	makeStore func() Store
	store     Store
}

func (suite *StoreSuite) SetupTest() {
	suite.store = suite.makeStore()
}

func (suite *StoreSuite) TearDownTest() {
	suite.NoError(suite.store.Close())
}

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &StoreSuite{makeStore: func() Store {
		return NewMemoryStore()
	}})
}

func TestBoltStore(t *testing.T) {
	suite.Run(t, &StoreSuite{makeStore: func() Store {
		s, err := NewBoltStore(filepath.Join(t.TempDir(), "kv.db"))
		require.NoError(t, err)
		return s
	}})
}

func TestLevelDBStore(t *testing.T) {
	suite.Run(t, &StoreSuite{makeStore: func() Store {
		s, err := NewLevelDBStore(t.TempDir())
		require.NoError(t, err)
		return s
	}})
}

func TestBadgerStore(t *testing.T) {
	suite.Run(t, &StoreSuite{makeStore: func() Store {
		s, err := NewBadgerStore("")
		require.NoError(t, err)
		return s
	}})
}

func (suite *StoreSuite) TestGetAbsent() {
	val, ok, err := suite.store.Get(context.Background(), "nope")
	suite.NoError(err)
	suite.False(ok)
	suite.Nil(val)
}

func (suite *StoreSuite) TestPutGetRemove() {
	ctx := context.Background()
	suite.NoError(suite.store.Put(ctx, "a", []byte(`{"x":1}`)))

	val, ok, err := suite.store.Get(ctx, "a")
	suite.NoError(err)
	suite.True(ok)
	suite.Equal(`{"x":1}`, string(val))

	suite.NoError(suite.store.Put(ctx, "a", []byte(`{"x":2}`)))
	val, _, err = suite.store.Get(ctx, "a")
	suite.NoError(err)
	suite.Equal(`{"x":2}`, string(val))

	suite.NoError(suite.store.Remove(ctx, "a"))
	_, ok, err = suite.store.Get(ctx, "a")
	suite.NoError(err)
	suite.False(ok)

	// removing twice is fine
	suite.NoError(suite.store.Remove(ctx, "a"))
}

func (suite *StoreSuite) TestValuesAreNotAliased() {
	ctx := context.Background()
	buf := []byte("hello")
	suite.NoError(suite.store.Put(ctx, "k", buf))
	buf[0] = 'j'

	val, _, err := suite.store.Get(ctx, "k")
	suite.NoError(err)
	suite.Equal("hello", string(val))

	val[0] = 'y'
	again, _, err := suite.store.Get(ctx, "k")
	suite.NoError(err)
	suite.Equal("hello", string(again))
}

func (suite *StoreSuite) TestKeysWithPrefix() {
	ctx := context.Background()
	for _, k := range []string{"db_doc_b", "db_doc_a", "db__seq_1", "other_doc_a", "db_doc_c"} {
		suite.NoError(suite.store.Put(ctx, k, []byte("1")))
	}

	keys, err := suite.store.KeysWithPrefix(ctx, "db_doc_")
	suite.NoError(err)
	suite.Equal([]string{"db_doc_a", "db_doc_b", "db_doc_c"}, keys)

	keys, err = suite.store.KeysWithPrefix(ctx, "missing")
	suite.NoError(err)
	suite.Empty(keys)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		url      string
		expected interface{}
	}{
		{"mem://", &MemoryStore{}},
		{"bolt://" + filepath.Join(dir, "a.db"), &BoltStore{}},
		{filepath.Join(dir, "b.db"), &BoltStore{}},
		{"leveldb://" + filepath.Join(dir, "ldb"), &LevelDBStore{}},
		{"badger://" + filepath.Join(dir, "bdg"), &BadgerStore{}},
	}

	for _, test := range tests {
		t.Run(test.url, func(t *testing.T) {
			s, err := Open(ctx, test.url)
			require.NoError(t, err)
			defer s.Close()
			assert.IsType(t, test.expected, s)
		})
	}

	_, err := Open(ctx, "s3://bucket/db")
	assert.True(t, ErrUnknownScheme.Is(err))
}
