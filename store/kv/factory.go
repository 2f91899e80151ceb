// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package kv

import (
	"context"
	"net/url"
	"strings"

	"gopkg.in/src-d/go-errors.v1"
)

const (
	// MemScheme
	MemScheme = "mem"

	// BoltScheme
	BoltScheme = "bolt"

	// LevelDBScheme
	LevelDBScheme = "leveldb"

	// BadgerScheme
	BadgerScheme = "badger"

	defaultScheme = BoltScheme
)

// ErrUnknownScheme is returned by Open for a url whose scheme has no factory.
var ErrUnknownScheme = errors.NewKind("unknown storage url scheme: '%s'")

// Factory creates a Store for a parsed storage url.
type Factory interface {
	CreateStore(ctx context.Context, urlObj *url.URL) (Store, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context, urlObj *url.URL) (Store, error)

func (f FactoryFunc) CreateStore(ctx context.Context, urlObj *url.URL) (Store, error) {
	return f(ctx, urlObj)
}

// Factories maps url scheme names to the Factory handling them. Additional
// factories may be registered by other packages.
var Factories = map[string]Factory{
	MemScheme: FactoryFunc(func(ctx context.Context, urlObj *url.URL) (Store, error) {
		return NewMemoryStore(), nil
	}),
	BoltScheme: FactoryFunc(func(ctx context.Context, urlObj *url.URL) (Store, error) {
		return NewBoltStore(urlPath(urlObj))
	}),
	LevelDBScheme: FactoryFunc(func(ctx context.Context, urlObj *url.URL) (Store, error) {
		return NewLevelDBStore(urlPath(urlObj))
	}),
	BadgerScheme: FactoryFunc(func(ctx context.Context, urlObj *url.URL) (Store, error) {
		return NewBadgerStore(urlPath(urlObj))
	}),
}

// Open creates the Store described by |urlStr|. The scheme selects the
// backend; a url without a scheme is treated as a local bolt file path.
func Open(ctx context.Context, urlStr string) (Store, error) {
	urlObj, err := url.Parse(urlStr)
	if err != nil {
		return nil, err
	}

	scheme := strings.ToLower(urlObj.Scheme)
	if len(scheme) == 0 {
		scheme = defaultScheme
	}

	if fact, ok := Factories[scheme]; ok {
		return fact.CreateStore(ctx, urlObj)
	}

	return nil, ErrUnknownScheme.New(urlObj.Scheme)
}

// urlPath recovers a filesystem path from the forms "scheme:rel/path",
// "scheme://host/path" and "scheme:///abs/path".
func urlPath(urlObj *url.URL) string {
	if urlObj.Opaque != "" {
		return urlObj.Opaque
	}
	return urlObj.Host + urlObj.Path
}
