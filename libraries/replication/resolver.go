// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package replication

import (
	"context"
	"strings"

	"gopkg.in/src-d/go-errors.v1"

	"github.com/peterbraden/browsercouch/libraries/database"
	"github.com/peterbraden/browsercouch/libraries/remote"
)

var ErrUnsupportedProtocol = errors.NewKind("unsupported replication peer: '%s'")

const (
	localScheme        = "local"
	browserCouchScheme = "browsercouch"
	httpScheme         = "http"
	httpsScheme        = "https"
)

// LocalOpener opens in-process databases by name. *catalog.Catalog is one.
type LocalOpener interface {
	Open(ctx context.Context, name string) (*database.Database, error)
}

// Resolver turns peer URIs into Peers. "local:<name>" and
// "browsercouch:<name>" address databases opened through Locals;
// http and https URLs address remote databases.
type Resolver struct {
	Locals        LocalOpener
	ClientOptions []remote.ClientOption
}

func NewResolver(locals LocalOpener, clientOpts ...remote.ClientOption) *Resolver {
	return &Resolver{Locals: locals, ClientOptions: clientOpts}
}

// Resolve returns the peer |uri| refers to. Unknown schemes fail before any
// database is opened or connection is made.
func (r *Resolver) Resolve(ctx context.Context, uri string) (Peer, error) {
	scheme, rest, ok := strings.Cut(uri, ":")
	if !ok {
		return nil, ErrUnsupportedProtocol.New(uri)
	}

	switch strings.ToLower(scheme) {
	case localScheme, browserCouchScheme:
		name := strings.TrimPrefix(rest, "//")
		if name == "" || r.Locals == nil {
			return nil, ErrUnsupportedProtocol.New(uri)
		}
		db, err := r.Locals.Open(ctx, name)
		if err != nil {
			return nil, err
		}
		return NewLocalPeer(db), nil
	case httpScheme, httpsScheme:
		c, err := remote.NewClient(uri, r.ClientOptions...)
		if err != nil {
			return nil, err
		}
		return NewRemotePeer(c), nil
	}
	return nil, ErrUnsupportedProtocol.New(uri)
}
