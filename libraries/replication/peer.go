// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package replication

import (
	"context"

	"github.com/peterbraden/browsercouch/libraries/database"
	"github.com/peterbraden/browsercouch/libraries/doc"
	"github.com/peterbraden/browsercouch/libraries/remote"
)

// Peer is one end of a replication: a database in this process or one
// reachable over HTTP.
type Peer interface {
	// Identity names the peer in checkpoint keys. It is stable across
	// processes.
	Identity() string

	Changes(ctx context.Context, since uint64, includeDocs bool) (*database.Changes, error)

	// GetRaw returns the current version of |id|, tombstones included where
	// the peer exposes them.
	GetRaw(ctx context.Context, id string) (*doc.Document, bool, error)

	// BulkDocs applies every document of |req|. A failure to apply a single
	// document is reported in its result rather than as an error.
	BulkDocs(ctx context.Context, req *remote.BulkDocsRequest) ([]remote.BulkDocResult, error)

	// EnsureFullCommit returns once everything applied so far is durable.
	EnsureFullCommit(ctx context.Context) error
}

// LocalPeer is a database in this process.
type LocalPeer struct {
	db *database.Database
}

var _ Peer = LocalPeer{}

func NewLocalPeer(db *database.Database) LocalPeer {
	return LocalPeer{db: db}
}

func LocalIdentity(name string) string {
	return localScheme + ":" + name
}

func (p LocalPeer) Identity() string {
	return LocalIdentity(p.db.Name())
}

func (p LocalPeer) Database() *database.Database {
	return p.db
}

func (p LocalPeer) Changes(ctx context.Context, since uint64, includeDocs bool) (*database.Changes, error) {
	return p.db.Changes(ctx, database.ChangesOptions{Since: since, IncludeDocs: includeDocs})
}

func (p LocalPeer) GetRaw(ctx context.Context, id string) (*doc.Document, bool, error) {
	return p.db.GetRaw(ctx, id)
}

func (p LocalPeer) BulkDocs(ctx context.Context, req *remote.BulkDocsRequest) ([]remote.BulkDocResult, error) {
	opts := database.PutOptions{Replicated: !req.NewEdits}
	results := make([]remote.BulkDocResult, len(req.Docs))
	for i, d := range req.Docs {
		results[i].ID = d.ID
		rev, err := p.db.Put(ctx, d, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			results[i].Error = "rejected"
			results[i].Reason = err.Error()
			continue
		}
		results[i].Rev = rev.String()
	}
	return results, nil
}

// EnsureFullCommit is a no-op; local writes are durable once Put returns.
func (p LocalPeer) EnsureFullCommit(ctx context.Context) error {
	return nil
}

// RemotePeer is a database behind a CouchDB compatible HTTP API.
type RemotePeer struct {
	client *remote.Client
}

var _ Peer = RemotePeer{}

func NewRemotePeer(client *remote.Client) RemotePeer {
	return RemotePeer{client: client}
}

func (p RemotePeer) Identity() string {
	return p.client.URL()
}

func (p RemotePeer) Changes(ctx context.Context, since uint64, includeDocs bool) (*database.Changes, error) {
	return p.client.Changes(ctx, since, includeDocs)
}

// GetRaw reads tombstones as absent; the HTTP API only serves live
// documents.
func (p RemotePeer) GetRaw(ctx context.Context, id string) (*doc.Document, bool, error) {
	return p.client.Get(ctx, id)
}

func (p RemotePeer) BulkDocs(ctx context.Context, req *remote.BulkDocsRequest) ([]remote.BulkDocResult, error) {
	return p.client.BulkDocs(ctx, req)
}

func (p RemotePeer) EnsureFullCommit(ctx context.Context) error {
	return p.client.EnsureFullCommit(ctx)
}
