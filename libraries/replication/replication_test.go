// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package replication

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/peterbraden/browsercouch/libraries/catalog"
	"github.com/peterbraden/browsercouch/libraries/database"
	"github.com/peterbraden/browsercouch/libraries/doc"
	"github.com/peterbraden/browsercouch/libraries/remote"
	"github.com/peterbraden/browsercouch/store/kv"
)

type ReplicationSuite struct {
	suite.Suite
	ctx context.Context
	cat *catalog.Catalog
	a   *database.Database
	b   *database.Database
}

func TestReplication(t *testing.T) {
	suite.Run(t, &ReplicationSuite{})
}

func (suite *ReplicationSuite) SetupTest() {
	suite.ctx = context.Background()
	suite.cat = catalog.New(kv.NewMemoryStore())

	var err error
	suite.a, err = suite.cat.Open(suite.ctx, "a")
	suite.Require().NoError(err)
	suite.b, err = suite.cat.Open(suite.ctx, "b")
	suite.Require().NoError(err)

	for _, id := range []string{"x", "y", "z"} {
		_, err := suite.a.Put(suite.ctx, doc.New(id, map[string]interface{}{"name": id}), database.LocalEdit)
		suite.Require().NoError(err)
	}
}

func (suite *ReplicationSuite) replicator(db *database.Database, opts ...Option) *Replicator {
	return New(db, NewResolver(suite.cat, remote.WithRetries(0), remote.WithMaxDelay(time.Millisecond)), opts...)
}

func (suite *ReplicationSuite) requireSameDocs(src, dst *database.Database) {
	ids, err := src.DocIDs(suite.ctx)
	suite.Require().NoError(err)
	for _, id := range ids {
		want, ok, err := src.GetRaw(suite.ctx, id)
		suite.Require().NoError(err)
		suite.Require().True(ok)
		got, ok, err := dst.GetRaw(suite.ctx, id)
		suite.Require().NoError(err)
		suite.Require().True(ok, "missing %s", id)
		suite.Equal(want.Rev, got.Rev, id)
		suite.Equal(want.Deleted, got.Deleted, id)
		if !want.Deleted {
			suite.Equal(want.Fields, got.Fields, id)
		}
	}
}

func (suite *ReplicationSuite) TestSyncToLocal() {
	r := suite.replicator(suite.a)

	res, err := r.SyncTo(suite.ctx, "local:b")
	suite.Require().NoError(err)
	suite.Equal(Result{Source: "local:a", Target: "local:b", Since: 0, LastSeq: 3, DocsWritten: 3}, res)
	suite.requireSameDocs(suite.a, suite.b)

	n, err := suite.b.DocCount(suite.ctx)
	suite.Require().NoError(err)
	suite.EqualValues(3, n)

	last, err := suite.a.LastSequence(suite.ctx)
	suite.Require().NoError(err)
	cp, err := suite.a.Checkpoint(suite.ctx, "local:a", "local:b")
	suite.Require().NoError(err)
	suite.Equal(last, cp)

	res, err = r.SyncTo(suite.ctx, "local:b")
	suite.Require().NoError(err)
	suite.Equal(0, res.DocsWritten)
	suite.EqualValues(3, res.Since)
	suite.EqualValues(3, res.LastSeq)

	bLast, err := suite.b.LastSequence(suite.ctx)
	suite.Require().NoError(err)
	suite.EqualValues(3, bLast)
}

func (suite *ReplicationSuite) TestSyncFromLocal() {
	r := suite.replicator(suite.b)

	res, err := r.SyncFrom(suite.ctx, "browsercouch:a")
	suite.Require().NoError(err)
	suite.Equal("local:a", res.Source)
	suite.Equal("local:b", res.Target)
	suite.Equal(3, res.DocsWritten)
	suite.requireSameDocs(suite.a, suite.b)

	cp, err := suite.b.Checkpoint(suite.ctx, "local:a", "local:b")
	suite.Require().NoError(err)
	suite.EqualValues(3, cp)

	// the initiating database holds the checkpoint
	cp, err = suite.a.Checkpoint(suite.ctx, "local:a", "local:b")
	suite.Require().NoError(err)
	suite.EqualValues(0, cp)
}

func (suite *ReplicationSuite) TestEditsAndTombstonesReplicate() {
	r := suite.replicator(suite.a)
	_, err := r.SyncTo(suite.ctx, "local:b")
	suite.Require().NoError(err)

	x, _, err := suite.a.Get(suite.ctx, "x")
	suite.Require().NoError(err)
	x.Fields["name"] = "x2"
	_, err = suite.a.Put(suite.ctx, x, database.LocalEdit)
	suite.Require().NoError(err)

	y, _, err := suite.a.Get(suite.ctx, "y")
	suite.Require().NoError(err)
	_, err = suite.a.Delete(suite.ctx, "y", y.Rev)
	suite.Require().NoError(err)

	res, err := r.SyncTo(suite.ctx, "local:b")
	suite.Require().NoError(err)
	suite.Equal(2, res.DocsWritten)
	suite.requireSameDocs(suite.a, suite.b)

	// a live document travels without its parent, so the version it
	// replaced is kept as a losing revision
	bx, _, err := suite.b.Get(suite.ctx, "x")
	suite.Require().NoError(err)
	suite.Equal([]doc.Revision{x.Rev}, bx.Conflicts)

	_, ok, err := suite.b.Get(suite.ctx, "y")
	suite.Require().NoError(err)
	suite.False(ok)
	by, ok, err := suite.b.GetRaw(suite.ctx, "y")
	suite.Require().NoError(err)
	suite.Require().True(ok)
	suite.Equal(y.Rev, by.RevWhenDeleted)
	suite.Empty(by.Conflicts)

	n, err := suite.b.DocCount(suite.ctx)
	suite.Require().NoError(err)
	suite.EqualValues(2, n)
}

func (suite *ReplicationSuite) TestResendIsIdempotent() {
	r := suite.replicator(suite.a)
	_, err := r.SyncTo(suite.ctx, "local:b")
	suite.Require().NoError(err)
	before, err := suite.b.LastSequence(suite.ctx)
	suite.Require().NoError(err)

	// as if the checkpoint write had been lost
	suite.Require().NoError(suite.a.SetCheckpoint(suite.ctx, "local:a", "local:b", 0))
	res, err := r.SyncTo(suite.ctx, "local:b")
	suite.Require().NoError(err)
	suite.Equal(3, res.DocsWritten)

	after, err := suite.b.LastSequence(suite.ctx)
	suite.Require().NoError(err)
	suite.Equal(before, after)
	suite.requireSameDocs(suite.a, suite.b)
}

func (suite *ReplicationSuite) TestConcurrentEditsConverge() {
	_, err := suite.replicator(suite.a).SyncTo(suite.ctx, "local:b")
	suite.Require().NoError(err)

	for _, db := range []*database.Database{suite.a, suite.b} {
		x, _, err := db.Get(suite.ctx, "x")
		suite.Require().NoError(err)
		x.Fields["name"] = db.Name()
		_, err = db.Put(suite.ctx, x, database.LocalEdit)
		suite.Require().NoError(err)
	}

	_, err = suite.replicator(suite.a).SyncTo(suite.ctx, "local:b")
	suite.Require().NoError(err)
	_, err = suite.replicator(suite.a).SyncFrom(suite.ctx, "local:b")
	suite.Require().NoError(err)

	ax, _, err := suite.a.Get(suite.ctx, "x")
	suite.Require().NoError(err)
	bx, _, err := suite.b.Get(suite.ctx, "x")
	suite.Require().NoError(err)

	suite.Equal(ax.Rev, bx.Rev)
	suite.Equal(ax.Fields, bx.Fields)
	suite.Len(ax.Conflicts, 1)
	suite.Equal(ax.Conflicts, bx.Conflicts)
	suite.EqualValues(2, ax.Rev.Index)
}

func (suite *ReplicationSuite) TestUnsupportedProtocol() {
	r := suite.replicator(suite.a)

	for _, uri := range []string{"ftp://host/db", "b", "local:", "BrowserCouchX:b"} {
		_, err := r.SyncTo(suite.ctx, uri)
		suite.True(ErrUnsupportedProtocol.Is(err), "%s: %v", uri, err)
		_, err = r.SyncFrom(suite.ctx, uri)
		suite.True(ErrUnsupportedProtocol.Is(err), "%s: %v", uri, err)
	}

	dbs, err := suite.cat.AllDbs(suite.ctx)
	suite.Require().NoError(err)
	suite.Equal([]string{"a", "b"}, dbs)
}

func (suite *ReplicationSuite) TestEvents() {
	events := make(chan Event, 8)
	r := suite.replicator(suite.a, WithEvents(events))

	_, err := r.SyncTo(suite.ctx, "local:b")
	suite.Require().NoError(err)
	close(events)

	var types []EventType
	for ev := range events {
		suite.Equal("local:a", ev.Source)
		suite.Equal("local:b", ev.Target)
		types = append(types, ev.Type)
	}
	suite.Equal([]EventType{SyncStartedEvent, ChangesReadEvent, DocsSentEvent, SyncDoneEvent}, types)
}

func (suite *ReplicationSuite) TestFailedTransmitKeepsCheckpoint() {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	r := suite.replicator(suite.a)
	_, err := r.SyncTo(suite.ctx, ts.URL+"/db")
	suite.True(remote.ErrRemote.Is(err), "%v", err)

	cp, err := suite.a.Checkpoint(suite.ctx, "local:a", ts.URL+"/db")
	suite.Require().NoError(err)
	suite.EqualValues(0, cp)
}

func (suite *ReplicationSuite) TestRejectedDocKeepsCheckpoint() {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(req.URL.Path, "/_bulk_docs") {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`[{"id":"x","error":"forbidden","reason":"read only"}]`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer ts.Close()

	r := suite.replicator(suite.a)
	_, err := r.SyncTo(suite.ctx, ts.URL+"/db")
	suite.True(ErrRejected.Is(err), "%v", err)

	cp, err := suite.a.Checkpoint(suite.ctx, "local:a", ts.URL+"/db")
	suite.Require().NoError(err)
	suite.EqualValues(0, cp)
}

func (suite *ReplicationSuite) TestRemoteRoundTrip() {
	remoteCat := catalog.New(kv.NewMemoryStore())
	srv := remote.NewServer(remote.ServerArgs{Catalog: remoteCat})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	target := ts.URL + "/mirror"
	client, err := remote.NewClient(target)
	suite.Require().NoError(err)
	suite.Require().NoError(client.Create(suite.ctx))

	y, _, err := suite.a.Get(suite.ctx, "y")
	suite.Require().NoError(err)
	_, err = suite.a.Delete(suite.ctx, "y", y.Rev)
	suite.Require().NoError(err)

	res, err := suite.replicator(suite.a).SyncTo(suite.ctx, target)
	suite.Require().NoError(err)
	suite.Equal(target, res.Target)
	suite.Equal(3, res.DocsWritten)

	mirror, err := remoteCat.Get(suite.ctx, "mirror")
	suite.Require().NoError(err)
	suite.requireSameDocs(suite.a, mirror)

	res, err = suite.replicator(suite.a).SyncTo(suite.ctx, target)
	suite.Require().NoError(err)
	suite.Equal(0, res.DocsWritten)

	c, err := suite.cat.Open(suite.ctx, "c")
	suite.Require().NoError(err)
	res, err = suite.replicator(c).SyncFrom(suite.ctx, target)
	suite.Require().NoError(err)
	suite.Equal(3, res.DocsWritten)
	suite.requireSameDocs(suite.a, c)

	n, err := c.DocCount(suite.ctx)
	suite.Require().NoError(err)
	suite.EqualValues(2, n)
}

func TestBuildBulkDocs(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, "src", kv.NewMemoryStore())
	require.NoError(t, err)

	r1, err := db.Put(ctx, doc.New("live", map[string]interface{}{"v": 1.0}), database.LocalEdit)
	require.NoError(t, err)
	d1, err := db.Put(ctx, doc.New("dead", nil), database.LocalEdit)
	require.NoError(t, err)
	d2, err := db.Delete(ctx, "dead", d1)
	require.NoError(t, err)

	changes, err := db.Changes(ctx, database.ChangesOptions{})
	require.NoError(t, err)

	req, err := BuildBulkDocs(ctx, NewLocalPeer(db), changes)
	require.NoError(t, err)
	assert.False(t, req.NewEdits)
	require.Len(t, req.Docs, 2)

	live := req.Docs[0]
	assert.Equal(t, "live", live.ID)
	assert.Equal(t, r1, live.Rev)
	assert.Equal(t, 1.0, live.Fields["v"])
	assert.Equal(t, &doc.Revisions{Start: 1, IDs: []string{r1.Token}}, live.Revisions)

	dead := req.Docs[1]
	assert.Equal(t, "dead", dead.ID)
	assert.True(t, dead.Deleted)
	assert.Equal(t, d2, dead.Rev)
	assert.Equal(t, &doc.Revisions{Start: 2, IDs: []string{d2.Token, d1.Token}}, dead.Revisions)
	assert.Empty(t, dead.Fields)
}
