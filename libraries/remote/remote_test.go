// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package remote

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/peterbraden/browsercouch/libraries/catalog"
	"github.com/peterbraden/browsercouch/libraries/doc"
	"github.com/peterbraden/browsercouch/libraries/mapreduce"
	"github.com/peterbraden/browsercouch/store/kv"
)

func TestExpandViewPath(t *testing.T) {
	assert.Equal(t, "_design/app/_view/by_tag", ExpandViewPath("app/by_tag", nil))
	assert.Equal(t, "_design/app/_view/by_tag?group=true&key=%22a+b%22&limit=10",
		ExpandViewPath("app/by_tag", map[string]interface{}{
			"limit": 10,
			"key":   `"a b"`,
			"group": true,
		}))
}

func TestNewClientRejectsOtherSchemes(t *testing.T) {
	_, err := NewClient("ftp://example.com/db")
	assert.Error(t, err)

	c, err := NewClient("http://example.com/db")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/db", c.URL())
}

type ServerSuite struct {
	suite.Suite
	compress bool

	cat    *catalog.Catalog
	server *Server
	ts     *httptest.Server
	client *Client
}

func TestServer(t *testing.T) {
	suite.Run(t, &ServerSuite{})
}

func TestServerCompressed(t *testing.T) {
	suite.Run(t, &ServerSuite{compress: true})
}

func (suite *ServerSuite) SetupTest() {
	suite.cat = catalog.New(kv.NewMemoryStore())
	suite.server = NewServer(ServerArgs{Catalog: suite.cat})
	suite.ts = httptest.NewServer(suite.server.Handler())

	var err error
	suite.client, err = NewClient(suite.ts.URL+"/db", WithCompression(suite.compress), WithRetries(1))
	suite.Require().NoError(err)
	suite.Require().NoError(suite.client.Create(context.Background()))
}

func (suite *ServerSuite) TearDownTest() {
	suite.ts.Close()
}

func (suite *ServerSuite) TestCreateTwice() {
	err := suite.client.Create(context.Background())
	se, ok := err.(*StatusError)
	suite.Require().True(ok, "%v", err)
	suite.Equal(http.StatusPreconditionFailed, se.Status)
	suite.Equal("file_exists", se.Name)
}

func (suite *ServerSuite) TestDocumentLifecycle() {
	ctx := context.Background()

	rev, err := suite.client.Put(ctx, doc.New("a", map[string]interface{}{"n": 1}))
	suite.Require().NoError(err)
	suite.EqualValues(1, rev.Index)

	d, ok, err := suite.client.Get(ctx, "a")
	suite.Require().NoError(err)
	suite.Require().True(ok)
	suite.Equal(rev, d.Rev)
	suite.EqualValues(1, d.Fields["n"])

	// stale edit
	_, err = suite.client.Put(ctx, doc.New("a", map[string]interface{}{"n": 2}))
	suite.True(IsConflict(err), "%v", err)

	d.Fields["n"] = 2
	rev2, err := suite.client.Put(ctx, d)
	suite.Require().NoError(err)
	suite.EqualValues(2, rev2.Index)

	_, err = suite.client.Delete(ctx, "a", rev)
	suite.True(IsConflict(err), "%v", err)
	_, err = suite.client.Delete(ctx, "a", rev2)
	suite.Require().NoError(err)

	_, ok, err = suite.client.Get(ctx, "a")
	suite.Require().NoError(err)
	suite.False(ok)

	id, _, err := suite.client.Post(ctx, doc.New("", map[string]interface{}{"x": true}))
	suite.Require().NoError(err)
	suite.NotEmpty(id)

	info, err := suite.client.Info(ctx)
	suite.Require().NoError(err)
	suite.Equal("db", info.DBName)
	suite.EqualValues(1, info.DocCount)
	suite.EqualValues(4, info.UpdateSeq)
}

func (suite *ServerSuite) TestChangesAndBulkDocs() {
	ctx := context.Background()

	_, err := suite.client.Put(ctx, doc.New("a", nil))
	suite.Require().NoError(err)

	res, err := suite.client.BulkDocs(ctx, &BulkDocsRequest{
		NewEdits: false,
		Docs: []*doc.Document{
			{ID: "b", Rev: doc.MustParseRevision("3-abc"), Fields: map[string]interface{}{"v": "b"}},
			{ID: "c", Revisions: &doc.Revisions{Start: 2, IDs: []string{"ccc", "bbb"}}},
			{ID: "", Rev: doc.MustParseRevision("1-x")},
		},
	})
	suite.Require().NoError(err)
	suite.Require().Len(res, 3)
	suite.Equal(BulkDocResult{ID: "b", Rev: "3-abc"}, res[0])
	suite.Equal(BulkDocResult{ID: "c", Rev: "2-ccc"}, res[1])
	suite.Equal("bad_request", res[2].Error)

	suite.Require().NoError(suite.client.EnsureFullCommit(ctx))

	changes, err := suite.client.Changes(ctx, 0, true)
	suite.Require().NoError(err)
	suite.EqualValues(3, changes.LastSeq)
	suite.Require().Len(changes.Results, 3)
	suite.Equal("b", changes.Results[1].ID)
	suite.Equal("3-abc", changes.Results[1].Rev().String())
	suite.Require().NotNil(changes.Results[1].Doc)
	suite.Equal("b", changes.Results[1].Doc.Fields["v"])

	changes, err = suite.client.Changes(ctx, 3, false)
	suite.Require().NoError(err)
	suite.Empty(changes.Results)
	suite.EqualValues(3, changes.LastSeq)
}

func (suite *ServerSuite) TestView() {
	ctx := context.Background()
	suite.server.RegisterView("db", "app", "by_tag", View{Map: mapreduce.FieldMap("tags", ""), Reduce: mapreduce.Count})

	for id, tags := range map[string][]interface{}{
		"1": {"go", "db"},
		"2": {"go"},
		"3": {"web"},
	} {
		_, err := suite.client.Put(ctx, doc.New(id, map[string]interface{}{"tags": tags}))
		suite.Require().NoError(err)
	}

	res, err := suite.client.View(ctx, "app/by_tag", nil)
	suite.Require().NoError(err)
	suite.Equal([]mapreduce.Row{
		{Key: "db", Value: float64(1)},
		{Key: "go", Value: float64(2)},
		{Key: "web", Value: float64(1)},
	}, res.Rows)

	res, err = suite.client.View(ctx, "app/by_tag", map[string]interface{}{"key": `"go"`, "reduce": false})
	suite.Require().NoError(err)
	suite.Equal(4, res.TotalRows)
	suite.Equal(1, res.Offset)
	suite.Require().Len(res.Rows, 2)
	suite.Equal("1", res.Rows[0].ID)
	suite.Equal("2", res.Rows[1].ID)

	res, err = suite.client.View(ctx, "app/by_tag", map[string]interface{}{"reduce": false, "limit": 1})
	suite.Require().NoError(err)
	suite.Len(res.Rows, 1)

	_, err = suite.client.View(ctx, "app/missing", nil)
	suite.True(IsNotFound(err), "%v", err)
}

func (suite *ServerSuite) TestViewETag() {
	ctx := context.Background()
	suite.server.RegisterView("db", "app", "by_tag", View{Map: mapreduce.FieldMap("tags", ""), Reduce: mapreduce.Count})
	_, err := suite.client.Put(ctx, doc.New("1", map[string]interface{}{"tags": []interface{}{"go"}}))
	suite.Require().NoError(err)

	get := func(etag string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, suite.ts.URL+"/db/_design/app/_view/by_tag", nil)
		suite.Require().NoError(err)
		if etag != "" {
			req.Header.Set("If-None-Match", etag)
		}
		resp, err := http.DefaultClient.Do(req)
		suite.Require().NoError(err)
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return resp
	}

	first := get("")
	suite.Equal(http.StatusOK, first.StatusCode)
	etag := first.Header.Get("ETag")
	suite.Require().NotEmpty(etag)

	suite.Equal(http.StatusNotModified, get(etag).StatusCode)

	_, err = suite.client.Put(ctx, doc.New("2", map[string]interface{}{"tags": []interface{}{"db"}}))
	suite.Require().NoError(err)
	changed := get(etag)
	suite.Equal(http.StatusOK, changed.StatusCode)
	suite.NotEqual(etag, changed.Header.Get("ETag"))
}

func (suite *ServerSuite) TestAllDbsAndDrop() {
	ctx := context.Background()

	other, err := NewClient(suite.ts.URL + "/other")
	suite.Require().NoError(err)
	suite.Require().NoError(other.Create(ctx))

	resp, err := http.Get(suite.ts.URL + "/_all_dbs")
	suite.Require().NoError(err)
	defer resp.Body.Close()
	suite.Equal("*", resp.Header.Get("Access-Control-Allow-Origin"))
	data, err := io.ReadAll(resp.Body)
	suite.Require().NoError(err)
	var names []string
	suite.Require().NoError(json.Unmarshal(data, &names))
	suite.Equal([]string{"db", "other"}, names)

	suite.Require().NoError(other.Drop(ctx))
	_, err = other.Info(ctx)
	suite.True(IsNotFound(err), "%v", err)
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"db_name":"db","doc_count":2,"update_seq":5}`))
	}))
	defer ts.Close()

	c, err := NewClient(ts.URL+"/db", WithRetries(3), WithMaxDelay(time.Millisecond))
	require.NoError(t, err)

	info, err := c.Info(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 5, info.UpdateSeq)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestClientGivesUp(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	c, err := NewClient(ts.URL+"/db", WithRetries(2), WithMaxDelay(time.Millisecond))
	require.NoError(t, err)

	_, err = c.Info(context.Background())
	assert.True(t, ErrRemote.Is(err), "%v", err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestClientSendsPostOnce(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	c, err := NewClient(ts.URL+"/db", WithRetries(5), WithMaxDelay(time.Millisecond))
	require.NoError(t, err)

	_, _, err = c.Post(context.Background(), doc.New("", map[string]interface{}{"n": 1}))
	assert.True(t, ErrRemote.Is(err), "%v", err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	// writes addressed by id still retry
	_, err = c.Put(context.Background(), doc.New("a", nil))
	assert.True(t, ErrRemote.Is(err), "%v", err)
	assert.EqualValues(t, 7, atomic.LoadInt32(&calls))
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not_found","reason":"missing"}`))
	}))
	defer ts.Close()

	c, err := NewClient(ts.URL+"/db", WithRetries(5), WithMaxDelay(time.Millisecond))
	require.NoError(t, err)

	_, err = c.Info(context.Background())
	se, ok := err.(*StatusError)
	require.True(t, ok, "%v", err)
	assert.Equal(t, "not_found", se.Name)
	assert.Equal(t, "missing", se.Reason)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}
