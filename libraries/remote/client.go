// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/peterbraden/browsercouch/libraries/database"
	"github.com/peterbraden/browsercouch/libraries/doc"
)

const (
	DefaultRetries  = 5
	DefaultMaxDelay = 2 * time.Second
)

// Client talks to one database of a CouchDB compatible server.
type Client struct {
	dbURL    *url.URL
	http     *http.Client
	retries  uint64
	maxDelay time.Duration
	compress bool
	log      *logrus.Entry
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithRetries sets how many times a request failing with a transport error
// or a 5xx response is retried.
func WithRetries(n uint64) ClientOption {
	return func(c *Client) {
		c.retries = n
	}
}

func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithCompression sends request bodies snappy framed and asks for the same
// on responses.
func WithCompression(on bool) ClientOption {
	return func(c *Client) {
		c.compress = on
	}
}

func WithClientLogger(log *logrus.Entry) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient returns a client for the database at |dbURL|, for example
// http://localhost:5984/mydb.
func NewClient(dbURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("'%s' is not an http url", dbURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	u.RawQuery = ""

	c := &Client{
		dbURL:    u,
		http:     http.DefaultClient,
		retries:  DefaultRetries,
		maxDelay: DefaultMaxDelay,
		log:      logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("remote", c.URL())
	return c, nil
}

// URL is the database url without a trailing slash.
func (c *Client) URL() string {
	return strings.TrimSuffix(c.dbURL.String(), "/")
}

// Create creates the database.
func (c *Client) Create(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "", nil, nil, nil)
}

// Drop deletes the database.
func (c *Client) Drop(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "", nil, nil, nil)
}

func (c *Client) Info(ctx context.Context) (database.Info, error) {
	var info database.Info
	err := c.do(ctx, http.MethodGet, "", nil, nil, &info)
	return info, err
}

// Get returns the document |id|, or false if the server has no live
// version of it.
func (c *Client) Get(ctx context.Context, id string) (*doc.Document, bool, error) {
	var d doc.Document
	err := c.do(ctx, http.MethodGet, url.PathEscape(id), nil, nil, &d)
	if IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &d, true, nil
}

// Put stores |d| as a local edit on the server.
func (c *Client) Put(ctx context.Context, d *doc.Document) (doc.Revision, error) {
	var res DocResult
	if err := c.do(ctx, http.MethodPut, url.PathEscape(d.ID), nil, d, &res); err != nil {
		return doc.Revision{}, err
	}
	return doc.ParseRevision(res.Rev)
}

// Post stores |d|, letting the server assign an id when it has none. It is
// sent once: a retry after a lost response would store a second copy.
func (c *Client) Post(ctx context.Context, d *doc.Document) (string, doc.Revision, error) {
	var res DocResult
	if err := c.send(ctx, 0, http.MethodPost, "", nil, d, &res); err != nil {
		return "", doc.Revision{}, err
	}
	rev, err := doc.ParseRevision(res.Rev)
	return res.ID, rev, err
}

func (c *Client) Delete(ctx context.Context, id string, rev doc.Revision) (doc.Revision, error) {
	var res DocResult
	q := url.Values{"rev": {rev.String()}}
	if err := c.do(ctx, http.MethodDelete, url.PathEscape(id), q, nil, &res); err != nil {
		return doc.Revision{}, err
	}
	return doc.ParseRevision(res.Rev)
}

// View queries "ddoc/view" with |params| passed through as query options.
func (c *Client) View(ctx context.Context, viewPath string, params map[string]interface{}) (*ViewResponse, error) {
	var res ViewResponse
	if err := c.do(ctx, http.MethodGet, ExpandViewPath(viewPath, params), nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Changes reads the server's change feed after |since|.
func (c *Client) Changes(ctx context.Context, since uint64, includeDocs bool) (*database.Changes, error) {
	q := url.Values{"since": {strconv.FormatUint(since, 10)}}
	if includeDocs {
		q.Set("include_docs", "true")
	}

	var res database.Changes
	if err := c.do(ctx, http.MethodGet, changesPath, q, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) BulkDocs(ctx context.Context, req *BulkDocsRequest) ([]BulkDocResult, error) {
	var res []BulkDocResult
	if err := c.do(ctx, http.MethodPost, bulkDocsPath, nil, req, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) EnsureFullCommit(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, ensureFullCommitPath, nil, true, nil)
}

// ExpandViewPath turns "ddoc/view" into the resource path of the view and
// appends |params| as a query string. Options are not validated; every key
// is passed through, in sorted order.
func ExpandViewPath(viewPath string, params map[string]interface{}) string {
	ddoc, view := viewPath, ""
	if i := strings.IndexByte(viewPath, '/'); i >= 0 {
		ddoc, view = viewPath[:i], viewPath[i+1:]
	}

	p := designPath + "/" + url.PathEscape(ddoc) + "/" + viewSegment + "/" + url.PathEscape(view)
	if len(params) == 0 {
		return p
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = url.QueryEscape(k) + "=" + url.QueryEscape(fmt.Sprint(params[k]))
	}
	return p + "?" + strings.Join(parts, "&")
}

// do sends one request, retrying transport errors and 5xx responses with
// exponential backoff. Other error responses are returned as *StatusError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	return c.send(ctx, c.retries, method, path, query, in, out)
}

func (c *Client) send(ctx context.Context, retries uint64, method, path string, query url.Values, in, out interface{}) error {
	target := c.dbURL.String() + path
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		target += sep + query.Encode()
	}

	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return err
		}
		if c.compress {
			body, err = snappyFrame(body)
			if err != nil {
				return err
			}
		}
	}

	op := func() error {
		return c.roundTrip(ctx, method, target, body, out)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxInterval = c.maxDelay
	if b.InitialInterval > c.maxDelay {
		b.InitialInterval = c.maxDelay
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx))
	if err == nil {
		return nil
	}
	if _, ok := err.(*StatusError); ok && !isServerError(err) {
		return err
	}

	c.log.WithError(err).WithField("path", path).Warn("remote request failed")
	return ErrRemote.Wrap(err, method, path)
}

func isServerError(err error) bool {
	se, ok := err.(*StatusError)
	return ok && se.Status >= 500
}

func (c *Client) roundTrip(ctx context.Context, method, target string, body []byte, out interface{}) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.compress {
		req.Header.Set("Accept-Encoding", snappyEncoding)
		if body != nil {
			req.Header.Set("Content-Encoding", snappyEncoding)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	rc, err := decodingReader(resp.Header.Get("Content-Encoding"), resp.Body)
	if err != nil {
		return err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var eb errorBody
		_ = json.Unmarshal(data, &eb)
		se := &StatusError{Status: resp.StatusCode, Name: eb.Error, Reason: eb.Reason}
		if se.Name == "" {
			se.Name = http.StatusText(resp.StatusCode)
		}
		if resp.StatusCode >= 500 {
			return se
		}
		return backoff.Permanent(se)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return backoff.Permanent(err)
	}
	return nil
}
