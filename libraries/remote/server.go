// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package remote

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	json "github.com/goccy/go-json"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/peterbraden/browsercouch/libraries/catalog"
	"github.com/peterbraden/browsercouch/libraries/database"
	"github.com/peterbraden/browsercouch/libraries/doc"
	"github.com/peterbraden/browsercouch/libraries/mapreduce"
	"github.com/peterbraden/browsercouch/libraries/metrics"
)

const (
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 5 * time.Minute
)

type ServerArgs struct {
	Catalog      *catalog.Catalog
	Logger       *logrus.Entry
	Metrics      *metrics.Metrics
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// View is a map function and an optional reduce function queried through
// /{db}/_design/{ddoc}/_view/{view}.
type View struct {
	Map    mapreduce.MapFunc
	Reduce mapreduce.ReduceFunc
}

// Server serves the databases of a catalog over the CouchDB HTTP API.
type Server struct {
	cat     *catalog.Catalog
	log     *logrus.Entry
	metrics *metrics.Metrics
	router  *httprouter.Router
	httpSrv *http.Server

	viewsMu sync.RWMutex
	views   map[string]View
}

func NewServer(args ServerArgs) *Server {
	if args.Logger == nil {
		args.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if args.ReadTimeout == 0 {
		args.ReadTimeout = DefaultReadTimeout
	}
	if args.WriteTimeout == 0 {
		args.WriteTimeout = DefaultWriteTimeout
	}

	s := &Server{
		cat:     args.Catalog,
		log:     args.Logger,
		metrics: args.Metrics,
		router:  httprouter.New(),
		views:   make(map[string]View),
	}

	s.router.GET("/", s.handleWelcome)
	s.router.GET("/:db", s.handleDBGet)
	s.router.PUT("/:db", s.handleDBCreate)
	s.router.DELETE("/:db", s.handleDBDrop)
	s.router.POST("/:db", s.handleDocPost)
	s.router.GET("/:db/:docid", s.handleDocGet)
	s.router.PUT("/:db/:docid", s.handleDocPut)
	s.router.DELETE("/:db/:docid", s.handleDocDelete)
	s.router.POST("/:db/:docid", s.handleDBCommand)
	s.router.GET("/:db/:docid/:ddoc/_view/:view", s.handleView)

	s.httpSrv = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  args.ReadTimeout,
		WriteTimeout: args.WriteTimeout,
	}
	return s
}

// RegisterView makes |v| queryable as |ddoc|/|name| of database |db|.
func (s *Server) RegisterView(db, ddoc, name string, v View) {
	s.viewsMu.Lock()
	defer s.viewsMu.Unlock()
	s.views[db+"/"+ddoc+"/"+name] = v
}

func (s *Server) lookupView(db, ddoc, name string) (View, bool) {
	s.viewsMu.RLock()
	defer s.viewsMu.RUnlock()
	v, ok := s.views[db+"/"+ddoc+"/"+name]
	return v, ok
}

// Handler returns the http.Handler serving the API, with request logging
// and CORS headers.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		sw.Header().Add("Access-Control-Allow-Origin", "*")

		s.router.ServeHTTP(sw, req)

		s.metrics.RequestServed(sw.status)
		s.log.WithFields(logrus.Fields{
			"method":   req.Method,
			"path":     req.URL.Path,
			"status":   sw.status,
			"duration": time.Since(start),
		}).Debug("served request")
	})
}

// Serve blocks serving requests on |lis| until Shutdown is called.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Infof("serving on %s", lis.Addr())
	err := s.httpSrv.Serve(lis)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleWelcome(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	s.writeJSON(w, req, http.StatusOK, map[string]string{"couchdb": "Welcome", "version": "browsercouch"})
}

func (s *Server) handleDBGet(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	ctx := req.Context()
	if ps.ByName("db") == allDbsPath {
		names, err := s.cat.AllDbs(ctx)
		if err != nil {
			s.writeError(w, req, err)
			return
		}
		s.writeJSON(w, req, http.StatusOK, names)
		return
	}

	db, err := s.cat.Get(ctx, ps.ByName("db"))
	if err != nil {
		s.writeError(w, req, err)
		return
	}
	info, err := db.Info(ctx)
	if err != nil {
		s.writeError(w, req, err)
		return
	}
	s.writeJSON(w, req, http.StatusOK, info)
}

func (s *Server) handleDBCreate(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	if _, err := s.cat.Create(req.Context(), ps.ByName("db")); err != nil {
		s.writeError(w, req, err)
		return
	}
	s.writeJSON(w, req, http.StatusCreated, okResult{OK: true})
}

func (s *Server) handleDBDrop(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	if err := s.cat.Drop(req.Context(), ps.ByName("db")); err != nil {
		s.writeError(w, req, err)
		return
	}
	s.writeJSON(w, req, http.StatusOK, okResult{OK: true})
}

func (s *Server) handleDocPost(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	ctx := req.Context()
	db, err := s.cat.Get(ctx, ps.ByName("db"))
	if err != nil {
		s.writeError(w, req, err)
		return
	}

	var d doc.Document
	if err := s.readJSON(req, &d); err != nil {
		s.writeError(w, req, err)
		return
	}
	id, rev, err := db.Post(ctx, &d)
	if err != nil {
		s.writeError(w, req, err)
		return
	}
	s.writeJSON(w, req, http.StatusCreated, DocResult{OK: true, ID: id, Rev: rev.String()})
}

func (s *Server) handleDocGet(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	ctx := req.Context()
	db, err := s.cat.Get(ctx, ps.ByName("db"))
	if err != nil {
		s.writeError(w, req, err)
		return
	}

	id := ps.ByName("docid")
	if id == changesPath {
		s.handleChanges(w, req, db)
		return
	}

	d, ok, err := db.Get(ctx, id)
	if err != nil {
		s.writeError(w, req, err)
		return
	}
	if !ok {
		s.writeError(w, req, doc.ErrNotFound.New(id))
		return
	}
	s.writeJSON(w, req, http.StatusOK, d)
}

func (s *Server) handleChanges(w http.ResponseWriter, req *http.Request, db *database.Database) {
	q := req.URL.Query()
	var opts database.ChangesOptions
	if since := q.Get("since"); since != "" {
		n, err := strconv.ParseUint(since, 10, 64)
		if err != nil {
			s.writeError(w, req, badRequest("since must be a sequence number"))
			return
		}
		opts.Since = n
	}
	opts.IncludeDocs = q.Get("include_docs") == "true"

	changes, err := db.Changes(req.Context(), opts)
	if err != nil {
		s.writeError(w, req, err)
		return
	}
	s.writeJSON(w, req, http.StatusOK, changes)
}

func (s *Server) handleDocPut(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	ctx := req.Context()
	db, err := s.cat.Get(ctx, ps.ByName("db"))
	if err != nil {
		s.writeError(w, req, err)
		return
	}

	var d doc.Document
	if err := s.readJSON(req, &d); err != nil {
		s.writeError(w, req, err)
		return
	}
	d.ID = ps.ByName("docid")

	opts := database.LocalEdit
	if req.URL.Query().Get("new_edits") == "false" {
		opts = database.Replicated
	}
	rev, err := db.Put(ctx, &d, opts)
	if err != nil {
		s.writeError(w, req, err)
		return
	}
	s.writeJSON(w, req, http.StatusCreated, DocResult{OK: true, ID: d.ID, Rev: rev.String()})
}

func (s *Server) handleDocDelete(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	ctx := req.Context()
	db, err := s.cat.Get(ctx, ps.ByName("db"))
	if err != nil {
		s.writeError(w, req, err)
		return
	}

	rev, err := doc.ParseRevision(req.URL.Query().Get("rev"))
	if err != nil {
		s.writeError(w, req, err)
		return
	}
	id := ps.ByName("docid")
	next, err := db.Delete(ctx, id, rev)
	if err != nil {
		s.writeError(w, req, err)
		return
	}
	s.writeJSON(w, req, http.StatusOK, DocResult{OK: true, ID: id, Rev: next.String()})
}

// handleDBCommand serves the POST endpoints below a database.
func (s *Server) handleDBCommand(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	ctx := req.Context()
	db, err := s.cat.Get(ctx, ps.ByName("db"))
	if err != nil {
		s.writeError(w, req, err)
		return
	}

	switch ps.ByName("docid") {
	case bulkDocsPath:
		s.handleBulkDocs(w, req, db)
	case ensureFullCommitPath:
		s.writeJSON(w, req, http.StatusCreated, okResult{OK: true})
	default:
		s.writeError(w, req, &StatusError{Status: http.StatusMethodNotAllowed, Name: "method_not_allowed", Reason: "only PUT and DELETE are allowed on documents"})
	}
}

func (s *Server) handleBulkDocs(w http.ResponseWriter, req *http.Request, db *database.Database) {
	body := BulkDocsRequest{NewEdits: true}
	if err := s.readJSON(req, &body); err != nil {
		s.writeError(w, req, err)
		return
	}

	opts := database.PutOptions{Replicated: !body.NewEdits}
	results := make([]BulkDocResult, len(body.Docs))
	for i, d := range body.Docs {
		if d == nil {
			results[i] = BulkDocResult{Error: "bad_request", Reason: "null document"}
			continue
		}
		results[i].ID = d.ID
		if d.ID == "" && !opts.Replicated {
			id, rev, err := db.Post(req.Context(), d)
			results[i].ID = id
			s.fillBulkResult(&results[i], rev, err)
			continue
		}
		rev, err := db.Put(req.Context(), d, opts)
		s.fillBulkResult(&results[i], rev, err)
	}
	s.writeJSON(w, req, http.StatusCreated, results)
}

func (s *Server) fillBulkResult(res *BulkDocResult, rev doc.Revision, err error) {
	if err != nil {
		se := statusFor(err)
		res.Error, res.Reason = se.Name, se.Reason
		return
	}
	res.Rev = rev.String()
}

func (s *Server) handleView(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	ctx := req.Context()
	if ps.ByName("docid") != designPath {
		s.writeError(w, req, doc.ErrNotFound.New(req.URL.Path))
		return
	}
	db, err := s.cat.Get(ctx, ps.ByName("db"))
	if err != nil {
		s.writeError(w, req, err)
		return
	}
	v, ok := s.lookupView(db.Name(), ps.ByName("ddoc"), ps.ByName("view"))
	if !ok {
		s.writeError(w, req, doc.ErrNotFound.New(ps.ByName("ddoc")+"/"+ps.ByName("view")))
		return
	}

	q := req.URL.Query()
	opts := mapreduce.ViewOptions{Map: v.Map, Reduce: v.Reduce}
	if q.Get("reduce") == "false" {
		opts.Reduce = nil
	}

	res, err := db.View(ctx, opts)
	if err != nil {
		s.writeError(w, req, err)
		return
	}

	resp := ViewResponse{TotalRows: len(res.Rows), Rows: res.Rows}
	if raw := q.Get("key"); raw != "" {
		var key interface{}
		if err := json.Unmarshal([]byte(raw), &key); err != nil {
			s.writeError(w, req, badRequest("key must be JSON"))
			return
		}
		resp.Offset, _ = res.FindRow(key)
		resp.Rows = res.RowsForKey(key)
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, req, badRequest("limit must be a non-negative integer"))
			return
		}
		if n < len(resp.Rows) {
			resp.Rows = resp.Rows[:n]
		}
	}
	if resp.Rows == nil {
		resp.Rows = []mapreduce.Row{}
	}
	s.writeTagged(w, req, resp)
}

func (s *Server) readJSON(req *http.Request, v interface{}) error {
	body, err := bodyReader(req)
	if err != nil {
		return badRequest(err.Error())
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return badRequest(err.Error())
	}
	if err := json.Unmarshal(data, v); err != nil {
		return badRequest(err.Error())
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, req *http.Request, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.WithError(err).Error("failed to encode response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	s.writeBody(w, req, status, data)
}

// writeTagged is writeJSON with an ETag hashed from the encoded body. A
// request whose If-None-Match carries the same tag gets 304 and no body.
func (s *Server) writeTagged(w http.ResponseWriter, req *http.Request, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.WithError(err).Error("failed to encode response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	etag := `"` + strconv.FormatUint(xxhash.Sum64(data), 16) + `"`
	w.Header().Set("ETag", etag)
	if req.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	s.writeBody(w, req, http.StatusOK, data)
}

func (s *Server) writeBody(w http.ResponseWriter, req *http.Request, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	wc := respWriter(req, w)
	w.WriteHeader(status)
	if _, err := wc.Write(data); err != nil {
		s.log.WithError(err).Debug("failed to write response")
	}
	if err := wc.Close(); err != nil {
		s.log.WithError(err).Debug("failed to flush response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, req *http.Request, err error) {
	se := statusFor(err)
	if se.Status >= 500 {
		s.log.WithError(err).WithField("path", req.URL.Path).Error("request failed")
	}
	s.writeJSON(w, req, se.Status, errorBody{Error: se.Name, Reason: se.Reason})
}

func badRequest(reason string) *StatusError {
	return &StatusError{Status: http.StatusBadRequest, Name: "bad_request", Reason: reason}
}

// statusFor maps an error onto the CouchDB status and error name for it.
func statusFor(err error) *StatusError {
	if se, ok := err.(*StatusError); ok {
		return se
	}

	status, name := http.StatusInternalServerError, "internal_server_error"
	switch {
	case doc.ErrConflict.Is(err):
		status, name = http.StatusConflict, "conflict"
	case doc.ErrNotFound.Is(err), catalog.ErrDatabaseNotFound.Is(err):
		status, name = http.StatusNotFound, "not_found"
	case catalog.ErrDatabaseExists.Is(err):
		status, name = http.StatusPreconditionFailed, "file_exists"
	case doc.ErrInvalidDocument.Is(err), doc.ErrInvalidRevision.Is(err),
		database.ErrInvalidName.Is(err), mapreduce.ErrConfiguration.Is(err):
		status, name = http.StatusBadRequest, "bad_request"
	}
	return &StatusError{Status: status, Name: name, Reason: err.Error()}
}
