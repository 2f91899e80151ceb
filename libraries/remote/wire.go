// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

// Package remote speaks the CouchDB HTTP API: a Client for talking to a
// remote database and a Server exposing a catalog of local databases.
package remote

import (
	"fmt"
	"net/http"

	"gopkg.in/src-d/go-errors.v1"

	"github.com/peterbraden/browsercouch/libraries/doc"
	"github.com/peterbraden/browsercouch/libraries/mapreduce"
)

// ErrRemote wraps transport failures and server errors that persisted
// through every retry.
var ErrRemote = errors.NewKind("remote request %s %s failed")

const (
	changesPath          = "_changes"
	bulkDocsPath         = "_bulk_docs"
	ensureFullCommitPath = "_ensure_full_commit"
	allDbsPath           = "_all_dbs"
	designPath           = "_design"
	viewSegment          = "_view"

	snappyEncoding = "x-snappy-framed"
	gzipEncoding   = "gzip"
)

// BulkDocsRequest is the body of a _bulk_docs call. NewEdits false asks the
// receiver to store the supplied revisions as is.
type BulkDocsRequest struct {
	NewEdits bool            `json:"new_edits"`
	Docs     []*doc.Document `json:"docs"`
}

// BulkDocResult reports the outcome of one document of a _bulk_docs call.
type BulkDocResult struct {
	ID     string `json:"id"`
	Rev    string `json:"rev,omitempty"`
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// DocResult is the response to a single document write.
type DocResult struct {
	OK  bool   `json:"ok"`
	ID  string `json:"id"`
	Rev string `json:"rev"`
}

type okResult struct {
	OK bool `json:"ok"`
}

// ViewResponse is the body of a view query.
type ViewResponse struct {
	TotalRows int             `json:"total_rows"`
	Offset    int             `json:"offset"`
	Rows      []mapreduce.Row `json:"rows"`
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// StatusError is a CouchDB error response.
type StatusError struct {
	Status int
	Name   string
	Reason string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Name, e.Reason)
}

// IsNotFound returns true for 404 responses.
func IsNotFound(err error) bool {
	se, ok := err.(*StatusError)
	return ok && se.Status == http.StatusNotFound
}

// IsConflict returns true for 409 responses.
func IsConflict(err error) bool {
	se, ok := err.(*StatusError)
	return ok && se.Status == http.StatusConflict
}
