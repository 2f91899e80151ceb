// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

// Package database implements a named document store on top of a kv.Store.
// Every write bumps the document's revision and appends the document id to
// a change log; replication reads that log to find what to send.
package database

import (
	"context"
	"regexp"
	"sync"

	json "github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/src-d/go-errors.v1"

	"github.com/peterbraden/browsercouch/libraries/doc"
	"github.com/peterbraden/browsercouch/libraries/mapreduce"
	"github.com/peterbraden/browsercouch/libraries/metrics"
	"github.com/peterbraden/browsercouch/store/kv"
)

var ErrInvalidName = errors.NewKind("invalid database name: '%s'")

// ErrCorruptLog is returned when a change log entry names a document that
// isn't stored.
var ErrCorruptLog = errors.NewKind("change log entry %d names missing document '%s'")

// Keys of database <name> are "BC_DB_<name>" for the metadata record,
// "BC_DB_<name>:doc:<id>" and "BC_DB_<name>:seq:<n>". Names never contain
// ':', so no database's prefixes match another database's keys.
const (
	namespacePrefix = "BC_DB_"
	docInfix        = ":doc:"
	seqInfix        = ":seq:"
)

var validName = regexp.MustCompile(`^[a-z][a-z0-9_$()+-]*$`)

// PutOptions controls how a write is validated. The zero value is a local
// edit: the supplied revision must be the current one and a new revision is
// generated. Replicated writes store the supplied revision as is and
// resolve competing versions deterministically.
type PutOptions struct {
	Replicated bool
}

var (
	LocalEdit  = PutOptions{}
	Replicated = PutOptions{Replicated: true}
)

// Database is one named document store. It is safe for concurrent use;
// writes to the same document id are applied one at a time in lock order.
type Database struct {
	name      string
	ns        string
	docPrefix string
	seqPrefix string

	store   kv.Store
	log     *logrus.Entry
	metrics *metrics.Metrics
	cache   *lru.Cache[string, *doc.Document]
	locks   *idLocks

	mapReducer mapreduce.MapReducer
	chunkSize  int

	// mu guards the counters and serializes sequence allocation
	mu       sync.Mutex
	counted  bool
	docCount int64
	lastSeq  uint64

	metaMu sync.Mutex

	// writers hold wipeMu shared; Wipe holds it exclusively
	wipeMu sync.RWMutex
}

var _ mapreduce.Source = (*Database)(nil)

// Open returns the database |name| stored in |store|. Nothing is read until
// the first operation.
func Open(ctx context.Context, name string, store kv.Store, opts ...Option) (*Database, error) {
	if !ValidName(name) {
		return nil, ErrInvalidName.New(name)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	var cache *lru.Cache[string, *doc.Document]
	if o.cacheSize > 0 {
		var err error
		cache, err = lru.New[string, *doc.Document](o.cacheSize)
		if err != nil {
			return nil, err
		}
	}

	ns := namespacePrefix + name
	return &Database{
		name:       name,
		ns:         ns,
		docPrefix:  ns + docInfix,
		seqPrefix:  ns + seqInfix,
		store:      store,
		log:        o.log.WithField("db", name),
		metrics:    o.metrics,
		cache:      cache,
		locks:      newIDLocks(),
		mapReducer: o.mapReducer,
		chunkSize:  o.chunkSize,
	}, nil
}

// ValidName reports whether |name| is a legal database name: a lowercase
// letter followed by lowercase letters, digits and any of _$()+-.
func ValidName(name string) bool {
	return validName.MatchString(name)
}

func (db *Database) Name() string {
	return db.name
}

func (db *Database) docKey(id string) string {
	return db.docPrefix + id
}

// Get returns the current version of a live document. Absent and deleted
// documents both read as (nil, false, nil).
func (db *Database) Get(ctx context.Context, id string) (*doc.Document, bool, error) {
	d, ok, err := db.GetRaw(ctx, id)
	if err != nil || !ok || d.Deleted {
		return nil, false, err
	}
	return d, true, nil
}

// GetRaw is Get that also returns tombstones.
func (db *Database) GetRaw(ctx context.Context, id string) (*doc.Document, bool, error) {
	d, ok, err := db.load(ctx, id)
	if err != nil || !ok {
		return nil, false, err
	}
	return d.Clone(), true, nil
}

// load returns the cached or stored document. Callers must not modify it.
func (db *Database) load(ctx context.Context, id string) (*doc.Document, bool, error) {
	if db.cache == nil {
		return db.readStored(ctx, id)
	}
	if d, ok := db.cache.Get(id); ok {
		return d, true, nil
	}

	// fills happen under mu so a fill can't overwrite a newer commit
	db.mu.Lock()
	defer db.mu.Unlock()

	if d, ok := db.cache.Get(id); ok {
		return d, true, nil
	}
	d, ok, err := db.readStored(ctx, id)
	if err != nil || !ok {
		return nil, false, err
	}
	db.cache.Add(id, d)
	return d, true, nil
}

func (db *Database) readStored(ctx context.Context, id string) (*doc.Document, bool, error) {
	data, ok, err := db.store.Get(ctx, db.docKey(id))
	if err != nil || !ok {
		return nil, false, err
	}

	var d doc.Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, false, err
	}
	return &d, true, nil
}

// DocIDs returns the id of every stored document, tombstones included, in
// ascending order.
func (db *Database) DocIDs(ctx context.Context) ([]string, error) {
	keys, err := db.store.KeysWithPrefix(ctx, db.docPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = k[len(db.docPrefix):]
	}
	return ids, nil
}

// Put writes |d| and returns the revision it was stored under. See
// PutOptions for the difference between local and replicated writes.
func (db *Database) Put(ctx context.Context, d *doc.Document, opts PutOptions) (doc.Revision, error) {
	if d == nil || d.ID == "" {
		return doc.Revision{}, doc.ErrInvalidDocument.New("missing _id")
	}

	db.wipeMu.RLock()
	defer db.wipeMu.RUnlock()

	if err := db.locks.Lock(ctx, d.ID); err != nil {
		return doc.Revision{}, err
	}
	defer db.locks.Unlock(d.ID)

	cur, ok, err := db.load(ctx, d.ID)
	if err != nil {
		return doc.Revision{}, err
	}
	if !ok {
		cur = nil
	}

	if opts.Replicated {
		return db.putReplicated(ctx, cur, d)
	}
	return db.putLocal(ctx, cur, d)
}

func (db *Database) putLocal(ctx context.Context, cur, d *doc.Document) (doc.Revision, error) {
	if d.Deleted && (cur == nil || cur.Deleted) {
		return doc.Revision{}, doc.ErrNotFound.New(d.ID)
	}
	if err := doc.CheckLinear(d.ID, cur, d.Rev); err != nil {
		return doc.Revision{}, err
	}

	var prev doc.Revision
	if cur != nil {
		prev = cur.Rev
	}

	next := d.Clone()
	next.Rev = doc.NextRevision(prev, d.Rev, true)
	next.Revisions = nil
	// conflicts are only ever recorded by replication
	next.Conflicts = nil
	if cur != nil && len(cur.Conflicts) > 0 {
		next.Conflicts = append([]doc.Revision(nil), cur.Conflicts...)
	}
	next.RevWhenDeleted = doc.Revision{}
	if next.Deleted {
		next.RevWhenDeleted = prev
	}

	if err := db.commit(ctx, cur, next); err != nil {
		return doc.Revision{}, err
	}
	db.metrics.DocumentWritten(metrics.LocalWrite)
	return next.Rev, nil
}

func (db *Database) putReplicated(ctx context.Context, cur, d *doc.Document) (doc.Revision, error) {
	rev := d.Rev
	if rev.IsZero() {
		rev = d.Revisions.Revision()
	}
	if rev.IsZero() {
		return doc.Revision{}, doc.ErrInvalidDocument.New("replicated write of '" + d.ID + "' carries no revision")
	}

	next := d.Clone()
	next.Rev = doc.NextRevision(doc.Revision{}, rev, false)
	if next.Deleted && next.RevWhenDeleted.IsZero() {
		next.RevWhenDeleted = d.Revisions.Previous()
	}
	next.Revisions = nil

	if cur != nil {
		// already applied, either as the winner or as a loser
		if cur.HasConflict(rev) || (cur.Rev == rev && !addsConflicts(cur, next)) {
			return rev, nil
		}

		if cur.Rev == rev || (d.Revisions.Contains(cur.Rev) && cur.Rev.Less(rev)) {
			next = doc.Supersede(cur, next)
		} else {
			var loser doc.Revision
			next, loser = doc.ResolveConflict(cur, next)
			db.metrics.ConflictResolved()
			db.log.WithFields(logrus.Fields{
				"id":     d.ID,
				"winner": next.Rev.String(),
				"loser":  loser.String(),
			}).Debug("resolved replicated conflict")
		}
	}

	if err := db.commit(ctx, cur, next); err != nil {
		return doc.Revision{}, err
	}
	db.metrics.DocumentWritten(metrics.ReplicatedWrite)
	return rev, nil
}

// addsConflicts returns true if |next| records a losing revision |cur|
// doesn't know about.
func addsConflicts(cur, next *doc.Document) bool {
	for _, c := range next.Conflicts {
		if c != cur.Rev && !cur.HasConflict(c) {
			return true
		}
	}
	return false
}

// commit appends a log entry for |next| and stores it, then updates the
// counters. |cur| is the version being replaced, or nil.
func (db *Database) commit(ctx context.Context, cur, next *doc.Document) error {
	data, err := json.Marshal(next)
	if err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.ensureCountersLocked(ctx); err != nil {
		return err
	}

	seq := db.lastSeq + 1
	if err := db.appendLog(ctx, seq, next.ID); err != nil {
		return err
	}
	if err := db.store.Put(ctx, db.docKey(next.ID), data); err != nil {
		if db.cache != nil {
			db.cache.Remove(next.ID)
		}
		return err
	}

	db.lastSeq = seq
	db.docCount += live(next) - live(cur)
	if db.cache != nil {
		db.cache.Add(next.ID, next)
	}
	return nil
}

func live(d *doc.Document) int64 {
	if d == nil || d.Deleted {
		return 0
	}
	return 1
}

// PutMany writes each document in turn. Writes are independent: when one
// fails, the ones before it remain applied and the error is returned.
func (db *Database) PutMany(ctx context.Context, docs []*doc.Document, opts PutOptions) ([]doc.Revision, error) {
	revs := make([]doc.Revision, 0, len(docs))
	for _, d := range docs {
		rev, err := db.Put(ctx, d, opts)
		if err != nil {
			return revs, err
		}
		revs = append(revs, rev)
	}
	return revs, nil
}

// Post is a local Put that assigns a new id to documents without one.
func (db *Database) Post(ctx context.Context, d *doc.Document) (string, doc.Revision, error) {
	d = d.Clone()
	if d.ID == "" {
		d.ID = ulid.Make().String()
	}
	rev, err := db.Put(ctx, d, LocalEdit)
	if err != nil {
		return "", doc.Revision{}, err
	}
	return d.ID, rev, nil
}

// Delete replaces the live document |id| at |rev| with a tombstone.
func (db *Database) Delete(ctx context.Context, id string, rev doc.Revision) (doc.Revision, error) {
	return db.Put(ctx, &doc.Document{ID: id, Rev: rev, Deleted: true}, LocalEdit)
}

// DocCount returns the number of live documents.
func (db *Database) DocCount(ctx context.Context) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.ensureCountersLocked(ctx); err != nil {
		return 0, err
	}
	return db.docCount, nil
}

// LastSequence returns the highest sequence number assigned so far.
func (db *Database) LastSequence(ctx context.Context) (uint64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.ensureCountersLocked(ctx); err != nil {
		return 0, err
	}
	return db.lastSeq, nil
}

// Info summarizes the database.
type Info struct {
	DBName    string `json:"db_name"`
	DocCount  int64  `json:"doc_count"`
	UpdateSeq uint64 `json:"update_seq"`
}

func (db *Database) Info(ctx context.Context) (Info, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.ensureCountersLocked(ctx); err != nil {
		return Info{}, err
	}
	return Info{DBName: db.name, DocCount: db.docCount, UpdateSeq: db.lastSeq}, nil
}

// Wipe removes every document, log entry and checkpoint of the database.
// It waits for in-flight writes and checkpoint updates, and blocks new ones
// until it returns.
func (db *Database) Wipe(ctx context.Context) error {
	db.wipeMu.Lock()
	defer db.wipeMu.Unlock()
	db.metaMu.Lock()
	defer db.metaMu.Unlock()
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, prefix := range []string{db.seqPrefix, db.docPrefix} {
		keys, err := db.store.KeysWithPrefix(ctx, prefix)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := db.store.Remove(ctx, k); err != nil {
				return err
			}
		}
	}

	if err := db.store.Remove(ctx, db.ns); err != nil {
		return err
	}

	if db.cache != nil {
		db.cache.Purge()
	}
	db.counted = true
	db.docCount = 0
	db.lastSeq = 0
	return nil
}
