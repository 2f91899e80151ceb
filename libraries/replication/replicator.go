// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

// Package replication copies changed documents between databases and keeps
// a checkpoint per source and target so each sync only sends what changed
// since the last successful one.
package replication

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/src-d/go-errors.v1"

	"github.com/peterbraden/browsercouch/libraries/database"
	"github.com/peterbraden/browsercouch/libraries/metrics"
)

// ErrRejected is returned when the receiving peer refuses a document. The
// checkpoint is not advanced.
var ErrRejected = errors.NewKind("%s rejected document '%s': %s %s")

type EventType int

const (
	SyncStartedEvent EventType = iota
	ChangesReadEvent
	DocsSentEvent
	SyncDoneEvent
)

func (t EventType) String() string {
	switch t {
	case SyncStartedEvent:
		return "sync started"
	case ChangesReadEvent:
		return "changes read"
	case DocsSentEvent:
		return "docs sent"
	case SyncDoneEvent:
		return "sync done"
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// Event reports the progress of a sync to an optional listener.
type Event struct {
	Type    EventType
	Source  string
	Target  string
	Since   uint64
	LastSeq uint64
	Docs    int
}

// Result describes a successful sync.
type Result struct {
	Source      string
	Target      string
	Since       uint64
	LastSeq     uint64
	DocsWritten int
}

type Option func(*Replicator)

func WithLogger(log *logrus.Entry) Option {
	return func(r *Replicator) {
		r.log = log
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Replicator) {
		r.metrics = m
	}
}

// WithEvents sends progress events on |ch|. Sends block until received or
// the sync's context is done.
func WithEvents(ch chan<- Event) Option {
	return func(r *Replicator) {
		r.events = ch
	}
}

// Replicator syncs one database with peers named by URI. Checkpoints for
// both directions are kept in that database.
type Replicator struct {
	db       *database.Database
	resolver *Resolver
	log      *logrus.Entry
	metrics  *metrics.Metrics
	events   chan<- Event
}

func New(db *database.Database, resolver *Resolver, opts ...Option) *Replicator {
	r := &Replicator{
		db:       db,
		resolver: resolver,
		log:      logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.WithField("db", db.Name())
	return r
}

// SyncTo sends the changes made to this database since the last sync to
// |target|.
func (r *Replicator) SyncTo(ctx context.Context, target string) (Result, error) {
	peer, err := r.resolver.Resolve(ctx, target)
	if err != nil {
		return Result{}, err
	}
	return r.replicate(ctx, NewLocalPeer(r.db), peer, metrics.PushDirection)
}

// SyncFrom applies the changes made to |source| since the last sync to this
// database.
func (r *Replicator) SyncFrom(ctx context.Context, source string) (Result, error) {
	peer, err := r.resolver.Resolve(ctx, source)
	if err != nil {
		return Result{}, err
	}
	return r.replicate(ctx, peer, NewLocalPeer(r.db), metrics.PullDirection)
}

func (r *Replicator) replicate(ctx context.Context, src, dst Peer, direction string) (res Result, err error) {
	start := time.Now()
	res = Result{Source: src.Identity(), Target: dst.Identity()}
	log := r.log.WithFields(logrus.Fields{"source": res.Source, "target": res.Target})

	defer func() {
		r.metrics.SyncFinished(direction, err, res.DocsWritten)
		if err != nil {
			log.WithError(err).WithField("since", res.Since).Warn("sync aborted")
			return
		}
		log.WithFields(logrus.Fields{
			"since":    res.Since,
			"last_seq": res.LastSeq,
			"docs":     res.DocsWritten,
			"duration": time.Since(start),
		}).Info("sync complete")
	}()

	res.Since, err = r.db.Checkpoint(ctx, res.Source, res.Target)
	if err != nil {
		return res, err
	}
	if err = r.emit(ctx, Event{Type: SyncStartedEvent, Since: res.Since}, res); err != nil {
		return res, err
	}

	changes, err := src.Changes(ctx, res.Since, true)
	if err != nil {
		return res, err
	}
	if err = r.emit(ctx, Event{Type: ChangesReadEvent, LastSeq: changes.LastSeq, Docs: len(changes.Results)}, res); err != nil {
		return res, err
	}

	if len(changes.Results) > 0 {
		if err = r.transmit(ctx, src, dst, changes); err != nil {
			return res, err
		}
		res.DocsWritten = len(changes.Results)
		if err = r.emit(ctx, Event{Type: DocsSentEvent, Docs: res.DocsWritten}, res); err != nil {
			return res, err
		}
	}

	if err = r.db.SetCheckpoint(ctx, res.Source, res.Target, changes.LastSeq); err != nil {
		return res, err
	}
	res.LastSeq = changes.LastSeq

	err = r.emit(ctx, Event{Type: SyncDoneEvent, LastSeq: res.LastSeq, Docs: res.DocsWritten}, res)
	return res, err
}

func (r *Replicator) transmit(ctx context.Context, src, dst Peer, changes *database.Changes) error {
	req, err := BuildBulkDocs(ctx, src, changes)
	if err != nil {
		return err
	}

	results, err := dst.BulkDocs(ctx, req)
	if err != nil {
		return err
	}
	for _, br := range results {
		if br.Error != "" {
			return ErrRejected.New(dst.Identity(), br.ID, br.Error, br.Reason)
		}
	}

	return dst.EnsureFullCommit(ctx)
}

func (r *Replicator) emit(ctx context.Context, ev Event, res Result) error {
	if r.events == nil {
		return nil
	}
	ev.Source, ev.Target = res.Source, res.Target

	select {
	case r.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
