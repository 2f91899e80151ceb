// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package database

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/peterbraden/browsercouch/libraries/mapreduce"
)

// ViewFinished receives the outcome of an asynchronous view build.
type ViewFinished func(*mapreduce.ViewResult, error)

// View builds a view over the database's documents. Options left unset use
// the database's strategy and chunk size. Views are computed from a full
// scan and never stored.
func (db *Database) View(ctx context.Context, opts mapreduce.ViewOptions) (*mapreduce.ViewResult, error) {
	if opts.MapReducer == nil {
		opts.MapReducer = db.mapReducer
	}
	if opts.ChunkSize < 1 {
		opts.ChunkSize = db.chunkSize
	}

	start := time.Now()
	vr, err := mapreduce.BuildView(ctx, db, opts)
	if err != nil {
		return nil, err
	}

	dur := time.Since(start)
	db.metrics.ViewBuilt(opts.MapReducer.String(), dur)
	db.log.WithFields(logrus.Fields{
		"strategy": opts.MapReducer.String(),
		"rows":     len(vr.Rows),
		"duration": dur,
	}).Debug("built view")
	return vr, nil
}

// ViewAsync builds the view on a new goroutine and hands the outcome to
// |finished|. Requests that can never succeed fail before the build starts.
func (db *Database) ViewAsync(ctx context.Context, opts mapreduce.ViewOptions, finished ViewFinished) error {
	if opts.Map == nil {
		return mapreduce.ErrConfiguration.New("a map function is required")
	}
	if finished == nil {
		return mapreduce.ErrConfiguration.New("a finished callback is required")
	}

	go func() {
		finished(db.View(ctx, opts))
	}()
	return nil
}
