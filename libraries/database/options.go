// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package database

import (
	"github.com/sirupsen/logrus"

	"github.com/peterbraden/browsercouch/libraries/mapreduce"
	"github.com/peterbraden/browsercouch/libraries/metrics"
)

const DefaultCacheSize = 1024

type options struct {
	log        *logrus.Entry
	cacheSize  int
	metrics    *metrics.Metrics
	mapReducer mapreduce.MapReducer
	chunkSize  int
}

func defaultOptions() options {
	return options{
		log:        logrus.NewEntry(logrus.StandardLogger()),
		cacheSize:  DefaultCacheSize,
		mapReducer: mapreduce.SingleThreaded{},
		chunkSize:  mapreduce.DefaultChunkSize,
	}
}

type Option func(*options)

func WithLogger(log *logrus.Entry) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithCacheSize sets how many documents are kept decoded in memory. Zero
// disables the cache.
func WithCacheSize(n int) Option {
	return func(o *options) {
		o.cacheSize = n
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithMapReducer sets the strategy used by views that don't pick one.
func WithMapReducer(mr mapreduce.MapReducer) Option {
	return func(o *options) {
		o.mapReducer = mr
	}
}

// WithChunkSize sets the chunk size used by views that don't pick one.
func WithChunkSize(n int) Option {
	return func(o *options) {
		o.chunkSize = n
	}
}
