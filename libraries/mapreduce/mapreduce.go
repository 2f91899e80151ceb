// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

// Package mapreduce builds views: a map function is applied to every live
// document and, optionally, a reduce function aggregates the emissions of
// each key. Work proceeds in fixed size chunks with a progress hook between
// chunks so long scans never monopolize the caller.
package mapreduce

import (
	"context"
	"runtime"
	"sort"

	"gopkg.in/src-d/go-errors.v1"

	"github.com/peterbraden/browsercouch/libraries/doc"
)

// ErrConfiguration is returned for view requests that can never succeed, such
// as one without a map function.
var ErrConfiguration = errors.NewKind("invalid view configuration: %s")

// DefaultChunkSize is the number of documents or keys processed between
// progress calls when the caller doesn't choose.
const DefaultChunkSize = 1000

// EmitFunc records one (key, value) row for the document being mapped.
type EmitFunc func(key, value interface{})

// MapFunc is called once per live document and may emit any number of rows.
// An error aborts the view build and is returned to the caller unchanged.
type MapFunc func(d *doc.Document, emit EmitFunc) error

// ReduceFunc aggregates all values emitted under one key. |ids| holds the
// source document id of each value, index for index.
type ReduceFunc func(ids []string, values []interface{}) (interface{}, error)

// Source is what views read documents from.
type Source interface {
	// DocIDs returns the ids of every stored document, tombstones included.
	DocIDs(ctx context.Context) ([]string, error)
	// GetRaw returns the stored document for |id|, tombstones included.
	GetRaw(ctx context.Context, id string) (*doc.Document, bool, error)
}

type Phase string

const (
	MapPhase    Phase = "map"
	ReducePhase Phase = "reduce"
)

// Progress describes how far a phase has come when a chunk boundary is hit.
type Progress struct {
	Phase    Phase
	Fraction float64
}

// ProgressFunc is called at every chunk boundary except after the last
// chunk. Returning resumes the build; returning an error abandons it and the
// error is returned to the view caller. Nothing is published before the
// final chunk completes.
type ProgressFunc func(ctx context.Context, p Progress) error

// DefaultProgress yields the processor between chunks.
func DefaultProgress(ctx context.Context, p Progress) error {
	runtime.Gosched()
	return ctx.Err()
}

// MapReducer is a view execution strategy.
type MapReducer interface {
	Map(ctx context.Context, fn MapFunc, src Source, chunkSize int, progress ProgressFunc) (*MapResult, error)
	Reduce(ctx context.Context, fn ReduceFunc, mr *MapResult, chunkSize int, progress ProgressFunc) ([]Row, error)
	String() string
}

// Emissions holds everything emitted under one key. IDs[i] is the document
// that emitted Values[i].
type Emissions struct {
	IDs    []string
	Values []interface{}
}

// MapResult is the output of the map phase: the distinct keys in collation
// order and the emissions of each key, sorted by source document id.
type MapResult struct {
	Keys      []interface{}
	Emissions map[string]*Emissions
}

// Get returns the emissions recorded for |key|.
func (mr *MapResult) Get(key interface{}) (*Emissions, bool) {
	e, ok := mr.Emissions[KeyString(key)]
	return e, ok
}

// partial accumulates the emissions of one worker, or of the whole build for
// the single threaded strategy.
type partial struct {
	keys      map[string]interface{}
	emissions map[string]*Emissions
}

func newPartial() *partial {
	return &partial{keys: map[string]interface{}{}, emissions: map[string]*Emissions{}}
}

func (p *partial) emitter(id string) EmitFunc {
	return func(key, value interface{}) {
		key = Normalize(key)
		ks := KeyString(key)
		e, ok := p.emissions[ks]
		if !ok {
			e = &Emissions{}
			p.emissions[ks] = e
			p.keys[ks] = key
		}
		e.IDs = append(e.IDs, id)
		e.Values = append(e.Values, value)
	}
}

// mapChunk maps the documents named in |ids| into |p|.
func mapChunk(ctx context.Context, fn MapFunc, src Source, ids []string, p *partial) error {
	for _, id := range ids {
		d, ok, err := src.GetRaw(ctx, id)
		if err != nil {
			return err
		}
		if !ok || d.Deleted {
			continue
		}
		if err := fn(d, p.emitter(id)); err != nil {
			return err
		}
	}
	return nil
}

// merge concatenates the per-key lists of every partial and normalizes the
// result so it does not depend on how the documents were partitioned.
func merge(parts ...*partial) *MapResult {
	mr := &MapResult{Emissions: map[string]*Emissions{}}
	keys := map[string]interface{}{}
	for _, p := range parts {
		if p == nil {
			continue
		}
		for ks, e := range p.emissions {
			if cur, ok := mr.Emissions[ks]; ok {
				cur.IDs = append(cur.IDs, e.IDs...)
				cur.Values = append(cur.Values, e.Values...)
			} else {
				mr.Emissions[ks] = &Emissions{IDs: e.IDs, Values: e.Values}
				keys[ks] = p.keys[ks]
			}
		}
	}

	for _, e := range mr.Emissions {
		sortEmissions(e)
	}

	mr.Keys = make([]interface{}, 0, len(keys))
	for _, k := range keys {
		mr.Keys = append(mr.Keys, k)
	}
	sort.Slice(mr.Keys, func(i, j int) bool {
		return collate(mr.Keys[i], mr.Keys[j]) < 0
	})
	return mr
}

// sortEmissions orders by document id. Emissions of the same document keep
// the order they were emitted in.
func sortEmissions(e *Emissions) {
	idx := make([]int, len(e.IDs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return e.IDs[idx[i]] < e.IDs[idx[j]]
	})

	ids := make([]string, len(idx))
	vals := make([]interface{}, len(idx))
	for i, from := range idx {
		ids[i] = e.IDs[from]
		vals[i] = e.Values[from]
	}
	e.IDs, e.Values = ids, vals
}

func reduceKey(fn ReduceFunc, mr *MapResult, key interface{}) (Row, error) {
	e := mr.Emissions[KeyString(key)]
	val, err := fn(e.IDs, e.Values)
	if err != nil {
		return Row{}, err
	}
	return Row{Key: key, Value: val}, nil
}

func chunkSizeOrDefault(n int) int {
	if n < 1 {
		return DefaultChunkSize
	}
	return n
}

func progressOrDefault(p ProgressFunc) ProgressFunc {
	if p == nil {
		return DefaultProgress
	}
	return p
}
