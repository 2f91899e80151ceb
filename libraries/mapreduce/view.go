// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package mapreduce

import (
	"context"
	"sort"
)

// Row is one row of a view. ID is empty for reduced rows.
type Row struct {
	Key   interface{} `json:"key"`
	ID    string      `json:"id,omitempty"`
	Value interface{} `json:"value"`
}

// ViewResult is an immutable, key sorted view. Rows of equal keys are ordered
// by document id.
type ViewResult struct {
	Rows    []Row
	Reduced bool

	// map-only views: keyStarts[i] is the first row of the block for keys[i]
	keys      []interface{}
	keyStarts []int
}

// NewReducedView wraps reduce output, one row per key in key order.
func NewReducedView(rows []Row) *ViewResult {
	return &ViewResult{Rows: rows, Reduced: true}
}

// NewMapView flattens a map result into one row per emission and indexes the
// start of each key's block.
func NewMapView(mr *MapResult) *ViewResult {
	vr := &ViewResult{
		keys:      mr.Keys,
		keyStarts: make([]int, len(mr.Keys)),
	}
	for i, key := range mr.Keys {
		vr.keyStarts[i] = len(vr.Rows)
		e := mr.Emissions[KeyString(key)]
		for j, id := range e.IDs {
			vr.Rows = append(vr.Rows, Row{Key: key, ID: id, Value: e.Values[j]})
		}
	}
	return vr
}

// FindRow returns the position of the first row whose key equals |key|. When
// no row has that key it returns the position the key would be inserted at
// and false.
func (vr *ViewResult) FindRow(key interface{}) (int, bool) {
	key = Normalize(key)

	if vr.Reduced {
		i := sort.Search(len(vr.Rows), func(i int) bool {
			return collate(vr.Rows[i].Key, key) >= 0
		})
		return i, i < len(vr.Rows) && collate(vr.Rows[i].Key, key) == 0
	}

	i := sort.Search(len(vr.keys), func(i int) bool {
		return collate(vr.keys[i], key) >= 0
	})
	if i == len(vr.keys) {
		return len(vr.Rows), false
	}
	return vr.keyStarts[i], collate(vr.keys[i], key) == 0
}

// RowsForKey returns the block of rows emitted under |key|.
func (vr *ViewResult) RowsForKey(key interface{}) []Row {
	start, ok := vr.FindRow(key)
	if !ok {
		return nil
	}
	key = Normalize(key)
	end := start
	for end < len(vr.Rows) && collate(vr.Rows[end].Key, key) == 0 {
		end++
	}
	return vr.Rows[start:end]
}

// ViewOptions describes one view build.
type ViewOptions struct {
	Map    MapFunc
	Reduce ReduceFunc
	// ChunkSize defaults to DefaultChunkSize.
	ChunkSize int
	// Progress defaults to DefaultProgress.
	Progress ProgressFunc
	// MapReducer defaults to SingleThreaded.
	MapReducer MapReducer
}

func (opts ViewOptions) strategy() MapReducer {
	if opts.MapReducer == nil {
		return SingleThreaded{}
	}
	return opts.MapReducer
}

// BuildView runs the map phase over |src| and, if the options carry a reduce
// function, the reduce phase.
func BuildView(ctx context.Context, src Source, opts ViewOptions) (*ViewResult, error) {
	if opts.Map == nil {
		return nil, ErrConfiguration.New("a map function is required")
	}

	mr := opts.strategy()
	res, err := mr.Map(ctx, opts.Map, src, opts.ChunkSize, opts.Progress)
	if err != nil {
		return nil, err
	}

	if opts.Reduce == nil {
		return NewMapView(res), nil
	}

	rows, err := mr.Reduce(ctx, opts.Reduce, res, opts.ChunkSize, opts.Progress)
	if err != nil {
		return nil, err
	}
	return NewReducedView(rows), nil
}
