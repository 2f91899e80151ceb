// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package mapreduce

import (
	"context"
)

// SingleThreaded runs both phases on the calling goroutine, chunk by chunk.
type SingleThreaded struct{}

var _ MapReducer = SingleThreaded{}

func (SingleThreaded) String() string {
	return "single-threaded"
}

func (SingleThreaded) Map(ctx context.Context, fn MapFunc, src Source, chunkSize int, progress ProgressFunc) (*MapResult, error) {
	chunkSize = chunkSizeOrDefault(chunkSize)
	progress = progressOrDefault(progress)

	ids, err := src.DocIDs(ctx)
	if err != nil {
		return nil, err
	}

	p := newPartial()
	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}

		if err := mapChunk(ctx, fn, src, ids[start:end], p); err != nil {
			return nil, err
		}

		if end < len(ids) {
			if err := progress(ctx, Progress{Phase: MapPhase, Fraction: float64(end) / float64(len(ids))}); err != nil {
				return nil, err
			}
		}
	}

	return merge(p), nil
}

func (SingleThreaded) Reduce(ctx context.Context, fn ReduceFunc, mr *MapResult, chunkSize int, progress ProgressFunc) ([]Row, error) {
	chunkSize = chunkSizeOrDefault(chunkSize)
	progress = progressOrDefault(progress)

	rows := make([]Row, 0, len(mr.Keys))
	for start := 0; start < len(mr.Keys); start += chunkSize {
		end := start + chunkSize
		if end > len(mr.Keys) {
			end = len(mr.Keys)
		}

		for _, key := range mr.Keys[start:end] {
			row, err := reduceKey(fn, mr, key)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}

		if end < len(mr.Keys) {
			if err := progress(ctx, Progress{Phase: ReducePhase, Fraction: float64(end) / float64(len(mr.Keys))}); err != nil {
				return nil, err
			}
		}
	}

	return rows, nil
}
