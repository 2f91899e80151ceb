// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package mapreduce

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Parallel spreads chunks across a pool of worker goroutines. Each worker
// keeps its own partial result; partials are merged once every chunk is
// done, so the output is identical to SingleThreaded for any worker count
// and chunk size.
//
// The map and reduce functions are called concurrently and must not share
// unsynchronized state.
type Parallel struct {
	// Workers is the pool size. Zero means runtime.NumCPU().
	Workers int
}

var _ MapReducer = Parallel{}

func (p Parallel) String() string {
	return fmt.Sprintf("parallel(%d)", p.workers())
}

func (p Parallel) workers() int {
	if p.Workers < 1 {
		return runtime.NumCPU()
	}
	return p.Workers
}

// chunkQueue hands out [start, end) ranges and reports progress as chunks
// complete. Progress calls are serialized.
type chunkQueue struct {
	mu       sync.Mutex
	next     int
	done     int
	total    int
	size     int
	phase    Phase
	progress ProgressFunc
}

func newChunkQueue(total, size int, phase Phase, progress ProgressFunc) *chunkQueue {
	return &chunkQueue{total: total, size: size, phase: phase, progress: progress}
}

func (q *chunkQueue) take() (int, int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.next >= q.total {
		return 0, 0, false
	}
	start := q.next
	end := start + q.size
	if end > q.total {
		end = q.total
	}
	q.next = end
	return start, end, true
}

func (q *chunkQueue) complete(ctx context.Context, n int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.done += n
	if q.done >= q.total {
		return nil
	}
	return q.progress(ctx, Progress{Phase: q.phase, Fraction: float64(q.done) / float64(q.total)})
}

func (p Parallel) Map(ctx context.Context, fn MapFunc, src Source, chunkSize int, progress ProgressFunc) (*MapResult, error) {
	chunkSize = chunkSizeOrDefault(chunkSize)
	progress = progressOrDefault(progress)

	ids, err := src.DocIDs(ctx)
	if err != nil {
		return nil, err
	}

	q := newChunkQueue(len(ids), chunkSize, MapPhase, progress)
	parts := make([]*partial, p.workers())

	eg, egCtx := errgroup.WithContext(ctx)
	for i := range parts {
		part := newPartial()
		parts[i] = part
		eg.Go(func() error {
			for {
				if err := egCtx.Err(); err != nil {
					return err
				}
				start, end, ok := q.take()
				if !ok {
					return nil
				}
				if err := mapChunk(egCtx, fn, src, ids[start:end], part); err != nil {
					return err
				}
				if err := q.complete(egCtx, end-start); err != nil {
					return err
				}
			}
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return merge(parts...), nil
}

func (p Parallel) Reduce(ctx context.Context, fn ReduceFunc, mr *MapResult, chunkSize int, progress ProgressFunc) ([]Row, error) {
	chunkSize = chunkSizeOrDefault(chunkSize)
	progress = progressOrDefault(progress)

	q := newChunkQueue(len(mr.Keys), chunkSize, ReducePhase, progress)
	rows := make([]Row, len(mr.Keys))

	eg, egCtx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers(); i++ {
		eg.Go(func() error {
			for {
				if err := egCtx.Err(); err != nil {
					return err
				}
				start, end, ok := q.take()
				if !ok {
					return nil
				}
				for j := start; j < end; j++ {
					row, err := reduceKey(fn, mr, mr.Keys[j])
					if err != nil {
						return err
					}
					rows[j] = row
				}
				if err := q.complete(egCtx, end-start); err != nil {
					return err
				}
			}
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}
