// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package database

import (
	"context"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

// The change log maps dense sequence numbers, starting at 1, to the id of the
// document written at that position. Entries are never rewritten; the end
// of the log is the first sequence number with no entry.

func (db *Database) seqKey(seq uint64) string {
	return db.seqPrefix + strconv.FormatUint(seq, 10)
}

func (db *Database) appendLog(ctx context.Context, seq uint64, id string) error {
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return db.store.Put(ctx, db.seqKey(seq), data)
}

// readLog returns the document id logged at |seq|.
func (db *Database) readLog(ctx context.Context, seq uint64) (string, bool, error) {
	data, ok, err := db.store.Get(ctx, db.seqKey(seq))
	if err != nil || !ok {
		return "", false, err
	}

	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return "", false, err
	}
	return id, true, nil
}

// RebuildCounters recomputes the live document count and the last sequence
// number by walking the change log from sequence 1, keeping each id's latest
// entry and counting the ids whose stored document is not deleted. It runs
// automatically the first time either counter is needed.
func (db *Database) RebuildCounters(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.rebuildCountersLocked(ctx)
}

func (db *Database) ensureCountersLocked(ctx context.Context) error {
	if db.counted {
		return nil
	}
	return db.rebuildCountersLocked(ctx)
}

func (db *Database) rebuildCountersLocked(ctx context.Context) error {
	seen := make(map[string]struct{})
	var seq uint64
	for {
		id, ok, err := db.readLog(ctx, seq+1)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		seen[id] = struct{}{}
		seq++
	}

	var count int64
	for id := range seen {
		d, ok, err := db.readStored(ctx, id)
		if err != nil {
			return err
		}
		if ok && !d.Deleted {
			count++
		}
	}

	db.lastSeq = seq
	db.docCount = count
	db.counted = true

	db.log.WithFields(logrus.Fields{
		"last_seq":  seq,
		"doc_count": count,
	}).Debug("rebuilt counters from change log")
	return nil
}
