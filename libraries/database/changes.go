// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package database

import (
	"context"

	"github.com/peterbraden/browsercouch/libraries/doc"
)

type ChangesOptions struct {
	// Since excludes log entries at or before this sequence number.
	Since uint64
	// IncludeDocs attaches the current document to every change.
	IncludeDocs bool
}

type ChangeRev struct {
	Rev doc.Revision `json:"rev"`
}

// Change reports the current state of one document that changed after the
// requested sequence number.
type Change struct {
	Seq     uint64        `json:"seq"`
	ID      string        `json:"id"`
	Changes []ChangeRev   `json:"changes"`
	Deleted bool          `json:"deleted,omitempty"`
	Doc     *doc.Document `json:"doc,omitempty"`
}

// Rev is the current revision of the changed document.
func (c Change) Rev() doc.Revision {
	if len(c.Changes) == 0 {
		return doc.Revision{}
	}
	return c.Changes[0].Rev
}

type Changes struct {
	Results []Change `json:"results"`
	LastSeq uint64   `json:"last_seq"`
}

type logEntry struct {
	seq uint64
	id  string
}

// Changes walks the change log after opts.Since and returns one change per
// document id, taken from that id's most recent entry and describing the
// document as it is now rather than as it was logged. Results are in
// ascending sequence order. LastSeq is the highest sequence number walked,
// or opts.Since when nothing changed.
func (db *Database) Changes(ctx context.Context, opts ChangesOptions) (*Changes, error) {
	last, err := db.LastSequence(ctx)
	if err != nil {
		return nil, err
	}

	var entries []logEntry
	lastSeq := opts.Since
	for seq := opts.Since + 1; seq <= last; seq++ {
		id, ok, err := db.readLog(ctx, seq)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		entries = append(entries, logEntry{seq: seq, id: id})
		lastSeq = seq
	}

	// newest first, dropping ids already seen
	seen := make(map[string]struct{}, len(entries))
	kept := make([]logEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if _, ok := seen[entries[i].id]; ok {
			continue
		}
		seen[entries[i].id] = struct{}{}
		kept = append(kept, entries[i])
	}

	results := make([]Change, 0, len(kept))
	for i := len(kept) - 1; i >= 0; i-- {
		e := kept[i]
		d, ok, err := db.GetRaw(ctx, e.id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrCorruptLog.New(e.seq, e.id)
		}

		c := Change{
			Seq:     e.seq,
			ID:      e.id,
			Changes: []ChangeRev{{Rev: d.Rev}},
			Deleted: d.Deleted,
		}
		if opts.IncludeDocs {
			c.Doc = d
		}
		results = append(results, c)
	}

	return &Changes{Results: results, LastSeq: lastSeq}, nil
}
