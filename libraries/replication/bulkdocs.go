// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package replication

import (
	"context"

	"github.com/peterbraden/browsercouch/libraries/database"
	"github.com/peterbraden/browsercouch/libraries/doc"
	"github.com/peterbraden/browsercouch/libraries/remote"
)

// BuildBulkDocs packages the current version of every changed document for
// a replicated write. Live documents carry their whole body and a one entry
// revision history. Tombstones carry only their identity and a two entry
// history ending in the revision they deleted, so the receiver can tell
// which version the deletion supersedes.
func BuildBulkDocs(ctx context.Context, src Peer, changes *database.Changes) (*remote.BulkDocsRequest, error) {
	req := &remote.BulkDocsRequest{
		NewEdits: false,
		Docs:     make([]*doc.Document, 0, len(changes.Results)),
	}

	for _, c := range changes.Results {
		d := c.Doc
		if d == nil {
			var ok bool
			var err error
			d, ok, err = src.GetRaw(ctx, c.ID)
			if err != nil {
				return nil, err
			}
			if !ok {
				if !c.Deleted {
					return nil, doc.ErrNotFound.New(c.ID)
				}
				d = &doc.Document{ID: c.ID, Rev: c.Rev(), Deleted: true}
			}
		}
		req.Docs = append(req.Docs, payloadDoc(d))
	}

	return req, nil
}

func payloadDoc(d *doc.Document) *doc.Document {
	if d.Deleted {
		out := &doc.Document{
			ID:        d.ID,
			Rev:       d.Rev,
			Deleted:   true,
			Revisions: &doc.Revisions{Start: d.Rev.Index, IDs: []string{d.Rev.Token}},
		}
		if !d.RevWhenDeleted.IsZero() {
			out.Revisions.IDs = append(out.Revisions.IDs, d.RevWhenDeleted.Token)
		}
		return out
	}

	out := d.Clone()
	out.Revisions = &doc.Revisions{Start: d.Rev.Index, IDs: []string{d.Rev.Token}}
	return out
}
