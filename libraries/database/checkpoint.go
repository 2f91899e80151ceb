// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package database

import (
	"context"

	json "github.com/goccy/go-json"
)

// metadata is the single per-database record stored at the namespace key.
type metadata struct {
	// Replications maps "source,target" to the last replicated sequence.
	Replications map[string]uint64 `json:"replications,omitempty"`
}

func checkpointKey(source, target string) string {
	return source + "," + target
}

func (db *Database) readMetadata(ctx context.Context) (metadata, error) {
	var md metadata
	data, ok, err := db.store.Get(ctx, db.ns)
	if err != nil || !ok {
		return md, err
	}
	if err := json.Unmarshal(data, &md); err != nil {
		return md, err
	}
	return md, nil
}

// Checkpoint returns the last sequence replicated from |source| to |target|,
// or 0 if the pair has never synced.
func (db *Database) Checkpoint(ctx context.Context, source, target string) (uint64, error) {
	db.metaMu.Lock()
	defer db.metaMu.Unlock()

	md, err := db.readMetadata(ctx)
	if err != nil {
		return 0, err
	}
	return md.Replications[checkpointKey(source, target)], nil
}

// SetCheckpoint records that |source| has been replicated to |target| up to
// and including |seq|.
func (db *Database) SetCheckpoint(ctx context.Context, source, target string, seq uint64) error {
	db.wipeMu.RLock()
	defer db.wipeMu.RUnlock()
	db.metaMu.Lock()
	defer db.metaMu.Unlock()

	md, err := db.readMetadata(ctx)
	if err != nil {
		return err
	}
	if md.Replications == nil {
		md.Replications = make(map[string]uint64)
	}
	md.Replications[checkpointKey(source, target)] = seq

	data, err := json.Marshal(md)
	if err != nil {
		return err
	}
	return db.store.Put(ctx, db.ns, data)
}
