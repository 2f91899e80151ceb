// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/peterbraden/browsercouch/cmd/couch/util"
	"github.com/peterbraden/browsercouch/libraries/replication"
)

func couchSync(ctx context.Context, app *kingpin.Application) (*kingpin.CmdClause, util.KingpinHandler) {
	cmd := app.Command("sync", "Replicate a database to or from a peer, e.g. local:other or http://host:5984/db.")
	name := cmd.Arg("db", "local database name").Required().String()
	to := cmd.Flag("to", "push changes to this peer").String()
	from := cmd.Flag("from", "pull changes from this peer").String()

	return cmd, func(ctx context.Context, input string) int {
		return run(ctx, func(e *env) error {
			if (*to == "") == (*from == "") {
				return errors.New("exactly one of --to and --from is required")
			}

			db, err := e.cat.Open(ctx, *name)
			if err != nil {
				return err
			}

			events := make(chan replication.Event, 8)
			done := make(chan struct{})
			go func() {
				defer close(done)
				for ev := range events {
					e.log.WithField("source", ev.Source).
						WithField("target", ev.Target).
						WithField("docs", ev.Docs).
						Debug(ev.Type.String())
				}
			}()

			resolver := replication.NewResolver(e.cat, e.clientOptions()...)
			r := replication.New(db, resolver, replication.WithLogger(e.log), replication.WithEvents(events))

			start := time.Now()
			var res replication.Result
			if *to != "" {
				res, err = r.SyncTo(ctx, *to)
			} else {
				res, err = r.SyncFrom(ctx, *from)
			}
			close(events)
			<-done
			if err != nil {
				return err
			}

			fmt.Printf("%s -> %s: %s docs written, seq %d to %d, %s\n",
				res.Source, res.Target, humanize.Comma(int64(res.DocsWritten)),
				res.Since, res.LastSeq, time.Since(start).Round(time.Millisecond))
			return nil
		})
	}
}
