// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	json "github.com/goccy/go-json"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/peterbraden/browsercouch/cmd/couch/util"
	"github.com/peterbraden/browsercouch/libraries/mapreduce"
)

func couchView(ctx context.Context, app *kingpin.Application) (*kingpin.CmdClause, util.KingpinHandler) {
	cmd := app.Command("view", "Build a map-reduce view over a database and print its rows.")
	name := cmd.Arg("db", "database name").Required().String()
	keyPath := cmd.Flag("key-path", "path of the field emitted as key").Required().String()
	valuePath := cmd.Flag("value-path", "path of the field emitted as value; null when empty").String()
	reduce := cmd.Flag("reduce", "builtin reduce function").Enum("", "_count", "_sum")
	parallel := cmd.Flag("parallel", "map and reduce with this many workers; 0 runs single threaded").Default("0").Int()
	chunkSize := cmd.Flag("chunk-size", "documents per chunk").Default(fmt.Sprint(mapreduce.DefaultChunkSize)).Int()
	keyJSON := cmd.Flag("key", "only print rows with this JSON key").String()

	return cmd, func(ctx context.Context, input string) int {
		return run(ctx, func(e *env) error {
			var key interface{}
			if *keyJSON != "" {
				if err := json.Unmarshal([]byte(*keyJSON), &key); err != nil {
					return fmt.Errorf("--key: %w", err)
				}
			}

			reduceFn, err := mapreduce.BuiltinReducer(*reduce)
			if err != nil {
				return err
			}
			opts := mapreduce.ViewOptions{
				Map:       mapreduce.FieldMap(*keyPath, *valuePath),
				Reduce:    reduceFn,
				ChunkSize: *chunkSize,
			}
			if *parallel > 0 {
				opts.MapReducer = mapreduce.Parallel{Workers: *parallel}
			}

			db, err := e.cat.Get(ctx, *name)
			if err != nil {
				return err
			}

			vr, err := db.View(ctx, opts)
			if err != nil {
				return err
			}

			rows := vr.Rows
			if *keyJSON != "" {
				rows = vr.RowsForKey(key)
			}

			if stdoutJSON() {
				return printJSON(os.Stdout, struct {
					TotalRows int             `json:"total_rows"`
					Rows      []mapreduce.Row `json:"rows"`
				}{len(vr.Rows), rows})
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, row := range rows {
				k, err := json.Marshal(row.Key)
				if err != nil {
					return err
				}
				v, err := json.Marshal(row.Value)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", k, row.ID, v)
			}
			fmt.Fprintf(w, "total_rows\t%s\n", humanize.Comma(int64(len(vr.Rows))))
			return w.Flush()
		})
	}
}
