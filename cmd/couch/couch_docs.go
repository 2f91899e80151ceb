// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	json "github.com/goccy/go-json"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/peterbraden/browsercouch/cmd/couch/util"
	"github.com/peterbraden/browsercouch/libraries/database"
	"github.com/peterbraden/browsercouch/libraries/doc"
)

func couchDbs(ctx context.Context, app *kingpin.Application) (*kingpin.CmdClause, util.KingpinHandler) {
	cmd := app.Command("dbs", "List the databases in the configured storage.")

	return cmd, func(ctx context.Context, input string) int {
		return run(ctx, func(e *env) error {
			names, err := e.cat.AllDbs(ctx)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		})
	}
}

func couchInfo(ctx context.Context, app *kingpin.Application) (*kingpin.CmdClause, util.KingpinHandler) {
	cmd := app.Command("info", "Show document count and update sequence of a database.")
	name := cmd.Arg("db", "database name").Required().String()

	return cmd, func(ctx context.Context, input string) int {
		return run(ctx, func(e *env) error {
			db, err := e.cat.Get(ctx, *name)
			if err != nil {
				return err
			}
			info, err := db.Info(ctx)
			if err != nil {
				return err
			}
			if stdoutJSON() {
				return printJSON(os.Stdout, info)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "db_name\t%s\n", info.DBName)
			fmt.Fprintf(w, "doc_count\t%s\n", humanize.Comma(info.DocCount))
			fmt.Fprintf(w, "update_seq\t%s\n", humanize.Comma(int64(info.UpdateSeq)))
			return w.Flush()
		})
	}
}

func couchGet(ctx context.Context, app *kingpin.Application) (*kingpin.CmdClause, util.KingpinHandler) {
	cmd := app.Command("get", "Print a document as JSON.")
	name := cmd.Arg("db", "database name").Required().String()
	id := cmd.Arg("id", "document id").Required().String()
	raw := cmd.Flag("raw", "show tombstones and replication metadata").Bool()

	return cmd, func(ctx context.Context, input string) int {
		return run(ctx, func(e *env) error {
			db, err := e.cat.Get(ctx, *name)
			if err != nil {
				return err
			}

			get := db.Get
			if *raw {
				get = db.GetRaw
			}
			d, ok, err := get(ctx, *id)
			if err != nil {
				return err
			}
			if !ok {
				return doc.ErrNotFound.New(*id)
			}
			return printJSON(os.Stdout, d)
		})
	}
}

func couchPut(ctx context.Context, app *kingpin.Application) (*kingpin.CmdClause, util.KingpinHandler) {
	cmd := app.Command("put", "Store a JSON document, read from the argument or stdin. Creates the database if needed.")
	name := cmd.Arg("db", "database name").Required().String()
	body := cmd.Arg("json", "the document, e.g. '{\"_id\":\"a\",\"n\":1}'; '-' or empty reads stdin").String()

	return cmd, func(ctx context.Context, input string) int {
		return run(ctx, func(e *env) error {
			data := []byte(*body)
			if *body == "" || *body == "-" {
				var err error
				if data, err = io.ReadAll(os.Stdin); err != nil {
					return err
				}
			}

			d := &doc.Document{}
			if err := json.Unmarshal(data, d); err != nil {
				return doc.ErrInvalidDocument.New(err.Error())
			}

			db, err := e.cat.Open(ctx, *name)
			if err != nil {
				return err
			}

			var rev doc.Revision
			if d.ID == "" {
				d.ID, rev, err = db.Post(ctx, d)
			} else {
				rev, err = db.Put(ctx, d, database.PutOptions{})
			}
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", d.ID, rev)
			return nil
		})
	}
}

func couchDelete(ctx context.Context, app *kingpin.Application) (*kingpin.CmdClause, util.KingpinHandler) {
	cmd := app.Command("delete", "Delete a document, or a whole database when no id is given.")
	name := cmd.Arg("db", "database name").Required().String()
	id := cmd.Arg("id", "document id").String()
	revStr := cmd.Flag("rev", "current revision of the document").String()

	return cmd, func(ctx context.Context, input string) int {
		return run(ctx, func(e *env) error {
			if *id == "" {
				return e.cat.Drop(ctx, *name)
			}

			var rev doc.Revision
			if *revStr != "" {
				var err error
				if rev, err = doc.ParseRevision(*revStr); err != nil {
					return err
				}
			}

			db, err := e.cat.Get(ctx, *name)
			if err != nil {
				return err
			}
			rev, err = db.Delete(ctx, *id, rev)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", *id, rev)
			return nil
		})
	}
}

func couchChanges(ctx context.Context, app *kingpin.Application) (*kingpin.CmdClause, util.KingpinHandler) {
	cmd := app.Command("changes", "List documents changed after a sequence number.")
	name := cmd.Arg("db", "database name").Required().String()
	since := cmd.Flag("since", "only changes after this sequence number").Default("0").Uint64()
	includeDocs := cmd.Flag("include-docs", "print full changes with documents as JSON").Bool()

	return cmd, func(ctx context.Context, input string) int {
		return run(ctx, func(e *env) error {
			db, err := e.cat.Get(ctx, *name)
			if err != nil {
				return err
			}
			changes, err := db.Changes(ctx, database.ChangesOptions{Since: *since, IncludeDocs: *includeDocs})
			if err != nil {
				return err
			}
			if *includeDocs || stdoutJSON() {
				return printJSON(os.Stdout, changes)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, c := range changes.Results {
				state := ""
				if c.Deleted {
					state = "deleted"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", c.Seq, c.ID, c.Rev(), state)
			}
			fmt.Fprintf(w, "last_seq\t%d\n", changes.LastSeq)
			return w.Flush()
		})
	}
}
