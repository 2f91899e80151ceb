// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/peterbraden/browsercouch/cmd/couch/util"
)

var kingpinCommands = []util.KingpinCommand{
	couchServe,
	couchDbs,
	couchInfo,
	couchGet,
	couchPut,
	couchDelete,
	couchChanges,
	couchView,
	couchSync,
}

func main() {
	app := kingpin.New("couch", "An embeddable document store with map-reduce views and CouchDB style replication.")
	app.HelpFlag.Short('h')

	registerGlobalFlags(app)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handlers := map[string]util.KingpinHandler{}
	for _, cmdFunction := range kingpinCommands {
		command, handler := cmdFunction(ctx, app)
		handlers[command.FullCommand()] = handler
	}

	input := kingpin.MustParse(app.Parse(os.Args[1:]))

	handler := handlers[strings.Split(input, " ")[0]]
	if handler == nil {
		app.Usage(nil)
		os.Exit(1)
	}

	exitCode := handler(ctx, input)
	stop()
	os.Exit(exitCode)
}
