// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package util

import (
	"context"

	kingpin "gopkg.in/alecthomas/kingpin.v2"
)

// KingpinHandler runs the command selected by |input|, the parsed full
// command name, and returns the process exit code.
type KingpinHandler func(ctx context.Context, input string) (exitCode int)

// KingpinCommand registers a command and its subcommands on |app|.
type KingpinCommand func(ctx context.Context, app *kingpin.Application) (*kingpin.CmdClause, KingpinHandler)
