// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package doc

import "gopkg.in/src-d/go-errors.v1"

// ErrConflict is returned when a local edit names a revision other than the
// document's current one.
var ErrConflict = errors.NewKind("document update conflict: %s")

// ErrNotFound is returned by writes that require an existing live document.
var ErrNotFound = errors.NewKind("document not found: %s")

var ErrInvalidRevision = errors.NewKind("invalid revision: '%s'")

var ErrInvalidDocument = errors.NewKind("invalid document: %s")
