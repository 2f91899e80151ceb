// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package doc

import (
	"encoding/hex"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Revision identifies one version of a document in its edit lineage. It is
// written "<index>-<token>", where index counts edits along a chain and token
// is an opaque, collision resistant string generated per edit.
type Revision struct {
	Index uint64
	Token string
}

// ParseRevision parses the "<index>-<token>" form. The empty string parses to
// the zero Revision.
func ParseRevision(s string) (Revision, error) {
	if s == "" {
		return Revision{}, nil
	}

	idx := strings.IndexByte(s, '-')
	if idx <= 0 || idx == len(s)-1 {
		return Revision{}, ErrInvalidRevision.New(s)
	}

	n, err := strconv.ParseUint(s[:idx], 10, 64)
	if err != nil || n == 0 {
		return Revision{}, ErrInvalidRevision.New(s)
	}

	return Revision{Index: n, Token: s[idx+1:]}, nil
}

// MustParseRevision is ParseRevision for literals known to be valid.
func MustParseRevision(s string) Revision {
	r, err := ParseRevision(s)
	if err != nil {
		panic(err)
	}
	return r
}

func (r Revision) String() string {
	if r.IsZero() {
		return ""
	}
	return strconv.FormatUint(r.Index, 10) + "-" + r.Token
}

// IsZero returns true for the absent revision.
func (r Revision) IsZero() bool {
	return r.Index == 0 && r.Token == ""
}

// Compare orders revisions by index, then by token. It is a pure function of
// the two revisions so every peer picks the same winner.
func (r Revision) Compare(other Revision) int {
	switch {
	case r.Index < other.Index:
		return -1
	case r.Index > other.Index:
		return 1
	}
	return strings.Compare(r.Token, other.Token)
}

// Less returns true if |r| loses to |other|.
func (r Revision) Less(other Revision) bool {
	return r.Compare(other) < 0
}

func (r Revision) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Revision) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRevision(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// NewToken returns a fresh revision token.
func NewToken() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// NextRevision computes the revision a write is stored under. For a local
// edit the new revision extends |previous| by one with a fresh token, starting
// at index 1 when there is no previous revision. A replicated write already
// carries its full revision, and |supplied| is used as is.
func NextRevision(previous, supplied Revision, localEdit bool) Revision {
	if !localEdit {
		return supplied
	}
	return Revision{Index: previous.Index + 1, Token: NewToken()}
}

// CheckLinear enforces optimistic concurrency for a local edit: the revision
// the caller supplied must be the stored current revision. A document that
// does not exist accepts only an empty revision. A tombstone may also be
// recreated without a revision.
func CheckLinear(id string, current *Document, supplied Revision) error {
	switch {
	case current == nil:
		if !supplied.IsZero() {
			return ErrConflict.New(id)
		}
	case current.Deleted && supplied.IsZero():
	case current.Rev != supplied:
		return ErrConflict.New(id)
	}
	return nil
}
