// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package doc

import (
	"bytes"

	json "github.com/goccy/go-json"
	"github.com/tidwall/sjson"
)

// Reserved member names of the JSON document form.
const (
	IDField             = "_id"
	RevField            = "_rev"
	DeletedField        = "_deleted"
	RevWhenDeletedField = "_revWhenDeleted"
	ConflictsField      = "_conflicts"
	RevisionsField      = "_revisions"
)

// Revisions is the compact revision history attached to replicated
// documents: |IDs| holds tokens newest first, the first of which has index
// |Start|.
type Revisions struct {
	Start uint64   `json:"start"`
	IDs   []string `json:"ids"`
}

// Revision returns the leaf revision the history describes.
func (rs *Revisions) Revision() Revision {
	if rs == nil || len(rs.IDs) == 0 || rs.Start == 0 {
		return Revision{}
	}
	return Revision{Index: rs.Start, Token: rs.IDs[0]}
}

// Previous returns the revision preceding the leaf, if the history has one.
func (rs *Revisions) Previous() Revision {
	if rs == nil || len(rs.IDs) < 2 || rs.Start < 2 {
		return Revision{}
	}
	return Revision{Index: rs.Start - 1, Token: rs.IDs[1]}
}

// Contains returns true if |r| is part of the history.
func (rs *Revisions) Contains(r Revision) bool {
	if rs == nil || r.Index == 0 || r.Index > rs.Start {
		return false
	}
	i := rs.Start - r.Index
	return i < uint64(len(rs.IDs)) && rs.IDs[i] == r.Token
}

// Document is the envelope every stored value travels in. Reserved fields are
// typed; everything else the client wrote lives in Fields.
type Document struct {
	ID             string
	Rev            Revision
	Deleted        bool
	RevWhenDeleted Revision
	Conflicts      []Revision
	Revisions      *Revisions
	Fields         map[string]interface{}
}

// New returns a document with the given id and fields.
func New(id string, fields map[string]interface{}) *Document {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	return &Document{ID: id, Fields: fields}
}

// Get returns a non-reserved field.
func (d *Document) Get(field string) (interface{}, bool) {
	v, ok := d.Fields[field]
	return v, ok
}

// Clone returns a deep copy of |d|.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}

	cp := *d
	if d.Conflicts != nil {
		cp.Conflicts = append([]Revision(nil), d.Conflicts...)
	}
	if d.Revisions != nil {
		cp.Revisions = &Revisions{Start: d.Revisions.Start, IDs: append([]string(nil), d.Revisions.IDs...)}
	}
	cp.Fields = deepCopy(d.Fields).(map[string]interface{})
	return &cp
}

func deepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		cp := make(map[string]interface{}, len(t))
		for k, val := range t {
			cp[k] = deepCopy(val)
		}
		return cp
	case []interface{}:
		cp := make([]interface{}, len(t))
		for i, val := range t {
			cp[i] = deepCopy(val)
		}
		return cp
	case nil:
		return map[string]interface{}{}
	default:
		return v
	}
}

// HasConflict returns true if |rev| is recorded as a losing revision.
func (d *Document) HasConflict(rev Revision) bool {
	for _, c := range d.Conflicts {
		if c == rev {
			return true
		}
	}
	return false
}

// MarshalJSON writes the CouchDB document form, with reserved members
// spliced in next to the client's fields.
func (d *Document) MarshalJSON() ([]byte, error) {
	fields := d.Fields
	if fields == nil {
		fields = map[string]interface{}{}
	}

	out, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}

	set := func(path string, val interface{}) {
		if err == nil {
			out, err = sjson.SetBytes(out, path, val)
		}
	}

	set(IDField, d.ID)
	if !d.Rev.IsZero() {
		set(RevField, d.Rev.String())
	}
	if d.Deleted {
		set(DeletedField, true)
	}
	if !d.RevWhenDeleted.IsZero() {
		set(RevWhenDeletedField, d.RevWhenDeleted.String())
	}
	if len(d.Conflicts) > 0 {
		revs := make([]string, len(d.Conflicts))
		for i, c := range d.Conflicts {
			revs[i] = c.String()
		}
		set(ConflictsField, revs)
	}
	if d.Revisions != nil {
		set(RevisionsField, map[string]interface{}{"start": d.Revisions.Start, "ids": d.Revisions.IDs})
	}

	if err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Document) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return ErrInvalidDocument.New("null")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return ErrInvalidDocument.New(err.Error())
	}

	nd := Document{Fields: make(map[string]interface{}, len(raw))}
	for k, v := range raw {
		var err error
		switch k {
		case IDField:
			err = json.Unmarshal(v, &nd.ID)
		case RevField:
			err = json.Unmarshal(v, &nd.Rev)
		case DeletedField:
			err = json.Unmarshal(v, &nd.Deleted)
		case RevWhenDeletedField:
			err = json.Unmarshal(v, &nd.RevWhenDeleted)
		case ConflictsField:
			err = json.Unmarshal(v, &nd.Conflicts)
		case RevisionsField:
			err = json.Unmarshal(v, &nd.Revisions)
		default:
			var val interface{}
			err = json.Unmarshal(v, &val)
			nd.Fields[k] = val
		}
		if err != nil {
			return ErrInvalidDocument.New(k + ": " + err.Error())
		}
	}

	*d = nd
	return nil
}
