// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package mapreduce

import (
	"sort"
	"strings"

	json "github.com/goccy/go-json"
)

type keyKind int

const (
	nullKind keyKind = iota
	boolKind
	numberKind
	stringKind
	arrayKind
	objectKind
)

// Normalize converts an emitted key or value into the generic JSON model
// (nil, bool, float64, string, []interface{}, map[string]interface{}) so
// keys emitted with different Go types but the same JSON meaning group
// together.
func Normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case nil, bool, float64, string:
		return t
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = Normalize(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = Normalize(e)
		}
		return out
	}

	// anything else goes through its JSON form
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}

// KeyString is the canonical encoding keys are grouped by.
func KeyString(key interface{}) string {
	b, err := json.Marshal(Normalize(key))
	if err != nil {
		return "null"
	}
	return string(b)
}

func kindOf(v interface{}) keyKind {
	switch v.(type) {
	case nil:
		return nullKind
	case bool:
		return boolKind
	case float64:
		return numberKind
	case string:
		return stringKind
	case []interface{}:
		return arrayKind
	default:
		return objectKind
	}
}

// Collate orders two view keys: null, then false and true, then numbers,
// strings, arrays and objects. Values of the same kind compare by value;
// strings compare by bytes, arrays and objects element by element.
func Collate(a, b interface{}) int {
	return collate(Normalize(a), Normalize(b))
}

func collate(a, b interface{}) int {
	ka, kb := kindOf(a), kindOf(b)
	if ka != kb {
		if ka < kb {
			return -1
		}
		return 1
	}

	switch ka {
	case nullKind:
		return 0
	case boolKind:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		}
		return 1
	case numberKind:
		fa, fb := a.(float64), b.(float64)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case stringKind:
		return strings.Compare(a.(string), b.(string))
	case arrayKind:
		aa, ab := a.([]interface{}), b.([]interface{})
		for i := 0; i < len(aa) && i < len(ab); i++ {
			if c := collate(aa[i], ab[i]); c != 0 {
				return c
			}
		}
		return compareInts(len(aa), len(ab))
	default:
		return collateObjects(a, b)
	}
}

func collateObjects(a, b interface{}) int {
	ma, aok := a.(map[string]interface{})
	mb, bok := b.(map[string]interface{})
	if !aok || !bok {
		return strings.Compare(KeyString(a), KeyString(b))
	}

	ka, kb := sortedKeys(ma), sortedKeys(mb)
	for i := 0; i < len(ka) && i < len(kb); i++ {
		if c := strings.Compare(ka[i], kb[i]); c != 0 {
			return c
		}
		if c := collate(ma[ka[i]], mb[kb[i]]); c != 0 {
			return c
		}
	}
	return compareInts(len(ka), len(kb))
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
