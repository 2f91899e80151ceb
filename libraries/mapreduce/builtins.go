// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package mapreduce

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/peterbraden/browsercouch/libraries/doc"
)

// Sum adds up numeric values. Non-numeric values are an error. The
// addition is done in decimal so 0.1 + 0.2 sums to 0.3.
func Sum(ids []string, values []interface{}) (interface{}, error) {
	total := decimal.Zero
	for i, v := range values {
		f, ok := Normalize(v).(float64)
		if !ok {
			return nil, fmt.Errorf("_sum: value emitted by '%s' is not a number: %v", ids[i], v)
		}
		total = total.Add(decimal.NewFromFloat(f))
	}
	return total.InexactFloat64(), nil
}

// Count returns the number of values.
func Count(ids []string, values []interface{}) (interface{}, error) {
	return float64(len(values)), nil
}

var builtinReducers = map[string]ReduceFunc{
	"_sum":   Sum,
	"_count": Count,
}

// BuiltinReducer looks up a named reduce function such as "_sum" or
// "_count". An empty name means no reduce.
func BuiltinReducer(name string) (ReduceFunc, error) {
	if name == "" {
		return nil, nil
	}
	fn, ok := builtinReducers[name]
	if !ok {
		return nil, ErrConfiguration.New(fmt.Sprintf("unknown reduce function '%s'", name))
	}
	return fn, nil
}

// FieldMap returns a map function that emits the value at |keyPath| of each
// document as the key. If the key is an array, one row is emitted per
// element. The value is the one at |valuePath|, or null when |valuePath| is
// empty. Paths use gjson syntax; documents without a key are skipped.
func FieldMap(keyPath, valuePath string) MapFunc {
	return func(d *doc.Document, emit EmitFunc) error {
		body, err := json.Marshal(d)
		if err != nil {
			return err
		}

		key := gjson.GetBytes(body, keyPath)
		if !key.Exists() {
			return nil
		}

		var val interface{}
		if valuePath != "" {
			val = gjson.GetBytes(body, valuePath).Value()
		}

		if key.IsArray() {
			for _, k := range key.Array() {
				emit(k.Value(), val)
			}
			return nil
		}
		emit(key.Value(), val)
		return nil
	}
}
