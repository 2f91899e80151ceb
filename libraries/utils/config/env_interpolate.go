// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package config

import (
	"bytes"
	"fmt"
	"os"
)

// interpolateEnv expands ${VAR} and ${VAR:-default} in |data|. An unset or
// empty VAR without a default is an error. $$ is a literal '$'; any other
// '$' is left alone.
func interpolateEnv(data []byte) ([]byte, error) {
	var out bytes.Buffer
	out.Grow(len(data))

	for i := 0; i < len(data); i++ {
		if data[i] != '$' || i+1 >= len(data) {
			out.WriteByte(data[i])
			continue
		}

		switch data[i+1] {
		case '$':
			out.WriteByte('$')
			i++
		case '{':
			end := bytes.IndexByte(data[i+2:], '}')
			if end < 0 {
				return nil, fmt.Errorf("unterminated environment placeholder at byte %d", i)
			}
			end += i + 2

			val, err := expandPlaceholder(data[i+2 : end])
			if err != nil {
				return nil, err
			}
			out.Write(val)
			i = end
		default:
			out.WriteByte('$')
		}
	}

	return out.Bytes(), nil
}

func expandPlaceholder(expr []byte) ([]byte, error) {
	name, def, hasDefault := expr, []byte(nil), false
	if k := bytes.Index(expr, []byte(":-")); k >= 0 {
		name, def, hasDefault = expr[:k], expr[k+2:], true
	}

	if !validEnvName(name) {
		return nil, fmt.Errorf("invalid environment variable name %q", string(name))
	}

	if val, ok := os.LookupEnv(string(name)); ok && val != "" {
		return []byte(val), nil
	}
	if hasDefault {
		return interpolateEnv(def)
	}
	return nil, fmt.Errorf("environment variable %q is not set", string(name))
}

func validEnvName(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for i, c := range b {
		letter := (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || c == '_'
		if !letter && (i == 0 || c < '0' || c > '9') {
			return false
		}
	}
	return true
}
