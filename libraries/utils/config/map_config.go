// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package config

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var ErrConfigParamNotFound = errors.New("param not found")

// MapConfig holds string overrides, as given with --set key=value on the
// command line. Keys are the dotted YAML paths, e.g. listener.port.
type MapConfig struct {
	properties map[string]string
}

func NewMapConfig(properties map[string]string) *MapConfig {
	if properties == nil {
		properties = make(map[string]string)
	}
	return &MapConfig{properties}
}

// ParseSetFlags builds a MapConfig from "key=value" pairs.
func ParseSetFlags(pairs []string) (*MapConfig, error) {
	mc := NewMapConfig(nil)
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("'%s' is not of the form key=value", p)
		}
		mc.properties[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return mc, nil
}

func (mc *MapConfig) GetString(k string) (string, error) {
	if val, ok := mc.properties[k]; ok {
		return val, nil
	}
	return "", ErrConfigParamNotFound
}

func (mc *MapConfig) SetStrings(updates map[string]string) error {
	for k, v := range updates {
		mc.properties[k] = v
	}
	return nil
}

// Iter calls |cb| for each property in key order until it returns true.
func (mc *MapConfig) Iter(cb func(string, string) (stop bool)) {
	keys := make([]string, 0, len(mc.properties))
	for k := range mc.properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if cb(k, mc.properties[k]) {
			break
		}
	}
}

func (mc *MapConfig) Unset(params []string) error {
	for _, param := range params {
		delete(mc.properties, param)
	}
	return nil
}

func (mc *MapConfig) Size() int {
	return len(mc.properties)
}

// ApplyOverrides copies every property of |mc| into |cfg|. Unknown keys and
// unparsable values are errors.
func (cfg *YAMLConfig) ApplyOverrides(mc *MapConfig) error {
	var err error
	mc.Iter(func(k, v string) bool {
		err = cfg.set(k, v)
		return err != nil
	})
	if err != nil {
		return err
	}
	return cfg.Validate()
}

func (cfg *YAMLConfig) set(k, v string) error {
	switch k {
	case "log_level":
		cfg.LogLevelStr = &v
	case "log_format":
		cfg.LogFormatStr = &v
	case "listener.host":
		cfg.ListenerConfig.HostStr = &v
	case "listener.port":
		return setInt(&cfg.ListenerConfig.PortNumber, k, v)
	case "listener.read_timeout_millis":
		return setUint(&cfg.ListenerConfig.ReadTimeoutMillis, k, v)
	case "listener.write_timeout_millis":
		return setUint(&cfg.ListenerConfig.WriteTimeoutMillis, k, v)
	case "storage.url":
		cfg.StorageConfig.URL = &v
	case "storage.cache_size":
		return setInt(&cfg.StorageConfig.CacheSize, k, v)
	case "metrics.host":
		cfg.MetricsConfig.Host = &v
	case "metrics.port":
		return setInt(&cfg.MetricsConfig.Port, k, v)
	case "remote.retries":
		return setUint(&cfg.RemoteConfig.Retries, k, v)
	case "remote.max_delay_millis":
		return setUint(&cfg.RemoteConfig.MaxDelayMillis, k, v)
	case "remote.compression":
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		cfg.RemoteConfig.Compression = &b
	default:
		return fmt.Errorf("unknown config key '%s'", k)
	}
	return nil
}

func setInt(dst **int, k, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", k, err)
	}
	*dst = &n
	return nil
}

func setUint(dst **uint64, k, v string) error {
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", k, err)
	}
	*dst = &n
	return nil
}
