// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	lvl, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, lvl)
	assert.Equal(t, "text", cfg.LogFormat())
	assert.Equal(t, "localhost:5984", cfg.Addr())
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout())
	assert.Equal(t, "mem://", cfg.StorageURL())
	assert.Equal(t, 1024, cfg.CacheSize())
	assert.False(t, cfg.MetricsEnabled())
	assert.EqualValues(t, 5, cfg.RemoteRetries())
	assert.Equal(t, 2*time.Second, cfg.RemoteMaxDelay())
	assert.False(t, cfg.RemoteCompression())
}

func TestDefaultsFillUnsetFields(t *testing.T) {
	cfg, err := NewYamlConfig([]byte("listener:\n  port: 6000\nremote:\n  retries: 0\n"))
	require.NoError(t, err)

	assert.Equal(t, "localhost:6000", cfg.Addr())
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout())
	assert.Equal(t, 1024, cfg.CacheSize())
	assert.Equal(t, ":9091", cfg.MetricsAddr())
	assert.EqualValues(t, 0, cfg.RemoteRetries(), "an explicit zero is kept")
	assert.False(t, cfg.MetricsEnabled())
	assert.Contains(t, cfg.String(), "url: mem://")
}

const testYAML = `
log_level: DEBUG
log_format: json
listener:
  host: 0.0.0.0
  port: 15984
  write_timeout_millis: 500
storage:
  url: ${BC_TEST_STORAGE:-mem://}
  cache_size: 16
metrics:
  host: 127.0.0.1
  labels:
    env: test
remote:
  retries: 2
  compression: true
views:
  - db: notes
    name: app/by_tag
    key_path: tags
    reduce: _count
`

func TestNewYamlConfig(t *testing.T) {
	cfg, err := NewYamlConfig([]byte(testYAML))
	require.NoError(t, err)

	lvl, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, lvl)
	assert.Equal(t, "json", cfg.LogFormat())
	assert.Equal(t, "0.0.0.0:15984", cfg.Addr())
	assert.Equal(t, 500*time.Millisecond, cfg.WriteTimeout())
	assert.Equal(t, "mem://", cfg.StorageURL())
	assert.Equal(t, 16, cfg.CacheSize())
	assert.True(t, cfg.MetricsEnabled())
	assert.Equal(t, "127.0.0.1:9091", cfg.MetricsAddr())
	assert.Equal(t, map[string]string{"env": "test"}, cfg.MetricsLabels())
	assert.EqualValues(t, 2, cfg.RemoteRetries())
	assert.True(t, cfg.RemoteCompression())

	require.Len(t, cfg.Views, 1)
	ddoc, view, err := cfg.Views[0].Split()
	require.NoError(t, err)
	assert.Equal(t, "app", ddoc)
	assert.Equal(t, "by_tag", view)
	assert.Equal(t, "_count", cfg.Views[0].Reduce)
}

func TestNewYamlConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown key", "listner:\n  port: 1\n"},
		{"bad level", "log_level: loud\n"},
		{"bad format", "log_format: xml\n"},
		{"bad port", "listener:\n  port: 70000\n"},
		{"bad view name", "views:\n  - db: a\n    name: noslash\n    key_path: k\n"},
		{"view without key", "views:\n  - db: a\n    name: a/b\n"},
		{"unset env", "storage:\n  url: ${BC_TEST_DEFINITELY_UNSET}\n"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := NewYamlConfig([]byte(test.yaml))
			assert.Error(t, err)
		})
	}
}

func TestInterpolateEnv(t *testing.T) {
	t.Setenv("BC_TEST_HOST", "db.example.com")
	t.Setenv("BC_TEST_EMPTY", "")

	tests := []struct {
		in   string
		out  string
		fail bool
	}{
		{in: "host: ${BC_TEST_HOST}", out: "host: db.example.com"},
		{in: "host: ${BC_TEST_EMPTY:-fallback}", out: "host: fallback"},
		{in: "price: $$5 and $x", out: "price: $5 and $x"},
		{in: "trailing $", out: "trailing $"},
		{in: "${BC_TEST_EMPTY}", fail: true},
		{in: "${1BAD}", fail: true},
		{in: "${BC_TEST_HOST", fail: true},
	}

	for _, test := range tests {
		out, err := interpolateEnv([]byte(test.in))
		if test.fail {
			assert.Error(t, err, test.in)
			continue
		}
		require.NoError(t, err, test.in)
		assert.Equal(t, test.out, string(out))
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  url: bolt:///tmp/bc.db\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "bolt:///tmp/bc.db", cfg.StorageURL())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyOverrides(t *testing.T) {
	mc, err := ParseSetFlags([]string{"listener.port=6000", "remote.compression=true", "storage.url = leveldb:///tmp/x"})
	require.NoError(t, err)
	assert.Equal(t, 3, mc.Size())

	v, err := mc.GetString("storage.url")
	require.NoError(t, err)
	assert.Equal(t, "leveldb:///tmp/x", v)
	_, err = mc.GetString("nope")
	assert.Equal(t, ErrConfigParamNotFound, err)

	cfg := Default()
	require.NoError(t, cfg.ApplyOverrides(mc))
	assert.Equal(t, 6000, cfg.Port())
	assert.True(t, cfg.RemoteCompression())
	assert.Equal(t, "leveldb:///tmp/x", cfg.StorageURL())

	_, err = ParseSetFlags([]string{"novalue"})
	assert.Error(t, err)

	bad := NewMapConfig(map[string]string{"listener.port": "http"})
	assert.Error(t, Default().ApplyOverrides(bad))
	unknown := NewMapConfig(map[string]string{"listener.nope": "1"})
	assert.Error(t, Default().ApplyOverrides(unknown))

	require.NoError(t, mc.Unset([]string{"listener.port"}))
	var keys []string
	mc.Iter(func(k, _ string) bool {
		keys = append(keys, k)
		return false
	})
	assert.Equal(t, []string{"remote.compression", "storage.url"}, keys)
}
