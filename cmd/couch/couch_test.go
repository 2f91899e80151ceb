// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package main

import (
	"context"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/peterbraden/browsercouch/libraries/catalog"
	"github.com/peterbraden/browsercouch/libraries/database"
	"github.com/peterbraden/browsercouch/libraries/doc"
	"github.com/peterbraden/browsercouch/libraries/remote"
	"github.com/peterbraden/browsercouch/libraries/utils/config"
	"github.com/peterbraden/browsercouch/store/kv"
)

func TestLoadConfigFromFlags(t *testing.T) {
	t.Setenv("COUCH_CONFIG", "")
	t.Setenv("COUCH_STORAGE", "")

	app := kingpin.New("couch", "")
	registerGlobalFlags(app)
	app.Command("noop", "")

	_, err := app.Parse([]string{"--storage", "bolt:///tmp/bc.db", "--set", "listener.port=6000", "-v", "--log-format", "json", "noop"})
	require.NoError(t, err)

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "bolt:///tmp/bc.db", cfg.StorageURL())
	assert.Equal(t, 6000, cfg.Port())
	assert.Equal(t, "json", cfg.LogFormat())

	lvl, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, lvl)

	_, err = app.Parse([]string{"--set", "listener.nope=1", "noop"})
	require.NoError(t, err)
	_, err = loadConfig()
	assert.Error(t, err)
}

func TestWantJSON(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	assert.True(t, wantJSON("json", w.Fd()))
	assert.False(t, wantJSON("table", w.Fd()))
	assert.True(t, wantJSON("auto", w.Fd()), "a pipe is not a terminal")
}

func TestProfileMode(t *testing.T) {
	assert.Nil(t, profileMode(""))
	assert.NotNil(t, profileMode("cpu"))
	assert.NotNil(t, profileMode("mem"))
}

func TestRegisterViews(t *testing.T) {
	ctx := context.Background()
	cat := catalog.New(kv.NewMemoryStore())
	db, err := cat.Create(ctx, "notes")
	require.NoError(t, err)

	for id, tags := range map[string][]interface{}{"a": {"x", "y"}, "b": {"x"}, "c": nil} {
		fields := map[string]interface{}{}
		if tags != nil {
			fields["tags"] = tags
		}
		_, err := db.Put(ctx, doc.New(id, fields), database.PutOptions{})
		require.NoError(t, err)
	}

	srv := remote.NewServer(remote.ServerArgs{Catalog: cat})
	require.NoError(t, registerViews(srv, []config.ViewYAMLConfig{
		{DB: "notes", Name: "app/by_tag", KeyPath: "tags", Reduce: "_count"},
	}))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client, err := remote.NewClient(ts.URL + "/notes")
	require.NoError(t, err)

	res, err := client.View(ctx, "app/by_tag", nil)
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "x", res.Rows[0].Key)
	assert.EqualValues(t, 2, res.Rows[0].Value)
	assert.Equal(t, "y", res.Rows[1].Key)
	assert.EqualValues(t, 1, res.Rows[1].Value)

	res, err = client.View(ctx, "app/by_tag", map[string]interface{}{"reduce": false})
	require.NoError(t, err)
	assert.Len(t, res.Rows, 3)

	assert.Error(t, registerViews(srv, []config.ViewYAMLConfig{{DB: "notes", Name: "noslash", KeyPath: "tags"}}))
	assert.Error(t, registerViews(srv, []config.ViewYAMLConfig{{DB: "notes", Name: "app/max", KeyPath: "tags", Reduce: "_max"}}))
}
