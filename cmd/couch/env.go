// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	json "github.com/goccy/go-json"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/peterbraden/browsercouch/libraries/catalog"
	"github.com/peterbraden/browsercouch/libraries/database"
	"github.com/peterbraden/browsercouch/libraries/mapreduce"
	"github.com/peterbraden/browsercouch/libraries/metrics"
	"github.com/peterbraden/browsercouch/libraries/remote"
	"github.com/peterbraden/browsercouch/libraries/utils/config"
	"github.com/peterbraden/browsercouch/store/kv"
)

var (
	configPath *string
	storageURL *string
	overrides  *[]string
	verbose    *bool
	logFormat  *string
	format     *string
)

func registerGlobalFlags(app *kingpin.Application) {
	configPath = app.Flag("config", "path to a YAML config file").Envar("COUCH_CONFIG").String()
	storageURL = app.Flag("storage", "storage url, e.g. mem://, bolt:///path, leveldb:///path, badger:///path").Envar("COUCH_STORAGE").String()
	overrides = app.Flag("set", "override a config value, e.g. --set listener.port=6000").Strings()
	verbose = app.Flag("verbose", "log at debug level").Short('v').Bool()
	logFormat = app.Flag("log-format", "log format").Enum("", "text", "json")
	format = app.Flag("format", "output format; auto prints tables to a terminal and JSON otherwise").Default("auto").Enum("auto", "table", "json")
}

// env is everything a command needs, built from the flags and the config.
type env struct {
	cfg     *config.YAMLConfig
	log     *logrus.Entry
	cat     *catalog.Catalog
	metrics *metrics.Metrics
}

func loadConfig() (*config.YAMLConfig, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			return nil, err
		}
	}

	mc, err := config.ParseSetFlags(*overrides)
	if err != nil {
		return nil, err
	}
	if *storageURL != "" {
		_ = mc.SetStrings(map[string]string{"storage.url": *storageURL})
	}
	if *verbose {
		_ = mc.SetStrings(map[string]string{"log_level": "debug"})
	}
	if *logFormat != "" {
		_ = mc.SetStrings(map[string]string{"log_format": *logFormat})
	}
	if err := cfg.ApplyOverrides(mc); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(cfg *config.YAMLConfig) *logrus.Entry {
	logger := logrus.StandardLogger()
	if lvl, err := cfg.LogLevel(); err == nil {
		logger.SetLevel(lvl)
	}
	if cfg.LogFormat() == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logrus.NewEntry(logger)
}

// openEnv opens the catalog over the configured storage. |m| may be nil.
func openEnv(ctx context.Context, cfg *config.YAMLConfig, m *metrics.Metrics) (*env, error) {
	log := setupLogging(cfg)

	store, err := kv.Open(ctx, cfg.StorageURL())
	if err != nil {
		return nil, err
	}
	log.WithField("storage", cfg.StorageURL()).Debug("opened storage")

	cat := catalog.New(store,
		database.WithLogger(log),
		database.WithCacheSize(cfg.CacheSize()),
		database.WithMetrics(m),
	)
	return &env{cfg: cfg, log: log, cat: cat, metrics: m}, nil
}

func (e *env) Close() error {
	return e.cat.Close()
}

func (e *env) clientOptions() []remote.ClientOption {
	return []remote.ClientOption{
		remote.WithRetries(e.cfg.RemoteRetries()),
		remote.WithMaxDelay(e.cfg.RemoteMaxDelay()),
		remote.WithCompression(e.cfg.RemoteCompression()),
		remote.WithClientLogger(e.log),
	}
}

// buildView turns a configured view into map and reduce functions.
func buildView(v config.ViewYAMLConfig) (remote.View, error) {
	reduce, err := mapreduce.BuiltinReducer(v.Reduce)
	if err != nil {
		return remote.View{}, err
	}
	return remote.View{Map: mapreduce.FieldMap(v.KeyPath, v.ValuePath), Reduce: reduce}, nil
}

// run opens the environment, calls |f| and maps its error to an exit code.
func run(ctx context.Context, f func(e *env) error) int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	e, err := openEnv(ctx, cfg, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer e.Close()

	if err := f(e); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// stdoutJSON reports whether listings on stdout are printed as JSON.
func stdoutJSON() bool {
	return wantJSON(*format, os.Stdout.Fd())
}

func wantJSON(format string, fd uintptr) bool {
	switch format {
	case "json":
		return true
	case "table":
		return false
	}
	return !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
