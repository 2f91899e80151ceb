// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

// Package config reads the server's YAML configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

type ListenerYAMLConfig struct {
	HostStr            *string `yaml:"host,omitempty" default:"localhost"`
	PortNumber         *int    `yaml:"port,omitempty" default:"5984"`
	ReadTimeoutMillis  *uint64 `yaml:"read_timeout_millis,omitempty" default:"30000"`
	WriteTimeoutMillis *uint64 `yaml:"write_timeout_millis,omitempty" default:"30000"`
}

type StorageYAMLConfig struct {
	URL       *string `yaml:"url,omitempty" default:"mem://"`
	CacheSize *int    `yaml:"cache_size,omitempty" default:"1024"`
}

// MetricsYAMLConfig enables the metrics listener when Host is set.
type MetricsYAMLConfig struct {
	Labels map[string]string `yaml:"labels"`
	Host   *string           `yaml:"host,omitempty"`
	Port   *int              `yaml:"port,omitempty" default:"9091"`
}

type RemoteYAMLConfig struct {
	Retries        *uint64 `yaml:"retries,omitempty" default:"5"`
	MaxDelayMillis *uint64 `yaml:"max_delay_millis,omitempty" default:"2000"`
	Compression    *bool   `yaml:"compression,omitempty"`
}

// ViewYAMLConfig defines a view served for one database. Name is
// "ddoc/view"; keys and values are picked out of documents by gjson path.
type ViewYAMLConfig struct {
	DB        string `yaml:"db"`
	Name      string `yaml:"name"`
	KeyPath   string `yaml:"key_path"`
	ValuePath string `yaml:"value_path,omitempty"`
	Reduce    string `yaml:"reduce,omitempty"`
}

// Split returns the design document and view names.
func (v ViewYAMLConfig) Split() (ddoc, view string, err error) {
	ddoc, view, ok := strings.Cut(v.Name, "/")
	if !ok || ddoc == "" || view == "" {
		return "", "", fmt.Errorf("view name '%s' is not of the form ddoc/view", v.Name)
	}
	return ddoc, view, nil
}

// YAMLConfig is the server configuration. Fields left out of the file are
// filled from their default tags, so every accessor sees a value.
type YAMLConfig struct {
	LogLevelStr    *string            `yaml:"log_level,omitempty" default:"info"`
	LogFormatStr   *string            `yaml:"log_format,omitempty" default:"text"`
	ListenerConfig ListenerYAMLConfig `yaml:"listener,omitempty"`
	StorageConfig  StorageYAMLConfig  `yaml:"storage,omitempty"`
	MetricsConfig  MetricsYAMLConfig  `yaml:"metrics,omitempty"`
	RemoteConfig   RemoteYAMLConfig   `yaml:"remote,omitempty"`
	Views          []ViewYAMLConfig   `yaml:"views,omitempty"`
}

// Default returns a config holding only default values.
func Default() *YAMLConfig {
	cfg := &YAMLConfig{}
	defaults.MustSet(cfg)
	return cfg
}

// NewYamlConfig parses |data| after expanding ${VAR} placeholders.
// Unknown keys are an error.
func NewYamlConfig(data []byte) (*YAMLConfig, error) {
	data, err := interpolateEnv(data)
	if err != nil {
		return nil, err
	}

	var cfg YAMLConfig
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, err
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, err
	}
	if cfg.LogLevelStr != nil {
		lvl := strings.ToLower(*cfg.LogLevelStr)
		cfg.LogLevelStr = &lvl
	}
	return &cfg, cfg.Validate()
}

// Load reads the config file at |path|.
func Load(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file '%s'. Error: %s", path, err.Error())
	}

	cfg, err := NewYamlConfig(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse yaml file '%s'. Error: %s", path, err.Error())
	}
	return cfg, nil
}

func (cfg YAMLConfig) String() string {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "Failed to marshal as yaml: " + err.Error()
	}
	return string(data)
}

// Validate checks values the accessors can't default around.
func (cfg YAMLConfig) Validate() error {
	if _, err := cfg.LogLevel(); err != nil {
		return err
	}
	if f := cfg.LogFormat(); f != "text" && f != "json" {
		return fmt.Errorf("log_format must be text or json, not '%s'", f)
	}
	if p := cfg.Port(); p < 1 || p > 65535 {
		return fmt.Errorf("listener port %d is out of range", p)
	}
	if cfg.CacheSize() < 0 {
		return fmt.Errorf("storage cache_size must not be negative")
	}
	for _, v := range cfg.Views {
		if v.DB == "" || v.KeyPath == "" {
			return fmt.Errorf("view '%s' needs a db and a key_path", v.Name)
		}
		if _, _, err := v.Split(); err != nil {
			return err
		}
	}
	return nil
}

func (cfg YAMLConfig) LogLevel() (logrus.Level, error) {
	return logrus.ParseLevel(*cfg.LogLevelStr)
}

func (cfg YAMLConfig) LogFormat() string {
	return strings.ToLower(*cfg.LogFormatStr)
}

func (cfg YAMLConfig) Host() string {
	return *cfg.ListenerConfig.HostStr
}

func (cfg YAMLConfig) Port() int {
	return *cfg.ListenerConfig.PortNumber
}

// Addr is the host:port the HTTP API listens on.
func (cfg YAMLConfig) Addr() string {
	return net.JoinHostPort(cfg.Host(), strconv.Itoa(cfg.Port()))
}

func (cfg YAMLConfig) ReadTimeout() time.Duration {
	return time.Duration(*cfg.ListenerConfig.ReadTimeoutMillis) * time.Millisecond
}

func (cfg YAMLConfig) WriteTimeout() time.Duration {
	return time.Duration(*cfg.ListenerConfig.WriteTimeoutMillis) * time.Millisecond
}

// StorageURL selects the kv backend, for example mem:// or bolt:///var/db.
func (cfg YAMLConfig) StorageURL() string {
	return *cfg.StorageConfig.URL
}

func (cfg YAMLConfig) CacheSize() int {
	return *cfg.StorageConfig.CacheSize
}

func (cfg YAMLConfig) MetricsEnabled() bool {
	return cfg.MetricsConfig.Host != nil
}

func (cfg YAMLConfig) MetricsAddr() string {
	host := ""
	if cfg.MetricsConfig.Host != nil {
		host = *cfg.MetricsConfig.Host
	}
	return net.JoinHostPort(host, strconv.Itoa(*cfg.MetricsConfig.Port))
}

// MetricsLabels returns labels applied to every metric.
func (cfg YAMLConfig) MetricsLabels() map[string]string {
	return cfg.MetricsConfig.Labels
}

func (cfg YAMLConfig) RemoteRetries() uint64 {
	return *cfg.RemoteConfig.Retries
}

func (cfg YAMLConfig) RemoteMaxDelay() time.Duration {
	return time.Duration(*cfg.RemoteConfig.MaxDelayMillis) * time.Millisecond
}

func (cfg YAMLConfig) RemoteCompression() bool {
	return cfg.RemoteConfig.Compression != nil && *cfg.RemoteConfig.Compression
}
