// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/pkg/profile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/peterbraden/browsercouch/cmd/couch/util"
	"github.com/peterbraden/browsercouch/libraries/metrics"
	"github.com/peterbraden/browsercouch/libraries/remote"
	"github.com/peterbraden/browsercouch/libraries/utils/config"
)

const shutdownTimeout = 10 * time.Second

func couchServe(ctx context.Context, app *kingpin.Application) (*kingpin.CmdClause, util.KingpinHandler) {
	cmd := app.Command("serve", "Serve the databases in the configured storage over HTTP.")
	port := cmd.Flag("port", "port to listen on; overrides listener.port").Int()
	prof := cmd.Flag("profile", "write a cpu or mem profile while serving").Enum("", "cpu", "mem")
	profPath := cmd.Flag("profile-path", "directory the profile is written to").Default(".").String()

	return cmd, func(ctx context.Context, input string) int {
		if opt := profileMode(*prof); opt != nil {
			defer profile.Start(opt, profile.ProfilePath(*profPath), profile.NoShutdownHook).Stop()
		}
		if err := serve(ctx, *port); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	}
}

func profileMode(name string) func(*profile.Profile) {
	switch name {
	case "cpu":
		return profile.CPUProfile
	case "mem":
		return profile.MemProfile
	}
	return nil
}

func serve(ctx context.Context, port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	reg := prometheus.NewRegistry()
	if cfg.MetricsEnabled() {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if m, err = metrics.New(reg, cfg.MetricsLabels()); err != nil {
			return err
		}
	}

	e, err := openEnv(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer e.Close()

	srv := remote.NewServer(remote.ServerArgs{
		Catalog:      e.cat,
		Logger:       e.log,
		Metrics:      m,
		ReadTimeout:  e.cfg.ReadTimeout(),
		WriteTimeout: e.cfg.WriteTimeout(),
	})
	if err := registerViews(srv, e.cfg.Views); err != nil {
		return err
	}

	addr := e.cfg.Addr()
	if port != 0 {
		addr = net.JoinHostPort(e.cfg.Host(), fmt.Sprint(port))
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	e.log.WithField("addr", lis.Addr().String()).WithField("storage", e.cfg.StorageURL()).Info("serving databases")

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return srv.Serve(lis)
	})

	var ml *metrics.Listener
	if cfg.MetricsEnabled() {
		if ml, err = metrics.NewListener(cfg.MetricsAddr(), reg, e.log); err != nil {
			_ = srv.Shutdown(ctx)
			_ = eg.Wait()
			return err
		}
		eg.Go(ml.Serve)
	}

	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		e.log.Info("shutting down")
		if ml != nil {
			_ = ml.Close(shutdownCtx)
		}
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

func registerViews(srv *remote.Server, views []config.ViewYAMLConfig) error {
	for _, v := range views {
		ddoc, name, err := v.Split()
		if err != nil {
			return err
		}
		view, err := buildView(v)
		if err != nil {
			return err
		}
		srv.RegisterView(v.DB, ddoc, name, view)
	}
	return nil
}
