// Copyright 2026 Peter Braden. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const (
	kindLabel      = "kind"
	strategyLabel  = "strategy"
	directionLabel = "direction"
	outcomeLabel   = "outcome"

	LocalWrite      = "local"
	ReplicatedWrite = "replicated"

	PushDirection = "push"
	PullDirection = "pull"

	SuccessOutcome = "success"
	FailureOutcome = "failure"
)

// Metrics collects store counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	cntWrites      *prometheus.CounterVec
	cntConflicts   prometheus.Counter
	cntViews       *prometheus.CounterVec
	histViewDur    prometheus.Histogram
	cntSyncs       *prometheus.CounterVec
	cntReplicated  prometheus.Counter
	cntHTTPRequest *prometheus.CounterVec
}

// New creates the collectors and registers them with |reg|.
func New(reg prometheus.Registerer, labels prometheus.Labels) (*Metrics, error) {
	m := &Metrics{
		cntWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "bc_document_writes",
			Help:        "Count of stored document writes",
			ConstLabels: labels,
		}, []string{kindLabel}),
		cntConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "bc_conflicts_resolved",
			Help:        "Count of replicated writes that required conflict resolution",
			ConstLabels: labels,
		}),
		cntViews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "bc_view_builds",
			Help:        "Count of completed view builds",
			ConstLabels: labels,
		}, []string{strategyLabel}),
		histViewDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "bc_view_duration",
			Help:        "Histogram of view build times in seconds",
			ConstLabels: labels,
			Buckets:     []float64{0.001, 0.01, 0.1, 1.0, 10.0, 100.0},
		}),
		cntSyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "bc_sync_runs",
			Help:        "Count of replication runs",
			ConstLabels: labels,
		}, []string{directionLabel, outcomeLabel}),
		cntReplicated: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "bc_documents_replicated",
			Help:        "Count of documents transmitted by replication",
			ConstLabels: labels,
		}),
		cntHTTPRequest: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "bc_http_requests",
			Help:        "Count of HTTP requests served, by status code class",
			ConstLabels: labels,
		}, []string{"code"}),
	}

	for _, c := range []prometheus.Collector{m.cntWrites, m.cntConflicts, m.cntViews, m.histViewDur, m.cntSyncs, m.cntReplicated, m.cntHTTPRequest} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) DocumentWritten(kind string) {
	if m != nil {
		m.cntWrites.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ConflictResolved() {
	if m != nil {
		m.cntConflicts.Inc()
	}
}

func (m *Metrics) ViewBuilt(strategy string, dur time.Duration) {
	if m != nil {
		m.cntViews.WithLabelValues(strategy).Inc()
		m.histViewDur.Observe(dur.Seconds())
	}
}

func (m *Metrics) SyncFinished(direction string, err error, docs int) {
	if m == nil {
		return
	}
	outcome := SuccessOutcome
	if err != nil {
		outcome = FailureOutcome
	}
	m.cntSyncs.WithLabelValues(direction, outcome).Inc()
	m.cntReplicated.Add(float64(docs))
}

func (m *Metrics) RequestServed(status int) {
	if m != nil {
		m.cntHTTPRequest.WithLabelValues(statusClass(status)).Inc()
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	}
	return "2xx"
}

// Listener serves the registry on its own port so scrapes never compete with
// document traffic.
type Listener struct {
	srv *http.Server
	lis net.Listener
	log *logrus.Entry
}

func NewListener(addr string, gatherer prometheus.Gatherer, log *logrus.Entry) (*Listener, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &Listener{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		lis: lis,
		log: log.WithField("addr", lis.Addr().String()),
	}, nil
}

func (l *Listener) Addr() net.Addr {
	return l.lis.Addr()
}

// Serve blocks until Close is called.
func (l *Listener) Serve() error {
	l.log.Info("serving metrics")
	err := l.srv.Serve(l.lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (l *Listener) Close(ctx context.Context) error {
	return l.srv.Shutdown(ctx)
}
