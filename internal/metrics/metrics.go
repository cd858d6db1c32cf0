// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package metrics exposes Prometheus counters for location tracking and delivery.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "location_manager"

const (
	ResultSent      = "sent"
	ResultFailed    = "failed"
	ResultNoFix     = "no_fix"
	ResultDelivered = "delivered"
)

// Metrics holds the collectors on a dedicated registry. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	updates  *prometheus.CounterVec
	uploads  *prometheus.CounterVec
	posts    *prometheus.CounterVec
	tracking prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		updates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "location_updates_total",
				Help:      "Total number of location updates received from the sensor",
			},
			[]string{"source"},
		),
		uploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "uploads_total",
				Help:      "Total number of upload requests",
			},
			[]string{"result"},
		),
		posts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "posts_total",
				Help:      "Total number of positions handed to the transport",
			},
			[]string{"transport", "result"},
		),
		tracking: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracking",
			Help:      "Whether location tracking has been started",
		}),
	}
	m.registry.MustRegister(m.updates, m.uploads, m.posts, m.tracking,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) LocationUpdate(source string) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(source).Inc()
}

func (m *Metrics) Upload(result string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result).Inc()
}

func (m *Metrics) Post(transport, result string) {
	if m == nil {
		return
	}
	m.posts.WithLabelValues(transport, result).Inc()
}

func (m *Metrics) TrackingStarted() {
	if m == nil {
		return
	}
	m.tracking.Set(1)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
