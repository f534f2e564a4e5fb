// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_checkins_total",
		Help: "Check-in attempts by outcome.",
	}, []string{"outcome"})

	SessionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_sessions_opened_total",
		Help: "Attendance sessions opened.",
	})

	SessionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_sessions_closed_total",
		Help: "Attendance sessions closed, by reason.",
	}, []string{"reason"})

	LocationResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_location_resolutions_total",
		Help: "Location resolutions by source (gps, ip, unavailable).",
	}, []string{"source"})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rollcall_sweep_duration_seconds",
		Help:    "Duration of expired-session sweeps.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	})
)
