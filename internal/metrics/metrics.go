// Package metrics holds the prometheus collectors for the scanner.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tick outcomes.
const (
	OutcomeNotReady = "not_ready"
	OutcomeMiss     = "miss"
	OutcomeDetected = "detected"
	OutcomeError    = "error"
	OutcomeStale    = "stale"
)

var (
	ScanTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkin_scan_ticks_total",
		Help: "Total number of scan loop ticks, by outcome",
	}, []string{"outcome"})

	DecodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkin_decode_duration_seconds",
		Help:    "Time spent in the decode engine per frame",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})

	AcquisitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkin_acquisitions_total",
		Help: "Total number of camera acquisitions, by result",
	}, []string{"result"})

	DetectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkin_detections_total",
		Help: "Total number of codes detected",
	})

	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkin_active_streams",
		Help: "Number of camera streams currently held",
	})
)
