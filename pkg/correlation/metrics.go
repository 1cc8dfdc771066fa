// Copyright 2024-2026 Aiku AI

package correlation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var queryDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "relaybridge_correlation_query_duration_seconds",
		Help:    "Duration of correlation store operations.",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, 1},
	},
	[]string{"op", "result"},
)

func init() {
	prometheus.MustRegister(queryDuration)
}

func observeQuery(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	queryDuration.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
}
