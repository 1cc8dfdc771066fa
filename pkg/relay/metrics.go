// Copyright 2024-2026 Aiku AI

package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaybridge_relay_events_total",
			Help: "Inbound events handled by a rule, by outcome.",
		},
		[]string{"rule", "outcome"},
	)
	eventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaybridge_relay_events_dropped_total",
			Help: "Inbound events dropped because a rule's queue was full or closed.",
		},
		[]string{"rule"},
	)
	sendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relaybridge_relay_send_duration_seconds",
			Help:    "Time spent in outbound sends.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"rule", "result"},
	)
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relaybridge_relay_queue_depth",
			Help: "Events waiting in a rule's queue.",
		},
		[]string{"rule"},
	)
)

func init() {
	prometheus.MustRegister(eventsTotal, eventsDropped, sendDuration, queueDepth)
}
