// Copyright 2024-2026 Aiku AI

package transform

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	nodesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaybridge_transform_nodes_total",
			Help: "Element nodes processed by the transformation engine.",
		},
		[]string{"direction", "kind", "outcome"},
	)

	fetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaybridge_transform_fetches_total",
			Help: "Content fetches performed while transforming messages.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(nodesTotal, fetchTotal)
}
