// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package query

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// query outcomes as reported by the queries_total metric
const (
	outcomeOK           = "ok"
	outcomeInvalid      = "invalid"
	outcomeUnauthorized = "unauthorized"
	outcomeError        = "error"
)

// metrics holds the prometheus metrics of an engine
type metrics struct {
	queries        *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	rejectedLimits *prometheus.CounterVec
	schemaUpdates  *prometheus.CounterVec
}

func newMetrics(registerer prometheus.Registerer) *metrics {
	factory := promauto.With(registerer)
	return &metrics{
		queries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "resquery",
				Name:      "queries_total",
				Help:      "Total number of queries by resource and outcome",
			},
			[]string{"resource", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "resquery",
				Name:      "query_duration_seconds",
				Help:      "Query duration in seconds, compilation and execution",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"resource"},
		),
		rejectedLimits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "resquery",
				Name:      "rejected_page_sizes_total",
				Help:      "Total number of requests rejected for exceeding the page size ceiling",
			},
			[]string{"resource"},
		),
		schemaUpdates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "resquery",
				Name:      "schema_updates_total",
				Help:      "Total number of field definition updates by resource and result",
			},
			[]string{"resource", "result"},
		),
	}
}
