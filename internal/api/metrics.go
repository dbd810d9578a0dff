package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "glyte_uploads_total",
		Help: "Number of files accepted for staging.",
	})

	confirmsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glyte_confirms_total",
		Help: "Number of confirmed ingests by kind.",
	}, []string{"kind"}) // kind: new | refresh

	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glyte_queries_total",
		Help: "Number of sandbox queries by outcome.",
	}, []string{"status"}) // status: success | rejected | failed

	queryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "glyte_query_duration_seconds",
		Help:    "Sandbox query execution time.",
		Buckets: prometheus.DefBuckets,
	})

	exportsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "glyte_exports_total",
		Help: "Number of CSV exports served.",
	})
)
