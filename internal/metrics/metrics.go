// Package metrics registers the Prometheus collectors exported on /-/metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FetchTotal counts answered requests by request class and response source.
	FetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shellcache",
		Name:      "fetch_total",
		Help:      "Requests answered, by request class and response source.",
	}, []string{"class", "source"})

	// FetchFailures counts requests for which no response could be produced.
	FetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shellcache",
		Name:      "fetch_failures_total",
		Help:      "Requests that failed with no network or cached response.",
	}, []string{"class"})

	// CacheWriteFailures counts swallowed write-through errors.
	CacheWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shellcache",
		Name:      "cache_write_failures_total",
		Help:      "Write-through cache puts that failed and were dropped.",
	})

	// WorkerState reports the lifecycle state of each known cache version.
	WorkerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "shellcache",
		Name:      "worker_state",
		Help:      "Lifecycle state of the worker bound to a cache version (see worker.State).",
	}, []string{"cache"})
)

// Handler exposes the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
