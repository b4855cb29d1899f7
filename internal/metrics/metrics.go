// Package metrics holds the Prometheus collectors shared by the catalog
// client and the transfer orchestrator. Collectors live on an injected
// registry rather than the global default so tests and library callers get
// isolated counters. All methods are safe on a nil *Metrics.
package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "alyx"

// Metrics groups the collectors registered on Registry.
type Metrics struct {
	Registry *prometheus.Registry

	CatalogRequests     *prometheus.CounterVec
	Reauthentications   prometheus.Counter
	TransfersSubmitted  *prometheus.CounterVec
	EndpointCacheHits   prometheus.Counter
	EndpointCacheMisses prometheus.Counter
}

// New creates a fresh registry with every collector registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		CatalogRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_requests_total",
			Help:      "Catalog HTTP requests by method and response status.",
		}, []string{"method", "status"}),
		Reauthentications: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_reauth_total",
			Help:      "Automatic re-authentications after an authorization failure.",
		}),
		TransfersSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_submitted_total",
			Help:      "Transfer requests handled by the orchestrator, by mode.",
		}, []string{"mode"}),
		EndpointCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "endpoint_cache_hits_total",
			Help:      "Data repository lookups served from the endpoint cache.",
		}),
		EndpointCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "endpoint_cache_misses_total",
			Help:      "Data repository lookups that queried the catalog.",
		}),
	}
}

// ObserveRequest counts one catalog response. status 0 marks a transport failure.
func (m *Metrics) ObserveRequest(method string, status int) {
	if m == nil {
		return
	}

	m.CatalogRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// ObserveReauth counts one automatic re-authentication.
func (m *Metrics) ObserveReauth() {
	if m == nil {
		return
	}

	m.Reauthentications.Inc()
}

// ObserveTransfer counts one orchestrated transfer ("dry_run" or "submit").
func (m *Metrics) ObserveTransfer(mode string) {
	if m == nil {
		return
	}

	m.TransfersSubmitted.WithLabelValues(mode).Inc()
}

// ObserveCache counts an endpoint cache hit or miss.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}

	if hit {
		m.EndpointCacheHits.Inc()
		return
	}

	m.EndpointCacheMisses.Inc()
}

// WriteTextfile exports the registry in the text exposition format for the
// node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}

	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("metrics: writing %s: %w", path, err)
	}

	return nil
}
