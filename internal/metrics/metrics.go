// Package metrics exposes hive runtime counters and histograms to
// Prometheus.
//
// All methods are safe on a nil *Metrics, which records nothing. This lets
// library callers skip metrics without guarding every call site.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/hivelang/internal/ir"
	"github.com/roach88/hivelang/internal/sandbox"
)

const namespace = "hive"

// Metrics groups the collectors registered for one process.
type Metrics struct {
	registry *prometheus.Registry

	invocations     *prometheus.CounterVec
	invocationTime  prometheus.Histogram
	loads           *prometheus.CounterVec
	cacheRequests   *prometheus.CounterVec
	cacheEvictions  prometheus.Counter
	sandboxRequests *prometheus.CounterVec
	sandboxTime     *prometheus.HistogramVec
}

// New creates Metrics on a fresh registry. When collectProcessMetrics is
// true the Go runtime and process collectors are registered as well.
func New(collectProcessMetrics bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Capability invocations by outcome. Outcome is \"success\" or an error kind.",
		}, []string{"outcome"}),
		invocationTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Wall time of capability invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_loads_total",
			Help:      "Source loads by result.",
		}, []string{"result"}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Runtime cache lookups by result.",
		}, []string{"result"}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Runtimes evicted from the cache on overflow.",
		}),
		sandboxRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "requests_total",
			Help:      "Outbound HTTP requests by method and status class.",
		}, []string{"method", "status"}),
		sandboxTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "request_duration_seconds",
			Help:      "Outbound HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	m.registry.MustRegister(
		m.invocations,
		m.invocationTime,
		m.loads,
		m.cacheRequests,
		m.cacheEvictions,
		m.sandboxRequests,
		m.sandboxTime,
	)
	if collectProcessMetrics {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// ObserveInvocation records one invocation. An empty kind means success.
func (m *Metrics) ObserveInvocation(kind ir.ErrorKind, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if kind != "" {
		outcome = string(kind)
	}
	m.invocations.WithLabelValues(outcome).Inc()
	m.invocationTime.Observe(elapsed.Seconds())
}

// ObserveLoad records a source load.
func (m *Metrics) ObserveLoad(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.loads.WithLabelValues("ok").Inc()
	} else {
		m.loads.WithLabelValues("rejected").Inc()
	}
}

// CacheHit records a cache hit.
func (m *Metrics) CacheHit() {
	if m != nil {
		m.cacheRequests.WithLabelValues("hit").Inc()
	}
}

// CacheMiss records a cache miss.
func (m *Metrics) CacheMiss() {
	if m != nil {
		m.cacheRequests.WithLabelValues("miss").Inc()
	}
}

// CacheEvicted records an eviction. Its signature matches
// runtime.WithEvictHook.
func (m *Metrics) CacheEvicted(string) {
	if m != nil {
		m.cacheEvictions.Inc()
	}
}

// SandboxObserver returns a sandbox.Observer that feeds the sandbox
// collectors. Requests that never got a response count as status "error".
func (m *Metrics) SandboxObserver() sandbox.Observer {
	return func(method, _ string, status int, elapsed time.Duration, err error) {
		if m == nil {
			return
		}
		m.sandboxRequests.WithLabelValues(method, statusClass(status, err)).Inc()
		m.sandboxTime.WithLabelValues(method).Observe(elapsed.Seconds())
	}
}

func statusClass(status int, err error) string {
	if err != nil || status == 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}
