// Package metrics exposes provider, rate limiter and cache counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lepinkainen/bookmeta/internal/cache"
	"github.com/lepinkainen/bookmeta/internal/providers"
)

const namespace = "bookmeta"

// Metrics holds the collectors. It implements providers.Observer; a nil
// *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ProviderRequests    *prometheus.CounterVec
	ProviderLatency     *prometheus.HistogramVec
	CacheLookups        *prometheus.CounterVec
	RateLimitRejections *prometheus.CounterVec
	PersistenceErrors   *prometheus.CounterVec
	PrewarmFailures     prometheus.Counter
}

var _ providers.Observer = (*Metrics)(nil)

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ProviderRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Provider calls that missed the cache, by outcome (quota_exhausted calls never reached the network)",
		}, []string{"provider", "outcome"}),
		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Time spent in provider calls including retries",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"provider"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Provider cache lookups, by result",
		}, []string{"provider", "result"}),
		RateLimitRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_rejections_total",
			Help:      "Admission checks refused by a provider rate limiter",
		}, []string{"provider"}),
		PersistenceErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_persistence_errors_total",
			Help:      "Cache snapshot load and flush failures",
		}, []string{"cache", "op"}),
		PrewarmFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prewarm_failures_total",
			Help:      "Pre-warm queries that failed",
		}),
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveRequest(provider, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ProviderRequests.WithLabelValues(provider, outcome).Inc()
	m.ProviderLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveCache(provider string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) ObserveRateLimited(provider string) {
	if m == nil {
		return
	}
	m.RateLimitRejections.WithLabelValues(provider).Inc()
}

// CacheErrorHook returns a cache.Options.OnError callback counting failures for name.
func (m *Metrics) CacheErrorHook(name string) func(op string, err error) {
	return func(op string, _ error) {
		if m == nil {
			return
		}
		m.PersistenceErrors.WithLabelValues(name, op).Inc()
	}
}

// ObservePrewarmFailure counts one failed pre-warm query.
func (m *Metrics) ObservePrewarmFailure(string, error) {
	if m == nil {
		return
	}
	m.PrewarmFailures.Inc()
}

// RegisterCaches exports live size and hit counters of every cache in caches.
// The values are read at scrape time.
func (m *Metrics) RegisterCaches(caches *cache.Registry) {
	if m == nil || caches == nil {
		return
	}
	m.registry.MustRegister(&cacheCollector{caches: caches})
}

var (
	cacheSizeDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "cache", "entries"),
		"Entries currently held by a provider cache", []string{"cache"}, nil)
	cacheHitsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "cache", "hits"),
		"Cache hits since start, restored snapshot counters included", []string{"cache"}, nil)
	cacheMissesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "cache", "misses"),
		"Cache misses since start, restored snapshot counters included", []string{"cache"}, nil)
	cacheHitRateDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "cache", "hit_rate"),
		"Cache hits divided by total lookups", []string{"cache"}, nil)
)

// cacheCollector reads cache stats on each scrape. Caches created after
// registration are picked up because the registry is walked every time.
type cacheCollector struct {
	caches *cache.Registry
}

func (c *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- cacheSizeDesc
	ch <- cacheHitsDesc
	ch <- cacheMissesDesc
	ch <- cacheHitRateDesc
}

func (c *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	analytics := c.caches.Analytics(0)
	for name, s := range analytics.Providers {
		ch <- prometheus.MustNewConstMetric(cacheSizeDesc, prometheus.GaugeValue, float64(s.Size), name)
		ch <- prometheus.MustNewConstMetric(cacheHitsDesc, prometheus.GaugeValue, float64(s.Hits), name)
		ch <- prometheus.MustNewConstMetric(cacheMissesDesc, prometheus.GaugeValue, float64(s.Misses), name)
		ch <- prometheus.MustNewConstMetric(cacheHitRateDesc, prometheus.GaugeValue, s.HitRate, name)
	}
}
