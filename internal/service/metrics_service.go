package service

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the engine.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	cacheLatency prometheus.Observer
	cacheHits    prometheus.Counter
	cacheMisses  prometheus.Counter

	certificatesIssued prometheus.Counter
	certificatesFailed *prometheus.CounterVec
	weekCompletions    prometheus.Counter
	sequenceViolations prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	certificatesIssued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "certificates_issued_total",
		Help: "Total certificates successfully issued",
	})

	certificatesFailed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "certificates_failed_total",
		Help: "Total issuance attempts that did not produce a certificate",
	}, []string{"reason"})

	weekCompletions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "week_completions_total",
		Help: "Total week completions recorded",
	})

	sequenceViolations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "week_sequence_violations_total",
		Help: "Total rejected out-of-order week updates",
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheHits, cacheMisses,
		certificatesIssued, certificatesFailed, weekCompletions, sequenceViolations)

	return &MetricsService{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		cacheLatency:       cacheLatency,
		cacheHits:          cacheHits,
		cacheMisses:        cacheMisses,
		certificatesIssued: certificatesIssued,
		certificatesFailed: certificatesFailed,
		weekCompletions:    weekCompletions,
		sequenceViolations: sequenceViolations,
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (s *MetricsService) Handler() http.Handler {
	if s == nil {
		return promhttp.Handler()
	}
	return s.handler
}

// ObserveHTTPRequest records duration and count for a handled request.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if s == nil {
		return
	}
	labels := prometheus.Labels{"method": method, "path": path, "status": fmt.Sprintf("%d", status)}
	s.requestDuration.With(labels).Observe(duration.Seconds())
	s.requestTotal.With(labels).Inc()
}

// RecordCacheOperation tracks cache hit/miss and latency.
func (s *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if s == nil {
		return
	}
	s.cacheLatency.Observe(duration.Seconds())
	if hit {
		s.cacheHits.Inc()
	} else {
		s.cacheMisses.Inc()
	}
}

// RecordIssuance tracks the outcome of one issuance attempt.
func (s *MetricsService) RecordIssuance(issued bool, reason string) {
	if s == nil {
		return
	}
	if issued {
		s.certificatesIssued.Inc()
		return
	}
	s.certificatesFailed.WithLabelValues(reason).Inc()
}

// RecordWeekCompletion tracks a successful week completion.
func (s *MetricsService) RecordWeekCompletion() {
	if s == nil {
		return
	}
	s.weekCompletions.Inc()
}

// RecordSequenceViolation tracks a rejected out-of-order week update.
func (s *MetricsService) RecordSequenceViolation() {
	if s == nil {
		return
	}
	s.sequenceViolations.Inc()
}
