package service

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService wraps the Prometheus collectors the API exposes:
// request timing plus the two numbers this system lives or dies by,
// fan-out batch size and feed cache effectiveness.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	fanoutSize      prometheus.Histogram
	fanoutDuration  prometheus.Histogram
	feedCacheHits   prometheus.Counter
	feedCacheMisses prometheus.Counter
	accessDenials   *prometheus.CounterVec
}

// NewMetricsService registers the collectors on a private registry.
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

	fanoutSize := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "propagation_fanout_users",
		Help:    "Users touched by one propagation event",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
	})

	fanoutDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "propagation_fanout_seconds",
		Help:    "Duration of one propagation event",
		Buckets: prometheus.DefBuckets,
	})

	feedCacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_cache_hits_total",
		Help: "Feed reads served from Redis",
	})

	feedCacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_cache_misses_total",
		Help: "Feed reads that fell through to Postgres",
	})

	accessDenials := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "access_denials_total",
		Help: "Access decisions that denied the request",
	}, []string{"reason"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, fanoutSize, fanoutDuration, feedCacheHits, feedCacheMisses, accessDenials, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		fanoutSize:      fanoutSize,
		fanoutDuration:  fanoutDuration,
		feedCacheHits:   feedCacheHits,
		feedCacheMisses: feedCacheMisses,
		accessDenials:   accessDenials,
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records one request.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveFanout records one propagation event.
func (m *MetricsService) ObserveFanout(users int, duration time.Duration) {
	if m == nil {
		return
	}
	m.fanoutSize.Observe(float64(users))
	m.fanoutDuration.Observe(duration.Seconds())
}

// RecordFeedCache records a feed cache lookup.
func (m *MetricsService) RecordFeedCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.feedCacheHits.Inc()
	} else {
		m.feedCacheMisses.Inc()
	}
}

// RecordAccessDenial records one denied access decision.
func (m *MetricsService) RecordAccessDenial(reason string) {
	if m == nil {
		return
	}
	m.accessDenials.WithLabelValues(reason).Inc()
}
