// Package metrics owns the Prometheus collectors. All recording methods are
// safe on a nil *Collectors so components can run without metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "confessional"

type Collectors struct {
	registry *prometheus.Registry

	approvals       *prometheus.CounterVec
	rejections      *prometheus.CounterVec
	degradations    *prometheus.CounterVec
	publishDuration prometheus.Histogram
	lastPublicID    prometheus.Gauge
	bulkItems       *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	feedCache       *prometheus.CounterVec
}

// New registers every collector on a private registry.
func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		approvals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approvals_total",
			Help:      "Approval attempts by source and result.",
		}, []string{"source", "result"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Rejected or deleted items by source and outcome.",
		}, []string{"source", "outcome"}),
		degradations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degradations_total",
			Help:      "Non-fatal degradations by kind.",
		}, []string{"kind"}),
		publishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Time spent in the publish call.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		lastPublicID: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_public_id",
			Help:      "Most recently published public identifier.",
		}),
		bulkItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_items_total",
			Help:      "Items processed by bulk runs by result.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status.",
		}, []string{"method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		feedCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_cache_lookups_total",
			Help:      "Public feed cache lookups by result.",
		}, []string{"result"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.approvals,
		c.rejections,
		c.degradations,
		c.publishDuration,
		c.lastPublicID,
		c.bulkItems,
		c.httpRequests,
		c.httpDuration,
		c.feedCache,
	)
	return c
}

func (c *Collectors) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collectors) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collectors) Approval(source, result string) {
	if c == nil {
		return
	}
	c.approvals.WithLabelValues(source, result).Inc()
}

func (c *Collectors) Rejection(source, outcome string) {
	if c == nil {
		return
	}
	c.rejections.WithLabelValues(source, outcome).Inc()
}

func (c *Collectors) Degradation(kind string) {
	if c == nil {
		return
	}
	c.degradations.WithLabelValues(kind).Inc()
}

func (c *Collectors) Published(publicID int, took time.Duration) {
	if c == nil {
		return
	}
	c.publishDuration.Observe(took.Seconds())
	c.lastPublicID.Set(float64(publicID))
}

func (c *Collectors) BulkItem(result string) {
	if c == nil {
		return
	}
	c.bulkItems.WithLabelValues(result).Inc()
}

func (c *Collectors) HTTPRequest(method string, status int, took time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method).Observe(took.Seconds())
}

func (c *Collectors) FeedCache(result string) {
	if c == nil {
		return
	}
	c.feedCache.WithLabelValues(result).Inc()
}
