// Package metrics provides formrelay's Prometheus collectors.
// Each Collector owns its own registry so tests and multiple app instances
// never collide on registration.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/R3E-Network/formrelay/internal/storage"
)

// Datagram outcomes recorded by the ingestion listener.
const (
	DatagramStored       = "stored"
	DatagramDecodeError  = "decode_error"
	DatagramTooLarge     = "too_large"
	DatagramStorageError = "storage_error"
)

// Collector holds every formrelay metric.
type Collector struct {
	registry *prometheus.Registry

	httpInFlight    prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	httpRateLimited prometheus.Counter

	relaySends *prometheus.CounterVec
	relayBytes prometheus.Counter

	datagrams     *prometheus.CounterVec
	datagramBytes prometheus.Histogram

	storeAppends  *prometheus.CounterVec
	storeDuration prometheus.Histogram
	writerQueue   prometheus.Gauge
}

// NewCollector creates a collector whose metrics are prefixed with namespace.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "formrelay"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})
	c.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests handled.",
	}, []string{"method", "route", "status"})
	c.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	}, []string{"method", "route"})
	c.httpRateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "POST requests rejected by the rate limiter.",
	})

	c.relaySends = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "sends_total",
		Help:      "Datagrams handed to the ingestion listener.",
	}, []string{"result"})
	c.relayBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "bytes_total",
		Help:      "Payload bytes successfully sent by the relay.",
	})

	c.datagrams = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "datagrams_total",
		Help:      "Datagrams received by the ingestion listener, by outcome.",
	}, []string{"result"})
	c.datagramBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "datagram_bytes",
		Help:      "Size of received datagrams.",
		Buckets:   prometheus.ExponentialBuckets(16, 2, 10), // 16B to 8KiB
	})

	c.storeAppends = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "appends_total",
		Help:      "Record store appends, by result.",
	}, []string{"result"})
	c.storeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "append_duration_seconds",
		Help:      "Duration of record store appends.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
	c.writerQueue = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "writer_queue_depth",
		Help:      "Appends waiting for the single writer.",
	})

	c.registry.MustRegister(
		c.httpInFlight,
		c.httpRequests,
		c.httpDuration,
		c.httpRateLimited,
		c.relaySends,
		c.relayBytes,
		c.datagrams,
		c.datagramBytes,
		c.storeAppends,
		c.storeDuration,
		c.writerQueue,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler exposes the collector in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// --- HTTP ---

// IncrementInFlight marks the start of a request.
func (c *Collector) IncrementInFlight() { c.httpInFlight.Inc() }

// DecrementInFlight marks the end of a request.
func (c *Collector) DecrementInFlight() { c.httpInFlight.Dec() }

// RecordHTTPRequest records one finished request.
func (c *Collector) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, status).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordRateLimited counts a rejected POST.
func (c *Collector) RecordRateLimited() { c.httpRateLimited.Inc() }

// --- Relay ---

// RecordRelaySend records one relay attempt.
func (c *Collector) RecordRelaySend(size int, err error) {
	if err != nil {
		c.relaySends.WithLabelValues("error").Inc()
		return
	}
	c.relaySends.WithLabelValues("ok").Inc()
	c.relayBytes.Add(float64(size))
}

// --- Ingestion ---

// RecordDatagram records one received datagram and its outcome.
func (c *Collector) RecordDatagram(size int, result string) {
	c.datagrams.WithLabelValues(result).Inc()
	c.datagramBytes.Observe(float64(size))
}

// RecordAppend records one store append.
func (c *Collector) RecordAppend(duration time.Duration, err error) {
	c.storeAppends.WithLabelValues(appendResult(err)).Inc()
	c.storeDuration.Observe(duration.Seconds())
}

// SetWriterQueueDepth reports how many appends are queued.
func (c *Collector) SetWriterQueueDepth(n int) {
	c.writerQueue.Set(float64(n))
}

func appendResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, storage.ErrFormat):
		return "format_error"
	case errors.Is(err, storage.ErrIO):
		return "io_error"
	default:
		return "error"
	}
}
