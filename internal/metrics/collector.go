// Package metrics exposes Prometheus counters and gauges for the range
// cache, the bucket client, and the FUSE dispatch layer.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures the metrics HTTP server.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// DefaultConfig returns sane defaults for the metrics server.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Port:      9090,
		Path:      "/metrics",
		Namespace: "b2fs",
	}
}

// Collector wires the filesystem's domain counters into a Prometheus
// registry and serves them over HTTP.
type Collector struct {
	config   *Config
	registry *prometheus.Registry
	server   *http.Server

	fuseOps       *prometheus.CounterVec
	fuseDuration  *prometheus.HistogramVec
	cacheRequests *prometheus.CounterVec
	bytesFetched  prometheus.Counter
	bytesServed   prometheus.Counter
	evictions     *prometheus.CounterVec
	openFiles     prometheus.Gauge
	inFlight      prometheus.Gauge
	bucketErrors  *prometheus.CounterVec
	cacheMemory   *prometheus.GaugeVec
}

// NewCollector builds a Collector. A nil config uses DefaultConfig.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	registry := prometheus.NewRegistry()
	c := &Collector{config: config, registry: registry}

	c.fuseOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Name:      "fuse_operations_total",
		Help:      "FUSE operations by name and outcome.",
	}, []string{"operation", "status"})

	c.fuseDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: config.Namespace,
		Name:      "fuse_operation_duration_seconds",
		Help:      "FUSE operation latency.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
	}, []string{"operation"})

	c.cacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Name:      "range_cache_requests_total",
		Help:      "Range cache lookups by tier and outcome (hit/miss).",
	}, []string{"tier", "outcome"})

	c.bytesFetched = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Name:      "bucket_bytes_fetched_total",
		Help:      "Bytes fetched from the bucket client, including read amplification.",
	})

	c.bytesServed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Name:      "fuse_bytes_served_total",
		Help:      "Bytes returned to FUSE read callers.",
	})

	c.evictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Name:      "range_cache_evictions_total",
		Help:      "Evicted cache intervals by tier.",
	}, []string{"tier"})

	c.openFiles = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: config.Namespace,
		Name:      "open_files",
		Help:      "Entries currently present in the open file table.",
	})

	c.inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: config.Namespace,
		Name:      "bucket_fetches_in_flight",
		Help:      "Concurrent DownloadRange calls in flight.",
	})

	c.bucketErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Name:      "bucket_errors_total",
		Help:      "Bucket client errors by kind.",
	}, []string{"kind"})

	c.cacheMemory = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: config.Namespace,
		Name:      "range_cache_memory_bytes",
		Help:      "Bytes currently held by the range cache, by tier (perm/temp).",
	}, []string{"tier"})

	for _, m := range []prometheus.Collector{
		c.fuseOps, c.fuseDuration, c.cacheRequests, c.bytesFetched,
		c.bytesServed, c.evictions, c.openFiles, c.inFlight, c.bucketErrors,
		c.cacheMemory,
	} {
		if err := registry.Register(m); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}

	return c, nil
}

// Start serves the metrics endpoint in the background until ctx is
// canceled or Stop is called.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.server.Shutdown(shutdownCtx)
	}()

	return nil
}

// Stop shuts down the metrics HTTP server.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

// RecordFuseOp records one FUSE dispatch outcome.
func (c *Collector) RecordFuseOp(operation string, duration time.Duration, err error) {
	if !c.config.Enabled {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.fuseOps.WithLabelValues(operation, status).Inc()
	c.fuseDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCacheHit records a stabbing-query hit against the named tier
// ("perm" or "temp").
func (c *Collector) RecordCacheHit(tier string) {
	if !c.config.Enabled {
		return
	}
	c.cacheRequests.WithLabelValues(tier, "hit").Inc()
}

// RecordCacheMiss records a stabbing-query miss against the named tier.
func (c *Collector) RecordCacheMiss(tier string) {
	if !c.config.Enabled {
		return
	}
	c.cacheRequests.WithLabelValues(tier, "miss").Inc()
}

// RecordFetch records a completed DownloadRange call: fetchedBytes is what
// came back from the bucket (after amplification), servedBytes is what the
// FUSE caller actually asked for.
func (c *Collector) RecordFetch(fetchedBytes, servedBytes int64) {
	if !c.config.Enabled {
		return
	}
	c.bytesFetched.Add(float64(fetchedBytes))
	c.bytesServed.Add(float64(servedBytes))
}

// RecordEviction records one evicted interval in the named tier.
func (c *Collector) RecordEviction(tier string) {
	if !c.config.Enabled {
		return
	}
	c.evictions.WithLabelValues(tier).Inc()
}

// SetOpenFiles sets the open-file-table gauge.
func (c *Collector) SetOpenFiles(n int) {
	if !c.config.Enabled {
		return
	}
	c.openFiles.Set(float64(n))
}

// SetInFlightFetches sets the concurrent-fetch gauge.
func (c *Collector) SetInFlightFetches(n int32) {
	if !c.config.Enabled {
		return
	}
	c.inFlight.Set(float64(n))
}

// RecordBucketError records a bucket client error by its errors.Kind.
func (c *Collector) RecordBucketError(kind string) {
	if !c.config.Enabled {
		return
	}
	c.bucketErrors.WithLabelValues(kind).Inc()
}

// SetCacheMemoryBytes sets the cache memory gauge for the named tier, fed
// periodically by pkg/memmon's StartReporting from the per-tier byte
// counts the RangeCache instances keep in its Monitor.
func (c *Collector) SetCacheMemoryBytes(tier string, n int64) {
	if !c.config.Enabled {
		return
	}
	c.cacheMemory.WithLabelValues(tier).Set(float64(n))
}
