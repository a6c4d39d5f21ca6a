// Package metrics exposes the filesystem's Prometheus counters and gauges
// (FUSE op latency, range cache hit/miss, bytes fetched, evictions, open
// files, in-flight fetches) over an HTTP /metrics endpoint.
package metrics
