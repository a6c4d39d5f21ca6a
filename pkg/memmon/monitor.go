// Package memmon accounts for the one significant shared resource the
// filesystem holds between eviction ticks: cached byte ranges.
package memmon

import (
	"context"
	"sync"
	"time"
)

// TrackedObject is a named category of accounted memory — the permanent
// tier, the temporary tier, or any other caller-defined bucket.
type TrackedObject struct {
	Name  string
	Count int64
	Bytes int64
}

// Monitor sums byte counts for named categories of cached data. It has no
// opinion on what those categories mean; internal/rangecache increments
// "perm" and "temp" as entries are added and evicted.
type Monitor struct {
	mu      sync.RWMutex
	objects map[string]*TrackedObject
}

// New creates an empty Monitor.
func New() *Monitor {
	return &Monitor{objects: make(map[string]*TrackedObject)}
}

// Track registers a category if it does not already exist.
func (m *Monitor) Track(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.objects[name]; !exists {
		m.objects[name] = &TrackedObject{Name: name}
	}
}

// Increment adds n bytes (and one object) to a category, creating it if
// necessary.
func (m *Monitor) Increment(name string, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, exists := m.objects[name]
	if !exists {
		obj = &TrackedObject{Name: name}
		m.objects[name] = obj
	}
	obj.Count++
	obj.Bytes += n
}

// Decrement removes n bytes (and one object) from a category. A no-op if
// the category was never tracked.
func (m *Monitor) Decrement(name string, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, exists := m.objects[name]
	if !exists {
		return
	}
	obj.Count--
	obj.Bytes -= n
}

// Stats returns a snapshot of every tracked category.
func (m *Monitor) Stats() map[string]TrackedObject {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]TrackedObject, len(m.objects))
	for name, obj := range m.objects {
		out[name] = *obj
	}
	return out
}

// TotalBytes sums Bytes across every tracked category. The cache memory
// gauge is fed per category by StartReporting, not from this total.
func (m *Monitor) TotalBytes() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, obj := range m.objects {
		total += obj.Bytes
	}
	return total
}

// Sink receives a per-tier byte gauge update; implemented by
// internal/metrics.Collector's SetCacheMemoryBytes.
type Sink interface {
	SetCacheMemoryBytes(tier string, n int64)
}

// StartReporting polls Stats every interval and pushes each category's byte
// count to sink until ctx is canceled. Mirrors the teacher's monitorLoop
// ticker, narrowed to the one sample this repository needs instead of a
// full leak-detection history.
func (m *Monitor) StartReporting(ctx context.Context, interval time.Duration, sink Sink) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for name, obj := range m.Stats() {
					sink.SetCacheMemoryBytes(name, obj.Bytes)
				}
			}
		}
	}()
}
