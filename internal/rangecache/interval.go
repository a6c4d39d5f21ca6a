// Package rangecache implements the per-file, two-tier, read-amplifying
// byte-range cache: a permanent tier for offset-zero reads and a
// time-evictable temporary tier for everything else.
package rangecache

import (
	"container/list"
	"sort"
	"sync"
	"time"
)

// Interval is a half-open byte range [Begin, End) carrying the fetched
// bytes. Identity is by pointer, not by value — two intervals with
// identical contents are still distinct entries, which matters once the
// time-index has to target one of them for eviction.
type Interval struct {
	Begin        int64
	End          int64
	Data         []byte
	CreationTime time.Time
}

// Overlaps reports whether the interval's [Begin,End) range intersects
// [lo,hi).
func (iv *Interval) Overlaps(lo, hi int64) bool {
	return iv.Begin < hi && lo < iv.End
}

// PermIndex is a plain interval index with no timestamps and no eviction —
// the permanent tier, built from offset-zero reads and retained for the
// life of the open file.
type PermIndex struct {
	mu        sync.Mutex
	intervals []*Interval
}

// NewPermIndex creates an empty permanent-tier index.
func NewPermIndex() *PermIndex {
	return &PermIndex{}
}

// Query returns every interval overlapping [lo,hi), sorted by Begin.
func (p *PermIndex) Query(lo, hi int64) []*Interval {
	p.mu.Lock()
	defer p.mu.Unlock()
	return queryOverlap(p.intervals, lo, hi)
}

// Add inserts an interval. Callers are responsible for only adding
// intervals with Begin == 0, per the permanent-tier rule; PermIndex itself
// does not enforce it so it can be unit tested in isolation.
func (p *PermIndex) Add(iv *Interval) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.intervals = append(p.intervals, iv)
}

// Len returns the number of intervals currently held.
func (p *PermIndex) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.intervals)
}

// EvictingIndex is a one-dimensional interval index supporting stabbing
// queries, timestamped insertion, and eviction of everything older than a
// cutoff — the temporary tier.
//
// All mutation goes through AddTimed and EvictOlderThan; there is
// deliberately no ad-hoc Add/Remove, so the time-ordered eviction list
// never drifts out of sync with the interval set.
type EvictingIndex struct {
	mu        sync.Mutex
	intervals []*Interval
	timeOrder *list.List // list.Element.Value is *Interval, append-ordered by creation time
}

// NewEvictingIndex creates an empty temporary-tier index.
func NewEvictingIndex() *EvictingIndex {
	return &EvictingIndex{timeOrder: list.New()}
}

// Query returns every interval overlapping [lo,hi), sorted by Begin.
func (e *EvictingIndex) Query(lo, hi int64) []*Interval {
	e.mu.Lock()
	defer e.mu.Unlock()
	return queryOverlap(e.intervals, lo, hi)
}

// AddTimed inserts an interval, stamping it with the creation time itself
// while holding e.mu. Capturing the timestamp and appending to timeOrder
// under the same lock acquisition is what keeps timeOrder monotonically
// non-decreasing: two concurrent fetches on the same file are allowed to
// race to store(), and whichever one reaches this lock first must be the
// one whose timestamp sorts earlier, or EvictOlderThan's front-truncation
// would stop short of an older, still-unevicted entry.
func (e *EvictingIndex) AddTimed(iv *Interval) {
	e.mu.Lock()
	defer e.mu.Unlock()
	iv.CreationTime = time.Now()
	e.intervals = append(e.intervals, iv)
	e.timeOrder.PushBack(iv)
}

// EvictOlderThan removes every interval with CreationTime <= cutoff and
// returns the count and total byte size of what was removed. It scans the
// time-ordered list from the front — the oldest entries — and truncates at
// the first survivor, then removes the same pointers from the interval
// slice.
func (e *EvictingIndex) EvictOlderThan(cutoff time.Time) (count int, freedBytes int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	evicted := make(map[*Interval]struct{})
	for front := e.timeOrder.Front(); front != nil; {
		iv := front.Value.(*Interval)
		if iv.CreationTime.After(cutoff) {
			break
		}
		next := front.Next()
		e.timeOrder.Remove(front)
		evicted[iv] = struct{}{}
		freedBytes += int64(len(iv.Data))
		front = next
	}
	if len(evicted) == 0 {
		return 0, 0
	}

	kept := e.intervals[:0]
	for _, iv := range e.intervals {
		if _, gone := evicted[iv]; !gone {
			kept = append(kept, iv)
		}
	}
	e.intervals = kept
	return len(evicted), freedBytes
}

// Len returns the number of intervals currently held.
func (e *EvictingIndex) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.intervals)
}

// queryOverlap performs a linear-scan stabbing query and returns matches
// sorted by Begin. Per-file interval counts are small (bounded by distinct
// read patterns against one open file), so an unsorted slice with a linear
// scan is simpler and just as fast in practice as a balanced interval tree.
func queryOverlap(intervals []*Interval, lo, hi int64) []*Interval {
	var out []*Interval
	for _, iv := range intervals {
		if iv.Overlaps(lo, hi) {
			out = append(out, iv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Begin < out[j].Begin })
	return out
}
