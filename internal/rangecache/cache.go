package rangecache

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/b2fs4chia/b2fs/pkg/errors"
)

// MinReadLenWithoutCache is the floor applied to every cache-miss fetch
// that isn't filling a strict hole between two already-cached intervals.
const MinReadLenWithoutCache = 16384

// FileInfo is the bucket's immutable object descriptor: identity, the
// path-like name the directory projection splits on, and the attributes
// getattr and the ".sha1" sidecar read need. Produced by a bucket listing;
// never mutated in place, only replaced wholesale on refresh.
type FileInfo struct {
	FileID          string
	FileName        string
	Size            int64
	UploadTimestamp int64 // milliseconds since epoch
	ContentSha1     string
}

// Fetcher retrieves an inclusive byte range [inclusiveLo, inclusiveHi]
// from the bucket. Implemented by internal/bucket.CachedBucket.
type Fetcher interface {
	DownloadRange(ctx context.Context, fileID string, inclusiveLo, inclusiveHi int64) ([]byte, error)
}

// ByteAccounting receives Increment/Decrement calls as bytes enter and
// leave the named tier ("perm"/"temp"), feeding the process-wide memory
// gauge. Nil is a valid no-op accountant.
type ByteAccounting interface {
	Increment(tier string, n int64)
	Decrement(tier string, n int64)
}

// MetricsSink receives fetch/hit/miss observations. Nil is a valid no-op.
type MetricsSink interface {
	RecordCacheHit(tier string)
	RecordCacheMiss(tier string)
	RecordFetch(fetchedBytes, servedBytes int64)
}

// RangeCache is the per-open-file two-tier byte-range cache.
type RangeCache struct {
	FileInfo FileInfo

	fetcher    Fetcher
	perm       *PermIndex
	temp       *EvictingIndex
	parallel   int32
	accounting ByteAccounting
	metrics    MetricsSink
}

// New creates a RangeCache for an open file. accounting and metrics may be
// nil.
func New(info FileInfo, fetcher Fetcher, accounting ByteAccounting, metrics MetricsSink) *RangeCache {
	return &RangeCache{
		FileInfo:   info,
		fetcher:    fetcher,
		perm:       NewPermIndex(),
		temp:       NewEvictingIndex(),
		accounting: accounting,
		metrics:    metrics,
	}
}

// amplify applies the read-amplification policy: never shift the start
// backward, grow the length to at least MinReadLenWithoutCache, and decide
// which tier the fetched bytes belong in.
func amplify(offset, length int64) (newOffset, newLength int64, keep bool) {
	newOffset = offset
	newLength = length
	if newLength < MinReadLenWithoutCache {
		newLength = MinReadLenWithoutCache
	}
	keep = offset == 0
	return newOffset, newLength, keep
}

// ParallelFetches returns the current count of in-flight DownloadRange
// calls, for the in-flight-fetch gauge.
func (c *RangeCache) ParallelFetches() int32 {
	return atomic.LoadInt32(&c.parallel)
}

// Get returns exactly length bytes equal to the remote object's contents
// at [offset, offset+length), fetching and caching whatever isn't already
// held.
func (c *RangeCache) Get(ctx context.Context, offset, length int64) ([]byte, error) {
	lo, hi := offset, offset+length

	overlapping := c.collectOverlapping(lo, hi)

	if len(overlapping) == 0 {
		if c.metrics != nil {
			c.metrics.RecordCacheMiss("temp")
		}
		return c.fetchWhole(ctx, offset, length)
	}
	if c.metrics != nil {
		c.metrics.RecordCacheHit("temp")
	}
	return c.fetchPartial(ctx, offset, length, overlapping)
}

// collectOverlapping gathers and sorts every interval from perm ∪ temp
// that overlaps [lo,hi). The cache's own locks (inside PermIndex /
// EvictingIndex) guard this snapshot; nothing here is held across a fetch.
func (c *RangeCache) collectOverlapping(lo, hi int64) []*Interval {
	perm := c.perm.Query(lo, hi)
	temp := c.temp.Query(lo, hi)
	merged := make([]*Interval, 0, len(perm)+len(temp))
	merged = append(merged, perm...)
	merged = append(merged, temp...)
	sort.Slice(merged, func(i, j int) bool { return merged[i].Begin < merged[j].Begin })
	return merged
}

// fetchWhole handles the no-overlap case: amplify, fetch once, store, and
// slice out the requested range.
func (c *RangeCache) fetchWhole(ctx context.Context, offset, length int64) ([]byte, error) {
	newOffset, newLength, keep := amplify(offset, length)

	data, err := c.fetchRange(ctx, newOffset, newLength)
	if err != nil {
		return nil, err
	}

	c.store(newOffset, data, keep)

	start := offset - newOffset
	end := start + length
	if end > int64(len(data)) {
		return nil, errors.RemoteFailure("rangecache", fmt.Sprintf("fetched %d bytes, need %d", len(data), end), nil)
	}
	return data[start:end], nil
}

// fetchPartial handles the partial-overlap case: emit a leading fetch if
// the first interval starts after lo, walk the intervals filling holes and
// copying overlap, then fetch a trailing remainder if still short.
func (c *RangeCache) fetchPartial(ctx context.Context, offset, length int64, overlapping []*Interval) ([]byte, error) {
	lo, hi := offset, offset+length
	result := make([]byte, 0, length)

	if overlapping[0].Begin > lo {
		holeLen := overlapping[0].Begin - lo
		data, err := c.fetchRange(ctx, lo, holeLen)
		if err != nil {
			return nil, err
		}
		c.store(lo, data, false)
		result = append(result, data...)
	}

	// prevEnd tracks how far the result buffer is filled, in absolute file
	// offsets. It starts at the first interval's Begin rather than lo: the
	// leading fetch above (if any) already closed the gap up to that point,
	// and when the first interval already covers lo there is no prior
	// emission to trim, so overlap must be zero on the first iteration.
	prevEnd := overlapping[0].Begin

	for _, iv := range overlapping {
		if iv.Begin > prevEnd {
			holeLen := iv.Begin - prevEnd
			data, err := c.fetchRange(ctx, prevEnd, holeLen)
			if err != nil {
				return nil, err
			}
			c.store(prevEnd, data, false)
			result = append(result, data...)
		}

		overlap := int64(0)
		if prevEnd > iv.Begin {
			overlap = prevEnd - iv.Begin
		}
		sliceStart := max64(lo-iv.Begin, overlap)
		sliceEnd := min64(hi, iv.End) - iv.Begin
		if sliceEnd > sliceStart {
			result = append(result, iv.Data[sliceStart:sliceEnd]...)
		}
		if iv.End > prevEnd {
			prevEnd = iv.End
		}
	}

	if int64(len(result)) < length {
		remainingOffset := offset + int64(len(result))
		remainingLen := length - int64(len(result))
		data, err := c.fetchRange(ctx, remainingOffset, remainingLen)
		if err != nil {
			return nil, err
		}
		c.store(remainingOffset, data, false)
		result = append(result, data...)
	}

	if int64(len(result)) > length {
		result = result[:length]
	}
	return result, nil
}

// fetchRange issues one DownloadRange call for the half-open [offset,
// offset+length) range, translating to the client's inclusive convention.
func (c *RangeCache) fetchRange(ctx context.Context, offset, length int64) ([]byte, error) {
	if length <= 0 {
		return nil, nil
	}
	inclusiveLo := offset
	inclusiveHi := offset + length - 1

	atomic.AddInt32(&c.parallel, 1)
	defer atomic.AddInt32(&c.parallel, -1)

	data, err := c.fetcher.DownloadRange(ctx, c.FileInfo.FileID, inclusiveLo, inclusiveHi)
	if err != nil {
		return nil, errors.RemoteFailure("rangecache", fmt.Sprintf("download_range(%d,%d)", inclusiveLo, inclusiveHi), err)
	}
	if c.metrics != nil {
		c.metrics.RecordFetch(int64(len(data)), length)
	}
	return data, nil
}

// store inserts fetched bytes into the permanent tier (keep=true) or the
// temporary tier. The temporary tier's creation timestamp is stamped by
// AddTimed itself, under its own lock, not here — see AddTimed.
func (c *RangeCache) store(begin int64, data []byte, keep bool) {
	if len(data) == 0 {
		return
	}
	iv := &Interval{
		Begin: begin,
		End:   begin + int64(len(data)),
		Data:  data,
	}
	if keep {
		c.perm.Add(iv)
		if c.accounting != nil {
			c.accounting.Increment("perm", int64(len(data)))
		}
		return
	}
	c.temp.AddTimed(iv)
	if c.accounting != nil {
		c.accounting.Increment("temp", int64(len(data)))
	}
}

// EvictOlderThan prunes the temporary tier of everything created at or
// before cutoff. The permanent tier is never touched here.
func (c *RangeCache) EvictOlderThan(cutoff time.Time) {
	_, freedBytes := c.temp.EvictOlderThan(cutoff)
	if freedBytes > 0 && c.accounting != nil {
		c.accounting.Decrement("temp", freedBytes)
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
