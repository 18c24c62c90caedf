// Package column implements the in-memory accessor for a single typed
// column: raw values, a null mask, advisory type-range bounds, and a
// lazily built bin index guarded by the same lock hierarchy the
// reference implementation uses to let concurrent readers share one
// index build.
package column

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"colstore/bin"
	"colstore/bitmap"
)

// Type identifies a column's element type.
type Type int

const (
	Int64 Type = iota
	Float64
	Text
)

// Column is a single column's values plus the locking and indexing
// machinery needed to answer range queries against it. The lock
// hierarchy — rwlock for the index pointer, mutex for other mutable
// state, idxcnt for active-reader bookkeeping — mirrors ibis::column's
// pthread_rwlock_t/pthread_mutex_t/sharedInt32 triple, replacing its
// friend-class accessors with the scoped guards below.
type Column struct {
	Name  string
	Type  Type
	Nulls *bitmap.Bitmap

	values []float64 // Int64/Float64 storage; Text uses codes via dict
	texts  []string

	rw     sync.RWMutex // guards idx
	mu     sync.Mutex   // guards sorted/lower/upper
	idxcnt int32        // atomic: number of readers currently holding idx

	idx *bin.Index
	opt bin.Options

	sorted bool
	lower  float64
	upper  float64

	group singleflight.Group
}

// NewColumn builds a column accessor over values, with nulls marking
// absent entries. lower/upper are advisory bounds (e.g. from a
// partition's metadata file) used by estimateCost before an index
// exists.
func NewColumn(name string, typ Type, values []float64, nulls *bitmap.Bitmap, opts bin.Options) *Column {
	c := &Column{Name: name, Type: typ, values: values, Nulls: nulls, opt: opts}
	c.lower, c.upper = math.Inf(1), math.Inf(-1)
	for i, v := range values {
		if nulls != nil && nulls.Test(uint32(i)) {
			continue
		}
		if v < c.lower {
			c.lower = v
		}
		if v > c.upper {
			c.upper = v
		}
	}
	c.sorted = isSorted(values, nulls)
	return c
}

func isSorted(values []float64, nulls *bitmap.Bitmap) bool {
	prev := math.Inf(-1)
	for i, v := range values {
		if nulls != nil && nulls.Test(uint32(i)) {
			continue
		}
		if v < prev {
			return false
		}
		prev = v
	}
	return true
}

// NRows returns the number of rows in the column, including nulls.
func (c *Column) NRows() uint32 { return uint32(len(c.values)) }

// LowerBound and UpperBound return the observed extrema, usable for cost
// estimation even before an index has been built.
func (c *Column) LowerBound() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lower
}

func (c *Column) UpperBound() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.upper
}

// IsSorted reports whether the column's non-null values are
// non-decreasing in row order, which lets the join engine choose a
// sort-merge plan without re-sorting.
func (c *Column) IsSorted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sorted
}

// Value returns the raw value at row, and whether it is non-null.
func (c *Column) Value(row uint32) (float64, bool) {
	if c.Nulls != nil && c.Nulls.Test(row) {
		return 0, false
	}
	return c.values[row], true
}

// indexGuard mirrors ibis::column::indexLock: it ensures an index
// exists, building one if necessary, then holds a read lock on it for
// the guard's lifetime and releases it on Close. Concurrent callers
// racing to build the same column's index collapse onto one builder via
// singleflight, matching the effect of idxcnt serializing the build.
type indexGuard struct {
	c   *Column
	idx *bin.Index
}

func (c *Column) indexLock() (*indexGuard, error) {
	c.rw.RLock()
	if c.idx != nil {
		atomic.AddInt32(&c.idxcnt, 1)
		idx := c.idx
		c.rw.RUnlock()
		return &indexGuard{c: c, idx: idx}, nil
	}
	c.rw.RUnlock()

	v, err, _ := c.group.Do("build", func() (interface{}, error) {
		c.rw.Lock()
		defer c.rw.Unlock()
		if c.idx != nil {
			return c.idx, nil
		}
		idx, err := bin.Build(c.values, c.Nulls, c.opt)
		if err != nil {
			return nil, err
		}
		c.idx = idx
		return idx, nil
	})
	if err != nil {
		return nil, fmt.Errorf("column %s: build index: %w", c.Name, err)
	}
	idx := v.(*bin.Index)
	atomic.AddInt32(&c.idxcnt, 1)
	return &indexGuard{c: c, idx: idx}, nil
}

func (g *indexGuard) Close() {
	atomic.AddInt32(&g.c.idxcnt, -1)
}

// SoftWriteLock attempts to take an exclusive lock on the column's index
// pointer without blocking, returning ok=false if the index is currently
// in use by a reader — mirroring ibis::column::softWriteLock's
// try-lock-and-record-success behavior, used by background maintenance
// that should skip a busy column rather than stall it.
type SoftWriteLock struct {
	c      *Column
	locked bool
}

func (c *Column) TrySoftWriteLock() *SoftWriteLock {
	if atomic.LoadInt32(&c.idxcnt) > 0 {
		return &SoftWriteLock{c: c, locked: false}
	}
	c.rw.Lock()
	if c.idxcnt > 0 {
		c.rw.Unlock()
		return &SoftWriteLock{c: c, locked: false}
	}
	return &SoftWriteLock{c: c, locked: true}
}

func (l *SoftWriteLock) Locked() bool { return l.locked }

func (l *SoftWriteLock) Close() {
	if l.locked {
		l.c.rw.Unlock()
	}
}

// InvalidateIndex drops the column's built index, forcing the next
// access to rebuild it; used after an append changes the value domain.
func (c *Column) InvalidateIndex() {
	c.rw.Lock()
	defer c.rw.Unlock()
	c.idx = nil
}

// IndexSnapshot returns the column's bin index, building it on first
// use. The returned value is immutable data safe to read after the
// call returns even if a later InvalidateIndex swaps the column's live
// index out from under it; callers needing bin-level structure (the
// join engine's index-pair plan) use this instead of EstimateRange's
// per-range bitmap results.
func (c *Column) IndexSnapshot() (*bin.Index, error) {
	g, err := c.indexLock()
	if err != nil {
		return nil, err
	}
	defer g.Close()
	return g.idx, nil
}

// EstimateRange returns the certain/possible hit bitmaps for r, building
// the index on first use.
func (c *Column) EstimateRange(r bin.Range) (low, high *bitmap.Bitmap, err error) {
	g, err := c.indexLock()
	if err != nil {
		return nil, nil, err
	}
	defer g.Close()
	return g.idx.EstimateRange(r)
}

// EvaluateRange returns the exact hit bitmap for r, falling back to a
// value-level scan of the rows the index cannot resolve.
func (c *Column) EvaluateRange(r bin.Range) (*bitmap.Bitmap, error) {
	g, err := c.indexLock()
	if err != nil {
		return nil, err
	}
	defer g.Close()

	hits, err := g.idx.EvaluateRange(r)
	if err == nil {
		return hits, nil
	}
	if err != bin.ErrInexact {
		return nil, err
	}

	undecidable, err := g.idx.GetUndecidable(r)
	if err != nil {
		return nil, err
	}
	rejected, err := c.scanRejected(r, undecidable)
	if err != nil {
		return nil, err
	}
	return hits.Minus(rejected)
}

// scanRejected re-evaluates r against the true values of every row set
// in undecidable, returning the rows among those that do NOT satisfy r —
// the complement to subtract from the optimistic high estimate.
func (c *Column) scanRejected(r bin.Range, undecidable *bitmap.Bitmap) (*bitmap.Bitmap, error) {
	out := bitmap.NewBitmap(c.NRows())
	positions, err := undecidable.ToPositions()
	if err != nil {
		return nil, err
	}
	for _, row := range positions {
		v, ok := c.Value(row)
		if ok && !r.Accepts(v) {
			out.Set(row)
		}
	}
	out.Compress()
	return out, nil
}

// EstimateCost estimates the number of bins a range predicate touches,
// falling back to a whole-column scan estimate (1) when no index exists
// yet and the cost of building one shouldn't be charged to this call.
func (c *Column) EstimateCost(r bin.Range) int {
	c.rw.RLock()
	idx := c.idx
	c.rw.RUnlock()
	if idx == nil {
		return int(c.NRows())
	}
	return idx.EstimateCost(r)
}

// DoScan applies pred to every non-null value and returns the set of
// matching rows, bypassing the index entirely.
func (c *Column) DoScan(pred func(float64) bool) *bitmap.Bitmap {
	out := bitmap.NewBitmap(c.NRows())
	for row, v := range c.values {
		if c.Nulls != nil && c.Nulls.Test(uint32(row)) {
			continue
		}
		if pred(v) {
			out.Set(uint32(row))
		}
	}
	out.Compress()
	return out
}

// SelectValues returns the values at the rows set in hits, in ascending
// row order, generalizing ibis::column::selectValues from a templated
// array-fill into Go's type-parametric form.
func SelectValues(c *Column, hits *bitmap.Bitmap) ([]float64, error) {
	positions, err := hits.ToPositions()
	if err != nil {
		return nil, err
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i] < positions[j] })
	out := make([]float64, 0, len(positions))
	for _, row := range positions {
		v, ok := c.Value(row)
		if ok {
			out = append(out, v)
		}
	}
	return out, nil
}
