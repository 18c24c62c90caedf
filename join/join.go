// Package join implements the three range-join strategies — loop,
// sort-merge, and index-pair — that all compute the same pair bitmap
// {(i,j) : mask[i] && mask[j] && |A[i]-B[j]| <= delta} for two columns,
// differing only in how they narrow the O(|M|^2) candidate space.
package join

import (
	"runtime"
	"sort"

	"github.com/RoaringBitmap/roaring/roaring64"
	"golang.org/x/sync/errgroup"

	"colstore/bitmap"
	"colstore/column"
)

// Strategy identifies which plan computed a join's result.
type Strategy int

const (
	LoopJoin Strategy = iota
	SortMerge
	IndexPair
)

func (s Strategy) String() string {
	switch s {
	case LoopJoin:
		return "loop"
	case SortMerge:
		return "sort-merge"
	case IndexPair:
		return "index-pair"
	default:
		return "unknown"
	}
}

// memoryBudget is the assumed available byte budget for a single pair
// bitmap; production callers would source this from the page cache's
// bytesFree(), but the core join engine only needs the comparison, not
// a live memory subsystem.
const memoryBudget = 256 << 20 // 256 MiB

// Plan chooses and runs a join strategy for columns a and b under mask
// (nil mask means every row), returning the resulting pair bitmap and
// which strategy produced it. Both columns must have equal row counts.
func Plan(a, b *column.Column, delta float64, mask *bitmap.Bitmap) (*bitmap.PairBitmap, Strategy, error) {
	maskA, maskB := effectiveMask(a, mask), effectiveMask(b, mask)
	idxA, errA := a.IndexSnapshot()
	idxB, errB := b.IndexSnapshot()

	if errA == nil && errB == nil {
		m := maskA.Cnt()
		if mb := maskB.Cnt(); mb > m {
			m = mb
		}
		cf := bitmap.ClusteringFactor(uint64(a.NRows())*uint64(b.NRows()), uint64(m)*uint64(m), maskA.Bytes()+maskB.Bytes())
		needed := bitmap.MarkovSize(uint64(a.NRows())*uint64(b.NRows()), uint64(m)*uint64(m), cf)
		if needed <= memoryBudget {
			pairs, err := indexPairJoin(a, b, idxA, idxB, delta, maskA, maskB)
			if err == nil {
				return pairs, IndexPair, nil
			}
		}
	}

	if a.IsSorted() || b.IsSorted() || (maskA.Cnt() > 64 && maskB.Cnt() > 64) {
		pairs, err := sortMergeJoin(a, b, delta, maskA, maskB)
		if err == nil {
			return pairs, SortMerge, nil
		}
	}

	pairs, err := loopJoin(a, b, delta, maskA, maskB)
	if err != nil {
		return nil, 0, err
	}
	return pairs, LoopJoin, nil
}

func effectiveMask(c *column.Column, mask *bitmap.Bitmap) *bitmap.Bitmap {
	if mask != nil {
		return mask
	}
	return bitmap.FromRange(c.NRows(), 0, c.NRows())
}

// loopJoin is the O(|M|^2) fallback with no index dependency: test
// every candidate pair directly. The left side's rows are sharded
// across GOMAXPROCS workers via errgroup, each building its own partial
// pair bitmap merged once all finish, since every worker only ever
// reads a[i]/b[j] and writes to its own output.
func loopJoin(a, b *column.Column, delta float64, maskA, maskB *bitmap.Bitmap) (*bitmap.PairBitmap, error) {
	rowsA, err := maskA.ToPositions()
	if err != nil {
		return nil, err
	}
	rowsB, err := maskB.ToPositions()
	if err != nil {
		return nil, err
	}

	n := uint64(b.NRows())
	if len(rowsA) == 0 || len(rowsB) == 0 {
		return bitmap.NewPairBitmap(n), nil
	}

	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}
	if workers > len(rowsA) {
		workers = len(rowsA)
	}
	shardSize := (len(rowsA) + workers - 1) / workers

	partials := make([]*bitmap.PairBitmap, workers)
	g := new(errgroup.Group)
	for w := 0; w < workers; w++ {
		w := w
		start := w * shardSize
		end := start + shardSize
		if end > len(rowsA) {
			end = len(rowsA)
		}
		if start >= end {
			partials[w] = bitmap.NewPairBitmap(n)
			continue
		}
		g.Go(func() error {
			local := bitmap.NewPairBitmap(n)
			for _, i := range rowsA[start:end] {
				av, ok := a.Value(i)
				if !ok {
					continue
				}
				for _, j := range rowsB {
					bv, ok := b.Value(j)
					if ok && withinDelta(av, bv, delta) {
						local.Add(i, j)
					}
				}
			}
			partials[w] = local
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := bitmap.NewPairBitmap(n)
	for _, p := range partials {
		out = out.Union(p)
	}
	return out, nil
}

func withinDelta(a, b, delta float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= delta
}

type keyedRow struct {
	value float64
	row   uint32
}

// sortMergeJoin materializes (value, row) pairs for both sides, sorts
// each stably by value, then advances two cursors emitting every pair
// within delta. For delta == 0 this degenerates to a strict equality
// merge.
//
// Matched (origA, origB) ordinals are accumulated into a roaring64
// bitmap, keyed the same way as PairBitmap (origA*n + origB), rather
// than written straight into the map-backed PairBitmap: the merge pass
// can emit the same pair more than once when both sides carry runs of
// equal values within delta of each other, and roaring64 de-duplicates
// that scratch accumulation far more cheaply than growing a Go map
// entry by entry before the final fold into our own pair bitmap.
func sortMergeJoin(a, b *column.Column, delta float64, maskA, maskB *bitmap.Bitmap) (*bitmap.PairBitmap, error) {
	left, err := materialize(a, maskA)
	if err != nil {
		return nil, err
	}
	right, err := materialize(b, maskB)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(left, func(i, j int) bool { return left[i].value < left[j].value })
	sort.SliceStable(right, func(i, j int) bool { return right[i].value < right[j].value })

	n := uint64(b.NRows())
	scratch := roaring64.New()
	// For each left element, find the window of right elements within
	// delta using two advancing pointers (lo inclusive, hi exclusive).
	lo, hi := 0, 0
	for _, l := range left {
		for lo < len(right) && right[lo].value < l.value-delta {
			lo++
		}
		if hi < lo {
			hi = lo
		}
		for hi < len(right) && right[hi].value <= l.value+delta {
			hi++
		}
		for k := lo; k < hi; k++ {
			if withinDelta(l.value, right[k].value, delta) {
				scratch.Add(uint64(l.row)*n + uint64(right[k].row))
			}
		}
	}

	out := bitmap.NewPairBitmap(n)
	it := scratch.Iterator()
	for it.HasNext() {
		key := it.Next()
		out.Add(uint32(key/n), uint32(key%n))
	}
	return out, nil
}

func materialize(c *column.Column, mask *bitmap.Bitmap) ([]keyedRow, error) {
	positions, err := mask.ToPositions()
	if err != nil {
		return nil, err
	}
	out := make([]keyedRow, 0, len(positions))
	for _, row := range positions {
		v, ok := c.Value(row)
		if ok {
			out = append(out, keyedRow{value: v, row: row})
		}
	}
	return out, nil
}

// Intersect narrows a pair bitmap to the conjunction of itself and every
// other term, used to combine multiple ANDed join terms (and
// optionally other row-level masks materialized as pair bitmaps over
// the same dimension).
func Intersect(terms ...*bitmap.PairBitmap) *bitmap.PairBitmap {
	if len(terms) == 0 {
		return bitmap.NewPairBitmap(0)
	}
	acc := terms[0]
	for _, t := range terms[1:] {
		acc = acc.Intersect(t)
	}
	return acc
}
