package bin

import (
	"fmt"
	"math"
	"sort"

	"colstore/bitmap"
)

// buildBak2 constructs the precision-reduced bin index variant: values are
// first coarsened by rounding to opts.Precision significant digits, then
// each distinct coarsened key yields up to two bins — a lower half holding
// rows whose raw value fell strictly below the key (rounding rounded up)
// and an upper half holding rows whose raw value is at or above the key.
// This follows ibis::bak2::mapValues/construct, which route each row into
// grain.loc0 ("val[i] < key") or grain.loc1 (otherwise) and record the true
// min/max observed within each half so later range queries can still be
// answered exactly for bins the range doesn't straddle.
func buildBak2(values []float64, nulls *bitmap.Bitmap, opts Options) (*Index, error) {
	n := uint32(len(values))
	if opts.Precision < 1 {
		return nil, fmt.Errorf("bin: bak2 requires precision >= 1, got %d", opts.Precision)
	}

	type half struct {
		rows       []uint32
		minv, maxv float64
	}
	type grain struct {
		key        float64
		lower, upper half
	}
	grains := make(map[float64]*grain)
	for row := uint32(0); row < n; row++ {
		if nulls != nil && nulls.Test(row) {
			continue
		}
		v := values[row]
		key := coarsen(v, opts.Precision)
		g, ok := grains[key]
		if !ok {
			g = &grain{key: key}
			g.lower.minv, g.lower.maxv = math.Inf(1), math.Inf(-1)
			g.upper.minv, g.upper.maxv = math.Inf(1), math.Inf(-1)
			grains[key] = g
		}
		h := &g.upper
		if v < key {
			h = &g.lower
		}
		if v < h.minv {
			h.minv = v
		}
		if v > h.maxv {
			h.maxv = v
		}
		h.rows = append(h.rows, row)
	}

	keys := make([]float64, 0, len(grains))
	for k := range grains {
		keys = append(keys, k)
	}
	sort.Float64s(keys)

	idx := &Index{NRows: n, Nulls: nulls, bak2: true}

	// The bak2 disk format reserves bin 0 for an explicit, always-empty
	// "below minimum observed value" bin, so a reader never has to special
	// -case the very first bound as a sentinel; EvaluateRange and
	// Serialize treat it like any other (empty) bin.
	idx.Bits = append(idx.Bits, bitmap.NewBitmap(n))
	idx.MinVal = append(idx.MinVal, math.Inf(1))
	idx.MaxVal = append(idx.MaxVal, math.Inf(-1))
	idx.Bounds = append(idx.Bounds, math.Inf(-1))

	makeBitmap := func(rows []uint32) *bitmap.Bitmap {
		bm := bitmap.NewBitmap(n)
		for _, row := range rows {
			bm.Set(row)
		}
		bm.Compress()
		return bm
	}

	// lowerBound picks the boundary below a bin whose minimum is min, given
	// the previous bin's max. The placeholder bin is always empty, so the
	// very first real bin has nothing below it to separate from — its own
	// minimum is already a correct (and exact) lower edge, unlike
	// construct()'s compactValue(-DBL_MAX, min0), which only "compacts" a
	// genuine gap between two populated bins.
	lowerBound := func(prevMax, min float64) float64 {
		if math.IsInf(prevMax, -1) {
			return min
		}
		return compactValue(prevMax, min)
	}

	// idx.Bits/MinVal/MaxVal/Bounds already hold the leading placeholder
	// bin, so idx.MaxVal[len-1] is always the previous bin's max.
	for _, k := range keys {
		g := grains[k]
		if len(g.lower.rows) > 0 {
			prevMax := idx.MaxVal[len(idx.MaxVal)-1]
			idx.Bits = append(idx.Bits, makeBitmap(g.lower.rows))
			idx.MinVal = append(idx.MinVal, g.lower.minv)
			idx.MaxVal = append(idx.MaxVal, g.lower.maxv)
			idx.Bounds = append(idx.Bounds, lowerBound(prevMax, g.lower.minv))
		}
		if len(g.upper.rows) > 0 {
			idx.Bits = append(idx.Bits, makeBitmap(g.upper.rows))
			idx.MinVal = append(idx.MinVal, g.upper.minv)
			idx.MaxVal = append(idx.MaxVal, g.upper.maxv)
			if len(g.lower.rows) > 0 {
				// Same grain's two halves split exactly at the coarsened
				// key: values < key fall below, values >= key at/above.
				idx.Bounds = append(idx.Bounds, k)
			} else {
				prevMax := idx.MaxVal[len(idx.MaxVal)-2]
				idx.Bounds = append(idx.Bounds, lowerBound(prevMax, g.upper.minv))
			}
		}
	}

	idx.Bounds = append(idx.Bounds, math.Inf(1))
	return idx, nil
}

// coarsen rounds v to the given number of significant decimal digits,
// the reduced-precision key bak2 groups rows by.
func coarsen(v float64, precision int) float64 {
	if v == 0 {
		return 0
	}
	mag := math.Floor(math.Log10(math.Abs(v))) + 1
	scale := math.Pow(10, float64(precision)-mag)
	return math.Round(v*scale) / scale
}
