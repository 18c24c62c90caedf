package join

import (
	"context"

	"golang.org/x/sync/errgroup"

	"colstore/bin"
	"colstore/bitmap"
	"colstore/column"
)

// indexPairJoin enumerates pairs of bins (one from each column's index)
// whose value intervals are within delta of each other. Each bin pair's
// cross product is a candidate pair set; the subset whose bin intervals
// lie wholly within delta is a sure-hit set added directly, while the
// rest are iffy and finished by a masked loop join over the raw values.
// Bin pairs are scanned concurrently via errgroup, each contributing
// its own sure/iffy pairs that are merged once all finish.
func indexPairJoin(a, b *column.Column, idxA, idxB *bin.Index, delta float64, maskA, maskB *bitmap.Bitmap) (*bitmap.PairBitmap, error) {
	type binPair struct{ ai, bi int }
	var candidates []binPair
	for ai := range idxA.Bits {
		for bi := range idxB.Bits {
			if binsWithinDelta(idxA.MinVal[ai], idxA.MaxVal[ai], idxB.MinVal[bi], idxB.MaxVal[bi], delta) {
				candidates = append(candidates, binPair{ai, bi})
			}
		}
	}

	results := make([]*bitmap.PairBitmap, len(candidates))
	g, _ := errgroup.WithContext(context.Background())
	for idx, cp := range candidates {
		idx, cp := idx, cp
		g.Go(func() error {
			bitsA, err := idxA.Bits[cp.ai].And(maskA)
			if err != nil {
				return err
			}
			bitsB, err := idxB.Bits[cp.bi].And(maskB)
			if err != nil {
				return err
			}
			if bitsA.Cnt() == 0 || bitsB.Cnt() == 0 {
				results[idx] = bitmap.NewPairBitmap(uint64(b.NRows()))
				return nil
			}

			sure := binPairIsSure(idxA.MinVal[cp.ai], idxA.MaxVal[cp.ai], idxB.MinVal[cp.bi], idxB.MaxVal[cp.bi], delta)
			if sure {
				pairs, err := bitmap.OuterProduct(bitsA, bitsB)
				if err != nil {
					return err
				}
				results[idx] = pairs
				return nil
			}

			pairs, err := loopJoin(a, b, delta, bitsA, bitsB)
			if err != nil {
				return err
			}
			results[idx] = pairs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := bitmap.NewPairBitmap(uint64(b.NRows()))
	for _, r := range results {
		out = out.Union(r)
	}
	return out, nil
}

// binsWithinDelta reports whether any value in [minA,maxA] can be within
// delta of any value in [minB,maxB] — a necessary condition for the bin
// pair to contain any matching row pair at all.
func binsWithinDelta(minA, maxA, minB, maxB, delta float64) bool {
	return minA-delta <= maxB && minB-delta <= maxA
}

// binPairIsSure reports whether every value in [minA,maxA] is within
// delta of every value in [minB,maxB], making the bin pair's full cross
// product a sure hit with no per-row check needed.
func binPairIsSure(minA, maxA, minB, maxB, delta float64) bool {
	return withinDelta(minA, maxB, delta) && withinDelta(maxA, minB, delta) &&
		withinDelta(minA, minB, delta) && withinDelta(maxA, maxB, delta)
}
