package eval

import (
	"colstore/bitmap"
	"colstore/expr"
)

// DoScan composes the same tree shape as DoEstimate, but every leaf is
// resolved by reading raw values within mask rather than consulting an
// index.
func (e *Evaluator) DoScan(n expr.Node, mask *bitmap.Bitmap) (*bitmap.Bitmap, error) {
	switch v := n.(type) {
	case expr.ContinuousRange:
		return e.Columns.Scan(v.Col, mask, v.Range.Accepts)

	case expr.DiscreteRange:
		return e.Columns.ScanDiscrete(v.Col, v.Values, mask)

	case expr.StringEquality:
		return e.Columns.ScanString(v.Col, []string{v.Value}, mask)

	case expr.MultiString:
		return e.Columns.ScanString(v.Col, v.Values, mask)

	case expr.AnyAny:
		return e.Columns.ScanDiscrete(v.Col, v.Set, mask)

	case expr.CompoundRange:
		return e.Columns.ScanCompound(v.Term, v.Range, mask)

	case expr.RangeJoin:
		return e.Joins.ScanJoin(v.ColA, v.ColB, v.Delta, mask)

	case expr.Not:
		hits, err := e.DoScan(v.X, mask)
		if err != nil {
			return nil, err
		}
		return mask.Minus(hits)

	case expr.And:
		return e.scanAnd(v.Children, mask)

	case expr.Or:
		return e.scanOr(v.Children, mask)

	case expr.Xor:
		lhits, err := e.DoScan(v.A, mask)
		if err != nil {
			return nil, err
		}
		rhits, err := e.DoScan(v.B, mask)
		if err != nil {
			return nil, err
		}
		return lhits.Xor(rhits)

	case expr.Minus:
		lhits, err := e.DoScan(v.A, mask)
		if err != nil {
			return nil, err
		}
		rhits, err := e.DoScan(v.B, mask)
		if err != nil {
			return nil, err
		}
		return lhits.Minus(rhits)
	}
	return bitmap.NewBitmap(e.Columns.NRows()), nil
}

func (e *Evaluator) scanAnd(children []expr.Node, mask *bitmap.Bitmap) (*bitmap.Bitmap, error) {
	cur := mask
	for _, c := range children {
		if cur.Cnt() == 0 {
			return cur, nil
		}
		hits, err := e.DoScan(c, cur)
		if err != nil {
			return nil, err
		}
		cur = hits
	}
	return cur, nil
}

// scanOr evaluates each disjunct over a shrinking mask: once a row is
// known to satisfy an earlier disjunct it cannot change the OR's
// outcome, so later disjuncts only need to test the remaining rows —
// but only when doing so is estimated cheaper than scanning the whole
// mask again (mirroring the "leftHits.cnt() > mask.bytes() +
// leftHits.bytes()" heuristic).
func (e *Evaluator) scanOr(children []expr.Node, mask *bitmap.Bitmap) (*bitmap.Bitmap, error) {
	acc := bitmap.NewBitmap(e.Columns.NRows())
	remaining := mask
	for _, c := range children {
		if remaining.Cnt() == 0 {
			break
		}
		hits, err := e.DoScan(c, remaining)
		if err != nil {
			return nil, err
		}
		merged, err := acc.Or(hits)
		if err != nil {
			return nil, err
		}
		acc = merged

		if float64(hits.Cnt()) > float64(remaining.Bytes()+hits.Bytes()) {
			narrowed, err := remaining.Minus(hits)
			if err != nil {
				return nil, err
			}
			remaining = narrowed
		}
	}
	return acc, nil
}
