package eval

import (
	"colstore/bin"
	"colstore/bitmap"
	"colstore/expr"
)

// DoEvaluate is the hybrid procedure: leaves call evaluateRange and, if
// the index alone can't resolve them, finish the undecidable rows with
// doScan. Non-leaf nodes compose children as exact bitmaps (equivalent
// to doEstimate's composition rules, but every operand is already
// exact).
func (e *Evaluator) DoEvaluate(n expr.Node) (*bitmap.Bitmap, error) {
	switch v := n.(type) {
	case expr.ContinuousRange:
		return e.evaluateContinuous(v.Col, v.Range)

	case expr.DiscreteRange:
		return e.Columns.ScanDiscrete(v.Col, v.Values, nil)

	case expr.StringEquality:
		return e.Columns.ScanString(v.Col, []string{v.Value}, nil)

	case expr.MultiString:
		return e.Columns.ScanString(v.Col, v.Values, nil)

	case expr.AnyAny:
		return e.Columns.ScanDiscrete(v.Col, v.Set, nil)

	case expr.CompoundRange:
		if cr, ok := expr.CollapsesToRange(v); ok {
			return e.evaluateContinuous(cr.Col, cr.Range)
		}
		return e.Columns.ScanCompound(v.Term, v.Range, e.fullMask())

	case expr.RangeJoin:
		return e.Joins.ScanJoin(v.ColA, v.ColB, v.Delta, e.fullMask())

	case expr.Not:
		hits, err := e.DoEvaluate(v.X)
		if err != nil {
			return nil, err
		}
		return e.fullMask().Minus(hits)

	case expr.And:
		return e.evaluateAnd(v.Children)

	case expr.Or:
		return e.evaluateOr(v.Children)

	case expr.Xor:
		l, err := e.DoEvaluate(v.A)
		if err != nil {
			return nil, err
		}
		r, err := e.DoEvaluate(v.B)
		if err != nil {
			return nil, err
		}
		return l.Xor(r)

	case expr.Minus:
		l, err := e.DoEvaluate(v.A)
		if err != nil {
			return nil, err
		}
		r, err := e.DoEvaluate(v.B)
		if err != nil {
			return nil, err
		}
		return l.Minus(r)
	}
	return bitmap.NewBitmap(e.Columns.NRows()), nil
}

func (e *Evaluator) evaluateContinuous(col string, r bin.Range) (*bitmap.Bitmap, error) {
	hits, err := e.Columns.EvaluateRange(col, r)
	if err == nil {
		return hits, nil
	}
	if err != bin.ErrInexact {
		return nil, err
	}
	// hits holds the optimistic high estimate; finish the gap with a
	// scan and subtract what didn't actually match.
	_, high, estErr := e.Columns.EstimateRange(col, r)
	if estErr != nil {
		return nil, estErr
	}
	return e.Columns.Scan(col, high, r.Accepts)
}

func (e *Evaluator) evaluateAnd(children []expr.Node) (*bitmap.Bitmap, error) {
	acc, err := e.DoEvaluate(children[0])
	if err != nil {
		return nil, err
	}
	for _, c := range children[1:] {
		if acc.Cnt() == 0 {
			return acc, nil
		}
		hits, err := e.DoEvaluate(c)
		if err != nil {
			return nil, err
		}
		acc, err = acc.And(hits)
		if err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func (e *Evaluator) evaluateOr(children []expr.Node) (*bitmap.Bitmap, error) {
	acc, err := e.DoEvaluate(children[0])
	if err != nil {
		return nil, err
	}
	for _, c := range children[1:] {
		hits, err := e.DoEvaluate(c)
		if err != nil {
			return nil, err
		}
		acc, err = acc.Or(hits)
		if err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// Evaluate is the top-level entry point: it invokes DoEvaluate, and if
// an estimate pass still shows an upper-bound gap, finishes the
// difference with DoScan and ORs it into the result. Callers are
// expected to have already reordered the tree (expr.Reorder) so
// non-directEval leaves are pushed after any directly-evaluable
// prefilter.
func (e *Evaluator) Evaluate(n expr.Node) (*bitmap.Bitmap, error) {
	hits, err := e.DoEvaluate(n)
	if err != nil {
		return nil, err
	}
	bounds, err := e.DoEstimate(n)
	if err != nil {
		return nil, err
	}
	if bounds.High.Cnt() <= hits.Cnt() {
		return hits, nil
	}
	gap, err := bounds.High.Minus(hits)
	if err != nil {
		return nil, err
	}
	extra, err := e.DoScan(n, gap)
	if err != nil {
		return nil, err
	}
	return hits.Or(extra)
}
