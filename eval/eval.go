// Package eval implements the three mutually recursive evaluation
// procedures — estimate, scan, and evaluate — that walk a predicate
// tree combining bin-index lookups with raw-value scans to produce
// exact or bounded hit bitmaps.
package eval

import (
	"fmt"

	"colstore/bin"
	"colstore/bitmap"
	"colstore/expr"
)

// ColumnSource resolves a column name to the operations the evaluator
// needs: range estimation/evaluation through the bin index, and a raw
// scan fallback for rows the index can't resolve or predicates it
// doesn't understand (string/discrete/compound).
type ColumnSource interface {
	NRows() uint32
	EstimateRange(col string, r bin.Range) (low, high *bitmap.Bitmap, err error)
	EvaluateRange(col string, r bin.Range) (hits *bitmap.Bitmap, err error)
	// Scan applies pred to every row of col within mask (nil mask means
	// every row) and returns the matching rows.
	Scan(col string, mask *bitmap.Bitmap, pred func(float64) bool) (*bitmap.Bitmap, error)
	// ScanDiscrete and ScanString cover the leaf kinds that never go
	// through the bin index.
	ScanDiscrete(col string, values []float64, mask *bitmap.Bitmap) (*bitmap.Bitmap, error)
	ScanString(col string, values []string, mask *bitmap.Bitmap) (*bitmap.Bitmap, error)
	// ScanCompound evaluates an arithmetic term per row against r,
	// covering CompoundRange predicates whose term touches more than
	// one column and so cannot be answered by a single-column Scan.
	ScanCompound(term expr.Term, r bin.Range, mask *bitmap.Bitmap) (*bitmap.Bitmap, error)
}

// JoinSource resolves a RangeJoin leaf to a row-level bitmap: the rows
// of the join's first column that participate in at least one matching
// pair, restricted to mask. Full pair materialization belongs to the
// join engine; the scalar evaluator only needs a per-row membership
// test so a join term can appear inside AND/OR/NOT composition.
type JoinSource interface {
	ScanJoin(colA, colB string, delta float64, mask *bitmap.Bitmap) (*bitmap.Bitmap, error)
}

// Evaluator walks an expression tree against a ColumnSource/JoinSource
// pair, implementing doEstimate/doScan/doEvaluate.
type Evaluator struct {
	Columns ColumnSource
	Joins   JoinSource
}

func New(columns ColumnSource, joins JoinSource) *Evaluator {
	return &Evaluator{Columns: columns, Joins: joins}
}

// Bounds is a (low, high) pair: low is guaranteed hits, high is the
// candidate superset. low == high (by value) means exact.
type Bounds struct {
	Low, High *bitmap.Bitmap
}

// DoEstimate composes estimateRange calls over the tree without reading
// any raw values.
func (e *Evaluator) DoEstimate(n expr.Node) (Bounds, error) {
	switch v := n.(type) {
	case expr.ContinuousRange:
		low, high, err := e.Columns.EstimateRange(v.Col, v.Range)
		if err != nil {
			return Bounds{}, err
		}
		return Bounds{Low: low, High: high}, nil

	case expr.DiscreteRange:
		hits, err := e.Columns.ScanDiscrete(v.Col, v.Values, nil)
		if err != nil {
			return Bounds{}, err
		}
		return Bounds{Low: hits, High: hits}, nil

	case expr.StringEquality:
		hits, err := e.Columns.ScanString(v.Col, []string{v.Value}, nil)
		if err != nil {
			return Bounds{}, err
		}
		return Bounds{Low: hits, High: hits}, nil

	case expr.MultiString:
		hits, err := e.Columns.ScanString(v.Col, v.Values, nil)
		if err != nil {
			return Bounds{}, err
		}
		return Bounds{Low: hits, High: hits}, nil

	case expr.AnyAny:
		hits, err := e.Columns.ScanDiscrete(v.Col, v.Set, nil)
		if err != nil {
			return Bounds{}, err
		}
		return Bounds{Low: hits, High: hits}, nil

	case expr.CompoundRange:
		if cr, ok := expr.CollapsesToRange(v); ok {
			return e.DoEstimate(cr)
		}
		// Not directly resolvable by an index: the candidate set is
		// the whole column, and evaluate/doScan must narrow it.
		full := e.fullMask()
		return Bounds{Low: bitmap.NewBitmap(e.Columns.NRows()), High: full}, nil

	case expr.RangeJoin:
		full := e.fullMask()
		hits, err := e.Joins.ScanJoin(v.ColA, v.ColB, v.Delta, full)
		if err != nil {
			return Bounds{}, err
		}
		return Bounds{Low: hits, High: hits}, nil

	case expr.Not:
		b, err := e.DoEstimate(v.X)
		if err != nil {
			return Bounds{}, err
		}
		return Bounds{Low: b.High.Not(), High: b.Low.Not()}, nil

	case expr.And:
		return e.estimateAnd(v.Children)

	case expr.Or:
		return e.estimateOr(v.Children)

	case expr.Xor:
		return e.estimateXor(v.A, v.B)

	case expr.Minus:
		return e.estimateMinus(v.A, v.B)
	}
	return Bounds{}, fmt.Errorf("eval: unsupported node kind %v", n.Kind())
}

func (e *Evaluator) fullMask() *bitmap.Bitmap {
	return bitmap.FromRange(e.Columns.NRows(), 0, e.Columns.NRows())
}

func (e *Evaluator) estimateAnd(children []expr.Node) (Bounds, error) {
	acc, err := e.DoEstimate(children[0])
	if err != nil {
		return Bounds{}, err
	}
	for _, c := range children[1:] {
		if acc.Low.Cnt() == 0 && acc.High.Cnt() == 0 {
			return acc, nil
		}
		b, err := e.DoEstimate(c)
		if err != nil {
			return Bounds{}, err
		}
		low, err := acc.Low.And(b.Low)
		if err != nil {
			return Bounds{}, err
		}
		high, err := acc.High.And(b.High)
		if err != nil {
			return Bounds{}, err
		}
		acc = Bounds{Low: low, High: high}
	}
	return acc, nil
}

func (e *Evaluator) estimateOr(children []expr.Node) (Bounds, error) {
	acc, err := e.DoEstimate(children[0])
	if err != nil {
		return Bounds{}, err
	}
	for _, c := range children[1:] {
		b, err := e.DoEstimate(c)
		if err != nil {
			return Bounds{}, err
		}
		low, err := acc.Low.Or(b.Low)
		if err != nil {
			return Bounds{}, err
		}
		high, err := acc.High.Or(b.High)
		if err != nil {
			return Bounds{}, err
		}
		acc = Bounds{Low: low, High: high}
	}
	return acc, nil
}

func (e *Evaluator) estimateXor(l, r expr.Node) (Bounds, error) {
	lb, err := e.DoEstimate(l)
	if err != nil {
		return Bounds{}, err
	}
	rb, err := e.DoEstimate(r)
	if err != nil {
		return Bounds{}, err
	}
	lLowMinusRHigh, err := lb.Low.Minus(rb.High)
	if err != nil {
		return Bounds{}, err
	}
	rLowMinusLHigh, err := rb.Low.Minus(lb.High)
	if err != nil {
		return Bounds{}, err
	}
	low, err := lLowMinusRHigh.Or(rLowMinusLHigh)
	if err != nil {
		return Bounds{}, err
	}
	lHighMinusRLow, err := lb.High.Minus(rb.Low)
	if err != nil {
		return Bounds{}, err
	}
	rHighMinusLLow, err := rb.High.Minus(lb.Low)
	if err != nil {
		return Bounds{}, err
	}
	high, err := lHighMinusRLow.Or(rHighMinusLLow)
	if err != nil {
		return Bounds{}, err
	}
	return Bounds{Low: low, High: high}, nil
}

func (e *Evaluator) estimateMinus(l, r expr.Node) (Bounds, error) {
	lb, err := e.DoEstimate(l)
	if err != nil {
		return Bounds{}, err
	}
	rb, err := e.DoEstimate(r)
	if err != nil {
		return Bounds{}, err
	}
	low, err := lb.Low.Minus(rb.High)
	if err != nil {
		return Bounds{}, err
	}
	high, err := lb.High.Minus(rb.Low)
	if err != nil {
		return Bounds{}, err
	}
	return Bounds{Low: low, High: high}, nil
}
