package eval_test

import (
	"sort"
	"testing"

	"gotest.tools/v3/assert"

	"colstore/bin"
	"colstore/bitmap"
	"colstore/column"
	"colstore/eval"
	"colstore/expr"
	"colstore/partition"
)

func sortedPositions(t *testing.T, b *bitmap.Bitmap) []uint32 {
	t.Helper()
	out, err := b.ToPositions()
	assert.NilError(t, err)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// newTestPartition builds a partition with two numeric columns ("x",
// "y") over ten rows, small enough that DoEstimate/DoScan/DoEvaluate
// all exercise both the bin-index and raw-scan paths.
func newTestPartition(t *testing.T) *partition.Partition {
	t.Helper()
	p := partition.New("events", 10)

	x := column.NewColumn("x", column.Float64,
		[]float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, nil, bin.Options{NBins: 5})
	p.AddColumn("x", x)

	y := column.NewColumn("y", column.Float64,
		[]float64{9, 8, 7, 6, 5, 4, 3, 2, 1, 0}, nil, bin.Options{NBins: 5})
	p.AddColumn("y", y)

	return p
}

func TestDoEstimateContinuousRange(t *testing.T) {
	p := newTestPartition(t)
	e := eval.New(p, p)

	n := expr.ContinuousRange{Col: "x", Range: bin.Range{Op1: bin.OpLE, Lo: 4}}
	bounds, err := e.DoEstimate(n)
	assert.NilError(t, err)

	// Lo <= x with no upper bound matches rows 4..9.
	for row := 4; row <= 9; row++ {
		assert.Check(t, bounds.High.Test(uint32(row)), "row %d should be in the high estimate", row)
	}
	assert.Check(t, !bounds.High.Test(0))
}

func TestDoScanMatchesDoEvaluate(t *testing.T) {
	p := newTestPartition(t)
	e := eval.New(p, p)

	n := expr.ContinuousRange{Col: "x", Range: bin.Range{Op1: bin.OpLE, Lo: 4, Op2: bin.OpLE, Hi: 7}}

	full := bitmap.FromRange(p.NRows(), 0, p.NRows())
	mask, err := e.DoScan(n, full)
	assert.NilError(t, err)

	evalHits, err := e.DoEvaluate(n)
	assert.NilError(t, err)

	assert.DeepEqual(t, sortedPositions(t, mask), sortedPositions(t, evalHits))
	for row := 4; row <= 7; row++ {
		assert.Check(t, evalHits.Test(uint32(row)))
	}
}

func TestEvaluateAndComposition(t *testing.T) {
	p := newTestPartition(t)
	e := eval.New(p, p)

	n := expr.And{Children: []expr.Node{
		expr.ContinuousRange{Col: "x", Range: bin.Range{Op1: bin.OpLE, Lo: 2}},
		expr.ContinuousRange{Col: "y", Range: bin.Range{Op1: bin.OpLE, Lo: 5}},
	}}

	hits, err := e.Evaluate(n)
	assert.NilError(t, err)

	// x >= 2 means row index >= 2; y >= 5 means (9-row) >= 5, row <= 4.
	want := []uint32{2, 3, 4}
	assert.DeepEqual(t, sortedPositions(t, hits), want)
}

func TestEvaluateOrComposition(t *testing.T) {
	p := newTestPartition(t)
	e := eval.New(p, p)

	n := expr.Or{Children: []expr.Node{
		expr.ContinuousRange{Col: "x", Range: bin.Range{Op2: bin.OpLT, Hi: 1}},
		expr.ContinuousRange{Col: "x", Range: bin.Range{Op1: bin.OpLE, Lo: 9}},
	}}

	hits, err := e.Evaluate(n)
	assert.NilError(t, err)
	assert.DeepEqual(t, sortedPositions(t, hits), []uint32{0, 9})
}

func TestEvaluateNot(t *testing.T) {
	p := newTestPartition(t)
	e := eval.New(p, p)

	// x <= 8 matches rows 0..8; negating it should leave only row 9.
	n := expr.Not{X: expr.ContinuousRange{Col: "x", Range: bin.Range{Op2: bin.OpLE, Hi: 8}}}

	hits, err := e.Evaluate(n)
	assert.NilError(t, err)
	assert.DeepEqual(t, sortedPositions(t, hits), []uint32{9})
}

func TestEvaluateRangeJoin(t *testing.T) {
	p := newTestPartition(t)
	e := eval.New(p, p)

	n := expr.RangeJoin{ColA: "x", ColB: "y", Delta: 0}
	hits, err := e.Evaluate(n)
	assert.NilError(t, err)

	// y is x reversed, so every x[i] has exactly one matching y[j] (j ==
	// 9-i): every row of the left column participates in the equi-join.
	assert.Equal(t, hits.Cnt(), 10)
}
