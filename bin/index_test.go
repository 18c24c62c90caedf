package bin

import (
	"bytes"
	"testing"

	"colstore/bitmap"
)

func buildUniform(t *testing.T, values []float64, nbins int) *Index {
	t.Helper()
	idx, err := Build(values, nil, Options{NBins: nbins, Scale: Linear})
	if err != nil {
		t.Fatal(err)
	}
	return idx
}

func TestBuildAssignsEveryRow(t *testing.T) {
	values := []float64{1, 5, 10, 15, 20, 25, 30, 35, 40, 45}
	idx := buildUniform(t, values, 4)

	total := 0
	for _, bm := range idx.Bits {
		total += bm.Cnt()
	}
	if total != len(values) {
		t.Fatalf("total bin membership = %d, want %d", total, len(values))
	}
}

func TestLocateMatchesBuild(t *testing.T) {
	values := []float64{1, 5, 10, 15, 20, 25, 30, 35, 40, 45}
	idx := buildUniform(t, values, 4)

	for row, v := range values {
		b := idx.Locate(v)
		if b < 0 || b >= idx.nobs() {
			t.Fatalf("Locate(%g) = %d out of range", v, b)
		}
		if !idx.Bits[b].Test(uint32(row)) {
			t.Errorf("row %d (value %g) not present in located bin %d", row, v, b)
		}
	}
}

func TestEvaluateRangeExactWhenBinAligned(t *testing.T) {
	values := []float64{0, 1, 2, 10, 11, 12, 20, 21, 22}
	idx := buildUniform(t, values, 3)

	r := Range{Op1: OpLE, Lo: idx.MaxVal[0], Op2: OpUnset}
	got, err := idx.EvaluateRange(r)
	if err != nil {
		t.Fatalf("expected exact evaluation, got error: %v", err)
	}
	for row, v := range values {
		want := r.Accepts(v)
		if got.Test(uint32(row)) != want {
			t.Errorf("row %d (value %g): got %v want %v", row, v, got.Test(uint32(row)), want)
		}
	}
}

func TestEvaluateRangeInexactFallsBackToUndecidable(t *testing.T) {
	values := []float64{0, 1, 2, 10, 11, 12, 20, 21, 22}
	idx := buildUniform(t, values, 3)

	mid := (idx.MinVal[1] + idx.MaxVal[1]) / 2
	r := Range{Op1: OpLE, Lo: mid}

	_, err := idx.EvaluateRange(r)
	if err != ErrInexact {
		t.Fatalf("expected ErrInexact, got %v", err)
	}
	undecidable, err := idx.GetUndecidable(r)
	if err != nil {
		t.Fatal(err)
	}
	if undecidable.Cnt() == 0 {
		t.Fatal("expected at least one undecidable row for a mid-bin boundary")
	}
}

func TestExpandRangeIsAlwaysExact(t *testing.T) {
	values := []float64{0, 1, 2, 10, 11, 12, 20, 21, 22, 30, 31, 32}
	idx := buildUniform(t, values, 4)

	mid := (idx.MinVal[1] + idx.MaxVal[1]) / 2
	r := Range{Op1: OpLE, Lo: mid}
	expanded := idx.ExpandRange(r)

	if _, err := idx.EvaluateRange(expanded); err != nil {
		t.Fatalf("expanded range should evaluate exactly, got %v", err)
	}
	for row, v := range values {
		if r.Accepts(v) && !expanded.Accepts(v) {
			t.Errorf("expanded range dropped row %d (value %g) accepted by original", row, v)
		}
	}
}

func TestContractRangeIsSubsetAndExact(t *testing.T) {
	values := []float64{0, 1, 2, 10, 11, 12, 20, 21, 22, 30, 31, 32}
	idx := buildUniform(t, values, 4)

	mid := (idx.MinVal[1] + idx.MaxVal[1]) / 2
	r := Range{Op1: OpLE, Lo: mid}
	contracted := idx.ContractRange(r)

	if _, err := idx.EvaluateRange(contracted); err != nil {
		t.Fatalf("contracted range should evaluate exactly, got %v", err)
	}
	for row, v := range values {
		if contracted.Accepts(v) && !r.Accepts(v) {
			t.Errorf("contracted range accepted row %d (value %g) outside original", row, v)
		}
	}
}

func TestEqualWeightProducesBalancedBins(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i)
	}
	idx, err := Build(values, nil, Options{NBins: 5, EqualWeight: true})
	if err != nil {
		t.Fatal(err)
	}
	for i, bm := range idx.Bits {
		if bm.Cnt() == 0 {
			t.Errorf("equal-weight bin %d is empty", i)
		}
	}
}

func TestBak2GroupsByReducedPrecision(t *testing.T) {
	values := []float64{1.001, 1.002, 1.009, 5.5, 5.6, 9.999}
	idx, err := Build(values, nil, Options{Precision: 1})
	if err != nil {
		t.Fatal(err)
	}
	if idx.nobs() == 0 || idx.nobs() == len(values) {
		t.Fatalf("expected coarsened grouping, got %d bins for %d values", idx.nobs(), len(values))
	}
	total := 0
	for _, bm := range idx.Bits {
		total += bm.Cnt()
	}
	if total != len(values) {
		t.Fatalf("total bin membership = %d, want %d", total, len(values))
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	values := []float64{1, 5, 10, 15, 20, 25, 30, 35, 40, 45}
	idx := buildUniform(t, values, 4)

	var buf bytes.Buffer
	if err := idx.Serialize(&buf); err != nil {
		t.Fatal(err)
	}
	got, err := Deserialize(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.NRows != idx.NRows || got.nobs() != idx.nobs() {
		t.Fatalf("round trip shape mismatch: got NRows=%d nobs=%d, want NRows=%d nobs=%d",
			got.NRows, got.nobs(), idx.NRows, idx.nobs())
	}
	for i := range idx.Bits {
		for row := uint32(0); row < idx.NRows; row++ {
			if got.Bits[i].Test(row) != idx.Bits[i].Test(row) {
				t.Errorf("bin %d row %d mismatch after round trip", i, row)
			}
		}
	}
}

func TestParseSpecRegionsAndFlags(t *testing.T) {
	opts, err := ParseSpec("nbins:50 equal-weight (start:0 end:100 nbins:10 scale:log) reorder")
	if err != nil {
		t.Fatal(err)
	}
	if opts.NBins != 50 {
		t.Errorf("NBins = %d, want 50", opts.NBins)
	}
	if !opts.EqualWeight {
		t.Error("expected EqualWeight true")
	}
	if !opts.Reorder {
		t.Error("expected Reorder true")
	}
	if len(opts.Regions) != 1 || opts.Regions[0].NBins != 10 || opts.Regions[0].Scale != Log {
		t.Errorf("unexpected region parse: %+v", opts.Regions)
	}
}

func TestBuildWithNulls(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	nulls := bitmap.NewBitmap(5)
	nulls.Set(2)
	nulls.Compress()

	idx, err := Build(values, nulls, Options{NBins: 2})
	if err != nil {
		t.Fatal(err)
	}
	total := 0
	for _, bm := range idx.Bits {
		total += bm.Cnt()
	}
	if total != 4 {
		t.Fatalf("expected null row excluded from every bin, total = %d, want 4", total)
	}
}
