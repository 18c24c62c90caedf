package column

import (
	"sync"
	"testing"

	"colstore/bin"
	"colstore/bitmap"
)

func TestNewColumnBoundsAndSorted(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	c := NewColumn("x", Int64, values, nil, bin.Options{NBins: 2})
	if c.LowerBound() != 1 || c.UpperBound() != 5 {
		t.Fatalf("bounds = [%g, %g], want [1, 5]", c.LowerBound(), c.UpperBound())
	}
	if !c.IsSorted() {
		t.Error("expected sorted column to report sorted")
	}
}

func TestNewColumnUnsorted(t *testing.T) {
	c := NewColumn("x", Int64, []float64{3, 1, 2}, nil, bin.Options{NBins: 2})
	if c.IsSorted() {
		t.Error("expected unsorted column to report unsorted")
	}
}

func TestEvaluateRangeExactAndInexact(t *testing.T) {
	values := []float64{0, 1, 2, 10, 11, 12, 20, 21, 22}
	c := NewColumn("x", Float64, values, nil, bin.Options{NBins: 3})

	hits, err := c.EvaluateRange(bin.Range{Op1: bin.OpLE, Lo: 2})
	if err != nil {
		t.Fatal(err)
	}
	for row, v := range values {
		want := v <= 2
		if hits.Test(uint32(row)) != want {
			t.Errorf("row %d (value %g): got %v want %v", row, v, hits.Test(uint32(row)), want)
		}
	}
}

func TestEvaluateRangeWithNulls(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	nulls := bitmap.NewBitmap(5)
	nulls.Set(2)
	nulls.Compress()
	c := NewColumn("x", Float64, values, nulls, bin.Options{NBins: 2})

	hits, err := c.EvaluateRange(bin.Range{Op1: bin.OpLE, Lo: 10})
	if err != nil {
		t.Fatal(err)
	}
	if hits.Test(2) {
		t.Error("null row should never be a hit")
	}
	if hits.Cnt() != 4 {
		t.Errorf("Cnt() = %d, want 4", hits.Cnt())
	}
}

func TestIndexBuildIsSharedAcrossConcurrentReaders(t *testing.T) {
	values := make([]float64, 1000)
	for i := range values {
		values[i] = float64(i)
	}
	c := NewColumn("x", Float64, values, nil, bin.Options{NBins: 10})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.EvaluateRange(bin.Range{Op1: bin.OpLE, Lo: 500}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
}

func TestSelectValuesReturnsAscendingRowOrder(t *testing.T) {
	values := []float64{10, 20, 30, 40, 50}
	c := NewColumn("x", Float64, values, nil, bin.Options{NBins: 2})
	hits, err := c.EvaluateRange(bin.Range{Op1: bin.OpLE, Lo: 30})
	if err != nil {
		t.Fatal(err)
	}
	got, err := SelectValues(c, hits)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{10, 20, 30}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %g want %g", i, got[i], want[i])
		}
	}
}

func TestDoScanBypassesIndex(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	c := NewColumn("x", Float64, values, nil, bin.Options{NBins: 2})
	hits := c.DoScan(func(v float64) bool { return v > 3 })
	for row, v := range values {
		want := v > 3
		if hits.Test(uint32(row)) != want {
			t.Errorf("row %d: got %v want %v", row, hits.Test(uint32(row)), want)
		}
	}
}

func TestInvalidateIndexForcesRebuild(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	c := NewColumn("x", Float64, values, nil, bin.Options{NBins: 2})
	if _, err := c.EvaluateRange(bin.Range{Op1: bin.OpLE, Lo: 3}); err != nil {
		t.Fatal(err)
	}
	c.InvalidateIndex()
	if _, err := c.EvaluateRange(bin.Range{Op1: bin.OpLE, Lo: 3}); err != nil {
		t.Fatal(err)
	}
}
