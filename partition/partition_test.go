package partition_test

import (
	"testing"

	"colstore/bin"
	"colstore/column"
	"colstore/dictionary"
	"colstore/expr"
	"colstore/partition"
)

func TestAddColumnAndEvaluateRange(t *testing.T) {
	p := partition.New("events", 5)
	col := column.NewColumn("x", column.Float64, []float64{1, 2, 3, 4, 5}, nil, bin.Options{NBins: 5})
	p.AddColumn("x", col)

	hits, err := p.EvaluateRange("x", bin.Range{Op1: bin.OpLE, Lo: 3})
	if err != nil {
		t.Fatal(err)
	}
	if hits.Cnt() != 3 {
		t.Fatalf("hits.Cnt() = %d, want 3", hits.Cnt())
	}

	if _, err := p.EvaluateRange("missing", bin.Range{}); err == nil {
		t.Fatal("expected error for unknown column")
	}
}

func TestAddTextColumnAndScanString(t *testing.T) {
	p := partition.New("events", 3)
	dict := dictionary.New()
	codes := []float64{
		float64(dict.Intern("a")),
		float64(dict.Intern("b")),
		float64(dict.Intern("a")),
	}
	col := column.NewColumn("name", column.Text, codes, nil, bin.Options{NBins: 4})
	p.AddTextColumn("name", col, dict)

	hits, err := p.ScanString("name", []string{"a"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if hits.Cnt() != 2 {
		t.Fatalf("hits.Cnt() = %d, want 2", hits.Cnt())
	}

	if _, err := p.ScanString("x", []string{"a"}, nil); err == nil {
		t.Fatal("expected error scanning a string against a non-text column")
	}
}

func TestScanCompoundMultiColumn(t *testing.T) {
	p := partition.New("events", 4)
	a := column.NewColumn("a", column.Float64, []float64{1, 2, 3, 4}, nil, bin.Options{NBins: 4})
	b := column.NewColumn("b", column.Float64, []float64{10, 10, 10, 10}, nil, bin.Options{NBins: 4})
	p.AddColumn("a", a)
	p.AddColumn("b", b)

	term := expr.TermBinary{Op: expr.OpAdd, Lhs: expr.TermColumn("a"), Rhs: expr.TermColumn("b")}
	hits, err := p.ScanCompound(term, bin.Range{Op1: bin.OpLE, Lo: 13}, nil)
	if err != nil {
		t.Fatal(err)
	}
	// a+b >= 13 holds for a in {3, 4} (13, 14).
	if hits.Cnt() != 2 {
		t.Fatalf("hits.Cnt() = %d, want 2", hits.Cnt())
	}
}

func TestJoinAndScanJoinAgree(t *testing.T) {
	p := partition.New("events", 3)
	a := column.NewColumn("a", column.Float64, []float64{1, 2, 3}, nil, bin.Options{NBins: 3})
	b := column.NewColumn("b", column.Float64, []float64{1, 2, 3}, nil, bin.Options{NBins: 3})
	p.AddColumn("a", a)
	p.AddColumn("b", b)

	pairs, _, err := p.Join("a", "b", 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if pairs.Cnt() != 3 {
		t.Fatalf("pairs.Cnt() = %d, want 3", pairs.Cnt())
	}

	rows, err := p.ScanJoin("a", "b", 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if rows.Cnt() != 3 {
		t.Fatalf("rows.Cnt() = %d, want 3", rows.Cnt())
	}
}

func TestTouchInvalidatesIndex(t *testing.T) {
	p := partition.New("events", 3)
	col := column.NewColumn("x", column.Float64, []float64{1, 2, 3}, nil, bin.Options{NBins: 3})
	p.AddColumn("x", col)

	if _, err := p.EvaluateRange("x", bin.Range{Op1: bin.OpLE, Lo: 2}); err != nil {
		t.Fatal(err)
	}
	p.Touch(2)
	if p.Timestamp != 2 {
		t.Fatalf("Timestamp = %d, want 2", p.Timestamp)
	}
	// A rebuilt index should still answer correctly after invalidation.
	hits, err := p.EvaluateRange("x", bin.Range{Op1: bin.OpLE, Lo: 2})
	if err != nil {
		t.Fatal(err)
	}
	if hits.Cnt() != 2 {
		t.Fatalf("hits.Cnt() = %d, want 2", hits.Cnt())
	}
}
