package query

import (
	"os"
	"path/filepath"
	"testing"

	"colstore/bin"
	"colstore/bitmap"
	"colstore/config"
	"colstore/expr"
)

func TestTokenShapeAndValidation(t *testing.T) {
	for i := 0; i < 20; i++ {
		tok, err := NewToken("alice")
		if err != nil {
			t.Fatal(err)
		}
		if !ValidateToken(tok) {
			t.Fatalf("generated token %q failed validation", tok)
		}
	}
}

func TestValidateTokenRejectsFutureTimestamp(t *testing.T) {
	orig := nowFunc
	defer func() { nowFunc = orig }()

	nowFunc = func() int64 { return 1_700_000_000 }
	tok, err := NewToken("alice")
	if err != nil {
		t.Fatal(err)
	}
	if !ValidateToken(tok) {
		t.Fatalf("token %q minted at its own clock reading should validate", tok)
	}

	nowFunc = func() int64 { return 1_699_999_999 }
	if ValidateToken(tok) {
		t.Fatalf("token %q minted one second in the caller's future should be rejected", tok)
	}
}

func TestTokensAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		tok, err := NewToken("bob")
		if err != nil {
			t.Fatal(err)
		}
		if seen[tok] {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = true
	}
}

func TestStateMachineSetters(t *testing.T) {
	q, err := New("alice", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if q.State != Uninitialized {
		t.Fatalf("initial state = %s, want UNINITIALIZED", q.State)
	}
	if err := q.SetSelectClause([]string{"x", "y"}); err != nil {
		t.Fatal(err)
	}
	if q.State != SetComponents {
		t.Fatalf("state after select = %s, want SET_COMPONENTS", q.State)
	}
	leaf := expr.ContinuousRange{Col: "x", Range: bin.Range{Op1: bin.OpLE, Lo: 5}}
	if err := q.SetWhereClause(leaf); err != nil {
		t.Fatal(err)
	}
	if q.State != Specified {
		t.Fatalf("state after select+where = %s, want SPECIFIED", q.State)
	}
}

func TestSetterInvalidatesResults(t *testing.T) {
	q, err := New("alice", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	q.SetSelectClause([]string{"x"})
	q.SetWhereClause(expr.ContinuousRange{Col: "x", Range: bin.Range{Op1: bin.OpLE, Lo: 5}})
	q.BeginEvaluate(true)
	q.SetResults(bitmap.NewBitmap(10), bitmap.NewBitmap(10), true)
	if q.State != FullEvaluate {
		t.Fatalf("state = %s, want FULL_EVALUATE", q.State)
	}

	if err := q.SetWhereClause(expr.ContinuousRange{Col: "x", Range: bin.Range{Op1: bin.OpLE, Lo: 9}}); err != nil {
		t.Fatal(err)
	}
	if q.State != Specified {
		t.Fatalf("state after re-setting where = %s, want SPECIFIED", q.State)
	}
	if q.Hits != nil {
		t.Fatal("expected hits cleared after invalidation")
	}
}

func TestEmptySelectIsRejected(t *testing.T) {
	q, _ := New("alice", t.TempDir())
	err := q.SetSelectClause(nil)
	qerr, ok := err.(*QueryError)
	if !ok || qerr.Code != ErrBadSelect1 {
		t.Fatalf("expected ErrBadSelect1, got %v", err)
	}
}

func TestTimestampChangeRevertsState(t *testing.T) {
	q, _ := New("alice", t.TempDir())
	q.SetSelectClause([]string{"x"})
	q.SetWhereClause(expr.ContinuousRange{Col: "x", Range: bin.Range{Op1: bin.OpLE, Lo: 5}})
	q.BeginEvaluate(true)
	q.CheckTimestamp(100)
	q.SetResults(bitmap.NewBitmap(10), bitmap.NewBitmap(10), true)

	q.CheckTimestamp(200)
	if q.State != Specified {
		t.Fatalf("state after timestamp change = %s, want SPECIFIED", q.State)
	}
	if q.Hits != nil {
		t.Fatal("expected hits cleared after timestamp change")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	q, err := New("alice", root)
	if err != nil {
		t.Fatal(err)
	}
	q.PartitionName = "p1"
	q.SetSelectClause([]string{"x", "y"})
	where := expr.And{Children: []expr.Node{
		expr.ContinuousRange{Col: "x", Range: bin.Range{Op1: bin.OpLE, Lo: 5, Op2: bin.OpLT, Hi: 10}},
		expr.DiscreteRange{Col: "y", Values: []float64{1, 9}},
	}}
	q.SetWhereClause(where)
	q.BeginEvaluate(true)
	q.CheckTimestamp(42)

	hits := bitmap.NewBitmap(10)
	hits.Set(2)
	hits.Set(5)
	hits.Compress()
	q.SetResults(hits, hits, true)

	if err := q.Save(); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(q.CacheDir, "query")); err != nil {
		t.Fatalf("expected query file to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(q.CacheDir, "hits")); err != nil {
		t.Fatalf("expected hits file to exist: %v", err)
	}

	got, err := Load(q.CacheDir)
	if err != nil {
		t.Fatal(err)
	}
	if got.UID != q.UID || got.PartitionName != q.PartitionName {
		t.Fatalf("identity mismatch: got %+v", got)
	}
	if got.State != FullEvaluate {
		t.Fatalf("state = %s, want FULL_EVALUATE", got.State)
	}
	if got.Timestamp != 42 {
		t.Fatalf("timestamp = %d, want 42", got.Timestamp)
	}
	if got.Hits.Cnt() != 2 || !got.Hits.Test(2) || !got.Hits.Test(5) {
		t.Fatalf("recovered hits mismatch: cnt=%d", got.Hits.Cnt())
	}
	and, ok := got.Where.(expr.And)
	if !ok || len(and.Children) != 2 {
		t.Fatalf("recovered where clause shape mismatch: %+v", got.Where)
	}
}

func TestLoadWithTimestampChangeDemotesToSpecified(t *testing.T) {
	root := t.TempDir()
	q, _ := New("alice", root)
	q.SetSelectClause([]string{"x"})
	q.SetWhereClause(expr.ContinuousRange{Col: "x", Range: bin.Range{Op1: bin.OpLE, Lo: 5}})
	q.BeginEvaluate(true)
	q.CheckTimestamp(1)
	hits := bitmap.NewBitmap(5)
	q.SetResults(hits, hits, true)
	if err := q.Save(); err != nil {
		t.Fatal(err)
	}

	// Simulate the hits file going missing (e.g. purged) between save and
	// reload, which should not be treated as fatal.
	os.Remove(filepath.Join(q.CacheDir, "hits"))

	got, err := Load(q.CacheDir)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != Specified {
		t.Fatalf("state = %s, want SPECIFIED after missing hits file", got.State)
	}
}

func TestNewWithConfigUsesCacheDirectoryOverride(t *testing.T) {
	root := t.TempDir()
	override := filepath.Join(root, "configured")
	cfg := config.New()
	cfg.Set("CacheDirectory", override)

	q, err := NewWithConfig("alice", cfg, filepath.Join(root, "default"))
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(q.CacheDir) != override {
		t.Fatalf("CacheDir = %q, want under %q", q.CacheDir, override)
	}
}

func TestClearHonorsPurgeTempFiles(t *testing.T) {
	root := t.TempDir()
	q, err := New("alice", root)
	if err != nil {
		t.Fatal(err)
	}
	q.PartitionName = "orders"
	q.SetSelectClause([]string{"x"})
	if err := q.Save(); err != nil {
		t.Fatal(err)
	}

	keep := config.New()
	if err := q.Clear(keep); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(q.CacheDir); err != nil {
		t.Fatalf("expected cache dir to survive Clear with no purge config: %v", err)
	}

	purge := config.New()
	purge.Set("orders.purgeTempFiles", "true")
	if err := q.Clear(purge); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(q.CacheDir); !os.IsNotExist(err) {
		t.Fatalf("expected cache dir to be removed after Clear with purge=true, err=%v", err)
	}
}

func TestSaveWritesRIDsRecoverableOnLoad(t *testing.T) {
	root := t.TempDir()
	q, err := New("alice", root)
	if err != nil {
		t.Fatal(err)
	}
	q.SetSelectClause([]string{"x"})
	q.SetWhereClause(expr.ContinuousRange{Col: "x", Range: bin.Range{Op1: bin.OpLE, Lo: 5}})
	q.BeginEvaluate(true)
	hits := bitmap.NewBitmap(20)
	hits.Set(1)
	hits.Set(3)
	hits.Set(17)
	hits.Compress()
	q.SetResults(hits, hits, true)

	if err := q.Save(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(q.CacheDir, "rids")); err != nil {
		t.Fatalf("expected rids file to exist: %v", err)
	}

	got, err := Load(q.CacheDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.HitRIDs) != 3 {
		t.Fatalf("HitRIDs len = %d, want 3", len(got.HitRIDs))
	}
	wantEvents := map[uint32]bool{1: true, 3: true, 17: true}
	for _, rid := range got.HitRIDs {
		if rid.Run != 0 || !wantEvents[rid.Event] {
			t.Errorf("unexpected RID %+v", rid)
		}
	}
}
