package bitmap

import (
	"bytes"
	"math/rand"
	"testing"
)

// populateBitmap sets every position in positions on a fresh bitmap of
// the given size, mirroring the teacher's populate* test helpers.
func populateBitmap(size uint32, positions []uint32) *Bitmap {
	bm := NewBitmap(size)
	for _, p := range positions {
		bm.Set(p)
	}
	bm.Compress()
	return bm
}

func toSet(positions []uint32) map[uint32]bool {
	m := make(map[uint32]bool, len(positions))
	for _, p := range positions {
		m[p] = true
	}
	return m
}

func TestSetAndTest(t *testing.T) {
	bm := populateBitmap(100, []uint32{0, 1, 5, 63, 64, 99})
	for i := uint32(0); i < 100; i++ {
		want := i == 0 || i == 1 || i == 5 || i == 63 || i == 64 || i == 99
		if got := bm.Test(i); got != want {
			t.Errorf("Test(%d) = %v, want %v", i, got, want)
		}
	}
}

func TestCnt(t *testing.T) {
	positions := []uint32{2, 4, 6, 8, 100, 200, 300}
	bm := populateBitmap(400, positions)
	if got := bm.Cnt(); got != len(positions) {
		t.Errorf("Cnt() = %d, want %d", got, len(positions))
	}
}

func TestAndOrXorMinus(t *testing.T) {
	size := uint32(64)
	a := populateBitmap(size, []uint32{1, 2, 3, 10, 20})
	b := populateBitmap(size, []uint32{2, 3, 4, 20, 30})

	and, err := a.And(b)
	if err != nil {
		t.Fatal(err)
	}
	wantAnd := toSet([]uint32{2, 3, 20})
	for i := uint32(0); i < size; i++ {
		if and.Test(i) != wantAnd[i] {
			t.Errorf("AND bit %d = %v, want %v", i, and.Test(i), wantAnd[i])
		}
	}

	or, err := a.Or(b)
	if err != nil {
		t.Fatal(err)
	}
	wantOr := toSet([]uint32{1, 2, 3, 4, 10, 20, 30})
	for i := uint32(0); i < size; i++ {
		if or.Test(i) != wantOr[i] {
			t.Errorf("OR bit %d = %v, want %v", i, or.Test(i), wantOr[i])
		}
	}

	xor, err := a.Xor(b)
	if err != nil {
		t.Fatal(err)
	}
	wantXor := toSet([]uint32{1, 4, 10, 30})
	for i := uint32(0); i < size; i++ {
		if xor.Test(i) != wantXor[i] {
			t.Errorf("XOR bit %d = %v, want %v", i, xor.Test(i), wantXor[i])
		}
	}

	minus, err := a.Minus(b)
	if err != nil {
		t.Fatal(err)
	}
	wantMinus := toSet([]uint32{1, 10})
	for i := uint32(0); i < size; i++ {
		if minus.Test(i) != wantMinus[i] {
			t.Errorf("MINUS bit %d = %v, want %v", i, minus.Test(i), wantMinus[i])
		}
	}
}

func TestNot(t *testing.T) {
	size := uint32(10)
	a := populateBitmap(size, []uint32{0, 2, 4, 6, 8})
	not := a.Not()
	for i := uint32(0); i < size; i++ {
		if not.Test(i) == a.Test(i) {
			t.Errorf("NOT bit %d should differ from source", i)
		}
	}
}

func TestSizeMismatchError(t *testing.T) {
	a := NewBitmap(10)
	b := NewBitmap(20)
	if _, err := a.And(b); err == nil {
		t.Fatal("expected error for mismatched sizes")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	size := uint32(500)
	positions := []uint32{0, 1, 2, 3, 100, 101, 102, 499}
	bm := populateBitmap(size, positions)

	var buf bytes.Buffer
	if err := bm.Serialize(&buf); err != nil {
		t.Fatal(err)
	}

	got, err := Deserialize(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Size() != bm.Size() {
		t.Fatalf("size mismatch: got %d want %d", got.Size(), bm.Size())
	}
	for i := uint32(0); i < size; i++ {
		if got.Test(i) != bm.Test(i) {
			t.Errorf("round trip bit %d mismatch", i)
		}
	}
}

func TestIteratorMatchesPositions(t *testing.T) {
	positions := []uint32{3, 7, 7 + 31, 1000, 1001, 2000}
	bm := populateBitmap(2048, positions)

	got, err := bm.ToPositions()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(positions) {
		t.Fatalf("got %d positions, want %d: %v", len(got), len(positions), got)
	}
	for i, p := range positions {
		if got[i] != p {
			t.Errorf("position %d: got %d want %d", i, got[i], p)
		}
	}
}

func TestRandomizedAgainstBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	size := uint32(500)
	for trial := 0; trial < 20; trial++ {
		aSet := make(map[uint32]bool)
		bSet := make(map[uint32]bool)
		var aPos, bPos []uint32
		for i := uint32(0); i < size; i++ {
			if rng.Intn(4) == 0 {
				aSet[i] = true
				aPos = append(aPos, i)
			}
			if rng.Intn(3) == 0 {
				bSet[i] = true
				bPos = append(bPos, i)
			}
		}
		a := populateBitmap(size, aPos)
		b := populateBitmap(size, bPos)

		and, err := a.And(b)
		if err != nil {
			t.Fatal(err)
		}
		for i := uint32(0); i < size; i++ {
			want := aSet[i] && bSet[i]
			if and.Test(i) != want {
				t.Fatalf("trial %d: AND bit %d = %v, want %v", trial, i, and.Test(i), want)
			}
		}
	}
}

func TestAdjustSize(t *testing.T) {
	bm := populateBitmap(10, []uint32{1, 2, 9})
	grown := bm.AdjustSize(true, 20)
	if grown.Size() != 20 {
		t.Fatalf("grown size = %d, want 20", grown.Size())
	}
	for i := uint32(10); i < 20; i++ {
		if !grown.Test(i) {
			t.Errorf("padded bit %d should be true", i)
		}
	}
	shrunk := bm.AdjustSize(false, 5)
	if shrunk.Size() != 5 {
		t.Fatalf("shrunk size = %d, want 5", shrunk.Size())
	}
	if !shrunk.Test(1) || !shrunk.Test(2) {
		t.Error("shrunk bitmap lost bits within range")
	}
}
