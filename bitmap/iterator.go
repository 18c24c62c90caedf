package bitmap

import "fmt"

// Iterator walks the set positions of a bitmap in ascending order. Its
// two-method shape (advance, then read) mirrors the teacher's
// BitmapIterator split between Next and DocID, generalized here from
// container-key iteration to WAH-run iteration.
type Iterator interface {
	// Next advances to the next set position. It returns false once
	// iteration is exhausted.
	Next() (bool, error)
	// Pos returns the position the iterator currently points to.
	Pos() (uint32, error)
}

type wahIterator struct {
	b       *Bitmap
	reader  *runReader
	base    uint32 // absolute bit position of the start of the current run
	offset  uint32 // offset within the current run, -1 before first Next
	started bool
	run     uint32
	value   bool
	ok      bool
}

// NewIterator returns an Iterator over the set bits of b.
func (b *Bitmap) NewIterator() Iterator {
	it := &wahIterator{b: b, reader: newRunReader(b)}
	it.run, it.value, it.ok = it.reader.peek()
	return it
}

func (it *wahIterator) Next() (bool, error) {
	for {
		if !it.ok {
			return false, nil
		}
		if it.started {
			it.offset++
		} else {
			it.started = true
			it.offset = 0
		}
		for it.offset >= it.run {
			it.base += it.run
			it.reader.advance(it.run)
			it.run, it.value, it.ok = it.reader.peek()
			it.offset = 0
			if !it.ok {
				return false, nil
			}
		}
		if it.value {
			return true, nil
		}
		it.offset = it.run // skip straight to end of this (zero) run
	}
}

func (it *wahIterator) Pos() (uint32, error) {
	if !it.started || !it.ok {
		return 0, fmt.Errorf("bitmap: iterator not positioned")
	}
	return it.base + it.offset, nil
}

// ToPositions materializes every set bit as a slice, primarily for tests
// and small result sets (e.g. join pair inspection).
func (b *Bitmap) ToPositions() ([]uint32, error) {
	var out []uint32
	it := b.NewIterator()
	for {
		has, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !has {
			break
		}
		p, err := it.Pos()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// RangeIterator iterates the dense range [a, b) regardless of bitmap
// content, implementing the "dense range" form of the index-set contract
// (as opposed to the sparse-positions form produced by NewIterator).
type RangeIterator struct {
	cur, end uint32
	started  bool
}

// NewRangeIterator returns an iterator over every position in [a, z).
func NewRangeIterator(a, z uint32) *RangeIterator {
	return &RangeIterator{cur: a, end: z}
}

func (r *RangeIterator) Next() (bool, error) {
	if r.started {
		r.cur++
	} else {
		r.started = true
	}
	return r.cur < r.end, nil
}

func (r *RangeIterator) Pos() (uint32, error) {
	if !r.started || r.cur >= r.end {
		return 0, fmt.Errorf("bitmap: range iterator exhausted")
	}
	return r.cur, nil
}
