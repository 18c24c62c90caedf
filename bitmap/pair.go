package bitmap

// PairBitmap is a 64-bit-indexed bitmap over the product space rows x
// rows, used to represent join results: bit i*n+j set means row i of the
// left column matches row j of the right column. Internally it is kept
// as a sparse sorted list of pair ordinals rather than a materialized
// WAH stream, since a fully dense N^2 bitmap is rarely worth
// compressing as runs (see MarkovSize for the up-front sizing check
// callers should perform before building one).
type PairBitmap struct {
	n     uint64 // right-hand dimension, for encoding i*n+j
	pairs map[uint64]struct{}
}

// NewPairBitmap returns an empty pair bitmap over an n-wide right-hand
// dimension.
func NewPairBitmap(n uint64) *PairBitmap {
	return &PairBitmap{n: n, pairs: make(map[uint64]struct{})}
}

// Add records that row i of the left side matches row j of the right
// side.
func (p *PairBitmap) Add(i, j uint32) {
	p.pairs[uint64(i)*p.n+uint64(j)] = struct{}{}
}

// Contains reports whether (i, j) is a member.
func (p *PairBitmap) Contains(i, j uint32) bool {
	_, ok := p.pairs[uint64(i)*p.n+uint64(j)]
	return ok
}

// Cnt returns the number of pairs.
func (p *PairBitmap) Cnt() int { return len(p.pairs) }

// Pairs returns every (i, j) pair in the bitmap, in unspecified order.
func (p *PairBitmap) Pairs() [][2]uint32 {
	out := make([][2]uint32, 0, len(p.pairs))
	for k := range p.pairs {
		i := uint32(k / p.n)
		j := uint32(k % p.n)
		out = append(out, [2]uint32{i, j})
	}
	return out
}

// Intersect returns the pairs present in both p and other.
func (p *PairBitmap) Intersect(other *PairBitmap) *PairBitmap {
	out := NewPairBitmap(p.n)
	small, big := p, other
	if len(other.pairs) < len(p.pairs) {
		small, big = other, p
	}
	for k := range small.pairs {
		if _, ok := big.pairs[k]; ok {
			out.pairs[k] = struct{}{}
		}
	}
	return out
}

// Union returns the pairs present in either p or other.
func (p *PairBitmap) Union(other *PairBitmap) *PairBitmap {
	out := NewPairBitmap(p.n)
	for k := range p.pairs {
		out.pairs[k] = struct{}{}
	}
	for k := range other.pairs {
		out.pairs[k] = struct{}{}
	}
	return out
}

// OuterProduct produces the pair bitmap whose bit i*n+j is set iff a[i]
// and b[j] are both set, where n is b's logical size. This is the dense
// candidate set an index-pair join plan derives from a pair of matching
// bins before narrowing it with a value-level test.
func OuterProduct(a, b *Bitmap) (*PairBitmap, error) {
	aPositions, err := a.ToPositions()
	if err != nil {
		return nil, err
	}
	bPositions, err := b.ToPositions()
	if err != nil {
		return nil, err
	}
	out := NewPairBitmap(uint64(b.Size()))
	for _, i := range aPositions {
		for _, j := range bPositions {
			out.Add(i, j)
		}
	}
	return out, nil
}
