package bin

// RelOp is a comparison operator used on one side of a continuous range
// predicate.
type RelOp int

const (
	// OpUnset means this side of the range has no bound.
	OpUnset RelOp = iota
	OpLT
	OpLE
	OpEQ
)

// Range is a dual-bounded continuous predicate "lo op1 col op2 hi",
// normalized so that op1 is one of {<, <=, =, unset} and op2 is one of
// {<, <=, unset}, per the expression tree's continuous-range leaf
// contract.
type Range struct {
	Op1 RelOp
	Lo  float64
	Op2 RelOp
	Hi  float64
}

// Accepts reports whether v satisfies the range condition.
func (r Range) Accepts(v float64) bool {
	switch r.Op1 {
	case OpLT:
		if !(r.Lo < v) {
			return false
		}
	case OpLE:
		if !(r.Lo <= v) {
			return false
		}
	case OpEQ:
		return v == r.Lo
	}
	switch r.Op2 {
	case OpLT:
		if !(v < r.Hi) {
			return false
		}
	case OpLE:
		if !(v <= r.Hi) {
			return false
		}
	}
	return true
}

// boundsOverlap reports whether the closed interval [minv, maxv]
// necessarily, possibly, or never satisfies the range: it returns
// (certain, possible) where certain implies possible.
func (r Range) classify(minv, maxv float64) (certain, possible bool) {
	lowOK, lowMaybe := true, true
	switch r.Op1 {
	case OpLT:
		lowOK = r.Lo < minv
		lowMaybe = r.Lo < maxv
	case OpLE:
		lowOK = r.Lo <= minv
		lowMaybe = r.Lo <= maxv
	case OpEQ:
		lowOK = (minv == r.Lo && maxv == r.Lo)
		lowMaybe = (r.Lo >= minv && r.Lo <= maxv)
	}
	highOK, highMaybe := true, true
	switch r.Op2 {
	case OpLT:
		highOK = maxv < r.Hi
		highMaybe = minv < r.Hi
	case OpLE:
		highOK = maxv <= r.Hi
		highMaybe = minv <= r.Hi
	}
	return lowOK && highOK, lowMaybe && highMaybe
}
