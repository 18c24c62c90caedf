package bin

import "strconv"

// compactValue returns a value strictly between lo and hi (lo < hi) that
// is, informally, the "simplest" float64 representable in that open
// interval: the shortest decimal string that round-trips to a value in
// range. This mirrors ibis::util::compactValue from the FastBit bak2
// index, used to place bin boundaries so printed boundary values look
// natural rather than carrying full float64 precision.
//
// When lo is -Inf or hi is +Inf, the unbounded side is treated as an
// edge and the function returns a value merely on the finite side of
// the gap.
func compactValue(lo, hi float64) float64 {
	if lo >= hi {
		return lo
	}
	if hi-lo > 1e-6*(absf(lo)+absf(hi)+1) {
		for prec := 1; prec <= 17; prec++ {
			cand := roundTo(lo, hi, prec)
			if cand > lo && cand < hi {
				return cand
			}
		}
	}
	return lo + (hi-lo)/2
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// roundTo searches for a value in (lo, hi) expressible with prec
// significant decimal digits, trying the midpoint's rounded form first.
func roundTo(lo, hi float64, prec int) float64 {
	mid := lo + (hi-lo)/2
	s := strconv.FormatFloat(mid, 'g', prec, 64)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return mid
	}
	if v <= lo || v >= hi {
		return mid
	}
	return v
}
