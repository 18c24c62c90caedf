// Package bin implements equal-range, equal-weight, and precision-reduced
// (bak2) bin indexes over a single column's values: a coarse bitmap index
// that partitions the value domain into a small number of ordered bins,
// each backed by a compressed bitmap of the rows falling in it.
package bin

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"colstore/bitmap"
)

// ErrInexact is returned by EvaluateRange when the bin index alone cannot
// produce an exact hit set and the caller must fall back to a value-level
// scan of the undecidable rows (see GetUndecidable).
var ErrInexact = fmt.Errorf("bin: index alone cannot resolve range exactly")

// Index is a bin index over one column: nobs ordered bins, each with a
// half-open value range [Bounds[i], Bounds[i+1]) save the last which is
// closed on the right, and a bitmap of the rows it contains. MinVal/MaxVal
// record the true observed extrema within each bin, which may be a proper
// subset of [Bounds[i], Bounds[i+1]) — this is what lets EvaluateRange
// resolve some straddling bins exactly instead of falling back to a scan.
type Index struct {
	NRows   uint32
	Bounds  []float64
	MinVal  []float64
	MaxVal  []float64
	Bits    []*bitmap.Bitmap
	Nulls   *bitmap.Bitmap
	bak2    bool
}

func (idx *Index) nobs() int { return len(idx.Bits) }

// Build constructs a bin index over values, using opts to choose bin
// boundaries. nulls marks rows with no value (excluded from every bin).
func Build(values []float64, nulls *bitmap.Bitmap, opts Options) (*Index, error) {
	n := uint32(len(values))
	if opts.Precision > 0 {
		return buildBak2(values, nulls, opts)
	}

	var bounds []float64
	switch {
	case opts.BinFile != "":
		b, err := readBinFile(opts.BinFile)
		if err != nil {
			return nil, err
		}
		bounds = b
	case len(opts.Regions) > 0:
		bounds = regionBounds(opts.Regions)
	case opts.EqualWeight:
		b, err := equalWeightBounds(values, nulls, opts.NBins)
		if err != nil {
			return nil, err
		}
		bounds = b
	default:
		b, err := uniformBounds(values, nulls, opts.NBins, opts.Scale)
		if err != nil {
			return nil, err
		}
		bounds = b
	}
	if len(bounds) < 2 {
		bounds = []float64{math.Inf(-1), math.Inf(1)}
	}

	idx := &Index{NRows: n, Bounds: bounds, Nulls: nulls}
	nobs := len(bounds) - 1
	idx.MinVal = make([]float64, nobs)
	idx.MaxVal = make([]float64, nobs)
	for i := range idx.MinVal {
		idx.MinVal[i] = math.Inf(1)
		idx.MaxVal[i] = math.Inf(-1)
	}
	bms := make([]*bitmap.Bitmap, nobs)
	for i := range bms {
		bms[i] = bitmap.NewBitmap(n)
	}

	for row := uint32(0); row < n; row++ {
		if nulls != nil && nulls.Test(row) {
			continue
		}
		v := values[row]
		b := locateBounds(bounds, v)
		bms[b].Set(row)
		if v < idx.MinVal[b] {
			idx.MinVal[b] = v
		}
		if v > idx.MaxVal[b] {
			idx.MaxVal[b] = v
		}
	}
	for _, bm := range bms {
		bm.Compress()
	}
	idx.Bits = bms
	idx.pruneEmpty()
	return idx, nil
}

// pruneEmpty drops bins with zero rows, keeping Bounds/MinVal/MaxVal/Bits
// in sync, per the empty-bin-pruning contract in the construction spec.
func (idx *Index) pruneEmpty() {
	if len(idx.Bits) == 0 {
		return
	}
	var bounds []float64
	var minv, maxv []float64
	var bits []*bitmap.Bitmap
	bounds = append(bounds, idx.Bounds[0])
	for i, bm := range idx.Bits {
		if bm.Cnt() == 0 {
			continue
		}
		bounds = append(bounds, idx.Bounds[i+1])
		minv = append(minv, idx.MinVal[i])
		maxv = append(maxv, idx.MaxVal[i])
		bits = append(bits, bm)
	}
	if len(bits) == 0 {
		return
	}
	idx.Bounds = bounds
	idx.MinVal = minv
	idx.MaxVal = maxv
	idx.Bits = bits
}

func locateBounds(bounds []float64, v float64) int {
	nobs := len(bounds) - 1
	if nobs < 8 {
		for i := 0; i < nobs; i++ {
			if v < bounds[i+1] || i == nobs-1 {
				return i
			}
		}
		return nobs - 1
	}
	i := sort.Search(nobs, func(i int) bool { return v < bounds[i+1] })
	if i >= nobs {
		return nobs - 1
	}
	return i
}

// Locate returns the index of the bin containing v. Values outside the
// observed range are routed to the first or last bin.
func (idx *Index) Locate(v float64) int {
	return locateBounds(idx.Bounds, v)
}

func uniformBounds(values []float64, nulls *bitmap.Bitmap, nbins int, scale Scale) ([]float64, error) {
	lo, hi, ok := extrema(values, nulls)
	if !ok {
		return []float64{math.Inf(-1), math.Inf(1)}, nil
	}
	if nbins < 1 {
		nbins = 1
	}
	bounds := make([]float64, nbins+1)
	if scale == Log {
		if lo <= 0 {
			return nil, fmt.Errorf("bin: log scale requires strictly positive values, got min %g", lo)
		}
		logLo, logHi := math.Log(lo), math.Log(hi)
		if logHi == logLo {
			logHi = logLo + 1
		}
		step := (logHi - logLo) / float64(nbins)
		for i := 0; i <= nbins; i++ {
			bounds[i] = math.Exp(logLo + step*float64(i))
		}
	} else {
		if hi == lo {
			hi = lo + 1
		}
		step := (hi - lo) / float64(nbins)
		for i := 0; i <= nbins; i++ {
			bounds[i] = lo + step*float64(i)
		}
	}
	bounds[0] = math.Inf(-1)
	bounds[nbins] = math.Inf(1)
	return bounds, nil
}

func regionBounds(regions []Region) []float64 {
	var bounds []float64
	bounds = append(bounds, math.Inf(-1))
	for ri, r := range regions {
		nbins := r.NBins
		if nbins < 1 {
			nbins = 1
		}
		lo, hi := r.Start, r.End
		for i := 1; i <= nbins; i++ {
			var v float64
			if r.Scale == Log && lo > 0 && hi > 0 {
				logLo, logHi := math.Log(lo), math.Log(hi)
				v = math.Exp(logLo + (logHi-logLo)*float64(i)/float64(nbins))
			} else {
				v = lo + (hi-lo)*float64(i)/float64(nbins)
			}
			if ri == len(regions)-1 && i == nbins {
				break
			}
			bounds = append(bounds, v)
		}
	}
	bounds = append(bounds, math.Inf(1))
	return bounds
}

// equalWeightBounds runs a two-pass histogram: a fine uniform histogram
// first, then a greedy merge of adjacent fine bins (divideCounts) until
// nbins groups of roughly equal row count remain.
func equalWeightBounds(values []float64, nulls *bitmap.Bitmap, nbins int) ([]float64, error) {
	lo, hi, ok := extrema(values, nulls)
	if !ok {
		return []float64{math.Inf(-1), math.Inf(1)}, nil
	}
	if nbins < 1 {
		nbins = 1
	}
	fine := nbins * 20
	if fine < nbins {
		fine = nbins
	}
	if hi == lo {
		hi = lo + 1
	}
	step := (hi - lo) / float64(fine)
	counts, err := shardedHistogram(values, nulls, fine, lo, step)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, c := range counts {
		total += c
	}
	target := total / nbins
	if target < 1 {
		target = 1
	}

	bounds := []float64{math.Inf(-1)}
	acc := 0
	for i := 0; i < fine; i++ {
		acc += counts[i]
		if acc >= target && len(bounds) < nbins {
			bounds = append(bounds, lo+step*float64(i+1))
			acc = 0
		}
	}
	bounds = append(bounds, math.Inf(1))
	return bounds, nil
}

// shardedHistogram buckets values into fine equal-width bins, splitting
// the value slice into per-CPU shards scanned concurrently via
// errgroup; each worker owns an independent count array so there is no
// shared-memory contention, and the shards are summed once all finish.
func shardedHistogram(values []float64, nulls *bitmap.Bitmap, fine int, lo, step float64) ([]int, error) {
	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}
	shardSize := (len(values) + workers - 1) / workers
	if shardSize < 1 {
		shardSize = len(values)
	}
	if shardSize == 0 {
		return make([]int, fine), nil
	}

	nshards := (len(values) + shardSize - 1) / shardSize
	partials := make([][]int, nshards)
	g := new(errgroup.Group)
	for s := 0; s < nshards; s++ {
		s := s
		start := s * shardSize
		end := start + shardSize
		if end > len(values) {
			end = len(values)
		}
		g.Go(func() error {
			local := make([]int, fine)
			for i := start; i < end; i++ {
				if nulls != nil && nulls.Test(uint32(i)) {
					continue
				}
				b := int((values[i] - lo) / step)
				if b < 0 {
					b = 0
				}
				if b >= fine {
					b = fine - 1
				}
				local[b]++
			}
			partials[s] = local
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	counts := make([]int, fine)
	for _, local := range partials {
		for i, c := range local {
			counts[i] += c
		}
	}
	return counts, nil
}

func extrema(values []float64, nulls *bitmap.Bitmap) (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for i, v := range values {
		if nulls != nil && nulls.Test(uint32(i)) {
			continue
		}
		ok = true
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return
}

// EstimateRange reports which rows certainly satisfy r (low) and which
// rows might (high), using only bin-level classification: bins fully
// inside r contribute to low, bins overlapping r's boundary contribute to
// high but not low.
func (idx *Index) EstimateRange(r Range) (low, high *bitmap.Bitmap, err error) {
	low = bitmap.NewBitmap(idx.NRows)
	high = bitmap.NewBitmap(idx.NRows)
	for i, bm := range idx.Bits {
		certain, possible := r.classify(idx.MinVal[i], idx.MaxVal[i])
		if !possible {
			continue
		}
		target := high
		if certain {
			target = low
		}
		merged, err := target.Or(bm)
		if err != nil {
			return nil, nil, err
		}
		if certain {
			low = merged
		} else {
			high = merged
		}
	}
	hmerge, err := high.Or(low)
	if err != nil {
		return nil, nil, err
	}
	return low, hmerge, nil
}

// EvaluateRange returns the exact hit bitmap when every overlapping bin
// can be classified with certainty; otherwise it returns ErrInexact along
// with the best available high estimate, and the caller must resolve the
// undecidable rows (GetUndecidable) with a value-level scan.
func (idx *Index) EvaluateRange(r Range) (*bitmap.Bitmap, error) {
	low, high, err := idx.EstimateRange(r)
	if err != nil {
		return nil, err
	}
	same, err := low.Xor(high)
	if err != nil {
		return nil, err
	}
	if same.Cnt() == 0 {
		return low, nil
	}
	return high, ErrInexact
}

// GetUndecidable returns the rows that EvaluateRange could not resolve:
// present in the high estimate but not the low one. Callers scan these
// rows' actual values to finish evaluation.
func (idx *Index) GetUndecidable(r Range) (*bitmap.Bitmap, error) {
	low, high, err := idx.EstimateRange(r)
	if err != nil {
		return nil, err
	}
	return high.Minus(low)
}

// EstimateCost estimates the number of bins EvaluateRange must touch,
// used by the query planner to choose between index and scan strategies.
func (idx *Index) EstimateCost(r Range) int {
	cost := 0
	for i := range idx.Bits {
		_, possible := r.classify(idx.MinVal[i], idx.MaxVal[i])
		if possible {
			cost++
		}
	}
	return cost
}

// ExpandRange widens r to the smallest range whose boundary falls exactly
// on bin edges, so that EvaluateRange(expanded) is guaranteed exact. This
// mirrors ibis::bak2::expandRange: each bound is pushed outward only as
// far as the neighboring bin's observed extremum, using compactValue to
// pick a natural-looking boundary value.
func (idx *Index) ExpandRange(r Range) Range {
	out := r
	if r.Op1 != OpUnset {
		cand := idx.Locate(r.Lo)
		switch r.Op1 {
		case OpLT:
			if r.Lo <= idx.MaxVal[cand] {
				lower := math.Inf(-1)
				if cand > 0 {
					lower = idx.MaxVal[cand-1]
				}
				out.Lo = compactValue(lower, idx.MinVal[cand])
				out.Op1 = OpLE
			}
		case OpLE:
			if r.Lo < idx.MinVal[cand] {
				lower := math.Inf(-1)
				if cand > 0 {
					lower = idx.MaxVal[cand-1]
				}
				out.Lo = compactValue(lower, idx.MinVal[cand])
			}
		case OpEQ:
			lower := math.Inf(-1)
			if cand > 0 {
				lower = idx.MaxVal[cand-1]
			}
			upper := math.Inf(1)
			if cand+1 < idx.nobs() {
				upper = idx.MinVal[cand+1]
			}
			out.Op1 = OpLE
			out.Lo = compactValue(lower, idx.MinVal[cand])
			out.Op2 = OpLE
			out.Hi = compactValue(idx.MaxVal[cand], upper)
			return out
		}
	}
	if r.Op2 != OpUnset {
		cand := idx.Locate(r.Hi)
		switch r.Op2 {
		case OpLT:
			if r.Hi <= idx.MaxVal[cand] {
				upper := math.Inf(1)
				if cand+1 < idx.nobs() {
					upper = idx.MinVal[cand+1]
				}
				out.Hi = compactValue(idx.MaxVal[cand], upper)
				out.Op2 = OpLE
			}
		case OpLE:
			if r.Hi < idx.MaxVal[cand] {
				upper := math.Inf(1)
				if cand+1 < idx.nobs() {
					upper = idx.MinVal[cand+1]
				}
				out.Hi = compactValue(idx.MaxVal[cand], upper)
			}
		}
	}
	return out
}

// ContractRange narrows r to the largest range whose boundary falls
// exactly on bin edges and is a subset of r, the antitone counterpart of
// ExpandRange (ibis::bak2::contractRange).
func (idx *Index) ContractRange(r Range) Range {
	out := r
	if r.Op1 != OpUnset && r.Op1 != OpEQ {
		cand := idx.Locate(r.Lo)
		if r.Lo > idx.MinVal[cand] {
			upper := math.Inf(1)
			if cand+1 < idx.nobs() {
				upper = idx.MinVal[cand+1]
			}
			out.Lo = compactValue(idx.MaxVal[cand], upper)
			out.Op1 = OpLE
		}
	}
	if r.Op2 != OpUnset {
		cand := idx.Locate(r.Hi)
		if r.Hi < idx.MaxVal[cand] {
			lower := math.Inf(-1)
			if cand > 0 {
				lower = idx.MaxVal[cand-1]
			}
			out.Hi = compactValue(lower, idx.MinVal[cand])
			out.Op2 = OpLE
		}
	}
	return out
}

const diskMagic = "#IBIS\x00"

// headerSize is the byte size of the fixed magic+kind+wordSize+nrows+nobs
// prefix that precedes the offsets table.
const headerSize = int64(len(diskMagic) + 1 + 1 + 4 + 4)

// padTo8 rounds n up to the next multiple of 8.
func padTo8(n int64) int64 {
	return (n + 7) &^ 7
}

// Serialize writes the index in the on-disk format: magic, kind byte
// (0 = equal-range, 1 = bak2), word size byte, nrows, nobs, an
// offsets[nobs+1] table giving each bin bitmap's starting byte (offsets[nobs]
// is the end-of-file position), padding up to the next 8-byte boundary, then
// the Bounds/MaxVal/MinVal f64 arrays (nobs entries each — Bounds here holds
// each bin's upper edge, i.e. idx.Bounds[1:], since the in-memory leading
// -Inf lower sentinel is implicit), then each bin's bitmap stream.
func (idx *Index) Serialize(w io.Writer) error {
	nobs := uint32(idx.nobs())

	bitBufs := make([][]byte, nobs)
	for i, bm := range idx.Bits {
		var buf bytes.Buffer
		if err := bm.Serialize(&buf); err != nil {
			return fmt.Errorf("bin: serialize bin bitmap %d: %w", i, err)
		}
		bitBufs[i] = buf.Bytes()
	}

	offsetsLen := int64(4) * int64(nobs+1)
	afterOffsets := headerSize + offsetsLen
	bodyStart := padTo8(afterOffsets)
	arraysLen := int64(8) * int64(nobs) * 3
	bitmapsStart := bodyStart + arraysLen

	offsets := make([]int32, nobs+1)
	pos := bitmapsStart
	for i := uint32(0); i < nobs; i++ {
		offsets[i] = int32(pos)
		pos += int64(len(bitBufs[i]))
	}
	offsets[nobs] = int32(pos)

	if _, err := io.WriteString(w, diskMagic); err != nil {
		return fmt.Errorf("bin: write magic: %w", err)
	}
	kind := byte(0)
	if idx.bak2 {
		kind = 1
	}
	if err := binary.Write(w, binary.LittleEndian, kind); err != nil {
		return fmt.Errorf("bin: write kind: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, byte(4)); err != nil {
		return fmt.Errorf("bin: write word size: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, idx.NRows); err != nil {
		return fmt.Errorf("bin: write nrows: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, nobs); err != nil {
		return fmt.Errorf("bin: write nobs: %w", err)
	}
	for _, off := range offsets {
		if err := binary.Write(w, binary.LittleEndian, off); err != nil {
			return fmt.Errorf("bin: write offsets table: %w", err)
		}
	}
	if pad := bodyStart - afterOffsets; pad > 0 {
		if _, err := w.Write(make([]byte, pad)); err != nil {
			return fmt.Errorf("bin: write padding: %w", err)
		}
	}
	for _, arr := range [][]float64{idx.Bounds[1:], idx.MaxVal, idx.MinVal} {
		for _, v := range arr {
			if err := binary.Write(w, binary.LittleEndian, v); err != nil {
				return fmt.Errorf("bin: write float array: %w", err)
			}
		}
	}
	for i, buf := range bitBufs {
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("bin: write bin bitmap %d: %w", i, err)
		}
	}
	return nil
}

// Deserialize reads an index previously written by Serialize.
func Deserialize(r io.Reader) (*Index, error) {
	magic := make([]byte, len(diskMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("bin: read magic: %w", err)
	}
	if string(magic) != diskMagic {
		return nil, fmt.Errorf("bin: bad magic %q", magic)
	}
	var kind, wordSize byte
	if err := binary.Read(r, binary.LittleEndian, &kind); err != nil {
		return nil, fmt.Errorf("bin: read kind: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &wordSize); err != nil {
		return nil, fmt.Errorf("bin: read word size: %w", err)
	}
	idx := &Index{bak2: kind == 1}
	if err := binary.Read(r, binary.LittleEndian, &idx.NRows); err != nil {
		return nil, fmt.Errorf("bin: read nrows: %w", err)
	}
	var nobs uint32
	if err := binary.Read(r, binary.LittleEndian, &nobs); err != nil {
		return nil, fmt.Errorf("bin: read nobs: %w", err)
	}

	// The offsets table is redundant for a streaming Reader (bitmap
	// boundaries are self-delimiting), but its bytes, and the padding
	// after it, must still be consumed to reach the float arrays.
	offsets := make([]int32, nobs+1)
	for i := range offsets {
		if err := binary.Read(r, binary.LittleEndian, &offsets[i]); err != nil {
			return nil, fmt.Errorf("bin: read offsets table: %w", err)
		}
	}
	afterOffsets := headerSize + int64(4)*int64(nobs+1)
	if pad := padTo8(afterOffsets) - afterOffsets; pad > 0 {
		if _, err := io.CopyN(io.Discard, r, pad); err != nil {
			return nil, fmt.Errorf("bin: read padding: %w", err)
		}
	}

	arrays := make([][]float64, 3)
	for ai, n := range []int{int(nobs), int(nobs), int(nobs)} {
		arr := make([]float64, n)
		for i := range arr {
			if err := binary.Read(r, binary.LittleEndian, &arr[i]); err != nil {
				return nil, fmt.Errorf("bin: read float array: %w", err)
			}
		}
		arrays[ai] = arr
	}
	idx.Bounds = append([]float64{math.Inf(-1)}, arrays[0]...)
	idx.MaxVal, idx.MinVal = arrays[1], arrays[2]
	idx.Bits = make([]*bitmap.Bitmap, nobs)
	for i := range idx.Bits {
		bm, err := bitmap.Deserialize(r)
		if err != nil {
			return nil, fmt.Errorf("bin: read bin bitmap %d: %w", i, err)
		}
		idx.Bits[i] = bm
	}
	return idx, nil
}
