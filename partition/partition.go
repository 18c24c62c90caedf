// Package partition implements the external collaborator that owns a
// set of named columns and a partition-wide timestamp: the unit of
// immutable data the query engine binds against. It adapts the
// column/bin/join packages to the eval package's ColumnSource and
// JoinSource interfaces so a predicate tree can be evaluated without
// those packages depending on each other directly.
package partition

import (
	"fmt"
	"sync"

	"colstore/bin"
	"colstore/bitmap"
	"colstore/column"
	"colstore/config"
	"colstore/dictionary"
	"colstore/expr"
	"colstore/join"
)

// Partition is an immutable snapshot of N rows across a set of typed
// columns, identified by name and a monotonically increasing
// timestamp advanced whenever the partition's data changes.
type Partition struct {
	mu sync.RWMutex

	Name      string
	Timestamp int64
	nrows     uint32

	columns map[string]*column.Column
	dicts   map[string]*dictionary.Dictionary // text/category columns only
}

// New creates an empty partition with nrows rows; columns are added
// with AddColumn before any query binds to it.
func New(name string, nrows uint32) *Partition {
	return &Partition{
		Name:    name,
		nrows:   nrows,
		columns: make(map[string]*column.Column),
		dicts:   make(map[string]*dictionary.Dictionary),
	}
}

// AddColumn registers a numeric column under name.
func (p *Partition) AddColumn(name string, col *column.Column) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.columns = cloneAndSet(p.columns, name, col)
}

// BinOptions resolves the binning specification for column name from
// cfg's "<column>.index" override (per the partition/column/global
// prefix fallback config.Resolve implements), falling back to def when
// no override is configured or it fails to parse.
func (p *Partition) BinOptions(cfg *config.Config, name string, def bin.Options) bin.Options {
	spec, ok := config.ColumnIndexSpec(cfg, p.Name, name)
	if !ok {
		return def
	}
	opts, err := bin.ParseSpec(spec)
	if err != nil {
		return def
	}
	return opts
}

func cloneAndSet(m map[string]*column.Column, name string, col *column.Column) map[string]*column.Column {
	out := make(map[string]*column.Column, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[name] = col
	return out
}

// AddTextColumn registers a text/category column backed by a
// dictionary: codes is the per-row dictionary code (as float64, to
// reuse the numeric column machinery for bin indexing over codes).
func (p *Partition) AddTextColumn(name string, codes *column.Column, dict *dictionary.Dictionary) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.columns = cloneAndSet(p.columns, name, codes)
	p.dicts[name] = dict
}

func (p *Partition) column(name string) (*column.Column, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.columns[name]
	if !ok {
		return nil, fmt.Errorf("partition: unknown column %q", name)
	}
	return c, nil
}

// NRows implements eval.ColumnSource.
func (p *Partition) NRows() uint32 { return p.nrows }

// EstimateRange implements eval.ColumnSource.
func (p *Partition) EstimateRange(col string, r bin.Range) (*bitmap.Bitmap, *bitmap.Bitmap, error) {
	c, err := p.column(col)
	if err != nil {
		return nil, nil, err
	}
	return c.EstimateRange(r)
}

// EvaluateRange implements eval.ColumnSource.
func (p *Partition) EvaluateRange(col string, r bin.Range) (*bitmap.Bitmap, error) {
	c, err := p.column(col)
	if err != nil {
		return nil, err
	}
	return c.EvaluateRange(r)
}

// Scan implements eval.ColumnSource.
func (p *Partition) Scan(col string, mask *bitmap.Bitmap, pred func(float64) bool) (*bitmap.Bitmap, error) {
	c, err := p.column(col)
	if err != nil {
		return nil, err
	}
	if mask == nil {
		return c.DoScan(pred), nil
	}
	positions, err := mask.ToPositions()
	if err != nil {
		return nil, err
	}
	out := bitmap.NewBitmap(p.nrows)
	for _, row := range positions {
		v, ok := c.Value(row)
		if ok && pred(v) {
			out.Set(row)
		}
	}
	out.Compress()
	return out, nil
}

// ScanDiscrete implements eval.ColumnSource.
func (p *Partition) ScanDiscrete(col string, values []float64, mask *bitmap.Bitmap) (*bitmap.Bitmap, error) {
	set := make(map[float64]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return p.Scan(col, mask, func(v float64) bool { return set[v] })
}

// ScanString implements eval.ColumnSource by mapping strings to
// dictionary codes and delegating to the underlying numeric column.
func (p *Partition) ScanString(col string, values []string, mask *bitmap.Bitmap) (*bitmap.Bitmap, error) {
	p.mu.RLock()
	dict, ok := p.dicts[col]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("partition: column %q is not a text column", col)
	}
	var codes []float64
	for _, s := range values {
		if code, ok := dict.Lookup(s); ok {
			codes = append(codes, float64(code))
		}
	}
	return p.ScanDiscrete(col, codes, mask)
}

// ScanCompound implements eval.ColumnSource for arithmetic terms that
// reference more than one column, by evaluating the term per row over
// the row values gathered from every column it mentions.
func (p *Partition) ScanCompound(term expr.Term, r bin.Range, mask *bitmap.Bitmap) (*bitmap.Bitmap, error) {
	cols := termColumns(term)
	accessors := make(map[string]*column.Column, len(cols))
	for _, name := range cols {
		c, err := p.column(name)
		if err != nil {
			return nil, err
		}
		accessors[name] = c
	}

	var positions []uint32
	var err error
	if mask != nil {
		positions, err = mask.ToPositions()
	} else {
		positions = make([]uint32, p.nrows)
		for i := range positions {
			positions[i] = uint32(i)
		}
	}
	if err != nil {
		return nil, err
	}

	out := bitmap.NewBitmap(p.nrows)
	row := make(map[string]float64, len(cols))
	for _, r0 := range positions {
		allPresent := true
		for name, c := range accessors {
			v, ok := c.Value(r0)
			if !ok {
				allPresent = false
				break
			}
			row[name] = v
		}
		if allPresent && r.Accepts(expr.Eval(term, row)) {
			out.Set(r0)
		}
	}
	out.Compress()
	return out, nil
}

func termColumns(t expr.Term) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(expr.Term)
	walk = func(t expr.Term) {
		switch v := t.(type) {
		case expr.TermColumn:
			if !seen[string(v)] {
				seen[string(v)] = true
				out = append(out, string(v))
			}
		case expr.TermBinary:
			walk(v.Lhs)
			walk(v.Rhs)
		}
	}
	walk(t)
	return out
}

// ScanJoin implements eval.JoinSource: it delegates to the join engine's
// planner, then projects the resulting pair bitmap down to the rows of
// colA that participate in at least one matching pair.
func (p *Partition) ScanJoin(colA, colB string, delta float64, mask *bitmap.Bitmap) (*bitmap.Bitmap, error) {
	a, err := p.column(colA)
	if err != nil {
		return nil, err
	}
	b, err := p.column(colB)
	if err != nil {
		return nil, err
	}
	pairs, _, err := join.Plan(a, b, delta, mask)
	if err != nil {
		return nil, err
	}
	out := bitmap.NewBitmap(p.nrows)
	for _, pr := range pairs.Pairs() {
		out.Set(pr[0])
	}
	out.Compress()
	return out, nil
}

// Join runs the full pair-producing join plan, returning the pair
// bitmap and which strategy computed it.
func (p *Partition) Join(colA, colB string, delta float64, mask *bitmap.Bitmap) (*bitmap.PairBitmap, join.Strategy, error) {
	a, err := p.column(colA)
	if err != nil {
		return nil, 0, err
	}
	b, err := p.column(colB)
	if err != nil {
		return nil, 0, err
	}
	return join.Plan(a, b, delta, mask)
}

// Touch advances the partition's timestamp and invalidates every
// column's cached index, modeling an append that changed the value
// domain.
func (p *Partition) Touch(newTimestamp int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Timestamp = newTimestamp
	for _, c := range p.columns {
		c.InvalidateIndex()
	}
}
