package expr

import (
	"math"
	"sort"

	"colstore/bin"
)

// IndexSource is the minimal column-facing capability the tree
// transforms need: expand/contract a continuous range against one
// column's bin index, and report a column's actual observed bounds.
type IndexSource interface {
	ExpandRange(col string, r bin.Range) bin.Range
	ContractRange(col string, r bin.Range) bin.Range
	Bounds(col string) (lo, hi float64, ok bool)
	Cost(col string, r bin.Range) float64
}

// Simplify constant-folds, flattens nested AND/OR of the same kind, and
// pushes NOT through De Morgan's laws so that NOT only ever wraps a leaf.
func Simplify(n Node) Node {
	switch v := n.(type) {
	case Not:
		return simplifyNot(Simplify(v.X))
	case And:
		return flatten(v.Children, KindAnd, func(cs []Node) Node { return And{Children: cs} })
	case Or:
		return flatten(v.Children, KindOr, func(cs []Node) Node { return Or{Children: cs} })
	case Xor:
		return Xor{A: Simplify(v.A), B: Simplify(v.B)}
	case Minus:
		return Minus{A: Simplify(v.A), B: Simplify(v.B)}
	default:
		return n
	}
}

func simplifyNot(x Node) Node {
	switch v := x.(type) {
	case Not:
		return v.X // double negation
	case And:
		children := make([]Node, len(v.Children))
		for i, c := range v.Children {
			children[i] = simplifyNot(c)
		}
		return Or{Children: children}
	case Or:
		children := make([]Node, len(v.Children))
		for i, c := range v.Children {
			children[i] = simplifyNot(c)
		}
		return And{Children: children}
	default:
		return Not{X: v}
	}
}

func flatten(children []Node, kind Kind, rebuild func([]Node) Node) Node {
	var out []Node
	for _, c := range children {
		sc := Simplify(c)
		if sc.Kind() == kind {
			switch v := sc.(type) {
			case And:
				out = append(out, v.Children...)
			case Or:
				out = append(out, v.Children...)
			default:
				out = append(out, sc)
			}
		} else {
			out = append(out, sc)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return rebuild(out)
}

// ExpandRange walks the tree, widening every ContinuousRange leaf (and
// any CompoundRange that collapses to one) to its column's bin edges,
// producing a predicate whose satisfying set is a superset of the
// original — the monotone pre-filter used to build a sufficient
// candidate mask before a tighter check.
func ExpandRange(n Node, src IndexSource) Node {
	return rewriteRanges(n, src, (IndexSource).ExpandRange)
}

// ContractRange is the antitone counterpart: it narrows every
// continuous-range leaf inward, producing a predicate whose satisfying
// set is a subset of the original.
func ContractRange(n Node, src IndexSource) Node {
	return rewriteRanges(n, src, (IndexSource).ContractRange)
}

func rewriteRanges(n Node, src IndexSource, adjust func(IndexSource, string, bin.Range) bin.Range) Node {
	switch v := n.(type) {
	case ContinuousRange:
		return ContinuousRange{Col: v.Col, Range: adjust(src, v.Col, v.Range)}
	case CompoundRange:
		if cr, ok := CollapsesToRange(v); ok {
			return ContinuousRange{Col: cr.Col, Range: adjust(src, cr.Col, cr.Range)}
		}
		return v
	case Not:
		return Not{X: rewriteRanges(v.X, src, adjust)}
	case And:
		children := make([]Node, len(v.Children))
		for i, c := range v.Children {
			children[i] = rewriteRanges(c, src, adjust)
		}
		return And{Children: children}
	case Or:
		children := make([]Node, len(v.Children))
		for i, c := range v.Children {
			children[i] = rewriteRanges(c, src, adjust)
		}
		return Or{Children: children}
	case Xor:
		return Xor{A: rewriteRanges(v.A, src, adjust), B: rewriteRanges(v.B, src, adjust)}
	case Minus:
		return Minus{A: rewriteRanges(v.A, src, adjust), B: rewriteRanges(v.B, src, adjust)}
	default:
		return n
	}
}

// AddJoinConstraints derives, for every rangeJoin(a, b, delta) found
// under an AND chain, the interval constraints a in [min(b)-delta,
// max(b)+delta] and symmetrically for b, and ANDs them into the tree
// alongside the join. It only descends through And nodes, per the
// source convention that join-constraint derivation under OR is
// undefined.
func AddJoinConstraints(n Node, src IndexSource) Node {
	switch v := n.(type) {
	case And:
		children := make([]Node, 0, len(v.Children))
		for _, c := range v.Children {
			children = append(children, AddJoinConstraints(c, src))
		}
		for _, c := range v.Children {
			if rj, ok := c.(RangeJoin); ok {
				children = append(children, joinConstraints(rj, n, src)...)
			}
		}
		return And{Children: children}
	case RangeJoin:
		return And{Children: append([]Node{v}, joinConstraints(v, v, src)...)}
	default:
		return n
	}
}

func joinConstraints(rj RangeJoin, tree Node, src IndexSource) []Node {
	var out []Node
	if lo, hi, ok := src.Bounds(rj.ColB); ok {
		if _, exists := FindRange(tree, rj.ColA); !exists {
			out = append(out, ContinuousRange{
				Col: rj.ColA,
				Range: bin.Range{
					Op1: bin.OpLE, Lo: lo - rj.Delta,
					Op2: bin.OpLE, Hi: hi + rj.Delta,
				},
			})
		}
	}
	if lo, hi, ok := src.Bounds(rj.ColA); ok {
		if _, exists := FindRange(tree, rj.ColB); !exists {
			out = append(out, ContinuousRange{
				Col: rj.ColB,
				Range: bin.Range{
					Op1: bin.OpLE, Lo: lo - rj.Delta,
					Op2: bin.OpLE, Hi: hi + rj.Delta,
				},
			})
		}
	}
	return out
}

// WeightFunc returns an estimated evaluation cost for a node, used by
// Reorder to sort AND/OR chains cheapest-first.
type WeightFunc func(Node) float64

// DefaultWeight builds a WeightFunc backed by an IndexSource's cost
// estimates, falling back to a unit weight for nodes with no column
// (logical connectives, joins).
func DefaultWeight(src IndexSource) WeightFunc {
	var weight WeightFunc
	weight = func(n Node) float64 {
		switch v := n.(type) {
		case ContinuousRange:
			return src.Cost(v.Col, v.Range)
		case DiscreteRange:
			return float64(len(v.Values))
		case Not:
			return weight(v.X)
		case And:
			return sumWeights(v.Children, weight)
		case Or:
			return sumWeights(v.Children, weight)
		case Xor:
			return weight(v.A) + weight(v.B)
		case Minus:
			return weight(v.A) + weight(v.B)
		default:
			return 1
		}
	}
	return weight
}

func sumWeights(children []Node, weight WeightFunc) float64 {
	total := 0.0
	for _, c := range children {
		total += weight(c)
	}
	return total
}

// Reorder sorts AND/OR chains so the cheapest subtree is evaluated
// first for AND (fail fast on the most selective/cheapest test) and the
// most expensive first for OR (so a match short-circuits the rest as
// early as possible under the evaluator's OR-refinement heuristic).
func Reorder(n Node, weight WeightFunc) Node {
	switch v := n.(type) {
	case And:
		children := reorderedChildren(v.Children, weight)
		sort.SliceStable(children, func(i, j int) bool {
			return weight(children[i]) < weight(children[j])
		})
		return And{Children: children}
	case Or:
		children := reorderedChildren(v.Children, weight)
		sort.SliceStable(children, func(i, j int) bool {
			return weight(children[i]) > weight(children[j])
		})
		return Or{Children: children}
	case Not:
		return Not{X: Reorder(v.X, weight)}
	case Xor:
		return Xor{A: Reorder(v.A, weight), B: Reorder(v.B, weight)}
	case Minus:
		return Minus{A: Reorder(v.A, weight), B: Reorder(v.B, weight)}
	default:
		return n
	}
}

func reorderedChildren(children []Node, weight WeightFunc) []Node {
	out := make([]Node, len(children))
	for i, c := range children {
		out[i] = Reorder(c, weight)
	}
	return out
}

// GetMinMax returns the value range a node's leaves imply, when a single
// tight bound can be derived; used by AddJoinConstraints callers that
// want to fold an existing range into a join constraint instead of
// adding a duplicate.
func GetMinMax(n Node) (lo, hi float64, ok bool) {
	switch v := n.(type) {
	case ContinuousRange:
		lo, hi = math.Inf(-1), math.Inf(1)
		if v.Range.Op1 != bin.OpUnset {
			lo = v.Range.Lo
		}
		if v.Range.Op2 != bin.OpUnset {
			hi = v.Range.Hi
		}
		return lo, hi, true
	case DiscreteRange:
		if len(v.Values) == 0 {
			return 0, 0, false
		}
		return v.Values[0], v.Values[len(v.Values)-1], true
	default:
		return 0, 0, false
	}
}
