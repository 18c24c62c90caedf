package query

import (
	"fmt"
	"strconv"
	"strings"

	"colstore/bin"
	"colstore/expr"
)

// encodeWhere renders a predicate tree as a single-line s-expression for
// the `query` cache file's where-clause line. It only needs to round
// trip what this package itself produces, not arbitrary predicate
// parser output — the general-purpose parser is an external
// collaborator per the core/collaborator split.
func encodeWhere(n expr.Node) string {
	switch v := n.(type) {
	case expr.ContinuousRange:
		return fmt.Sprintf("range(%s,%s)", v.Col, encodeRange(v.Range))
	case expr.DiscreteRange:
		parts := make([]string, len(v.Values))
		for i, f := range v.Values {
			parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return fmt.Sprintf("discrete(%s,[%s])", v.Col, strings.Join(parts, " "))
	case expr.StringEquality:
		return fmt.Sprintf("streq(%s,%s)", v.Col, v.Value)
	case expr.RangeJoin:
		return fmt.Sprintf("join(%s,%s,%s)", v.ColA, v.ColB, strconv.FormatFloat(v.Delta, 'g', -1, 64))
	case expr.Not:
		return fmt.Sprintf("not(%s)", encodeWhere(v.X))
	case expr.And:
		return fmt.Sprintf("and(%s)", encodeChildren(v.Children))
	case expr.Or:
		return fmt.Sprintf("or(%s)", encodeChildren(v.Children))
	case expr.Xor:
		return fmt.Sprintf("xor(%s;%s)", encodeWhere(v.A), encodeWhere(v.B))
	case expr.Minus:
		return fmt.Sprintf("minus(%s;%s)", encodeWhere(v.A), encodeWhere(v.B))
	default:
		return "true()"
	}
}

func encodeChildren(children []expr.Node) string {
	parts := make([]string, len(children))
	for i, c := range children {
		parts[i] = encodeWhere(c)
	}
	return strings.Join(parts, ";")
}

func encodeRange(r bin.Range) string {
	return fmt.Sprintf("%d:%s:%d:%s", r.Op1, strconv.FormatFloat(r.Lo, 'g', -1, 64), r.Op2, strconv.FormatFloat(r.Hi, 'g', -1, 64))
}

func decodeRange(s string) bin.Range {
	parts := strings.SplitN(s, ":", 4)
	if len(parts) != 4 {
		return bin.Range{}
	}
	op1, _ := strconv.Atoi(parts[0])
	lo, _ := strconv.ParseFloat(parts[1], 64)
	op2, _ := strconv.Atoi(parts[2])
	hi, _ := strconv.ParseFloat(parts[3], 64)
	return bin.Range{Op1: bin.RelOp(op1), Lo: lo, Op2: bin.RelOp(op2), Hi: hi}
}

// decodeWhere parses the output of encodeWhere. It returns nil rather
// than an error on malformed input, mirroring the "silent recovery"
// guidance for non-fatal recovery paths — a corrupt where-clause line
// demotes the query to SPECIFIED rather than failing Load outright.
func decodeWhere(s string) expr.Node {
	n, _, ok := parseNode(s)
	if !ok {
		return nil
	}
	return n
}

// parseNode parses one s-expression node from the front of s, returning
// the node, the remaining unparsed suffix, and whether parsing
// succeeded.
func parseNode(s string) (expr.Node, string, bool) {
	open := strings.IndexByte(s, '(')
	if open < 0 {
		return nil, s, false
	}
	name := s[:open]
	depth := 1
	i := open + 1
	for i < len(s) && depth > 0 {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		}
		i++
	}
	if depth != 0 {
		return nil, s, false
	}
	body := s[open+1 : i-1]
	rest := s[i:]

	switch name {
	case "range":
		parts := strings.SplitN(body, ",", 2)
		if len(parts) != 2 {
			return nil, s, false
		}
		return expr.ContinuousRange{Col: parts[0], Range: decodeRange(parts[1])}, rest, true
	case "discrete":
		parts := strings.SplitN(body, ",", 2)
		if len(parts) != 2 {
			return nil, s, false
		}
		inner := strings.Trim(parts[1], "[]")
		var vals []float64
		if inner != "" {
			for _, tok := range strings.Fields(inner) {
				v, err := strconv.ParseFloat(tok, 64)
				if err == nil {
					vals = append(vals, v)
				}
			}
		}
		return expr.DiscreteRange{Col: parts[0], Values: vals}, rest, true
	case "streq":
		parts := strings.SplitN(body, ",", 2)
		if len(parts) != 2 {
			return nil, s, false
		}
		return expr.StringEquality{Col: parts[0], Value: parts[1]}, rest, true
	case "join":
		parts := strings.SplitN(body, ",", 3)
		if len(parts) != 3 {
			return nil, s, false
		}
		delta, _ := strconv.ParseFloat(parts[2], 64)
		return expr.RangeJoin{ColA: parts[0], ColB: parts[1], Delta: delta}, rest, true
	case "not":
		x, _, ok := parseNode(body)
		if !ok {
			return nil, s, false
		}
		return expr.Not{X: x}, rest, true
	case "and":
		children, ok := parseChildren(body)
		if !ok {
			return nil, s, false
		}
		return expr.And{Children: children}, rest, true
	case "or":
		children, ok := parseChildren(body)
		if !ok {
			return nil, s, false
		}
		return expr.Or{Children: children}, rest, true
	case "xor":
		a, b, ok := parsePair(body)
		if !ok {
			return nil, s, false
		}
		return expr.Xor{A: a, B: b}, rest, true
	case "minus":
		a, b, ok := parsePair(body)
		if !ok {
			return nil, s, false
		}
		return expr.Minus{A: a, B: b}, rest, true
	default:
		return nil, s, false
	}
}

func parseChildren(body string) ([]expr.Node, bool) {
	var out []expr.Node
	rest := body
	for len(rest) > 0 {
		n, r, ok := parseNode(rest)
		if !ok {
			return nil, false
		}
		out = append(out, n)
		rest = strings.TrimPrefix(r, ";")
	}
	return out, true
}

func parsePair(body string) (expr.Node, expr.Node, bool) {
	idx := strings.IndexByte(body, ';')
	if idx < 0 {
		return nil, nil, false
	}
	a, _, ok := parseNode(body[:idx])
	if !ok {
		return nil, nil, false
	}
	b, _, ok := parseNode(body[idx+1:])
	if !ok {
		return nil, nil, false
	}
	return a, b, true
}
