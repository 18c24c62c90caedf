package bin

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Scale selects how bin boundaries are spaced across a value range.
type Scale int

const (
	Linear Scale = iota
	Log
)

// Region describes one mixed start/end sub-range of a binning
// specification, each with its own bin count and scale, per the
// "start:lo end:hi" repeatable-parenthesized-group syntax in spec.md
// section 4.2.
type Region struct {
	Start, End float64
	NBins      int
	Scale      Scale
}

// Options controls bin construction, mirroring the recognized keys of
// the <column>.index configuration value: nbins/no, scale, equal-weight,
// start/end regions, precision/prec (bak2 variant), binFile, and
// reorder.
type Options struct {
	NBins       int
	Scale       Scale
	EqualWeight bool
	Regions     []Region
	Precision   int // >0 triggers the bak2 precision-reduced variant
	BinFile     string
	Reorder     bool
}

// DefaultOptions returns the default binning specification: 10,000
// linearly spaced bins, matching the "nbins: N (default 10,000)"
// contract in spec.md section 4.2.
func DefaultOptions() Options {
	return Options{NBins: 10000, Scale: Linear}
}

// ParseSpec parses a column's index specification string into Options.
// Recognized tokens: "nbins:N", "no:N", "scale:linear|log",
// "equal-weight" / "equal weight", "precision:d" / "prec:d",
// "binFile:path", "reorder", and "(start:lo end:hi nbins:N scale:S)"
// region groups.
func ParseSpec(spec string) (Options, error) {
	opts := DefaultOptions()
	if strings.TrimSpace(spec) == "" {
		return opts, nil
	}

	rest := spec
	for {
		open := strings.IndexByte(rest, '(')
		if open < 0 {
			break
		}
		close := strings.IndexByte(rest[open:], ')')
		if close < 0 {
			return opts, fmt.Errorf("bin: unbalanced parenthesis in spec %q", spec)
		}
		close += open
		region, err := parseRegion(rest[open+1 : close])
		if err != nil {
			return opts, err
		}
		opts.Regions = append(opts.Regions, region)
		rest = rest[:open] + rest[close+1:]
	}

	fields := strings.Fields(rest)
	for i := 0; i < len(fields); i++ {
		tok := strings.ToLower(fields[i])
		switch {
		case strings.HasPrefix(tok, "nbins:"):
			n, err := strconv.Atoi(strings.TrimPrefix(tok, "nbins:"))
			if err != nil {
				return opts, fmt.Errorf("bin: bad nbins in %q: %w", spec, err)
			}
			opts.NBins = n
		case strings.HasPrefix(tok, "no:"):
			n, err := strconv.Atoi(strings.TrimPrefix(tok, "no:"))
			if err != nil {
				return opts, fmt.Errorf("bin: bad no in %q: %w", spec, err)
			}
			opts.NBins = n
		case strings.HasPrefix(tok, "scale:"):
			switch strings.TrimPrefix(tok, "scale:") {
			case "log":
				opts.Scale = Log
			default:
				opts.Scale = Linear
			}
		case tok == "equal-weight":
			opts.EqualWeight = true
		case tok == "equal" && i+1 < len(fields) && strings.ToLower(fields[i+1]) == "weight":
			opts.EqualWeight = true
			i++
		case strings.HasPrefix(tok, "precision:"):
			d, err := strconv.Atoi(strings.TrimPrefix(tok, "precision:"))
			if err != nil {
				return opts, fmt.Errorf("bin: bad precision in %q: %w", spec, err)
			}
			opts.Precision = d
		case strings.HasPrefix(tok, "prec:"):
			d, err := strconv.Atoi(strings.TrimPrefix(tok, "prec:"))
			if err != nil {
				return opts, fmt.Errorf("bin: bad prec in %q: %w", spec, err)
			}
			opts.Precision = d
		case strings.HasPrefix(fields[i], "binFile:"):
			opts.BinFile = strings.TrimPrefix(fields[i], "binFile:")
		case tok == "reorder":
			opts.Reorder = true
		}
	}
	return opts, nil
}

func parseRegion(body string) (Region, error) {
	r := Region{NBins: 100, Scale: Linear}
	for _, tok := range strings.Fields(body) {
		lower := strings.ToLower(tok)
		switch {
		case strings.HasPrefix(lower, "start:"):
			v, err := strconv.ParseFloat(strings.TrimPrefix(lower, "start:"), 64)
			if err != nil {
				return r, fmt.Errorf("bin: bad region start %q: %w", tok, err)
			}
			r.Start = v
		case strings.HasPrefix(lower, "end:"):
			v, err := strconv.ParseFloat(strings.TrimPrefix(lower, "end:"), 64)
			if err != nil {
				return r, fmt.Errorf("bin: bad region end %q: %w", tok, err)
			}
			r.End = v
		case strings.HasPrefix(lower, "nbins:"):
			n, err := strconv.Atoi(strings.TrimPrefix(lower, "nbins:"))
			if err != nil {
				return r, fmt.Errorf("bin: bad region nbins %q: %w", tok, err)
			}
			r.NBins = n
		case strings.HasPrefix(lower, "scale:"):
			if strings.TrimPrefix(lower, "scale:") == "log" {
				r.Scale = Log
			}
		}
	}
	return r, nil
}

// readBinFile reads explicit bin boundaries, one value per line; a '#'
// introduces a comment that runs to the end of the line.
func readBinFile(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bin: open bin file %s: %w", path, err)
	}
	defer f.Close()

	var bounds []float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, fmt.Errorf("bin: bad boundary %q in %s: %w", line, path, err)
		}
		bounds = append(bounds, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("bin: scan bin file %s: %w", path, err)
	}
	return bounds, nil
}
