// Package dictionary implements the string<->int32 code mapping used by
// text and category columns, letting the core engine treat string
// predicates as numeric equality/membership tests over dictionary
// codes. Persistence follows the teacher's map-backed segment-metadata
// style: a length-prefixed string table written in code order.
package dictionary

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"sync"
)

// Dictionary is a bidirectional string<->code mapping. Codes are
// assigned in first-seen order starting at 0 and are stable for the
// lifetime of the dictionary (no compaction on delete, since the core
// never deletes strings from an immutable partition).
type Dictionary struct {
	mu     sync.RWMutex
	toCode map[string]int32
	toStr  []string
}

// New returns an empty dictionary.
func New() *Dictionary {
	return &Dictionary{toCode: make(map[string]int32)}
}

// Intern returns s's code, assigning a new one if s hasn't been seen.
func (d *Dictionary) Intern(s string) int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if code, ok := d.toCode[s]; ok {
		return code
	}
	code := int32(len(d.toStr))
	d.toStr = append(d.toStr, s)
	d.toCode[s] = code
	return code
}

// Lookup returns s's code without creating one if absent.
func (d *Dictionary) Lookup(s string) (int32, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	code, ok := d.toCode[s]
	return code, ok
}

// String returns the string for a code, or "" and false if out of
// range.
func (d *Dictionary) String(code int32) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if code < 0 || int(code) >= len(d.toStr) {
		return "", false
	}
	return d.toStr[code], true
}

// Len returns the number of distinct strings interned.
func (d *Dictionary) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.toStr)
}

// Prefix returns every code whose string has the given prefix, in code
// order, for use as a cheap building block for LIKE 'prefix%' style
// predicates at a higher layer.
func (d *Dictionary) Prefix(prefix string) []int32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []int32
	for code, s := range d.toStr {
		if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
			out = append(out, int32(code))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Serialize writes the dictionary as a count followed by
// length-prefixed strings in code order.
func (d *Dictionary) Serialize(w io.Writer) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(d.toStr))); err != nil {
		return fmt.Errorf("dictionary: write count: %w", err)
	}
	for _, s := range d.toStr {
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(s))); err != nil {
			return fmt.Errorf("dictionary: write string length: %w", err)
		}
		if _, err := bw.WriteString(s); err != nil {
			return fmt.Errorf("dictionary: write string: %w", err)
		}
	}
	return bw.Flush()
}

// Deserialize reads a dictionary previously written by Serialize.
func Deserialize(r io.Reader) (*Dictionary, error) {
	br := bufio.NewReader(r)
	var count uint32
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("dictionary: read count: %w", err)
	}
	d := New()
	for i := uint32(0); i < count; i++ {
		var n uint32
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("dictionary: read string length: %w", err)
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, fmt.Errorf("dictionary: read string: %w", err)
		}
		d.Intern(string(buf))
	}
	return d, nil
}
