// Package encoders implements the on-disk formats for the row-id lists
// the query cache directory persists (the "rids" file of §6: pairs of
// 32-bit run/event naming a row across partitions), encoding each
// stream of uint32 values either plainly or as varint deltas.
package encoders

import (
	"encoding/binary"
	"errors"
	"io"
)

// ArrayEncoder encodes a slice of uint32 values to a writer.
type ArrayEncoder interface {
	Encode(values []uint32, writer io.Writer) error
}

// ArrayDecoder decodes length uint32 values from a reader.
type ArrayDecoder interface {
	Decode(reader io.Reader, length int) ([]uint32, error)
}

// ArrayEncoderDecoder combines both directions.
type ArrayEncoderDecoder interface {
	ArrayEncoder
	ArrayDecoder
}

// DeltaEncoder stores the first value as-is and every subsequent value
// as a varint-encoded difference from its predecessor. Row-id lists are
// naturally non-decreasing (rows are visited in ascending order), so
// deltas are small and the varint encoding pays off; short lists fall
// back to PlainEncoder, where delta framing overhead isn't worth it.
type DeltaEncoder struct {
	minLen          int
	fallbackEncoder ArrayEncoderDecoder
}

// NewDeltaEncoder returns a DeltaEncoder that falls back to plain
// encoding for any array with minLen or fewer elements.
func NewDeltaEncoder(minLen int) *DeltaEncoder {
	return &DeltaEncoder{minLen: minLen, fallbackEncoder: NewPlainEncoder()}
}

// Encode writes values to writer using delta-varint encoding.
func (d *DeltaEncoder) Encode(values []uint32, writer io.Writer) error {
	if len(values) <= d.minLen {
		return d.fallbackEncoder.Encode(values, writer)
	}

	if err := binary.Write(writer, binary.LittleEndian, values[0]); err != nil {
		return err
	}
	prev := values[0]
	for i := 1; i < len(values); i++ {
		delta := values[i] - prev
		prev = values[i]
		if err := writeVarint(writer, uint64(delta)); err != nil {
			return err
		}
	}
	return nil
}

// Decode reads a delta-varint encoded array of length values.
func (d *DeltaEncoder) Decode(reader io.Reader, length int) ([]uint32, error) {
	if length == 0 {
		return []uint32{}, nil
	}
	if length <= d.minLen {
		return d.fallbackEncoder.Decode(reader, length)
	}

	values := make([]uint32, length)
	if err := binary.Read(reader, binary.LittleEndian, &values[0]); err != nil {
		return nil, err
	}
	prev := values[0]
	for i := 1; i < length; i++ {
		delta, err := readVarint(reader)
		if err != nil {
			return nil, err
		}
		values[i] = prev + uint32(delta)
		prev = values[i]
	}
	return values, nil
}

func writeVarint(writer io.Writer, value uint64) error {
	buf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(buf, value)
	_, err := writer.Write(buf[:n])
	return err
}

func readVarint(reader io.Reader) (uint64, error) {
	var value uint64
	var buf [1]byte
	shift := uint(0)
	for {
		if _, err := reader.Read(buf[:]); err != nil {
			return 0, err
		}
		b := buf[0]
		value |= uint64(b&0x7F) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
		if shift > 64 {
			return 0, errors.New("encoders: varint overflow")
		}
	}
	return value, nil
}

// PlainEncoder writes values as fixed-width little-endian uint32s
// without compression.
type PlainEncoder struct{}

// NewPlainEncoder returns a PlainEncoder.
func NewPlainEncoder() *PlainEncoder {
	return &PlainEncoder{}
}

func (p *PlainEncoder) Encode(values []uint32, writer io.Writer) error {
	for _, v := range values {
		if err := binary.Write(writer, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

func (p *PlainEncoder) Decode(reader io.Reader, length int) ([]uint32, error) {
	values := make([]uint32, length)
	for i := 0; i < length; i++ {
		if err := binary.Read(reader, binary.LittleEndian, &values[i]); err != nil {
			return nil, err
		}
	}
	return values, nil
}

// EncodeRIDs writes a run/event pair stream: the run column and the
// event column are delta-encoded independently via enc (two adjacent
// runs sharing the same event stream compress far better than
// interleaved run/event pairs would).
func EncodeRIDs(enc ArrayEncoderDecoder, runs, events []uint32, w io.Writer) error {
	if len(runs) != len(events) {
		return errors.New("encoders: runs and events length mismatch")
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(runs))); err != nil {
		return err
	}
	if err := enc.Encode(runs, w); err != nil {
		return err
	}
	return enc.Encode(events, w)
}

// DecodeRIDs reads back a run/event pair stream written by EncodeRIDs.
func DecodeRIDs(enc ArrayEncoderDecoder, r io.Reader) (runs, events []uint32, err error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, nil, err
	}
	runs, err = enc.Decode(r, int(n))
	if err != nil {
		return nil, nil, err
	}
	events, err = enc.Decode(r, int(n))
	if err != nil {
		return nil, nil, err
	}
	return runs, events, nil
}
