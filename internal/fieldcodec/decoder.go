// Package fieldcodec implements the tagged-field binary format used by the
// control protocol and the session configuration blobs. The format is the
// protobuf wire format: each field is a varint tag (field number plus wire
// type) followed by a varint, a fixed-width integer, or a length-prefixed
// byte range.
//
// Decoding is pull-based: the caller drives the decoder one field at a time
// and no field is materialized before it is requested. Delimited values alias
// the input buffer and are only valid while that buffer is.
package fieldcodec

import (
	"errors"
	"fmt"
)

// WireType discriminates the shape of a field's payload.
type WireType uint8

const (
	TypeVarint    WireType = 0
	TypeFixed64   WireType = 1
	TypeDelimited WireType = 2
	TypeFixed32   WireType = 5
)

func (t WireType) String() string {
	switch t {
	case TypeVarint:
		return "varint"
	case TypeFixed64:
		return "fixed64"
	case TypeDelimited:
		return "delimited"
	case TypeFixed32:
		return "fixed32"
	default:
		return fmt.Sprintf("wiretype(%d)", uint8(t))
	}
}

// Field is one decoded (field number, value) pair.
type Field struct {
	Num  uint32
	Type WireType
	// Val holds the value for TypeVarint, TypeFixed64 and TypeFixed32
	// fields.
	Val uint64
	// Bytes holds the payload of TypeDelimited fields. It is a view into
	// the decoder's input buffer, not a copy.
	Bytes []byte
}

var (
	// ErrTruncated is returned when the input ends before a tag or a
	// declared length is satisfied.
	ErrTruncated = errors.New("truncated input")
	// ErrInvalidVarint is returned when a varint's continuation bits
	// exceed the maximum representable width without terminating.
	ErrInvalidVarint = errors.New("invalid varint")
	// ErrBadWireType is returned for wire types that cannot be skipped
	// safely (the deprecated group types).
	ErrBadWireType = errors.New("unsupported wire type")
)

// Decoder iterates over the fields of a byte buffer. The zero value is an
// empty decoder; use MakeDecoder to decode a buffer. Decoding is restartable
// by constructing a fresh decoder over the same buffer, but a decoder cannot
// be resumed after an error: once Next returns false, it keeps returning
// false.
type Decoder struct {
	buf   []byte
	off   int
	field Field
	err   error
}

// MakeDecoder creates a Decoder over buf. The decoder does not copy buf;
// delimited fields alias it.
func MakeDecoder(buf []byte) Decoder {
	return Decoder{buf: buf}
}

// Next advances to the next field. It returns false when the buffer is
// exhausted or a decode error occurred; the two cases are told apart with
// Err.
func (d *Decoder) Next() bool {
	if d.err != nil || d.off >= len(d.buf) {
		return false
	}
	start := d.off
	tag, ok := d.varint(start)
	if !ok {
		return false
	}
	num := uint32(tag >> 3)
	f := Field{Num: num, Type: WireType(tag & 7)}
	switch f.Type {
	case TypeVarint:
		v, ok := d.varint(start)
		if !ok {
			return false
		}
		f.Val = v
	case TypeFixed64:
		if len(d.buf)-d.off < 8 {
			return d.fail(start, ErrTruncated)
		}
		b := d.buf[d.off:]
		f.Val = uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
			uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
		d.off += 8
	case TypeFixed32:
		if len(d.buf)-d.off < 4 {
			return d.fail(start, ErrTruncated)
		}
		b := d.buf[d.off:]
		f.Val = uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24
		d.off += 4
	case TypeDelimited:
		n, ok := d.varint(start)
		if !ok {
			return false
		}
		if n > uint64(len(d.buf)-d.off) {
			return d.fail(start, ErrTruncated)
		}
		f.Bytes = d.buf[d.off : d.off+int(n) : d.off+int(n)]
		d.off += int(n)
	default:
		return d.fail(start, fmt.Errorf("%w %d for field %d", ErrBadWireType, uint8(f.Type), num))
	}
	d.field = f
	return true
}

// Field returns the field decoded by the last successful call to Next.
func (d *Decoder) Field() Field {
	return d.field
}

// Err returns the error that terminated iteration, or nil if the buffer was
// fully consumed.
func (d *Decoder) Err() error {
	return d.err
}

// varint decodes one varint at the cursor, advancing it. On failure it
// records an error positioned at fieldStart and returns false.
func (d *Decoder) varint(fieldStart int) (uint64, bool) {
	var v uint64
	for i := 0; ; i++ {
		if d.off >= len(d.buf) {
			d.fail(fieldStart, ErrTruncated)
			return 0, false
		}
		// A uint64 varint is at most 10 bytes, and the 10th byte can
		// only contribute the top bit.
		b := d.buf[d.off]
		if i == 9 && b > 1 {
			d.fail(fieldStart, ErrInvalidVarint)
			return 0, false
		}
		d.off++
		v |= uint64(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return v, true
		}
	}
}

func (d *Decoder) fail(fieldStart int, err error) bool {
	d.err = fmt.Errorf("field at offset %d: %w", fieldStart, err)
	return false
}
