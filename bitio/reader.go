// Package bitio reads bit-addressed fields from a byte buffer.
//
// Trace fields are not byte aligned in general: a compact event header packs a 5-bit
// id and a 27-bit timestamp into one 32-bit word. Reader tracks its position in
// bits and honours the bit numbering of the field's byte order:
//
//   - little-endian: bit 0 is the least significant bit of byte 0
//   - big-endian: bit 0 is the most significant bit of byte 0
//
// Reads never go past the limit (by default the whole buffer, for packets the
// content size); such reads fail with errs.ErrTruncated and leave the position unchanged.
package bitio

import (
	"fmt"

	"github.com/arloliu/ctftrace/endian"
	"github.com/arloliu/ctftrace/errs"
)

// Reader is a bit cursor over a byte slice. It is not safe for concurrent use.
type Reader struct {
	data  []byte
	pos   int64
	limit int64
	order endian.EndianEngine
}

// NewReader creates a reader positioned at bit 0 with the limit at the end of data.
func NewReader(data []byte, order endian.EndianEngine) *Reader {
	return &Reader{
		data:  data,
		limit: int64(len(data)) * 8,
		order: order,
	}
}

// ByteOrder returns the default byte order used when a field does not declare one.
func (r *Reader) ByteOrder() endian.EndianEngine { return r.order }

// Position returns the current position in bits.
func (r *Reader) Position() int64 { return r.pos }

// Limit returns the read limit in bits.
func (r *Reader) Limit() int64 { return r.limit }

// Remaining returns the number of bits left before the limit.
func (r *Reader) Remaining() int64 { return r.limit - r.pos }

// SetPosition moves the cursor to an absolute bit position.
func (r *Reader) SetPosition(pos int64) error {
	if pos < 0 || pos > r.limit {
		return fmt.Errorf("%w: position %d outside [0, %d]", errs.ErrTruncated, pos, r.limit)
	}
	r.pos = pos

	return nil
}

// SetLimit restricts reads to the first limit bits of the buffer.
func (r *Reader) SetLimit(limit int64) error {
	if limit < 0 || limit > int64(len(r.data))*8 {
		return fmt.Errorf("%w: limit %d outside buffer of %d bits", errs.ErrTruncated, limit, len(r.data)*8)
	}
	r.limit = limit
	if r.pos > limit {
		r.pos = limit
	}

	return nil
}

// Align advances the position to the next multiple of alignment bits.
func (r *Reader) Align(alignment int64) error {
	if alignment <= 1 {
		return nil
	}
	rem := r.pos % alignment
	if rem == 0 {
		return nil
	}

	return r.Skip(alignment - rem)
}

// Skip advances the position by n bits.
func (r *Reader) Skip(n int64) error {
	if n < 0 || r.pos+n > r.limit {
		return fmt.Errorf("%w: skip %d bits at %d (limit %d)", errs.ErrTruncated, n, r.pos, r.limit)
	}
	r.pos += n

	return nil
}

// ReadBits reads an unsigned field of n bits (1..64) in the given byte order.
// A nil order uses the reader's default.
func (r *Reader) ReadBits(n int, order endian.EndianEngine) (uint64, error) {
	if n <= 0 || n > 64 {
		return 0, fmt.Errorf("%w: cannot read %d bits", errs.ErrInvalidDeclaration, n)
	}
	if r.pos+int64(n) > r.limit {
		return 0, fmt.Errorf("%w: read %d bits at %d (limit %d)", errs.ErrTruncated, n, r.pos, r.limit)
	}
	if order == nil {
		order = r.order
	}

	if r.pos%8 == 0 {
		start := r.pos / 8
		switch n {
		case 8:
			r.pos += 8
			return uint64(r.data[start]), nil
		case 16:
			r.pos += 16
			return uint64(order.Uint16(r.data[start : start+2])), nil
		case 32:
			r.pos += 32
			return uint64(order.Uint32(r.data[start : start+4])), nil
		case 64:
			r.pos += 64
			return order.Uint64(r.data[start : start+8]), nil
		}
	}

	var v uint64
	if endian.IsBigEndian(order) {
		for i := 0; i < n; i++ {
			p := r.pos + int64(i)
			bit := (r.data[p>>3] >> (7 - uint(p&7))) & 1
			v = v<<1 | uint64(bit)
		}
	} else {
		for i := 0; i < n; i++ {
			p := r.pos + int64(i)
			bit := (r.data[p>>3] >> uint(p&7)) & 1
			v |= uint64(bit) << uint(i)
		}
	}
	r.pos += int64(n)

	return v, nil
}

// ReadBytes copies n bytes from a byte-aligned position.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if r.pos%8 != 0 {
		return nil, fmt.Errorf("%w: byte read at unaligned bit position %d", errs.ErrInvalidDeclaration, r.pos)
	}
	if n < 0 || r.pos+int64(n)*8 > r.limit {
		return nil, fmt.Errorf("%w: read %d bytes at bit %d (limit %d)", errs.ErrTruncated, n, r.pos, r.limit)
	}
	start := r.pos / 8
	out := make([]byte, n)
	copy(out, r.data[start:start+int64(n)])
	r.pos += int64(n) * 8

	return out, nil
}

// ReadCString reads a NUL-terminated string starting at a byte-aligned position.
// The terminator is consumed but not returned.
func (r *Reader) ReadCString() (string, error) {
	if r.pos%8 != 0 {
		return "", fmt.Errorf("%w: string at unaligned bit position %d", errs.ErrInvalidDeclaration, r.pos)
	}
	start := r.pos / 8
	end := r.limit / 8
	for i := start; i < end; i++ {
		if r.data[i] == 0 {
			s := string(r.data[start:i])
			r.pos = (i + 1) * 8

			return s, nil
		}
	}

	return "", fmt.Errorf("%w: unterminated string at bit %d", errs.ErrTruncated, r.pos)
}
