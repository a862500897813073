// Package tracetest builds binary stream files for tests.
//
// BitWriter mirrors bitio.Reader: little-endian fields are written LSB-first,
// big-endian fields MSB-first. Encode walks a declaration and writes Go values
// (maps for structs, slices for arrays) in the same layout the decoder reads, and
// EncodePacket frames events into packets with header, context and padding.
package tracetest

import (
	"github.com/arloliu/ctftrace/endian"
)

// BitWriter appends bit-addressed fields to a growing buffer.
type BitWriter struct {
	buf   []byte
	pos   int64
	order endian.EndianEngine
}

// NewBitWriter creates a writer using order for fields without an explicit byte order.
func NewBitWriter(order endian.EndianEngine) *BitWriter {
	return &BitWriter{order: order}
}

// Position returns the number of bits written.
func (w *BitWriter) Position() int64 { return w.pos }

// Bytes returns the written bytes; a trailing partial byte is zero padded.
func (w *BitWriter) Bytes() []byte { return w.buf }

// WriteBits writes the low n bits of v. A nil order uses the writer default.
func (w *BitWriter) WriteBits(v uint64, n int, order endian.EndianEngine) {
	if order == nil {
		order = w.order
	}
	w.grow(w.pos + int64(n))

	if endian.IsBigEndian(order) {
		for i := 0; i < n; i++ {
			p := w.pos + int64(i)
			bit := byte(v>>uint(n-1-i)) & 1
			w.buf[p>>3] |= bit << (7 - uint(p&7))
		}
	} else {
		for i := 0; i < n; i++ {
			p := w.pos + int64(i)
			bit := byte(v>>uint(i)) & 1
			w.buf[p>>3] |= bit << uint(p&7)
		}
	}
	w.pos += int64(n)
}

// Align pads with zero bits to the next multiple of alignment bits.
func (w *BitWriter) Align(alignment int64) {
	if alignment <= 1 {
		return
	}
	if rem := w.pos % alignment; rem != 0 {
		w.pos += alignment - rem
		w.grow(w.pos)
	}
}

// WriteBytes appends raw bytes at a byte-aligned position.
func (w *BitWriter) WriteBytes(b []byte) {
	w.Align(8)
	for _, c := range b {
		w.WriteBits(uint64(c), 8, nil)
	}
}

// PadTo extends the buffer with zero bits up to bits.
func (w *BitWriter) PadTo(bits int64) {
	if bits > w.pos {
		w.pos = bits
		w.grow(bits)
	}
}

func (w *BitWriter) grow(bits int64) {
	need := int((bits + 7) / 8)
	for len(w.buf) < need {
		w.buf = append(w.buf, 0)
	}
}
