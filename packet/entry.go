package packet

import (
	"fmt"
	"math"

	"github.com/arloliu/ctftrace/errs"
)

// UnboundedTimestamp is the end time of packets whose context has no timestamp_end.
const UnboundedTimestamp = math.MaxInt64

// IndexEntry describes one packet of a stream file. Entries are created once while
// indexing and never modified afterwards.
type IndexEntry struct {
	// OffsetBytes is the absolute file position of the packet start.
	OffsetBytes int64
	// OffsetBits is OffsetBytes expressed in bits.
	OffsetBits int64
	// PacketSizeBits is the framed size of the packet, padding included.
	PacketSizeBits int64
	// ContentSizeBits is the size actually carrying header, context and events.
	ContentSizeBits int64
	// PayloadStartBits is the offset of the first event relative to the packet start.
	PayloadStartBits int64

	// TimestampBegin and TimestampEnd bound the packet's events, inclusive.
	TimestampBegin int64
	TimestampEnd   int64

	// LostEvents is the number of events dropped since the previous packet of the file.
	LostEvents uint64

	StreamID uint64
	// Target is the logical source of the packet's events, such as "CPU3".
	Target   string
	TargetID int64

	// Attributes holds the scalar packet context fields by name. Values are uint64,
	// int64, float64 or string.
	Attributes map[string]any
}

// PacketSizeBytes returns the framed packet size in bytes.
func (e *IndexEntry) PacketSizeBytes() int64 {
	return e.PacketSizeBits / 8
}

// NextOffsetBytes returns the file offset of the packet that follows this one.
func (e *IndexEntry) NextOffsetBytes() int64 {
	return e.OffsetBytes + e.PacketSizeBytes()
}

// Includes reports whether ts falls within the packet's time range.
func (e *IndexEntry) Includes(ts int64) bool {
	return e.TimestampBegin <= ts && ts <= e.TimestampEnd
}

// HasEvents reports whether reading the packet yields at least one record: event
// data after its context, or a lost-event record.
func (e *IndexEntry) HasEvents() bool {
	return e.LostEvents > 0 || e.ContentSizeBits > e.PayloadStartBits
}

// Validate checks the size invariants of the entry against the bytes available
// from OffsetBytes to the end of the file.
//
// Returns:
//   - errs.ErrInvalidPacketSize: packet size is zero, not byte aligned, or smaller than its header
//   - errs.ErrContentSizeExceedsPacket: content size is larger than packet size
//   - errs.ErrPacketSizeExceedsFile: the packet extends past the end of the file
func (e *IndexEntry) Validate(remainingBytes int64) error {
	if e.PacketSizeBits <= 0 || e.PacketSizeBits%8 != 0 {
		return fmt.Errorf("%w: %d bits at offset %d", errs.ErrInvalidPacketSize, e.PacketSizeBits, e.OffsetBytes)
	}
	if e.ContentSizeBits > e.PacketSizeBits {
		return fmt.Errorf("%w: content %d bits, packet %d bits at offset %d",
			errs.ErrContentSizeExceedsPacket, e.ContentSizeBits, e.PacketSizeBits, e.OffsetBytes)
	}
	if e.PacketSizeBytes() > remainingBytes {
		return fmt.Errorf("%w: packet of %d bytes at offset %d, %d bytes left",
			errs.ErrPacketSizeExceedsFile, e.PacketSizeBytes(), e.OffsetBytes, remainingBytes)
	}
	if e.ContentSizeBits < e.PayloadStartBits {
		return fmt.Errorf("%w: content %d bits ends inside the %d bit packet header at offset %d",
			errs.ErrInvalidPacketSize, e.ContentSizeBits, e.PayloadStartBits, e.OffsetBytes)
	}

	return nil
}
