package encoding

// FullTimestampBits is the width of a timestamp field that is used verbatim.
const FullTimestampBits = 64

// WidenTimestamp reconstructs a full timestamp from the low length bits of raw,
// relative to the previous full timestamp last.
//
// When the low bits of raw are smaller than those of last the field is assumed to
// have wrapped exactly once, and 2^length is added.
//
// Parameters:
//   - last: Previous full or reconstructed timestamp
//   - raw: Value read from the compact field
//   - length: Width of the compact field in bits; 64 or more returns raw unchanged
//
// Returns:
//   - uint64: Reconstructed full timestamp
func WidenTimestamp(last, raw uint64, length int) uint64 {
	if length >= FullTimestampBits {
		return raw
	}
	if length <= 0 {
		return last
	}

	mask := uint64(1)<<uint(length) - 1
	v := raw & mask
	if v < last&mask {
		v += uint64(1) << uint(length)
	}

	return last&^mask + v
}

// CompactTimestampDecoder widens successive compact timestamps of one packet.
// It is not safe for concurrent use.
type CompactTimestampDecoder struct {
	last uint64
}

// NewCompactTimestampDecoder creates a decoder whose baseline is the packet begin time.
func NewCompactTimestampDecoder(baseline uint64) *CompactTimestampDecoder {
	return &CompactTimestampDecoder{last: baseline}
}

// Reset sets a new baseline, typically when moving to another packet.
func (d *CompactTimestampDecoder) Reset(baseline uint64) {
	d.last = baseline
}

// Last returns the most recent reconstructed timestamp.
func (d *CompactTimestampDecoder) Last() uint64 {
	return d.last
}

// Decode widens raw against the baseline and makes the result the new baseline.
func (d *CompactTimestampDecoder) Decode(raw uint64, length int) uint64 {
	d.last = WidenTimestamp(d.last, raw, length)

	return d.last
}
