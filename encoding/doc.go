// Package encoding decodes the timestamp encodings used by event headers.
//
// Event headers usually carry only the low bits of the event time to keep per-event
// overhead small: a compact header stores 27 bits, a large header 32 bits. The
// full time is recovered by widening each compact value against the last full or
// reconstructed timestamp of the same packet:
//
//	dec := encoding.NewCompactTimestampDecoder(packetBegin)
//	ts := dec.Decode(raw, 27)
//
// # Overflow Assumption
//
// Widening assumes the compact field wrapped at most once between two consecutive
// events. A gap of 2^len cycles or more between events cannot be detected from the
// data and must be encoded by the tracer with a full 64-bit timestamp.
package encoding
