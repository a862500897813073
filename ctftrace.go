// Package ctftrace reads packetized binary traces in the Common Trace Format style:
// a directory holding a metadata document that describes the stream layouts and
// one binary file per stream and CPU, each a sequence of self-framed packets.
//
// The reader merges every stream file into a single cursor that yields events in
// non-decreasing timestamp order, decoding packets lazily through bounded
// memory-mapped windows so traces of any size can be read with constant memory.
//
// # Core Features
//
//   - Lazy packet indexing: packet headers are decoded only when a reader reaches them
//   - Compact timestamp reconstruction for 27-bit and 32-bit event header timestamps
//   - Lost-event records synthesized from the per-packet discard counter
//   - Binary search seeking by timestamp, and positioning on the last event
//   - Live traces: files that are still growing report WAIT instead of finishing
//   - Compressed stream files (.zst, .s2, .lz4)
//   - Structured logging with logrus and optional Prometheus metrics
//
// # Basic Usage
//
// Reading a whole trace:
//
//	r, err := ctftrace.Open("/path/to/trace")
//	if err != nil {
//		return err
//	}
//	defer r.Close()
//
//	for ev, err := range r.Events() {
//		if err != nil {
//			return err
//		}
//		fmt.Println(ev)
//	}
//
// Seeking and converting timestamps:
//
//	skipped, err := r.Seek(start)
//	ev := r.CurrentEvent()
//	ns := ctftrace.Nanos(r.Trace(), ev.Timestamp)
//
// # Package Structure
//
// This package provides convenience wrappers. The reader stack lives in its own
// packages:
//
//   - trace: merged cursor over all stream files (TraceReader)
//   - stream: per-file reader and lazy packet indexing (StreamReader, StreamInput)
//   - packet: packet index, header parsing and event decoding (PacketIndex, PacketReader)
//   - metadata: trace schema loaded from metadata.yaml
//   - declaration, bitio: field declarations and the bit-level decoder
//   - event: decoded event records
//
// # Timestamps
//
// Event timestamps are raw clock cycles of the trace clock. Nanos converts them
// with the first declared clock.
package ctftrace

import (
	"path/filepath"

	"github.com/arloliu/ctftrace/metadata"
	"github.com/arloliu/ctftrace/stream"
	"github.com/arloliu/ctftrace/trace"
)

// Open opens the trace directory dir and positions the cursor on its first event.
//
// Parameters:
//   - dir: Trace directory holding metadata.yaml and the stream files
//   - opts: Reader options (trace.WithLive, trace.WithLogger, trace.WithMetrics, ...)
//
// Returns:
//   - *trace.Reader: Merged event cursor
//   - error: Metadata, I/O or format error
//
// Example:
//
//	r, err := ctftrace.Open(dir, trace.WithLive(true))
func Open(dir string, opts ...trace.Option) (*trace.Reader, error) {
	return trace.Open(dir, opts...)
}

// OpenStream opens a single stream file of the trace described by tr.
func OpenStream(path string, tr *metadata.Trace, opts ...stream.ReaderOption) (*stream.Reader, error) {
	return stream.Open(path, tr, opts...)
}

// LoadMetadata loads the metadata document of the trace directory dir.
func LoadMetadata(dir string) (*metadata.Trace, error) {
	return metadata.Load(filepath.Join(dir, metadata.FileName))
}

// Nanos converts a timestamp in cycles of tr's default clock to nanoseconds.
// Negative timestamps are returned unchanged.
func Nanos(tr *metadata.Trace, ts int64) int64 {
	if ts < 0 {
		return ts
	}

	return tr.DefaultClock().CyclesToNanos(uint64(ts))
}
