package tracetest

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"testing"

	"github.com/arloliu/ctftrace/declaration"
	"github.com/arloliu/ctftrace/metadata"
	"github.com/stretchr/testify/require"
)

// KernelMetadata is a little-endian kernel-style schema: a full packet header, a
// packet context with sizes, timestamps, discard counter and cpu id, compact event
// headers and two events.
const KernelMetadata = `
major: 1
minor: 8
uuid: 2a6422d0-6cee-11e0-8c08-cb07d7b3a564
byte_order: le
clocks:
  - {name: monotonic, freq: 1000000000}
packet_header:
  - {name: magic, type: uint32}
  - {name: uuid, type: array, length: 16, element: uint8}
  - {name: stream_id, type: uint32}
streams:
  - id: 0
    packet_context:
      - {name: timestamp_begin, type: uint64, clock: monotonic}
      - {name: timestamp_end, type: uint64, clock: monotonic}
      - {name: content_size, type: uint64}
      - {name: packet_size, type: uint64}
      - {name: events_discarded, type: uint64}
      - {name: cpu_id, type: uint32}
    event_header: compact
    events:
      - id: 0
        name: sched_switch
        fields:
          - {name: prev_comm, type: string}
          - {name: prev_tid, type: int32}
          - {name: next_tid, type: int32}
      - id: 1
        name: irq_handler_entry
        fields:
          - {name: irq, type: uint32}
  - id: 1
    packet_context:
      - {name: timestamp_begin, type: uint64}
      - {name: timestamp_end, type: uint64}
      - {name: content_size, type: uint64}
      - {name: packet_size, type: uint64}
    event_header: large
    events:
      - id: 0
        name: tracef
        fields:
          - {name: msg, type: string}
`

// Event is one event to encode. Header, when set, replaces the automatically built
// event header value.
type Event struct {
	ID            uint64
	Timestamp     uint64
	Fields        map[string]any
	Context       map[string]any
	StreamContext map[string]any
	Header        any
}

// Packet describes one packet to encode. Header and Context override the values
// EncodePacket derives (magic, uuid, stream_id, sizes, timestamps, counters).
type Packet struct {
	StreamID  uint64
	Begin     uint64
	End       uint64
	Discarded uint64
	CPU       uint64
	// Padding is the number of zero bytes after the content.
	Padding int64
	Events  []Event
	Header  map[string]any
	Context map[string]any
}

// Metadata parses doc or fails the test.
func Metadata(t testing.TB, doc string) *metadata.Trace {
	t.Helper()

	tr, err := metadata.Parse([]byte(doc))
	require.NoError(t, err)

	return tr
}

// EncodePacket encodes p with the layout of tr.
func EncodePacket(tr *metadata.Trace, p Packet) ([]byte, error) {
	st, err := tr.Stream(p.StreamID)
	if err != nil {
		return nil, err
	}

	// First pass measures the content; the second writes the real sizes, which
	// have fixed widths and therefore do not move anything.
	w, err := encodePacket(tr, st, p, 0, 0)
	if err != nil {
		return nil, err
	}
	content := w.Position()
	packet := (content+7)/8*8 + p.Padding*8

	w, err = encodePacket(tr, st, p, content, packet)
	if err != nil {
		return nil, err
	}
	w.PadTo(packet)

	return w.Bytes(), nil
}

func encodePacket(tr *metadata.Trace, st *metadata.Stream, p Packet, content, packet int64) (*BitWriter, error) {
	w := NewBitWriter(tr.ByteOrder)

	if tr.PacketHeader != nil {
		uuid := make([]any, 16)
		for i, b := range tr.UUID {
			uuid[i] = b
		}
		header := map[string]any{
			metadata.FieldMagic:    metadata.PacketMagic,
			metadata.FieldUUID:     uuid,
			metadata.FieldStreamID: p.StreamID,
		}
		maps.Copy(header, p.Header)
		if err := Encode(w, tr.PacketHeader, header); err != nil {
			return nil, fmt.Errorf("packet header: %w", err)
		}
	}

	end := p.End
	if end == 0 {
		end = p.Begin
		if len(p.Events) > 0 {
			end = max(p.Begin, p.Events[len(p.Events)-1].Timestamp)
		}
	}
	if st.PacketContext != nil {
		context := map[string]any{
			metadata.FieldTimestampBegin:  p.Begin,
			metadata.FieldTimestampEnd:    end,
			metadata.FieldContentSize:     content,
			metadata.FieldPacketSize:      packet,
			metadata.FieldEventsDiscarded: p.Discarded,
			metadata.FieldCPUID:           p.CPU,
		}
		maps.Copy(context, p.Context)
		if err := Encode(w, st.PacketContext, context); err != nil {
			return nil, fmt.Errorf("packet context: %w", err)
		}
	}

	prev := p.Begin
	for i, ev := range p.Events {
		if err := encodeEvent(w, st, ev, prev); err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		prev = ev.Timestamp
	}

	return w, nil
}

func encodeEvent(w *BitWriter, st *metadata.Stream, ev Event, prev uint64) error {
	decl, ok := st.Event(ev.ID)
	if !ok && ev.Header == nil {
		return fmt.Errorf("stream %d has no event %d", st.ID, ev.ID)
	}

	header := ev.Header
	if header == nil {
		switch st.EventHeader.(type) {
		case *declaration.EventHeaderCompactDeclaration:
			header = unifiedHeader(ev, prev, 5, 27)
		case *declaration.EventHeaderLargeDeclaration:
			header = unifiedHeader(ev, prev, 16, 32)
		case *declaration.StructDeclaration:
			header = map[string]any{metadata.FieldEventID: ev.ID, metadata.FieldEventTimestamp: ev.Timestamp}
		}
	}
	if st.EventHeader != nil {
		if err := Encode(w, st.EventHeader, header); err != nil {
			return fmt.Errorf("header: %w", err)
		}
	}
	if st.EventContext != nil {
		if err := Encode(w, st.EventContext, ev.StreamContext); err != nil {
			return fmt.Errorf("stream event context: %w", err)
		}
	}
	if decl == nil {
		return nil
	}
	if decl.Context != nil {
		if err := Encode(w, decl.Context, ev.Context); err != nil {
			return fmt.Errorf("context: %w", err)
		}
	}
	if decl.Fields != nil {
		if err := Encode(w, decl.Fields, ev.Fields); err != nil {
			return fmt.Errorf("fields: %w", err)
		}
	}

	return nil
}

// unifiedHeader picks the compact form when the id fits and the timestamp can be
// widened from prev, and the extended form otherwise.
func unifiedHeader(ev Event, prev uint64, idBits, tsBits int) Header {
	maxID := uint64(1)<<idBits - 1
	wrap := uint64(1) << tsBits
	extended := ev.ID >= maxID || ev.Timestamp < prev || ev.Timestamp-prev >= wrap

	return Header{ID: ev.ID, Timestamp: ev.Timestamp, Extended: extended}
}

// WriteStreamFile encodes packets into a new file at path.
func WriteStreamFile(t testing.TB, path string, tr *metadata.Trace, packets ...Packet) {
	t.Helper()

	require.NoError(t, os.WriteFile(path, encodeAll(t, tr, packets), 0o644))
}

// AppendPackets appends encoded packets to the file at path, as a live tracer does.
func AppendPackets(t testing.TB, path string, tr *metadata.Trace, packets ...Packet) {
	t.Helper()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Write(encodeAll(t, tr, packets))
	require.NoError(t, err)
}

// WriteTrace writes a trace directory with the metadata document doc and one stream
// file per entry of files.
func WriteTrace(t testing.TB, dir, doc string, files map[string][]Packet) *metadata.Trace {
	t.Helper()

	require.NoError(t, os.WriteFile(filepath.Join(dir, metadata.FileName), []byte(doc), 0o644))
	tr := Metadata(t, doc)
	for name, packets := range files {
		WriteStreamFile(t, filepath.Join(dir, name), tr, packets...)
	}

	return tr
}

func encodeAll(t testing.TB, tr *metadata.Trace, packets []Packet) []byte {
	t.Helper()

	var out []byte
	for i, p := range packets {
		data, err := EncodePacket(tr, p)
		require.NoError(t, err, "packet %d", i)
		out = append(out, data...)
	}

	return out
}

// Switch returns a sched_switch event of KernelMetadata.
func Switch(ts uint64, prevTid, nextTid int32) Event {
	return Event{
		ID:        0,
		Timestamp: ts,
		Fields: map[string]any{
			"prev_comm": fmt.Sprintf("task-%d", prevTid),
			"prev_tid":  prevTid,
			"next_tid":  nextTid,
		},
	}
}

// IRQ returns an irq_handler_entry event of KernelMetadata.
func IRQ(ts uint64, irq uint32) Event {
	return Event{ID: 1, Timestamp: ts, Fields: map[string]any{"irq": irq}}
}
