// Package metadata describes the schema of a trace: its byte order, the packet header
// shared by all streams, and per stream the packet context, event header, context and
// event declarations.
//
// Metadata is loaded from a YAML document (see Parse for the format). A live trace may
// append declarations to its metadata while it is being read; Trace.Merge folds a
// re-parsed document into the schema already in use.
package metadata

import (
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/arloliu/ctftrace/declaration"
	"github.com/arloliu/ctftrace/endian"
	"github.com/arloliu/ctftrace/errs"
	"github.com/google/uuid"
)

// PacketMagic is the value of the packet header "magic" field.
const PacketMagic uint32 = 0xC1FC1FC1

// Well-known packet header and packet context field names.
const (
	FieldMagic           = "magic"
	FieldUUID            = "uuid"
	FieldStreamID        = "stream_id"
	FieldPacketSize      = "packet_size"
	FieldContentSize     = "content_size"
	FieldTimestampBegin  = "timestamp_begin"
	FieldTimestampEnd    = "timestamp_end"
	FieldEventsDiscarded = "events_discarded"
	FieldCPUID           = "cpu_id"
)

// Well-known event header field names for struct event headers.
const (
	FieldEventID        = "id"
	FieldEventTimestamp = "timestamp"
	FieldEventVariant   = "v"
)

// LostEventID is the id of synthetic lost-event records. No declared event may use it.
const LostEventID uint64 = math.MaxUint64

// LostEventName is the name of synthetic lost-event records.
const LostEventName = "Lost event"

// LostEventDeclaration declares the synthetic record reporting events dropped by the tracer.
var LostEventDeclaration = &EventDeclaration{ID: LostEventID, Name: LostEventName}

// Trace is the schema of a whole trace.
type Trace struct {
	Major     int
	Minor     int
	UUID      uuid.UUID
	ByteOrder endian.EndianEngine
	// PacketHeader is nil when packets carry no trace-level header.
	PacketHeader *declaration.StructDeclaration
	Clocks       []*Clock
	Env          map[string]string
	Streams      map[uint64]*Stream

	digest uint64
}

// Stream is the schema of one stream class.
type Stream struct {
	ID            uint64
	PacketContext *declaration.StructDeclaration
	// EventHeader is an EventHeaderCompactDeclaration, an EventHeaderLargeDeclaration or
	// a StructDeclaration with "id", "timestamp" and optional variant "v" fields.
	EventHeader declaration.Declaration
	// EventContext is decoded after the header of every event of the stream.
	EventContext *declaration.StructDeclaration
	Events       map[uint64]*EventDeclaration
}

// EventDeclaration is the schema of one event type.
type EventDeclaration struct {
	ID       uint64
	Name     string
	StreamID uint64
	LogLevel int
	Context  *declaration.StructDeclaration
	Fields   *declaration.StructDeclaration
}

// HasUUID reports whether the trace declares a UUID that packets must match.
func (t *Trace) HasUUID() bool { return t.UUID != uuid.Nil }

// Digest returns the xxHash64 digest of the document the trace was parsed from.
func (t *Trace) Digest() uint64 { return t.digest }

// Stream returns the stream with the given id.
func (t *Trace) Stream(id uint64) (*Stream, error) {
	st, ok := t.Streams[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", errs.ErrUnknownStream, id)
	}

	return st, nil
}

// StreamIDs returns the declared stream ids in ascending order.
func (t *Trace) StreamIDs() []uint64 {
	return slices.Sorted(maps.Keys(t.Streams))
}

// Clock returns the clock with the given name, or nil.
func (t *Trace) Clock(name string) *Clock {
	for _, c := range t.Clocks {
		if c.Name == name {
			return c
		}
	}

	return nil
}

// DefaultClock returns the first declared clock, or a 1 GHz clock when none is declared.
func (t *Trace) DefaultClock() *Clock {
	if len(t.Clocks) > 0 {
		return t.Clocks[0]
	}

	return &Clock{Name: "default", Frequency: nanosPerSecond}
}

// Event returns the declaration of the event with the given id.
func (s *Stream) Event(id uint64) (*EventDeclaration, bool) {
	ev, ok := s.Events[id]
	return ev, ok
}

// Merge adds the streams, events and clocks of other that t does not declare yet.
// Redefining an existing stream event under another name, or a different trace UUID,
// fails with errs.ErrMetadataConflict and leaves t unchanged.
//
// Parameters:
//   - other: Schema re-parsed from the grown metadata document
//
// Returns:
//   - int: Number of event declarations added
//   - error: errs.ErrMetadataConflict on incompatible redefinitions
func (t *Trace) Merge(other *Trace) (int, error) {
	if t.UUID != other.UUID {
		return 0, fmt.Errorf("%w: trace uuid changed from %s to %s", errs.ErrMetadataConflict, t.UUID, other.UUID)
	}
	for id, ost := range other.Streams {
		st, ok := t.Streams[id]
		if !ok {
			continue
		}
		for evID, oev := range ost.Events {
			if ev, ok := st.Events[evID]; ok && ev.Name != oev.Name {
				return 0, fmt.Errorf("%w: stream %d event %d renamed from %q to %q",
					errs.ErrMetadataConflict, id, evID, ev.Name, oev.Name)
			}
		}
	}

	added := 0
	for id, ost := range other.Streams {
		st, ok := t.Streams[id]
		if !ok {
			t.Streams[id] = ost
			added += len(ost.Events)

			continue
		}
		for evID, oev := range ost.Events {
			if _, ok := st.Events[evID]; !ok {
				st.Events[evID] = oev
				added++
			}
		}
	}
	for _, c := range other.Clocks {
		if t.Clock(c.Name) == nil {
			t.Clocks = append(t.Clocks, c)
		}
	}
	if t.Env == nil {
		t.Env = make(map[string]string, len(other.Env))
	}
	maps.Copy(t.Env, other.Env)
	t.digest = other.digest

	return added, nil
}
