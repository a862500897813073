package packet

import (
	"fmt"

	"github.com/arloliu/ctftrace/bitio"
	"github.com/arloliu/ctftrace/declaration"
	"github.com/arloliu/ctftrace/encoding"
	"github.com/arloliu/ctftrace/errs"
	"github.com/arloliu/ctftrace/event"
	"github.com/arloliu/ctftrace/internal/mapping"
	"github.com/arloliu/ctftrace/metadata"
)

// Reader decodes the events of the packet it is bound to.
//
// The reader exclusively owns the mapped window of its current packet until the
// next Bind or Close. It is not safe for concurrent use.
type Reader struct {
	source mapping.Source
	trace  *metadata.Trace
	stream *metadata.Stream

	entry  *IndexEntry
	window mapping.Window
	bits   *bitio.Reader

	header  *declaration.StructDefinition
	context *declaration.StructDefinition
	scope   declaration.ScopeChain

	timestamps   encoding.CompactTimestampDecoder
	lostPending  bool
	lostDuration int64
}

// NewReader creates a reader bound to no packet.
func NewReader(src mapping.Source, tr *metadata.Trace, st *metadata.Stream) *Reader {
	return &Reader{source: src, trace: tr, stream: st}
}

// Entry returns the bound packet, or nil.
func (r *Reader) Entry() *IndexEntry { return r.entry }

// PacketHeader returns the decoded trace packet header of the bound packet, or nil.
func (r *Reader) PacketHeader() *declaration.StructDefinition { return r.header }

// PacketContext returns the decoded packet context of the bound packet, or nil.
func (r *Reader) PacketContext() *declaration.StructDefinition { return r.context }

// Bind maps entry and positions the reader on its first event. prev is the entry
// preceding it in the same file (nil for the first packet) and only determines the
// duration reported by the lost-event record. A nil entry unbinds the reader.
//
// Parameters:
//   - entry: Packet to read, or nil
//   - prev: Previous packet of the file, or nil
//
// Returns:
//   - error: Mapping or decode failure; the reader is left unbound
func (r *Reader) Bind(entry, prev *IndexEntry) error {
	if err := r.release(); err != nil {
		return err
	}
	if entry == nil {
		return nil
	}

	w, err := r.source.Map(entry.OffsetBytes, int(entry.PacketSizeBytes()))
	if err != nil {
		return err
	}
	bits := bitio.NewReader(w.Bytes(), r.trace.ByteOrder)
	if err := bits.SetLimit(entry.ContentSizeBits); err != nil {
		_ = w.Release()
		return fmt.Errorf("%s offset %d: %w", r.source.Name(), entry.OffsetBytes, err)
	}
	header, context, err := decodeScopes(bits, r.trace, r.stream)
	if err != nil {
		_ = w.Release()
		return fmt.Errorf("%s offset %d: %w", r.source.Name(), entry.OffsetBytes, err)
	}

	r.entry = entry
	r.window = w
	r.bits = bits
	r.header = header
	r.context = context
	r.scope = r.scope[:0]
	if context != nil {
		r.scope = append(r.scope, context)
	}
	if header != nil {
		r.scope = append(r.scope, header)
	}

	r.timestamps.Reset(uint64(entry.TimestampBegin)) //nolint: gosec
	r.lostPending = entry.LostEvents > 0
	if prev != nil {
		r.lostDuration = absDiff(prev.TimestampEnd, entry.TimestampBegin)
	} else {
		r.lostDuration = entry.TimestampBegin + 1
	}

	return nil
}

// HasMoreEvents reports whether a lost-event record is pending or event data remains
// before the packet content size.
func (r *Reader) HasMoreEvents() bool {
	if r.entry == nil {
		return false
	}

	return r.lostPending || r.bits.Remaining() > 0
}

// ReadNextEvent decodes the next event of the bound packet. A packet reporting lost
// events yields one synthetic lost-event record before its first event.
//
// Returns:
//   - *event.Definition: The decoded event
//   - error: errs.ErrUnknownEventID for ids missing from the stream, errs.ErrEmptyEvent
//     when an event occupies zero bits, errs.ErrTruncated when data ends mid-event
func (r *Reader) ReadNextEvent() (*event.Definition, error) {
	if !r.HasMoreEvents() {
		return nil, fmt.Errorf("%w: no event left in packet", errs.ErrTruncated)
	}
	if r.lostPending {
		r.lostPending = false
		return r.lostEvent(), nil
	}

	start := r.bits.Position()
	ev, err := r.decodeEvent()
	if err != nil {
		return nil, fmt.Errorf("%s offset %d bit %d: %w", r.source.Name(), r.entry.OffsetBytes, start, err)
	}
	if r.bits.Position() == start {
		return nil, fmt.Errorf("%w: event %d in %s offset %d bit %d",
			errs.ErrEmptyEvent, ev.ID, r.source.Name(), r.entry.OffsetBytes, start)
	}

	return ev, nil
}

// Close releases the mapped window.
func (r *Reader) Close() error {
	return r.release()
}

func (r *Reader) decodeEvent() (*event.Definition, error) {
	id, ts, header, err := r.readHeader()
	if err != nil {
		return nil, fmt.Errorf("event header: %w", err)
	}
	decl, ok := r.stream.Event(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d in stream %d", errs.ErrUnknownEventID, id, r.stream.ID)
	}

	ev := &event.Definition{
		Declaration:   decl,
		ID:            id,
		StreamID:      r.stream.ID,
		Timestamp:     int64(ts), //nolint: gosec
		Target:        r.entry.Target,
		TargetID:      r.entry.TargetID,
		Header:        header,
		PacketContext: r.context,
	}

	scope := r.scope
	if hs, ok := header.(*declaration.StructDefinition); ok {
		scope = append(declaration.ScopeChain{hs}, scope...)
	}
	if ev.StreamContext, err = decodeStruct(r.bits, r.stream.EventContext, scope); err != nil {
		return nil, fmt.Errorf("stream event context: %w", err)
	}
	if ev.StreamContext != nil {
		scope = append(declaration.ScopeChain{ev.StreamContext}, scope...)
	}
	if ev.Context, err = decodeStruct(r.bits, decl.Context, scope); err != nil {
		return nil, fmt.Errorf("event %q context: %w", decl.Name, err)
	}
	if ev.Context != nil {
		scope = append(declaration.ScopeChain{ev.Context}, scope...)
	}
	if ev.Fields, err = decodeStruct(r.bits, decl.Fields, scope); err != nil {
		return nil, fmt.Errorf("event %q fields: %w", decl.Name, err)
	}

	return ev, nil
}

// readHeader decodes the event header and returns the event id and reconstructed timestamp.
func (r *Reader) readHeader() (uint64, uint64, declaration.Definition, error) {
	if r.stream.EventHeader == nil {
		return 0, r.timestamps.Last(), nil, nil
	}

	def, err := r.stream.EventHeader.Decode(r.bits, r.scope)
	if err != nil {
		return 0, 0, nil, err
	}

	switch h := def.(type) {
	case *declaration.EventHeaderDefinition:
		return h.ID, r.timestamps.Decode(h.Timestamp, h.TimestampLength), h, nil
	case *declaration.StructDefinition:
		id, raw, length, hasTimestamp := structHeaderFields(h)
		if !hasTimestamp {
			return id, r.timestamps.Last(), h, nil
		}

		return id, r.timestamps.Decode(raw, length), h, nil
	default:
		return 0, 0, nil, fmt.Errorf("%w: unsupported event header %T", errs.ErrInvalidDeclaration, def)
	}
}

// structHeaderFields extracts id and timestamp from a struct event header. Values
// found in the selected branch of the "v" variant override the outer ones.
func structHeaderFields(h *declaration.StructDefinition) (id, raw uint64, length int, hasTimestamp bool) {
	id, _ = declaration.IntegerValue(h.Field(metadata.FieldEventID))
	if ts, ok := h.Field(metadata.FieldEventTimestamp).(*declaration.IntegerDefinition); ok {
		raw, length, hasTimestamp = ts.Value, ts.Length(), true
	}

	v, ok := h.Field(metadata.FieldEventVariant).(*declaration.VariantDefinition)
	if !ok {
		return id, raw, length, hasTimestamp
	}
	inner, ok := v.Current.(*declaration.StructDefinition)
	if !ok {
		return id, raw, length, hasTimestamp
	}
	if innerID, ok := declaration.IntegerValue(inner.Field(metadata.FieldEventID)); ok {
		id = innerID
	}
	if ts, ok := inner.Field(metadata.FieldEventTimestamp).(*declaration.IntegerDefinition); ok {
		raw, length, hasTimestamp = ts.Value, ts.Length(), true
	}

	return id, raw, length, hasTimestamp
}

func (r *Reader) lostEvent() *event.Definition {
	return &event.Definition{
		Declaration:   metadata.LostEventDeclaration,
		ID:            metadata.LostEventID,
		StreamID:      r.stream.ID,
		Timestamp:     r.entry.TimestampBegin,
		Target:        r.entry.Target,
		TargetID:      r.entry.TargetID,
		PacketContext: r.context,
		Lost: &event.Lost{
			Count:    r.entry.LostEvents,
			Duration: r.lostDuration,
		},
	}
}

func (r *Reader) release() error {
	r.entry = nil
	r.bits = nil
	r.header = nil
	r.context = nil
	r.lostPending = false
	if r.window == nil {
		return nil
	}
	w := r.window
	r.window = nil

	return w.Release()
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}

	return b - a
}
