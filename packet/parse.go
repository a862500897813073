package packet

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/arloliu/ctftrace/bitio"
	"github.com/arloliu/ctftrace/declaration"
	"github.com/arloliu/ctftrace/errs"
	"github.com/arloliu/ctftrace/internal/mapping"
	"github.com/arloliu/ctftrace/metadata"
)

// DefaultHeaderWindow is the initial number of bytes mapped to decode a packet
// header and context while indexing. The window doubles when the context does not fit.
const DefaultHeaderWindow = 4 * 1024

// Parsed is the result of decoding the header and context of one packet.
type Parsed struct {
	Entry *IndexEntry
	// EventsDiscarded is the raw cumulative discard counter of the packet context.
	EventsDiscarded uint64
}

// Parse decodes the header and context of the packet at offset and builds its
// index entry. LostEvents is left at zero; the caller turns EventsDiscarded into a
// per-packet delta.
//
// Parameters:
//   - src: Stream file
//   - tr: Trace schema
//   - st: Stream owning the file; packets of another stream are rejected
//   - offset: File offset of the packet start
//   - window: Initial mapping size in bytes; zero uses DefaultHeaderWindow
//
// Returns:
//   - *Parsed: Entry and raw discard counter
//   - error: Format errors (magic, uuid, stream id, sizes) or mapping failures
func Parse(src mapping.Source, tr *metadata.Trace, st *metadata.Stream, offset, window int64) (*Parsed, error) {
	size, err := src.Size()
	if err != nil {
		return nil, err
	}
	remaining := size - offset
	if remaining <= 0 {
		return nil, fmt.Errorf("%w: no packet at offset %d of %s", errs.ErrTruncated, offset, src.Name())
	}
	if window <= 0 {
		window = DefaultHeaderWindow
	}

	header, context, payloadStart, err := decodeAt(src, tr, st, offset, min(window, remaining), remaining)
	if err != nil {
		return nil, err
	}
	if err := checkHeader(header, tr, st); err != nil {
		return nil, fmt.Errorf("%s offset %d: %w", src.Name(), offset, err)
	}

	entry := &IndexEntry{
		OffsetBytes:      offset,
		OffsetBits:       offset * 8,
		PacketSizeBits:   remaining * 8,
		PayloadStartBits: payloadStart,
		TimestampEnd:     UnboundedTimestamp,
		StreamID:         st.ID,
		Target:           strconv.FormatUint(st.ID, 10),
		TargetID:         int64(st.ID), //nolint: gosec
	}
	var discarded uint64
	if context != nil {
		if v, ok := context.Uint(metadata.FieldPacketSize); ok {
			entry.PacketSizeBits = int64(v) //nolint: gosec
		}
		entry.ContentSizeBits = entry.PacketSizeBits
		if v, ok := context.Uint(metadata.FieldContentSize); ok {
			entry.ContentSizeBits = int64(v) //nolint: gosec
		}
		if v, ok := context.Uint(metadata.FieldTimestampBegin); ok {
			entry.TimestampBegin = int64(v) //nolint: gosec
		}
		if v, ok := context.Uint(metadata.FieldTimestampEnd); ok {
			entry.TimestampEnd = int64(v) //nolint: gosec
		}
		if v, ok := context.Uint(metadata.FieldEventsDiscarded); ok {
			discarded = v
		}
		if v, ok := context.Uint(metadata.FieldCPUID); ok {
			entry.Target = "CPU" + strconv.FormatUint(v, 10)
			entry.TargetID = int64(v) //nolint: gosec
		}
		entry.Attributes = attributes(context)
	} else {
		entry.ContentSizeBits = entry.PacketSizeBits
	}

	if err := entry.Validate(remaining); err != nil {
		return nil, fmt.Errorf("%s: %w", src.Name(), err)
	}

	return &Parsed{Entry: entry, EventsDiscarded: discarded}, nil
}

// PeekStreamID returns the stream id of the first packet of src. Traces whose
// packets carry no stream_id must declare exactly one stream.
func PeekStreamID(src mapping.Source, tr *metadata.Trace, window int64) (uint64, error) {
	if tr.PacketHeader == nil || !tr.PacketHeader.HasField(metadata.FieldStreamID) {
		if len(tr.Streams) != 1 {
			return 0, fmt.Errorf("%w: %s: packets carry no stream_id and the trace declares %d streams",
				errs.ErrUnknownStream, src.Name(), len(tr.Streams))
		}

		return tr.StreamIDs()[0], nil
	}

	size, err := src.Size()
	if err != nil {
		return 0, err
	}
	if window <= 0 {
		window = DefaultHeaderWindow
	}
	window = min(window, size)
	for {
		w, err := src.Map(0, int(window))
		if err != nil {
			return 0, err
		}
		def, decodeErr := tr.PacketHeader.Decode(bitio.NewReader(w.Bytes(), tr.ByteOrder), nil)
		if err := w.Release(); err != nil {
			return 0, err
		}

		if errors.Is(decodeErr, errs.ErrTruncated) && window < size {
			window = min(window*2, size)
			continue
		}
		if decodeErr != nil {
			return 0, fmt.Errorf("%s: packet header: %w", src.Name(), decodeErr)
		}
		id, _ := def.(*declaration.StructDefinition).Uint(metadata.FieldStreamID)

		return id, nil
	}
}
// decodeAt maps a window at offset and decodes header and context, growing the
// window up to limit bytes while the context does not fit. It returns the bit
// position of the first event relative to the packet start.
func decodeAt(src mapping.Source, tr *metadata.Trace, st *metadata.Stream, offset, window, limit int64) (
	*declaration.StructDefinition, *declaration.StructDefinition, int64, error,
) {
	for {
		w, err := src.Map(offset, int(window))
		if err != nil {
			return nil, nil, 0, err
		}
		r := bitio.NewReader(w.Bytes(), tr.ByteOrder)
		header, context, decodeErr := decodeScopes(r, tr, st)
		payloadStart := r.Position()
		if err := w.Release(); err != nil {
			return nil, nil, 0, err
		}

		if errors.Is(decodeErr, errs.ErrTruncated) && window < limit {
			window = min(window*2, limit)
			continue
		}
		if decodeErr != nil {
			return nil, nil, 0, fmt.Errorf("%s offset %d: %w", src.Name(), offset, decodeErr)
		}

		return header, context, payloadStart, nil
	}
}

// decodeScopes decodes the packet header and packet context at the reader position.
func decodeScopes(r *bitio.Reader, tr *metadata.Trace, st *metadata.Stream) (header, context *declaration.StructDefinition, err error) {
	if header, err = decodeStruct(r, tr.PacketHeader, nil); err != nil {
		return nil, nil, fmt.Errorf("packet header: %w", err)
	}

	var scope declaration.Scope
	if header != nil {
		scope = header
	}
	if context, err = decodeStruct(r, st.PacketContext, scope); err != nil {
		return nil, nil, fmt.Errorf("packet context: %w", err)
	}

	return header, context, nil
}

func decodeStruct(r *bitio.Reader, decl *declaration.StructDeclaration, scope declaration.Scope) (*declaration.StructDefinition, error) {
	if decl == nil {
		return nil, nil //nolint: nilnil
	}
	def, err := decl.Decode(r, scope)
	if err != nil {
		return nil, err
	}

	return def.(*declaration.StructDefinition), nil
}

// checkHeader validates the trace-level packet header against the schema.
func checkHeader(header *declaration.StructDefinition, tr *metadata.Trace, st *metadata.Stream) error {
	if header == nil {
		return nil
	}
	if magic, ok := header.Uint(metadata.FieldMagic); ok && magic != uint64(metadata.PacketMagic) {
		return fmt.Errorf("%w: 0x%08x", errs.ErrInvalidMagicNumber, magic)
	}
	if tr.HasUUID() {
		if arr, ok := header.Field(metadata.FieldUUID).(*declaration.ArrayDefinition); ok {
			id, ok := arr.Bytes()
			if !ok || !bytes.Equal(id, tr.UUID[:]) {
				return fmt.Errorf("%w: packet uuid %x, trace uuid %s", errs.ErrUUIDMismatch, id, tr.UUID)
			}
		}
	}
	if id, ok := header.Uint(metadata.FieldStreamID); ok && id != st.ID {
		return fmt.Errorf("%w: packet stream %d in a file of stream %d", errs.ErrStreamIDMismatch, id, st.ID)
	}

	return nil
}

func attributes(context *declaration.StructDefinition) map[string]any {
	attrs := make(map[string]any)
	for _, name := range context.Names() {
		switch f := context.Field(name).(type) {
		case *declaration.IntegerDefinition:
			if f.Declaration().(*declaration.IntegerDeclaration).Signed {
				attrs[name] = f.Int()
			} else {
				attrs[name] = f.Value
			}
		case *declaration.EnumDefinition:
			attrs[name] = f.Integer.Value
		case *declaration.FloatDefinition:
			attrs[name] = f.Value
		case *declaration.StringDefinition:
			attrs[name] = f.Value
		}
	}

	return attrs
}
