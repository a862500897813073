package packet

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/arloliu/ctftrace/errs"
	"github.com/arloliu/ctftrace/internal/mapping"
	"github.com/arloliu/ctftrace/internal/tracetest"
	"github.com/arloliu/ctftrace/metadata"
	"github.com/stretchr/testify/require"
)

// kernel packet: 24 byte header + 44 byte context
const kernelPayloadStartBits = (24 + 44) * 8

func encode(t *testing.T, tr *metadata.Trace, packets ...tracetest.Packet) []byte {
	t.Helper()

	var out []byte
	for _, p := range packets {
		data, err := tracetest.EncodePacket(tr, p)
		require.NoError(t, err)
		out = append(out, data...)
	}

	return out
}

func memorySource(t *testing.T, tr *metadata.Trace, packets ...tracetest.Packet) mapping.Source {
	t.Helper()

	return mapping.NewMemorySource("channel0_0", encode(t, tr, packets...))
}

func TestParse_KernelPacket(t *testing.T) {
	tr := tracetest.Metadata(t, tracetest.KernelMetadata)
	st, err := tr.Stream(0)
	require.NoError(t, err)

	first := tracetest.Packet{
		Begin: 100, End: 300, Discarded: 7, CPU: 2, Padding: 32,
		Events: []tracetest.Event{tracetest.Switch(150, 1, 2), tracetest.IRQ(250, 9)},
	}
	second := tracetest.Packet{Begin: 300, End: 400, CPU: 2, Events: []tracetest.Event{tracetest.IRQ(350, 3)}}
	src := memorySource(t, tr, first, second)

	parsed, err := Parse(src, tr, st, 0, 0)
	require.NoError(t, err)
	e := parsed.Entry

	require.Equal(t, uint64(7), parsed.EventsDiscarded)
	require.Equal(t, int64(0), e.OffsetBytes)
	require.Equal(t, int64(0), e.OffsetBits)
	require.Equal(t, int64(kernelPayloadStartBits), e.PayloadStartBits)
	require.Equal(t, int64(100), e.TimestampBegin)
	require.Equal(t, int64(300), e.TimestampEnd)
	require.Equal(t, "CPU2", e.Target)
	require.Equal(t, int64(2), e.TargetID)
	require.Equal(t, uint64(0), e.StreamID)
	require.Zero(t, e.LostEvents)
	require.True(t, e.HasEvents())
	require.Equal(t, e.ContentSizeBits+32*8, e.PacketSizeBits, "padding follows the content")
	require.Equal(t, uint64(2), e.Attributes[metadata.FieldCPUID])
	require.Equal(t, uint64(e.PacketSizeBits), e.Attributes[metadata.FieldPacketSize])

	next, err := Parse(src, tr, st, e.NextOffsetBytes(), 0)
	require.NoError(t, err)
	require.Equal(t, e.NextOffsetBytes(), next.Entry.OffsetBytes)
	require.Equal(t, e.NextOffsetBytes()*8, next.Entry.OffsetBits)
	require.Equal(t, int64(300), next.Entry.TimestampBegin)

	size, err := src.Size()
	require.NoError(t, err)
	require.Equal(t, size, next.Entry.NextOffsetBytes())

	_, err = Parse(src, tr, st, size, 0)
	require.ErrorIs(t, err, errs.ErrTruncated)
}

func TestParse_SmallWindowGrows(t *testing.T) {
	tr := tracetest.Metadata(t, tracetest.KernelMetadata)
	st, err := tr.Stream(0)
	require.NoError(t, err)

	src := memorySource(t, tr, tracetest.Packet{Begin: 1, End: 2, Events: []tracetest.Event{tracetest.IRQ(2, 1)}})

	parsed, err := Parse(src, tr, st, 0, 8)
	require.NoError(t, err)
	require.Equal(t, int64(kernelPayloadStartBits), parsed.Entry.PayloadStartBits)
}

func TestParse_MissingContextFields(t *testing.T) {
	doc := "streams:\n  - id: 0\n    packet_context: [{name: cpu_id, type: uint8}]\n    event_header: compact\n    events: [{id: 0, name: tick}]\n"
	tr := tracetest.Metadata(t, doc)
	st, err := tr.Stream(0)
	require.NoError(t, err)

	src := memorySource(t, tr, tracetest.Packet{CPU: 5, Padding: 7})

	parsed, err := Parse(src, tr, st, 0, 0)
	require.NoError(t, err)
	e := parsed.Entry

	require.Equal(t, int64(8*8), e.PacketSizeBits, "packet size defaults to the rest of the file")
	require.Equal(t, e.PacketSizeBits, e.ContentSizeBits)
	require.Equal(t, int64(0), e.TimestampBegin)
	require.Equal(t, int64(math.MaxInt64), e.TimestampEnd)
	require.Equal(t, "CPU5", e.Target)
}

func TestParse_NoContextTargetsStream(t *testing.T) {
	tr := tracetest.Metadata(t, "streams:\n  - id: 4\n    event_header: large\n    events: [{id: 0, name: x}]\n")
	st, err := tr.Stream(4)
	require.NoError(t, err)

	src := mapping.NewMemorySource("s", make([]byte, 16))
	parsed, err := Parse(src, tr, st, 0, 0)
	require.NoError(t, err)
	require.Equal(t, "4", parsed.Entry.Target)
	require.Equal(t, int64(4), parsed.Entry.TargetID)
	require.Equal(t, int64(128), parsed.Entry.ContentSizeBits)
}

func TestParse_FormatErrors(t *testing.T) {
	tr := tracetest.Metadata(t, tracetest.KernelMetadata)
	st, err := tr.Stream(0)
	require.NoError(t, err)

	zeroUUID := make([]any, 16)
	for i := range zeroUUID {
		zeroUUID[i] = uint8(0)
	}

	testCases := []struct {
		name     string
		packet   tracetest.Packet
		expected error
	}{
		{
			name:     "bad magic",
			packet:   tracetest.Packet{Header: map[string]any{metadata.FieldMagic: uint32(0xdeadbeef)}},
			expected: errs.ErrInvalidMagicNumber,
		},
		{
			name:     "uuid mismatch",
			packet:   tracetest.Packet{Header: map[string]any{metadata.FieldUUID: zeroUUID}},
			expected: errs.ErrUUIDMismatch,
		},
		{
			name:     "stream id mismatch",
			packet:   tracetest.Packet{Header: map[string]any{metadata.FieldStreamID: uint32(1)}},
			expected: errs.ErrStreamIDMismatch,
		},
		{
			name:     "content exceeds packet",
			packet:   tracetest.Packet{Context: map[string]any{metadata.FieldContentSize: uint64(1 << 20)}},
			expected: errs.ErrContentSizeExceedsPacket,
		},
		{
			name:     "packet exceeds file",
			packet:   tracetest.Packet{Context: map[string]any{metadata.FieldPacketSize: uint64(1 << 20)}},
			expected: errs.ErrPacketSizeExceedsFile,
		},
		{
			name:     "unaligned packet size",
			packet:   tracetest.Packet{Context: map[string]any{metadata.FieldPacketSize: uint64(1001)}},
			expected: errs.ErrInvalidPacketSize,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			src := memorySource(t, tr, tc.packet)
			_, err := Parse(src, tr, st, 0, 0)
			require.ErrorIs(t, err, tc.expected)
		})
	}

	t.Run("truncated header", func(t *testing.T) {
		src := mapping.NewMemorySource("short", encode(t, tr, tracetest.Packet{})[:30])
		_, err := Parse(src, tr, st, 0, 0)
		require.ErrorIs(t, err, errs.ErrTruncated)
	})
}

func TestPeekStreamID(t *testing.T) {
	tr := tracetest.Metadata(t, tracetest.KernelMetadata)

	src := memorySource(t, tr, tracetest.Packet{StreamID: 1, Events: []tracetest.Event{{ID: 0, Timestamp: 5, Fields: map[string]any{"msg": "hi"}}}})
	id, err := PeekStreamID(src, tr, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)

	_, err = PeekStreamID(mapping.NewMemorySource("empty", nil), tr, 0)
	require.ErrorIs(t, err, errs.ErrTruncated)

	single := tracetest.Metadata(t, "streams: [{id: 3}]\n")
	id, err = PeekStreamID(mapping.NewMemorySource("empty", nil), single, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(3), id)

	multi := tracetest.Metadata(t, "streams: [{id: 3}, {id: 4}]\n")
	_, err = PeekStreamID(mapping.NewMemorySource("empty", nil), multi, 0)
	require.ErrorIs(t, err, errs.ErrUnknownStream)
}

func TestParse_FileSource(t *testing.T) {
	tr := tracetest.Metadata(t, tracetest.KernelMetadata)
	st, err := tr.Stream(0)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "channel0_1")
	tracetest.WriteStreamFile(t, path, tr,
		tracetest.Packet{Begin: 0, End: 10, Events: []tracetest.Event{tracetest.IRQ(5, 1)}},
		tracetest.Packet{Begin: 10, End: 20, Events: []tracetest.Event{tracetest.IRQ(15, 2)}},
	)
	info, err := os.Stat(path)
	require.NoError(t, err)

	src, err := mapping.OpenFile(path)
	require.NoError(t, err)
	defer src.Close()

	first, err := Parse(src, tr, st, 0, 0)
	require.NoError(t, err)
	second, err := Parse(src, tr, st, first.Entry.NextOffsetBytes(), 0)
	require.NoError(t, err)
	require.Equal(t, info.Size(), second.Entry.NextOffsetBytes())
}
