package metadata

import (
	"testing"

	"github.com/arloliu/ctftrace/declaration"
	"github.com/arloliu/ctftrace/endian"
	"github.com/arloliu/ctftrace/errs"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestLoad_Kernel(t *testing.T) {
	tr, err := Load("testdata/kernel.yaml")
	require.NoError(t, err)

	require.Equal(t, 1, tr.Major)
	require.Equal(t, 8, tr.Minor)
	require.True(t, tr.HasUUID())
	require.Equal(t, uuid.MustParse("2a6422d0-6cee-11e0-8c08-cb07d7b3a564"), tr.UUID)
	require.Equal(t, endian.GetLittleEndianEngine(), tr.ByteOrder)
	require.Equal(t, "node-7", tr.Env["hostname"])
	require.NotZero(t, tr.Digest())
	require.Equal(t, []uint64{0, 1}, tr.StreamIDs())

	require.NotNil(t, tr.PacketHeader)
	require.True(t, tr.PacketHeader.HasField(FieldMagic))
	require.True(t, tr.PacketHeader.HasField(FieldStreamID))

	clock := tr.Clock("monotonic")
	require.NotNil(t, clock)
	require.Same(t, clock, tr.DefaultClock())
	require.Equal(t, uint64(1_000_000_000), clock.Frequency)
	require.Nil(t, tr.Clock("realtime"))

	kernel, err := tr.Stream(0)
	require.NoError(t, err)
	require.IsType(t, &declaration.EventHeaderCompactDeclaration{}, kernel.EventHeader)
	require.NotNil(t, kernel.EventContext)

	begin, ok := kernel.PacketContext.FieldDeclaration(FieldTimestampBegin).(*declaration.IntegerDeclaration)
	require.True(t, ok)
	require.Equal(t, 64, begin.Length)
	require.Equal(t, "monotonic", begin.Clock)

	sw, ok := kernel.Event(0)
	require.True(t, ok)
	require.Equal(t, "sched_switch", sw.Name)
	require.Equal(t, 13, sw.LogLevel)
	require.Equal(t, uint64(0), sw.StreamID)

	state, ok := sw.Fields.FieldDeclaration("prev_state").(*declaration.EnumDeclaration)
	require.True(t, ok)
	label, ok := state.Label(1)
	require.True(t, ok)
	require.Equal(t, "sleeping", label)
	label, ok = state.Label(200)
	require.True(t, ok)
	require.Equal(t, "other", label)

	irq, ok := kernel.Event(1)
	require.True(t, ok)
	require.IsType(t, &declaration.SequenceDeclaration{}, irq.Fields.FieldDeclaration("name"))

	_, ok = kernel.Event(2)
	require.False(t, ok)

	ust, err := tr.Stream(1)
	require.NoError(t, err)
	header, ok := ust.EventHeader.(*declaration.StructDeclaration)
	require.True(t, ok)
	require.True(t, header.HasField(FieldEventVariant))
	require.Nil(t, ust.EventContext)

	_, err = tr.Stream(9)
	require.ErrorIs(t, err, errs.ErrUnknownStream)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("testdata/does-not-exist.yaml")
	require.Error(t, err)
}

func TestParse_Defaults(t *testing.T) {
	tr, err := Parse([]byte("streams:\n  - id: 3\n    event_header: large\n"))
	require.NoError(t, err)

	require.False(t, tr.HasUUID())
	require.Nil(t, tr.PacketHeader)
	require.Equal(t, endian.GetLittleEndianEngine(), tr.ByteOrder)
	require.Equal(t, uint64(1_000_000_000), tr.DefaultClock().Frequency)

	st, err := tr.Stream(3)
	require.NoError(t, err)
	require.IsType(t, &declaration.EventHeaderLargeDeclaration{}, st.EventHeader)
	require.Nil(t, st.PacketContext)
}

func TestParse_Errors(t *testing.T) {
	testCases := []struct {
		name string
		doc  string
	}{
		{name: "not yaml", doc: "streams: [\n"},
		{name: "no streams", doc: "byte_order: le\n"},
		{name: "bad byte order", doc: "byte_order: middle\nstreams: [{id: 0}]\n"},
		{name: "bad uuid", doc: "uuid: nope\nstreams: [{id: 0}]\n"},
		{name: "duplicate stream", doc: "streams: [{id: 0}, {id: 0}]\n"},
		{name: "unknown type", doc: "streams: [{id: 0, packet_context: [{name: a, type: quaternion}]}]\n"},
		{name: "integer too wide", doc: "streams: [{id: 0, packet_context: [{name: a, type: uint128}]}]\n"},
		{name: "field without name", doc: "streams: [{id: 0, packet_context: [{type: uint8}]}]\n"},
		{name: "duplicate field", doc: "streams: [{id: 0, packet_context: [{name: a, type: uint8}, {name: a, type: uint8}]}]\n"},
		{name: "unknown clock", doc: "streams: [{id: 0, packet_context: [{name: a, type: uint64, clock: tsc}]}]\n"},
		{name: "bad magic width", doc: "packet_header: [{name: magic, type: uint16}]\nstreams: [{id: 0}]\n"},
		{name: "bad uuid array", doc: "packet_header: [{name: uuid, type: array, length: 8, element: uint8}]\nstreams: [{id: 0}]\n"},
		{name: "unknown header", doc: "streams: [{id: 0, event_header: tiny}]\n"},
		{name: "struct header without id", doc: "streams: [{id: 0, event_header: [{name: timestamp, type: uint64}]}]\n"},
		{name: "duplicate event", doc: "streams: [{id: 0, events: [{id: 1, name: a}, {id: 1, name: b}]}]\n"},
		{name: "reserved event id", doc: "streams: [{id: 0, events: [{id: 18446744073709551615, name: a}]}]\n"},
		{name: "enum without container", doc: "streams: [{id: 0, packet_context: [{name: a, type: enum}]}]\n"},
		{name: "enum reversed range", doc: "streams: [{id: 0, packet_context: [{name: a, type: enum, container: uint8, mappings: [{label: x, range: [5, 1]}]}]}]\n"},
		{name: "sequence without length", doc: "streams: [{id: 0, packet_context: [{name: a, type: sequence, element: uint8}]}]\n"},
		{name: "array without element", doc: "streams: [{id: 0, packet_context: [{name: a, type: array, length: 2}]}]\n"},
		{name: "variant without tag", doc: "streams: [{id: 0, packet_context: [{name: a, type: variant}]}]\n"},
		{name: "odd float", doc: "streams: [{id: 0, packet_context: [{name: a, type: floating_point, exp_dig: 5, mant_dig: 11}]}]\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			require.ErrorIs(t, err, errs.ErrInvalidMetadata)
		})
	}
}

func TestMerge(t *testing.T) {
	base := "uuid: 2a6422d0-6cee-11e0-8c08-cb07d7b3a564\nstreams:\n  - id: 0\n    event_header: compact\n    events:\n      - {id: 0, name: a}\n"
	grown := base + "      - {id: 1, name: b}\n  - id: 1\n    events: [{id: 0, name: c}]\nclocks: [{name: monotonic}]\n"

	tr, err := Parse([]byte(base))
	require.NoError(t, err)
	other, err := Parse([]byte(grown))
	require.NoError(t, err)
	require.NotEqual(t, tr.Digest(), other.Digest())

	st0 := tr.Streams[0]
	added, err := tr.Merge(other)
	require.NoError(t, err)
	require.Equal(t, 2, added)
	require.Equal(t, other.Digest(), tr.Digest())
	require.Same(t, st0, tr.Streams[0], "existing streams are extended in place")

	ev, ok := st0.Event(1)
	require.True(t, ok)
	require.Equal(t, "b", ev.Name)
	require.Len(t, tr.Streams, 2)
	require.NotNil(t, tr.Clock("monotonic"))

	t.Run("renamed event", func(t *testing.T) {
		renamed, err := Parse([]byte("uuid: 2a6422d0-6cee-11e0-8c08-cb07d7b3a564\nstreams: [{id: 0, events: [{id: 0, name: z}]}]\n"))
		require.NoError(t, err)
		_, err = tr.Merge(renamed)
		require.ErrorIs(t, err, errs.ErrMetadataConflict)
		ev, _ := st0.Event(0)
		require.Equal(t, "a", ev.Name)
	})

	t.Run("uuid changed", func(t *testing.T) {
		foreign, err := Parse([]byte("uuid: 00000000-0000-0000-0000-000000000001\nstreams: [{id: 0}]\n"))
		require.NoError(t, err)
		_, err = tr.Merge(foreign)
		require.ErrorIs(t, err, errs.ErrMetadataConflict)
	})
}

func TestClock_CyclesToNanos(t *testing.T) {
	testCases := []struct {
		name     string
		clock    Clock
		cycles   uint64
		expected int64
	}{
		{name: "nanosecond clock", clock: Clock{Frequency: 1_000_000_000}, cycles: 42, expected: 42},
		{name: "zero frequency", clock: Clock{}, cycles: 42, expected: 42},
		{name: "offsets", clock: Clock{Frequency: 1_000_000_000, OffsetSeconds: 2, Offset: 5}, cycles: 10, expected: 2_000_000_015},
		{name: "microsecond clock", clock: Clock{Frequency: 1_000_000}, cycles: 1500, expected: 1_500_000},
		{name: "odd frequency", clock: Clock{Frequency: 3}, cycles: 4, expected: 1_333_333_333},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, tc.clock.CyclesToNanos(tc.cycles))
		})
	}
}
