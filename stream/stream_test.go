package stream

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/arloliu/ctftrace/compress"
	"github.com/arloliu/ctftrace/errs"
	"github.com/arloliu/ctftrace/internal/mapping"
	"github.com/arloliu/ctftrace/internal/tracetest"
	"github.com/arloliu/ctftrace/metadata"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func kernelTrace(t *testing.T) *metadata.Trace {
	t.Helper()

	return tracetest.Metadata(t, tracetest.KernelMetadata)
}

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

func writeStream(t *testing.T, tr *metadata.Trace, packets ...tracetest.Packet) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "channel0_0")
	tracetest.WriteStreamFile(t, path, tr, packets...)

	return path
}

func appendRaw(t *testing.T, path string, data []byte) {
	t.Helper()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Write(data)
	require.NoError(t, err)
}

// drain reads until the reader stops returning StatusOK.
func drain(t *testing.T, r *Reader) ([]int64, ReadStatus) {
	t.Helper()

	var out []int64
	for {
		status, err := r.ReadNextEvent()
		require.NoError(t, err)
		if status != StatusOK {
			return out, status
		}
		out = append(out, r.CurrentEvent().Timestamp)
	}
}

// seekFixture has three packets covering [0,100], [101,200] and [201,300].
func seekFixture() []tracetest.Packet {
	return []tracetest.Packet{
		{Begin: 0, End: 100, Events: []tracetest.Event{
			tracetest.IRQ(0, 1), tracetest.IRQ(50, 1), tracetest.IRQ(100, 1),
		}},
		{Begin: 101, End: 200, Events: []tracetest.Event{
			tracetest.IRQ(101, 2), tracetest.IRQ(150, 2), tracetest.Switch(200, 1, 2),
		}},
		{Begin: 201, End: 300, Events: []tracetest.Event{
			tracetest.IRQ(250, 3), tracetest.IRQ(300, 3),
		}},
	}
}

func TestReadStatus_String(t *testing.T) {
	require.Equal(t, "OK", StatusOK.String())
	require.Equal(t, "WAIT", StatusWait.String())
	require.Equal(t, "FINISH", StatusFinish.String())
	require.Equal(t, "Unknown", ReadStatus(9).String())
}

func TestInput_LostEventDeltas(t *testing.T) {
	tr := kernelTrace(t)
	st, err := tr.Stream(0)
	require.NoError(t, err)

	testCases := []struct {
		name      string
		discarded []uint64
		expected  []uint64
	}{
		{name: "cumulative", discarded: []uint64{0, 5, 5, 12}, expected: []uint64{0, 5, 0, 7}},
		{name: "first_packet_lost", discarded: []uint64{3, 3}, expected: []uint64{3, 0}},
		{name: "counter_restart", discarded: []uint64{4, 2}, expected: []uint64{4, 2}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var packets []tracetest.Packet
			for i, d := range tc.discarded {
				begin := uint64(i) * 100
				packets = append(packets, tracetest.Packet{
					Begin:     begin,
					Discarded: d,
					Events:    []tracetest.Event{tracetest.IRQ(begin+1, 0)},
				})
			}

			in, err := NewInput(mapping.NewMemorySource("mem", encode(t, tr, packets...)), tr, st)
			require.NoError(t, err)

			for range tc.discarded {
				ok, err := in.AddPacketHeaderIndex()
				require.NoError(t, err)
				require.True(t, ok)
			}
			ok, err := in.AddPacketHeaderIndex()
			require.NoError(t, err)
			require.False(t, ok)
			require.Equal(t, len(tc.discarded), in.Index().Len())

			for i, want := range tc.expected {
				require.Equal(t, want, in.Index().Get(i).LostEvents, "packet %d", i)
			}
		})
	}
}

func TestInput_Logging(t *testing.T) {
	tr := kernelTrace(t)
	st, err := tr.Stream(0)
	require.NoError(t, err)

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	data := encode(t, tr, tracetest.Packet{Begin: 1, Events: []tracetest.Event{tracetest.IRQ(1, 0)}})
	in, err := NewInput(mapping.NewMemorySource("mem", data), tr, st, WithLogger(logger))
	require.NoError(t, err)

	ok, err := in.AddPacketHeaderIndex()
	require.NoError(t, err)
	require.True(t, ok)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	require.Equal(t, logrus.DebugLevel, entry.Level)
	require.Equal(t, "index_packet", entry.Data["action"])
	require.Equal(t, "mem", entry.Data["file"])
	require.Equal(t, int64(0), entry.Data["offset"])
}

func TestReader_Options(t *testing.T) {
	tr := kernelTrace(t)
	path := writeStream(t, tr, seekFixture()...)

	_, err := Open(path, tr, WithHeaderWindow(0))
	require.Error(t, err)

	r, err := Open(path, tr, WithHeaderWindow(16), WithLogger(nil))
	require.NoError(t, err)
	defer r.Close()

	got, status := drain(t, r)
	require.Equal(t, StatusFinish, status)
	require.Equal(t, []int64{0, 50, 100, 101, 150, 200, 250, 300}, got)
}

func TestReader_ReadAll(t *testing.T) {
	tr := kernelTrace(t)
	path := writeStream(t, tr,
		tracetest.Packet{Begin: 10, CPU: 3, Events: []tracetest.Event{
			tracetest.IRQ(10, 1), tracetest.IRQ(15, 1), tracetest.Switch(20, 5, 6),
		}},
		tracetest.Packet{Begin: 30, End: 40, CPU: 3},
		tracetest.Packet{Begin: 50, End: 60, CPU: 3, Discarded: 2, Events: []tracetest.Event{
			tracetest.IRQ(50, 1), tracetest.IRQ(60, 1),
		}},
	)

	r, err := Open(path, tr)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, path, r.Name())
	require.Equal(t, uint64(0), r.StreamID())
	require.False(t, r.Live())
	require.Nil(t, r.CurrentEvent())

	var names []string
	for {
		status, err := r.ReadNextEvent()
		require.NoError(t, err)
		if status != StatusOK {
			require.Equal(t, StatusFinish, status)
			break
		}
		ev := r.CurrentEvent()
		require.Equal(t, "CPU3", ev.Target)
		names = append(names, ev.Name())
		if ev.IsLost() {
			require.Equal(t, int64(50), ev.Timestamp)
			require.Equal(t, uint64(2), ev.Lost.Count)
			require.Equal(t, int64(10), ev.Lost.Duration)
		}
	}
	require.Equal(t, []string{
		"irq_handler_entry", "irq_handler_entry", "sched_switch",
		metadata.LostEventName, "irq_handler_entry", "irq_handler_entry",
	}, names)
	require.Equal(t, 3, r.Input().Index().Len())

	status, err := r.ReadNextEvent()
	require.NoError(t, err)
	require.Equal(t, StatusFinish, status)
	require.Nil(t, r.CurrentEvent())
}

func TestReader_LiveWaitThenOK(t *testing.T) {
	tr := kernelTrace(t)
	first := tracetest.Packet{Begin: 1, Events: []tracetest.Event{tracetest.IRQ(1, 0), tracetest.IRQ(2, 0)}}
	second := tracetest.Packet{Begin: 10, Events: []tracetest.Event{tracetest.IRQ(10, 0)}}

	t.Run("live", func(t *testing.T) {
		path := writeStream(t, tr, first)
		r, err := Open(path, tr, WithLive(true))
		require.NoError(t, err)
		defer r.Close()

		got, status := drain(t, r)
		require.Equal(t, []int64{1, 2}, got)
		require.Equal(t, StatusWait, status)

		status, err = r.ReadNextEvent()
		require.NoError(t, err)
		require.Equal(t, StatusWait, status)

		tracetest.AppendPackets(t, path, tr, second)
		got, status = drain(t, r)
		require.Equal(t, []int64{10}, got)
		require.Equal(t, StatusWait, status)

		r.SetLive(false)
		status, err = r.ReadNextEvent()
		require.NoError(t, err)
		require.Equal(t, StatusFinish, status)
	})

	t.Run("partial_packet", func(t *testing.T) {
		path := writeStream(t, tr, first)
		r, err := Open(path, tr, WithLive(true))
		require.NoError(t, err)
		defer r.Close()

		_, status := drain(t, r)
		require.Equal(t, StatusWait, status)

		// 40 bytes end inside the packet context, 70 bytes inside the events
		data := encode(t, tr, second)
		written := 0
		for _, cut := range []int{40, 70} {
			appendRaw(t, path, data[written:cut])
			written = cut

			status, err := r.ReadNextEvent()
			require.NoError(t, err)
			require.Equal(t, StatusWait, status)
		}
		appendRaw(t, path, data[written:])

		got, status := drain(t, r)
		require.Equal(t, []int64{10}, got)
		require.Equal(t, StatusWait, status)
	})

	t.Run("not_live", func(t *testing.T) {
		path := writeStream(t, tr, first)
		r, err := Open(path, tr)
		require.NoError(t, err)
		defer r.Close()

		_, status := drain(t, r)
		require.Equal(t, StatusFinish, status)

		tracetest.AppendPackets(t, path, tr, second)
		status, err = r.ReadNextEvent()
		require.NoError(t, err)
		require.Equal(t, StatusFinish, status)
	})
}

func TestReader_Seek(t *testing.T) {
	tr := kernelTrace(t)
	path := writeStream(t, tr, seekFixture()...)

	r, err := Open(path, tr)
	require.NoError(t, err)
	defer r.Close()

	testCases := []struct {
		name     string
		ts       int64
		skipped  int
		expected int64
	}{
		{name: "inside_second_packet", ts: 150, skipped: 1, expected: 150},
		{name: "packet_begin", ts: 101, skipped: 0, expected: 101},
		{name: "start", ts: 0, skipped: 0, expected: 0},
		{name: "between_events", ts: 120, skipped: 1, expected: 150},
		{name: "gap_between_packets", ts: 240, skipped: 0, expected: 250},
		{name: "first_packet", ts: 50, skipped: 1, expected: 50},
		{name: "last_event", ts: 300, skipped: 1, expected: 300},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			skipped, err := r.Seek(tc.ts)
			require.NoError(t, err)
			require.Equal(t, tc.skipped, skipped)
			require.NotNil(t, r.CurrentEvent())
			require.Equal(t, tc.expected, r.CurrentEvent().Timestamp)
			position := r.position

			skipped, err = r.Seek(tc.ts)
			require.NoError(t, err)
			require.Equal(t, tc.skipped, skipped)
			require.Equal(t, tc.expected, r.CurrentEvent().Timestamp)
			require.Equal(t, position, r.position)
		})
	}

	t.Run("past_the_end", func(t *testing.T) {
		skipped, err := r.Seek(1000)
		require.NoError(t, err)
		require.Equal(t, 2, skipped)
		require.Nil(t, r.CurrentEvent())
	})

	t.Run("continue_after_seek", func(t *testing.T) {
		_, err := r.Seek(150)
		require.NoError(t, err)

		got, status := drain(t, r)
		require.Equal(t, StatusFinish, status)
		require.Equal(t, []int64{200, 250, 300}, got)
	})
}

func TestReader_GoToLastEvent(t *testing.T) {
	tr := kernelTrace(t)

	t.Run("trailing_empty_packet", func(t *testing.T) {
		packets := append(seekFixture(), tracetest.Packet{Begin: 301, End: 400})
		r, err := Open(writeStream(t, tr, packets...), tr)
		require.NoError(t, err)
		defer r.Close()

		require.NoError(t, r.GoToLastEvent())
		require.NotNil(t, r.CurrentEvent())
		require.Equal(t, int64(300), r.CurrentEvent().Timestamp)
		require.Equal(t, 4, r.Input().Index().Len())

		status, err := r.ReadNextEvent()
		require.NoError(t, err)
		require.Equal(t, StatusFinish, status)
	})

	t.Run("no_events", func(t *testing.T) {
		r, err := Open(writeStream(t, tr, tracetest.Packet{Begin: 1}, tracetest.Packet{Begin: 2}), tr)
		require.NoError(t, err)
		defer r.Close()

		require.NoError(t, r.GoToLastEvent())
		require.Nil(t, r.CurrentEvent())
	})
}

func TestReader_Compressed(t *testing.T) {
	tr := kernelTrace(t)
	compressed, err := compress.NewZstdCompressor().Compress(encode(t, tr, seekFixture()...))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "channel0_0.zst")
	require.NoError(t, os.WriteFile(path, compressed, 0o644))

	r, err := Open(path, tr, WithLive(true))
	require.NoError(t, err)
	defer r.Close()

	got, status := drain(t, r)
	require.Len(t, got, 8)
	// live only changes the final status, a compressed file never grows
	require.Equal(t, StatusWait, status)
	require.False(t, r.Input().Source().Growable())
}

func TestReader_Errors(t *testing.T) {
	tr := kernelTrace(t)

	t.Run("empty_file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "channel0_0")
		require.NoError(t, os.WriteFile(path, nil, 0o644))

		_, err := Open(path, tr)
		require.ErrorIs(t, err, errs.ErrTruncated)
	})

	t.Run("unknown_stream", func(t *testing.T) {
		path := writeStream(t, tr, tracetest.Packet{Begin: 1, Header: map[string]any{"stream_id": uint32(9)}})

		_, err := Open(path, tr)
		require.ErrorIs(t, err, errs.ErrUnknownStream)
	})

	t.Run("bad_magic_in_second_packet", func(t *testing.T) {
		path := writeStream(t, tr,
			tracetest.Packet{Begin: 1, Events: []tracetest.Event{tracetest.IRQ(1, 0)}},
			tracetest.Packet{Begin: 5, Header: map[string]any{"magic": uint32(0xdeadbeef)}, Events: []tracetest.Event{tracetest.IRQ(5, 0)}},
		)
		r, err := Open(path, tr)
		require.NoError(t, err)
		defer r.Close()

		status, err := r.ReadNextEvent()
		require.NoError(t, err)
		require.Equal(t, StatusOK, status)

		_, err = r.ReadNextEvent()
		require.ErrorIs(t, err, errs.ErrInvalidMagicNumber)
	})

	t.Run("closed", func(t *testing.T) {
		r, err := Open(writeStream(t, tr, seekFixture()...), tr)
		require.NoError(t, err)
		require.NoError(t, r.Close())
		require.NoError(t, r.Close())

		_, err = r.ReadNextEvent()
		require.ErrorIs(t, err, errs.ErrReaderClosed)
		_, err = r.Seek(0)
		require.ErrorIs(t, err, errs.ErrReaderClosed)
	})
}
