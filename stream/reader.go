package stream

import (
	"fmt"

	"github.com/arloliu/ctftrace/errs"
	"github.com/arloliu/ctftrace/event"
	"github.com/arloliu/ctftrace/internal/mapping"
	"github.com/arloliu/ctftrace/internal/options"
	"github.com/arloliu/ctftrace/metadata"
	"github.com/arloliu/ctftrace/packet"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// Reader iterates over the events of one stream file.
type Reader struct {
	input   *Input
	packets *packet.Reader

	// position is the index of the bound packet, or of the last packet read
	// when nothing is bound. -1 before the first packet.
	position int
	current  *event.Definition

	live   bool
	logger logrus.FieldLogger
	closed bool
}

// Open opens the stream file at path. The owning stream is taken from the
// stream_id of the first packet header.
//
// Parameters:
//   - path: Stream file; .zst, .s2 and .lz4 files are decompressed into memory
//   - tr: Trace schema
//   - opts: Reader options
//
// Returns:
//   - *Reader: Reader positioned before the first event
//   - error: errs.ErrTruncated for an empty file, errs.ErrUnknownStream, I/O and format errors
func Open(path string, tr *metadata.Trace, opts ...ReaderOption) (*Reader, error) {
	cfg := NewReaderConfig()
	if err := options.Apply(cfg, opts...); err != nil {
		return nil, err
	}

	src, err := mapping.Open(path)
	if err != nil {
		return nil, err
	}
	id, err := packet.PeekStreamID(src, tr, cfg.headerWindow)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	st, err := tr.Stream(id)
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return newReader(src, tr, st, cfg)
}

// NewReader creates a reader over src, which must hold packets of st. The reader
// takes ownership of src, closing it on failure, and indexes the first packet
// right away.
func NewReader(src mapping.Source, tr *metadata.Trace, st *metadata.Stream, opts ...ReaderOption) (*Reader, error) {
	cfg := NewReaderConfig()
	if err := options.Apply(cfg, opts...); err != nil {
		return nil, err
	}

	return newReader(src, tr, st, cfg)
}

func newReader(src mapping.Source, tr *metadata.Trace, st *metadata.Stream, cfg *ReaderConfig) (*Reader, error) {
	in := newInput(src, tr, st, cfg)
	r := &Reader{
		input:    in,
		packets:  packet.NewReader(src, tr, st),
		position: -1,
		live:     cfg.live,
		logger:   in.logger,
	}
	if _, err := r.goToNextPacket(); err != nil {
		_ = r.Close()
		return nil, err
	}

	return r, nil
}

// Name returns the path of the stream file.
func (r *Reader) Name() string { return r.input.source.Name() }

// Input returns the packet input of the file.
func (r *Reader) Input() *Input { return r.input }

// StreamID returns the id of the stream the file belongs to.
func (r *Reader) StreamID() uint64 { return r.input.stream.ID }

// CurrentEvent returns the event read last, or nil when the reader is not
// positioned on an event.
func (r *Reader) CurrentEvent() *event.Definition { return r.current }

// Live reports whether the reader waits for more data at the end of the file.
func (r *Reader) Live() bool { return r.live }

// SetLive switches live mode, e.g. off once the tracer has stopped so the reader
// finishes instead of waiting.
func (r *Reader) SetLive(live bool) {
	r.live = live
	r.input.live = live && r.input.source.Growable()
}

// ReadNextEvent moves to the next event.
//
// Returns:
//   - ReadStatus: StatusOK with the event available from CurrentEvent, StatusWait
//     when a live file has nothing more yet, StatusFinish when the file is done
//   - error: Format or I/O error; the status is StatusFinish
func (r *Reader) ReadNextEvent() (ReadStatus, error) {
	if r.closed {
		return StatusFinish, errs.ErrReaderClosed
	}

	if !r.packets.HasMoreEvents() && (r.packets.Entry() != nil || r.live) {
		if _, err := r.goToNextPacket(); err != nil {
			r.current = nil
			return StatusFinish, err
		}
	}

	if r.packets.HasMoreEvents() {
		ev, err := r.packets.ReadNextEvent()
		if err != nil {
			r.current = nil
			return StatusFinish, err
		}
		r.current = ev

		return StatusOK, nil
	}

	r.current = nil
	if r.live {
		return StatusWait, nil
	}

	return StatusFinish, nil
}

// Seek positions the reader on the first event at or after ts.
//
// The index is extended until it covers ts, the packet to start from is found by
// binary search and events before ts are skipped one by one.
//
// Returns:
//   - int: Number of events skipped before ts
//   - error: Format or I/O error
func (r *Reader) Seek(ts int64) (int, error) {
	if r.closed {
		return 0, errs.ErrReaderClosed
	}
	if err := r.indexUntil(ts); err != nil {
		return 0, err
	}

	if err := r.seekPacket(ts); err != nil {
		return 0, err
	}
	if r.packets.Entry() == nil {
		// packets may have been appended since the index was extended
		if err := r.seekPacket(ts); err != nil {
			return 0, err
		}
	}

	skipped := 0
	for {
		status, err := r.ReadNextEvent()
		if err != nil {
			return skipped, err
		}
		if status != StatusOK || r.current.Timestamp >= ts {
			return skipped, nil
		}
		skipped++
	}
}

// GoToLastEvent positions the reader on the last event of the file. The current
// event is nil when the file holds no event.
func (r *Reader) GoToLastEvent() error {
	if _, err := r.Seek(0); err != nil {
		return err
	}
	for {
		ok, err := r.input.AddPacketHeaderIndex()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
	}

	idx := r.input.index
	last := -1
	for i := idx.Len() - 1; i >= 0; i-- {
		if idx.Get(i).HasEvents() {
			last = i
			break
		}
	}
	r.current = nil
	if last < 0 {
		return r.packets.Bind(nil, nil)
	}

	r.position = last - 1
	if _, err := r.goToNextPacket(); err != nil {
		return err
	}
	var lastEvent *event.Definition
	for r.packets.HasMoreEvents() {
		ev, err := r.packets.ReadNextEvent()
		if err != nil {
			return err
		}
		lastEvent = ev
	}
	r.current = lastEvent

	return nil
}

// Close releases the packet window and closes the file.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.current = nil

	var result *multierror.Error
	if err := r.packets.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := r.input.Close(); err != nil {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}

// goToNextPacket binds the first packet after position that yields a record,
// indexing new packets as needed. When there is none the reader is unbound and
// position is left unchanged.
func (r *Reader) goToNextPacket() (bool, error) {
	idx := r.input.index
	pos := r.position
	for {
		pos++
		if pos >= idx.Len() {
			ok, err := r.input.AddPacketHeaderIndex()
			if err != nil {
				return false, err
			}
			if !ok {
				return false, r.packets.Bind(nil, nil)
			}
		}

		entry := idx.Get(pos)
		if !entry.HasEvents() {
			continue
		}
		if err := r.packets.Bind(entry, idx.Get(pos-1)); err != nil {
			return false, err
		}
		r.position = pos

		return true, nil
	}
}

// indexUntil extends the index until its last packet ends at or after ts, or the
// file has no more packets.
func (r *Reader) indexUntil(ts int64) error {
	idx := r.input.index
	for {
		if last := idx.Last(); last != nil && last.TimestampEnd >= ts {
			return nil
		}
		ok, err := r.input.AddPacketHeaderIndex()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
}

func (r *Reader) seekPacket(ts int64) error {
	r.current = nil
	r.position = r.input.index.Search(ts) - 1
	_, err := r.goToNextPacket()

	return err
}
