package stream

import (
	"errors"
	"fmt"

	"github.com/arloliu/ctftrace/errs"
	"github.com/arloliu/ctftrace/internal/mapping"
	"github.com/arloliu/ctftrace/internal/options"
	"github.com/arloliu/ctftrace/metadata"
	"github.com/arloliu/ctftrace/metrics"
	"github.com/arloliu/ctftrace/packet"
	"github.com/sirupsen/logrus"
)

// Input owns a stream file and its packet index.
type Input struct {
	source mapping.Source
	trace  *metadata.Trace
	stream *metadata.Stream
	index  *packet.Index

	// lostSoFar is the last raw events_discarded counter seen in the file.
	lostSoFar uint64

	live    bool
	window  int64
	logger  logrus.FieldLogger
	metrics *metrics.Collector
}

// NewInput creates an input over src with an empty index. The input takes
// ownership of src.
func NewInput(src mapping.Source, tr *metadata.Trace, st *metadata.Stream, opts ...ReaderOption) (*Input, error) {
	cfg := NewReaderConfig()
	if err := options.Apply(cfg, opts...); err != nil {
		return nil, err
	}

	return newInput(src, tr, st, cfg), nil
}

func newInput(src mapping.Source, tr *metadata.Trace, st *metadata.Stream, cfg *ReaderConfig) *Input {
	return &Input{
		source:  src,
		trace:   tr,
		stream:  st,
		index:   packet.NewIndex(),
		live:    cfg.live && src.Growable(),
		window:  cfg.headerWindow,
		logger:  cfg.logger.WithFields(logrus.Fields{"file": src.Name(), "stream_id": st.ID}),
		metrics: cfg.metrics,
	}
}

// Source returns the underlying file.
func (in *Input) Source() mapping.Source { return in.source }

// Stream returns the stream declaration of the file.
func (in *Input) Stream() *metadata.Stream { return in.stream }

// Index returns the packet index built so far.
func (in *Input) Index() *packet.Index { return in.index }

// AddPacketHeaderIndex indexes the packet following the last indexed one.
//
// The packet's lost-event count is the difference between its events_discarded
// counter and the counter of the previous packet of the file. A counter lower than
// the previous one is treated as restarted and used as is.
//
// Returns:
//   - bool: true when a packet was added, false at the end of the file
//   - error: Format errors of the packet header or context, I/O errors
func (in *Input) AddPacketHeaderIndex() (bool, error) {
	var offset int64
	if last := in.index.Last(); last != nil {
		offset = last.NextOffsetBytes()
	}

	size, err := in.source.Size()
	if err != nil {
		return false, err
	}
	if offset >= size {
		return false, nil
	}

	parsed, err := packet.Parse(in.source, in.trace, in.stream, offset, in.window)
	if err != nil {
		if in.live && isIncomplete(err) {
			in.logger.WithFields(logrus.Fields{
				"action": "index_packet",
				"offset": offset,
			}).WithError(err).Debug("packet not completely written yet")

			return false, nil
		}

		return false, err
	}

	entry := parsed.Entry
	if parsed.EventsDiscarded >= in.lostSoFar {
		entry.LostEvents = parsed.EventsDiscarded - in.lostSoFar
	} else {
		entry.LostEvents = parsed.EventsDiscarded
	}
	if err := in.index.Append(entry); err != nil {
		return false, fmt.Errorf("%s offset %d: %w", in.source.Name(), offset, err)
	}
	in.lostSoFar = parsed.EventsDiscarded

	in.logger.WithFields(logrus.Fields{
		"action": "index_packet",
		"packet": in.index.Len() - 1,
		"offset": offset,
		"begin":  entry.TimestampBegin,
		"end":    entry.TimestampEnd,
		"lost":   entry.LostEvents,
	}).Debug("packet indexed")
	in.metrics.PacketIndexed(in.source.Name(), entry.LostEvents)

	return true, nil
}

// Close closes the underlying file.
func (in *Input) Close() error {
	return in.source.Close()
}

// isIncomplete reports whether err may be caused by a packet whose bytes are
// still being appended.
func isIncomplete(err error) bool {
	return errors.Is(err, errs.ErrTruncated) || errors.Is(err, errs.ErrPacketSizeExceedsFile)
}
