package trace

import (
	"container/heap"
	"errors"
	"fmt"
	"iter"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/arloliu/ctftrace/errs"
	"github.com/arloliu/ctftrace/event"
	"github.com/arloliu/ctftrace/internal/hash"
	"github.com/arloliu/ctftrace/internal/options"
	"github.com/arloliu/ctftrace/metadata"
	"github.com/arloliu/ctftrace/stream"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// Reader is a merged, time-ordered cursor over every stream file of a trace.
type Reader struct {
	dir    string
	trace  *metadata.Trace
	cfg    *Config
	logger logrus.FieldLogger

	// items holds every registered reader in registration order, queued or not.
	items []*queueItem
	queue readerQueue
	// tracked holds the paths of registered files; skipped the paths of files
	// whose stream is unknown to the current metadata.
	tracked map[string]struct{}
	skipped map[string]struct{}

	startTime int64
	endTime   int64
	counts    map[string]uint64
	closed    bool
}

// Open opens the trace in dir and positions the cursor on its first event.
//
// Every regular file of dir except the metadata document and hidden files is a
// stream file. Empty files, and files whose first packet header is not completely
// written yet, are skipped until a later Update.
//
// Parameters:
//   - dir: Trace directory
//   - opts: Reader options
//
// Returns:
//   - *Reader: Reader positioned on the first event of the trace
//   - error: Metadata errors, I/O errors and format errors of the first packets
func Open(dir string, opts ...Option) (*Reader, error) {
	cfg := NewConfig()
	if err := options.Apply(cfg, opts...); err != nil {
		return nil, err
	}

	tr, err := metadata.Load(filepath.Join(dir, metadata.FileName))
	if err != nil {
		return nil, err
	}

	r := &Reader{
		dir:     dir,
		trace:   tr,
		cfg:     cfg,
		logger:  cfg.logger.WithField("trace", dir),
		tracked: make(map[string]struct{}),
		skipped: make(map[string]struct{}),
		counts:  make(map[string]uint64),
	}
	if _, err := r.addFiles(); err != nil {
		_ = r.Close()
		return nil, err
	}

	if ev := r.CurrentEvent(); ev != nil {
		r.startTime = ev.Timestamp
	}
	r.endTime = r.startTime

	return r, nil
}

// Trace returns the trace schema.
func (r *Reader) Trace() *metadata.Trace { return r.trace }

// Dir returns the trace directory.
func (r *Reader) Dir() string { return r.dir }

// StartTime returns the timestamp of the first event of the trace, or 0 for an
// empty trace. It is fixed when the reader is opened.
func (r *Reader) StartTime() int64 { return r.startTime }

// EndTime returns the latest timestamp read so far.
func (r *Reader) EndTime() int64 { return r.endTime }

// HasMoreEvents reports whether any stream reader is still queued.
func (r *Reader) HasMoreEvents() bool { return r.queue.Len() > 0 }

// CurrentEvent returns the earliest current event of the queued readers, or nil
// when the queue is empty or every queued reader is waiting.
func (r *Reader) CurrentEvent() *event.Definition {
	if r.queue.Len() == 0 {
		return nil
	}

	return r.queue[0].reader.CurrentEvent()
}

// EventCounts returns the number of events read so far per stream file.
func (r *Reader) EventCounts() map[string]uint64 {
	return maps.Clone(r.counts)
}

// Advance moves the cursor past the current event.
//
// The reader holding the current event reads its next event and is queued again;
// a finished reader is dropped. When every queued reader is waiting, each of them
// is polled once instead.
//
// A failing stream reader is dropped from the queue and its error returned, so
// callers may log it and keep advancing over the remaining files.
//
// Returns:
//   - bool: Whether any reader is still queued
//   - error: Format or I/O error of a stream file
func (r *Reader) Advance() (bool, error) {
	if r.closed {
		return false, errs.ErrReaderClosed
	}
	if r.queue.Len() == 0 {
		return false, nil
	}
	if r.queue[0].reader.CurrentEvent() == nil {
		err := r.pollWaiting()
		return r.queue.Len() > 0, err
	}

	item := heap.Pop(&r.queue).(*queueItem)
	err := r.step(item)
	if err == nil && (item.reader.CurrentEvent() != nil || item.reader.Live()) {
		heap.Push(&r.queue, item)
	}
	r.cfg.metrics.SetActiveReaders(r.queue.Len())

	return r.queue.Len() > 0, err
}

// Events iterates from the current event to the end of the trace, advancing the
// cursor after each yielded event. On a live trace the iteration stops when every
// queued reader is waiting. Errors are yielded with a nil event; iteration goes
// on over the remaining files when the caller keeps consuming.
func (r *Reader) Events() iter.Seq2[*event.Definition, error] {
	return func(yield func(*event.Definition, error) bool) {
		polled := false
		for r.queue.Len() > 0 {
			ev := r.CurrentEvent()
			if ev == nil {
				if polled {
					return
				}
				polled = true
			} else {
				polled = false
				if !yield(ev, nil) {
					return
				}
			}

			if _, err := r.Advance(); err != nil {
				if !yield(nil, err) {
					return
				}
			}
		}
	}
}

// Seek positions every stream reader on its first event at or after ts and
// rebuilds the queue.
//
// A stream file that fails to seek is left out of the queue; the others are
// still positioned, so the caller can keep reading after an error.
//
// Returns:
//   - int: Total number of events skipped before ts
//   - error: Format or I/O errors of the failing stream files
func (r *Reader) Seek(ts int64) (int, error) {
	if r.closed {
		return 0, errs.ErrReaderClosed
	}

	r.queue = r.queue[:0]
	total := 0
	var result error
	for _, item := range r.items {
		n, err := item.reader.Seek(ts)
		total += n
		if err != nil {
			r.logger.WithFields(logrus.Fields{
				"action": "drop_reader",
				"file":   item.reader.Name(),
			}).WithError(err).Warn("seek failed")
			result = multierror.Append(result, fmt.Errorf("seek %s: %w", item.reader.Name(), err))

			continue
		}
		if item.reader.CurrentEvent() != nil || item.reader.Live() {
			r.queue = append(r.queue, item)
		}
	}
	heap.Init(&r.queue)
	r.cfg.metrics.SetActiveReaders(r.queue.Len())

	return total, result
}

// GoToLastEvent positions the cursor on the last event of the trace. Only the
// reader holding that event stays queued.
func (r *Reader) GoToLastEvent() error {
	if r.closed {
		return errs.ErrReaderClosed
	}

	var last *queueItem
	for _, item := range r.items {
		if err := item.reader.GoToLastEvent(); err != nil {
			return fmt.Errorf("last event of %s: %w", item.reader.Name(), err)
		}
		ev := item.reader.CurrentEvent()
		if ev == nil {
			continue
		}
		if last == nil || ev.Timestamp >= last.reader.CurrentEvent().Timestamp {
			last = item
		}
	}

	r.queue = r.queue[:0]
	if last != nil {
		r.queue = append(r.queue, last)
		r.endTime = max(r.endTime, last.reader.CurrentEvent().Timestamp)
	}
	r.cfg.metrics.SetActiveReaders(r.queue.Len())

	return nil
}

// Update picks up changes of a live trace: the metadata document is re-read and
// merged when its content changed, new stream files are registered and queued,
// and waiting readers are polled for appended packets.
//
// Returns:
//   - int: Number of stream files added
//   - error: Metadata conflicts, I/O and format errors
func (r *Reader) Update() (int, error) {
	if r.closed {
		return 0, errs.ErrReaderClosed
	}
	if err := r.reloadMetadata(); err != nil {
		return 0, err
	}

	added, err := r.addFiles()
	if err != nil {
		return added, err
	}

	return added, r.pollWaiting()
}

// Close closes every stream reader.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.queue = nil

	var result *multierror.Error
	for _, item := range r.items {
		if err := item.reader.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s: %w", item.reader.Name(), err))
		}
		r.cfg.metrics.Forget(item.reader.Name())
	}
	r.cfg.metrics.SetActiveReaders(0)

	return result.ErrorOrNil()
}

// step reads the next event of item, which must not be queued.
func (r *Reader) step(item *queueItem) error {
	status, err := item.reader.ReadNextEvent()
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"action": "drop_reader",
			"file":   item.reader.Name(),
		}).WithError(err).Warn("stream file failed, dropping it")

		return fmt.Errorf("%s: %w", item.reader.Name(), err)
	}

	switch status {
	case stream.StatusOK:
		ev := item.reader.CurrentEvent()
		r.endTime = max(r.endTime, ev.Timestamp)
		r.counts[item.reader.Name()]++
		r.cfg.metrics.EventRead(item.reader.Name())
	case stream.StatusFinish:
		r.logger.WithFields(logrus.Fields{
			"action": "drop_reader",
			"file":   item.reader.Name(),
		}).Debug("stream file finished")
	case stream.StatusWait:
	}

	return nil
}

// pollWaiting gives every queued reader without a current event one read attempt.
func (r *Reader) pollWaiting() error {
	var result *multierror.Error

	kept := r.queue[:0]
	for _, item := range r.queue {
		if item.reader.CurrentEvent() != nil {
			kept = append(kept, item)
			continue
		}
		if err := r.step(item); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if item.reader.CurrentEvent() != nil || item.reader.Live() {
			kept = append(kept, item)
		}
	}
	clear(r.queue[len(kept):])
	r.queue = kept
	heap.Init(&r.queue)
	r.cfg.metrics.SetActiveReaders(r.queue.Len())

	return result.ErrorOrNil()
}

// addFiles registers the stream files of dir not seen yet, in name order, and
// queues those that yield an event (or wait, when live).
func (r *Reader) addFiles() (int, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return 0, fmt.Errorf("list trace directory: %w", err)
	}

	added := 0
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "metadata") {
			continue
		}
		path := filepath.Join(r.dir, name)
		if _, ok := r.tracked[path]; ok {
			continue
		}
		if _, ok := r.skipped[path]; ok {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return added, fmt.Errorf("stat %s: %w", path, err)
		}
		fileLog := r.logger.WithFields(logrus.Fields{"action": "open_stream_file", "file": path})
		if info.Size() == 0 {
			fileLog.Debug("empty stream file, retrying on update")
			continue
		}

		sr, err := stream.Open(path, r.trace, r.cfg.streamOptions()...)
		switch {
		case errors.Is(err, errs.ErrTruncated):
			fileLog.WithError(err).Debug("first packet header incomplete, retrying on update")
			continue
		case errors.Is(err, errs.ErrUnknownStream):
			fileLog.WithError(err).Warn("stream file skipped")
			r.skipped[path] = struct{}{}

			continue
		case err != nil:
			return added, err
		}

		item := &queueItem{reader: sr, seq: len(r.items)}
		r.items = append(r.items, item)
		r.tracked[path] = struct{}{}
		added++
		fileLog.WithField("stream_id", sr.StreamID()).Info("stream file added")

		if err := r.step(item); err != nil {
			return added, err
		}
		if sr.CurrentEvent() != nil || sr.Live() {
			heap.Push(&r.queue, item)
		}
	}
	r.cfg.metrics.SetActiveReaders(r.queue.Len())

	return added, nil
}

// reloadMetadata merges the metadata document when its digest changed.
func (r *Reader) reloadMetadata() error {
	path := filepath.Join(r.dir, metadata.FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read metadata: %w", err)
	}
	if hash.Digest(data) == r.trace.Digest() {
		return nil
	}

	grown, err := metadata.Parse(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	added, err := r.trace.Merge(grown)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	clear(r.skipped)
	r.logger.WithFields(logrus.Fields{
		"action": "reload_metadata",
		"events": added,
	}).Info("metadata merged")

	return nil
}
