package packet

import (
	"fmt"
	"sort"

	"github.com/arloliu/ctftrace/errs"
)

// Index is the append-only list of packets of one stream file, ordered by
// non-decreasing TimestampBegin.
//
// Index is not safe for concurrent use: extending it while another goroutine reads
// the same file is not supported.
type Index struct {
	entries []*IndexEntry
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{}
}

// Append adds an entry at the end of the index.
//
// Returns:
//   - errs.ErrIndexInvalidRange: entry ends before it begins
//   - errs.ErrIndexOutOfOrder: entry begins before the last entry
func (i *Index) Append(e *IndexEntry) error {
	if e.TimestampBegin > e.TimestampEnd {
		return fmt.Errorf("%w: [%d, %d] at offset %d", errs.ErrIndexInvalidRange, e.TimestampBegin, e.TimestampEnd, e.OffsetBytes)
	}
	if last := i.Last(); last != nil && e.TimestampBegin < last.TimestampBegin {
		return fmt.Errorf("%w: begin %d after %d at offset %d", errs.ErrIndexOutOfOrder, e.TimestampBegin, last.TimestampBegin, e.OffsetBytes)
	}
	i.entries = append(i.entries, e)

	return nil
}

// Len returns the number of indexed packets.
func (i *Index) Len() int {
	return len(i.entries)
}

// Get returns the n-th entry, or nil when n is out of range.
func (i *Index) Get(n int) *IndexEntry {
	if n < 0 || n >= len(i.entries) {
		return nil
	}

	return i.entries[n]
}

// Last returns the most recently appended entry, or nil when the index is empty.
func (i *Index) Last() *IndexEntry {
	return i.Get(len(i.entries) - 1)
}

// Search returns the position of the packet to start reading from to find the
// first event at or after ts.
//
// The result is the last entry beginning at or before ts, moved back over preceding
// entries whose range still includes ts so that packets sharing a boundary time are
// not skipped. When every entry begins after ts (or the index is empty) the result
// is 0; when ts is after every entry it is the last position.
func (i *Index) Search(ts int64) int {
	// first entry beginning after ts
	n := sort.Search(len(i.entries), func(k int) bool {
		return i.entries[k].TimestampBegin > ts
	})
	pos := n - 1
	if pos < 0 {
		return 0
	}
	for pos > 0 && i.entries[pos-1].Includes(ts) {
		pos--
	}

	return pos
}
