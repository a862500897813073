package trace

import (
	"github.com/arloliu/ctftrace/stream"
)

// queueItem is a registered stream reader. seq is its registration order.
type queueItem struct {
	reader *stream.Reader
	seq    int
}

// readerQueue implements heap.Interface. Readers with a current event come
// first, ordered by timestamp then registration order; waiting readers follow
// in registration order.
type readerQueue []*queueItem

func (q readerQueue) Len() int { return len(q) }

func (q readerQueue) Less(i, j int) bool {
	a, b := q[i].reader.CurrentEvent(), q[j].reader.CurrentEvent()
	switch {
	case a == nil && b == nil:
		return q[i].seq < q[j].seq
	case a == nil:
		return false
	case b == nil:
		return true
	case a.Timestamp != b.Timestamp:
		return a.Timestamp < b.Timestamp
	default:
		return q[i].seq < q[j].seq
	}
}

func (q readerQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *readerQueue) Push(x any) {
	*q = append(*q, x.(*queueItem))
}

func (q *readerQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]

	return item
}
