package ingestion

import (
	"container/list"

	"github.com/google/uuid"
)

// DefaultDedupCapacity bounds how many settled action IDs are remembered.
const DefaultDedupCapacity = 10_000

// ResultDedup remembers the action IDs whose results were already applied
// so JetStream redeliveries are acked without touching the tracker or the
// action store. Least recently seen IDs are evicted first.
// Not thread-safe; only the result processor goroutine uses it.
type ResultDedup struct {
	capacity int
	index    map[uuid.UUID]*list.Element
	order    *list.List

	evictions int64
}

func NewResultDedup(capacity int) *ResultDedup {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &ResultDedup{
		capacity: capacity,
		index:    make(map[uuid.UUID]*list.Element, capacity),
		order:    list.New(),
	}
}

// Seen reports whether id was marked and promotes it.
func (d *ResultDedup) Seen(id uuid.UUID) bool {
	elem, ok := d.index[id]
	if ok {
		d.order.MoveToFront(elem)
	}
	return ok
}

// Mark records id as settled.
func (d *ResultDedup) Mark(id uuid.UUID) {
	if elem, ok := d.index[id]; ok {
		d.order.MoveToFront(elem)
		return
	}
	d.index[id] = d.order.PushFront(id)

	if d.order.Len() > d.capacity {
		oldest := d.order.Back()
		d.order.Remove(oldest)
		delete(d.index, oldest.Value.(uuid.UUID))
		d.evictions++
	}
}

func (d *ResultDedup) Size() int { return d.order.Len() }

func (d *ResultDedup) Evictions() int64 { return d.evictions }
