package voice

import (
	"time"

	"github.com/google/uuid"
)

// Request describes a playback request as handed to the façade by a command
// or event handler.
type Request struct {
	// Source is the opaque audio reference resolved by the source factory.
	Source string
	// Label is the display name surfaced in replies.
	Label string
	// Requester is the user who asked for the sound, if any.
	Requester string
	// Duration is an optional length hint used in replies.
	Duration time.Duration
}

// QueueItem is one queued playback request. An item is owned by exactly one
// slot at a time: either a queue position or the guild's current slot.
type QueueItem struct {
	ID         string
	Source     string
	Label      string
	Requester  string
	EnqueuedAt time.Time

	// ResumeOffset accumulates elapsed playback time when the item is
	// interrupted, so it can continue where it left off. It is only ever
	// mutated under the guild lock while the item sits in the current
	// slot.
	ResumeOffset time.Duration

	Duration time.Duration
}

func newQueueItem(req Request) *QueueItem {
	return &QueueItem{
		ID:         uuid.New().String(),
		Source:     req.Source,
		Label:      req.Label,
		Requester:  req.Requester,
		EnqueuedAt: time.Now(),
		Duration:   req.Duration,
	}
}

// deque is a FIFO of queue items with front-insert support. Callers
// synchronize through the guild lock.
type deque struct {
	items []*QueueItem
}

func (d *deque) pushBack(item *QueueItem) {
	d.items = append(d.items, item)
}

func (d *deque) pushFront(item *QueueItem) {
	d.items = append([]*QueueItem{item}, d.items...)
}

func (d *deque) popFront() *QueueItem {
	if len(d.items) == 0 {
		return nil
	}
	item := d.items[0]
	d.items = d.items[1:]
	return item
}

func (d *deque) len() int {
	return len(d.items)
}

// snapshot returns copies of the queued items, front first.
func (d *deque) snapshot() []QueueItem {
	out := make([]QueueItem, len(d.items))
	for i, item := range d.items {
		out[i] = *item
	}
	return out
}

// clear empties the deque and reports how many items were dropped.
func (d *deque) clear() int {
	n := len(d.items)
	d.items = nil
	return n
}
