package consumer

import "github.com/ismaiel54/stateful-consumer-probe/internal/msg"

// History keeps the most recent records up to a fixed bound, dropping the
// oldest first. It is not safe for concurrent use; Session guards it.
type History struct {
	max   int
	items []msg.Record
	total int64
}

// NewHistory creates a history holding at most max records
func NewHistory(max int) *History {
	if max <= 0 {
		max = 1
	}
	return &History{max: max, items: make([]msg.Record, 0, max)}
}

// Add appends records, evicting the oldest beyond the bound
func (h *History) Add(records ...msg.Record) {
	h.items = append(h.items, records...)
	h.total += int64(len(records))
	if over := len(h.items) - h.max; over > 0 {
		kept := make([]msg.Record, h.max, h.max)
		copy(kept, h.items[over:])
		h.items = kept
	}
}

// Len returns the number of stored records
func (h *History) Len() int {
	return len(h.items)
}

// Total returns the number of records ever added
func (h *History) Total() int64 {
	return h.total
}

// Cap returns the bound
func (h *History) Cap() int {
	return h.max
}

// Last returns a copy of the newest n records, oldest first
func (h *History) Last(n int) []msg.Record {
	if n <= 0 || n > len(h.items) {
		n = len(h.items)
	}
	out := make([]msg.Record, n)
	copy(out, h.items[len(h.items)-n:])
	return out
}
