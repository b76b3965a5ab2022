package engine

import (
	"github.com/nextlevelbuilder/pollclaw/internal/bus"
)

// Deduplicator tracks the watermark (highest id already handed to dispatch)
// and a bounded FIFO set of recently processed ids. The store's inclusive
// since-filter can return overlapping pages under concurrent writes, so both
// checks are needed. Accessed only from the poll loop goroutine.
type Deduplicator struct {
	watermark int64
	capacity  int
	seen      map[int64]struct{}
	order     []int64 // FIFO eviction order
}

// NewDeduplicator creates a deduplicator seeded at watermark with a
// processed-set capacity of n.
func NewDeduplicator(watermark int64, n int) *Deduplicator {
	if n <= 0 {
		n = 256
	}
	return &Deduplicator{
		watermark: watermark,
		capacity:  n,
		seen:      make(map[int64]struct{}, n),
	}
}

// Filter returns the messages that are genuinely new: id above the watermark
// and not in the processed set. Accepted ids enter the set immediately, with
// the oldest entries evicted beyond capacity. Comparison is by id, never by
// position, so out-of-order batches are handled.
func (d *Deduplicator) Filter(batch []bus.Message) []bus.Message {
	var accepted []bus.Message
	for _, msg := range batch {
		if msg.ID <= d.watermark {
			continue
		}
		if _, dup := d.seen[msg.ID]; dup {
			continue
		}
		d.remember(msg.ID)
		accepted = append(accepted, msg)
	}
	return accepted
}

func (d *Deduplicator) remember(id int64) {
	if len(d.order) >= d.capacity {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}
	d.seen[id] = struct{}{}
	d.order = append(d.order, id)
}

// Advance moves the watermark up to maxID. Never decreases it, even when an
// out-of-order batch reports a smaller max. Call only after dispatch attempts
// for the whole batch have completed.
func (d *Deduplicator) Advance(maxID int64) {
	if maxID > d.watermark {
		d.watermark = maxID
	}
}

// Watermark returns the current resume point.
func (d *Deduplicator) Watermark() int64 {
	return d.watermark
}

// SetSize reports the current processed-set size.
func (d *Deduplicator) SetSize() int {
	return len(d.seen)
}
