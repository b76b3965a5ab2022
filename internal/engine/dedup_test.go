package engine

import (
	"testing"

	"github.com/nextlevelbuilder/pollclaw/internal/bus"
)

func batchOf(ids ...int64) []bus.Message {
	msgs := make([]bus.Message, len(ids))
	for i, id := range ids {
		msgs[i] = bus.Message{ID: id, Sender: "amy", Body: "hi"}
	}
	return msgs
}

func TestFilterIdempotent(t *testing.T) {
	d := NewDeduplicator(0, 16)

	first := d.Filter(batchOf(1, 2, 3))
	if len(first) != 3 {
		t.Fatalf("first pass accepted %d, want 3", len(first))
	}

	second := d.Filter(batchOf(1, 2, 3))
	if len(second) != 0 {
		t.Errorf("second pass with same batch accepted %d, want 0", len(second))
	}
}

func TestFilterRespectsWatermark(t *testing.T) {
	d := NewDeduplicator(5, 16)
	got := d.Filter(batchOf(3, 5, 6, 7))
	if len(got) != 2 || got[0].ID != 6 || got[1].ID != 7 {
		t.Errorf("accepted %v, want ids 6 and 7", got)
	}
}

func TestFilterOutOfOrderBatch(t *testing.T) {
	d := NewDeduplicator(0, 16)
	got := d.Filter(batchOf(3, 1, 2))
	if len(got) != 3 {
		t.Fatalf("accepted %d, want all 3", len(got))
	}
	// Position must not matter: re-offering id 1 after id 3 is still a dup.
	if again := d.Filter(batchOf(1)); len(again) != 0 {
		t.Error("id 1 accepted twice")
	}
}

func TestAdvanceMonotonic(t *testing.T) {
	d := NewDeduplicator(0, 16)
	d.Advance(10)
	d.Advance(4) // out-of-order batch reporting a smaller max
	if d.Watermark() != 10 {
		t.Errorf("watermark = %d, want 10", d.Watermark())
	}
	d.Advance(12)
	if d.Watermark() != 12 {
		t.Errorf("watermark = %d, want 12", d.Watermark())
	}
}

func TestProcessedSetBounded(t *testing.T) {
	const capacity = 8
	d := NewDeduplicator(0, capacity)

	for id := int64(1); id <= capacity+10; id++ {
		d.Filter(batchOf(id))
		if d.SetSize() > capacity {
			t.Fatalf("set grew to %d, capacity %d", d.SetSize(), capacity)
		}
	}

	// Oldest ids were evicted; watermark still protects them.
	d.Advance(capacity + 10)
	if got := d.Filter(batchOf(1)); len(got) != 0 {
		t.Error("evicted id below watermark was accepted")
	}
}
