package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/pollclaw/internal/bus"
	"github.com/nextlevelbuilder/pollclaw/internal/classify"
	"github.com/nextlevelbuilder/pollclaw/internal/compose"
	"github.com/nextlevelbuilder/pollclaw/internal/store"
)

// fakeFetcher serves scripted batches, then empty pages.
type fakeFetcher struct {
	mu      sync.Mutex
	batches [][]bus.Message
	err     error
	calls   int
}

func (f *fakeFetcher) FetchSince(ctx context.Context, watermark int64) ([]bus.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

// fakeDispatcher records every reply it sees.
type fakeDispatcher struct {
	mu      sync.Mutex
	replies []string
	ids     []int64
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, reply string, msg bus.Message) []bus.DispatchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, reply)
	f.ids = append(f.ids, msg.ID)
	return []bus.DispatchResult{{Sink: "fake", Success: true}}
}

func (f *fakeDispatcher) dispatched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.replies...)
}

func newTestLoop(t *testing.T, fetcher Fetcher, dispatcher Dispatcher, dedup *Deduplicator) *Loop {
	t.Helper()
	classifier, err := classify.Load("")
	if err != nil {
		t.Fatal(err)
	}
	loop, err := NewLoop(Params{
		Fetcher:    fetcher,
		Dedup:      dedup,
		Classifier: classifier,
		Composer:   compose.New(nil),
		Dispatcher: dispatcher,
		Interval:   10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	return loop
}

// runUntil runs the loop until cond holds or the deadline passes.
func runUntil(t *testing.T, loop *Loop, cond func() bool) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case err := <-done:
			cancel()
			return err
		case <-deadline:
			cancel()
			<-done
			t.Fatal("condition not reached before deadline")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	return <-done
}

func TestScenarioGreetingDispatched(t *testing.T) {
	fetcher := &fakeFetcher{batches: [][]bus.Message{
		{{ID: 1, Sender: "amy", Body: "おはよう", CreatedAt: time.Now()}},
	}}
	dispatcher := &fakeDispatcher{}
	dedup := NewDeduplicator(0, 16)
	loop := newTestLoop(t, fetcher, dispatcher, dedup)

	err := runUntil(t, loop, func() bool { return len(dispatcher.dispatched()) >= 1 })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	replies := dispatcher.dispatched()
	if len(replies) != 1 {
		t.Fatalf("dispatched %d replies, want 1", len(replies))
	}
	if !strings.Contains(replies[0], "おはよう") {
		t.Errorf("reply %q does not use the greeting template", replies[0])
	}
	if dedup.Watermark() != 1 {
		t.Errorf("watermark = %d, want 1", dedup.Watermark())
	}
}

func TestScenarioOverlappingWindows(t *testing.T) {
	same := []bus.Message{{ID: 1, Sender: "amy", Body: "おはよう", CreatedAt: time.Now()}}
	fetcher := &fakeFetcher{batches: [][]bus.Message{same, same}}
	dispatcher := &fakeDispatcher{}
	dedup := NewDeduplicator(0, 16)
	loop := newTestLoop(t, fetcher, dispatcher, dedup)

	// Wait for both scripted batches plus one empty page.
	err := runUntil(t, loop, func() bool {
		fetcher.mu.Lock()
		defer fetcher.mu.Unlock()
		return fetcher.calls >= 3
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := dispatcher.dispatched(); len(got) != 1 {
		t.Errorf("same batch fetched twice dispatched %d replies, want 1", len(got))
	}
}

func TestScenarioAuthFailureStopsLoop(t *testing.T) {
	fetcher := &fakeFetcher{err: fmt.Errorf("%w: status 401", store.ErrAuth)}
	dispatcher := &fakeDispatcher{}
	dedup := NewDeduplicator(7, 16)
	loop := newTestLoop(t, fetcher, dispatcher, dedup)

	err := loop.Run(context.Background())
	if !errors.Is(err, store.ErrAuth) {
		t.Fatalf("Run returned %v, want ErrAuth", err)
	}
	if dedup.Watermark() != 7 {
		t.Errorf("watermark changed to %d on auth failure", dedup.Watermark())
	}
	if len(dispatcher.dispatched()) != 0 {
		t.Error("nothing should have been dispatched")
	}
}

func TestTransportErrorsAreSurvived(t *testing.T) {
	fetcher := &fakeFetcher{err: fmt.Errorf("%w: connection refused", store.ErrTransport)}
	dispatcher := &fakeDispatcher{}
	loop := newTestLoop(t, fetcher, dispatcher, NewDeduplicator(0, 16))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := loop.Run(ctx); err != nil {
		t.Fatalf("transport errors must not stop the loop: %v", err)
	}

	fetcher.mu.Lock()
	calls := fetcher.calls
	fetcher.mu.Unlock()
	if calls < 2 {
		t.Errorf("loop retried %d times, want at least 2", calls)
	}
}

func TestDryRunNeverDispatches(t *testing.T) {
	fetcher := &fakeFetcher{batches: [][]bus.Message{
		{{ID: 1, Sender: "amy", Body: "hello", CreatedAt: time.Now()}},
	}}
	dispatcher := &fakeDispatcher{}
	classifier, err := classify.Load("")
	if err != nil {
		t.Fatal(err)
	}
	dedup := NewDeduplicator(0, 16)
	loop, err := NewLoop(Params{
		Fetcher:    fetcher,
		Dedup:      dedup,
		Classifier: classifier,
		Composer:   compose.New(nil),
		Dispatcher: dispatcher,
		Interval:   10 * time.Millisecond,
		DryRun:     true,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	if err := loop.Run(ctx); err != nil {
		t.Fatal(err)
	}

	if len(dispatcher.dispatched()) != 0 {
		t.Error("dry-run dispatched a reply")
	}
	if dedup.Watermark() != 1 {
		t.Errorf("dry-run should still advance the watermark, got %d", dedup.Watermark())
	}
}

func TestInvalidScheduleRejected(t *testing.T) {
	classifier, _ := classify.Load("")
	_, err := NewLoop(Params{
		Fetcher:    &fakeFetcher{},
		Dedup:      NewDeduplicator(0, 16),
		Classifier: classifier,
		Composer:   compose.New(nil),
		Dispatcher: &fakeDispatcher{},
		Schedule:   "not a cron expr",
	})
	if err == nil {
		t.Error("invalid schedule should fail loop construction")
	}
}
