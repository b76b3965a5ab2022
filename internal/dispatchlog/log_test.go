package dispatchlog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/pollclaw/internal/bus"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "dispatch.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndCount(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	l.Record(ctx, 1, "greeting", []bus.DispatchResult{
		{Sink: "reply-post", Success: true, Latency: 120 * time.Millisecond},
		{Sink: "ui-actuate", Success: false, Err: errors.New("window not found"), Latency: 30 * time.Millisecond},
	})
	l.Record(ctx, 2, "fallback", []bus.DispatchResult{
		{Sink: "reply-post", Success: true},
	})

	n, err := l.FailureCount(ctx, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("failure count = %d, want 1", n)
	}
}

func TestFailureCountWindow(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	l.Record(ctx, 1, "greeting", []bus.DispatchResult{
		{Sink: "reply-post", Success: false, Err: errors.New("boom")},
	})

	// A zero-width window that starts in the future sees nothing.
	n, err := l.FailureCount(ctx, -time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("failure count = %d, want 0 outside window", n)
	}
}

func TestOpenReuse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatch.db")
	l1, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	l1.Record(context.Background(), 1, "greeting", []bus.DispatchResult{{Sink: "reply-post", Success: false}})
	l1.Close()

	l2, err := Open(path)
	if err != nil {
		t.Fatalf("reopening existing log: %v", err)
	}
	defer l2.Close()
	n, err := l2.FailureCount(context.Background(), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("rows lost across reopen, count = %d", n)
	}
}
