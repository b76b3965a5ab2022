package sinks

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nextlevelbuilder/pollclaw/internal/bus"
	"github.com/nextlevelbuilder/pollclaw/internal/store"
)

// flakyPoster fails the first n calls with the given error.
type flakyPoster struct {
	failures int
	err      error
	calls    int
	rows     []bus.Reply
}

func (p *flakyPoster) PostReply(ctx context.Context, reply bus.Reply) error {
	p.calls++
	p.rows = append(p.rows, reply)
	if p.calls <= p.failures {
		return p.err
	}
	return nil
}

func newFastSink(poster replyPoster) *ReplyPostSink {
	s := NewReplyPostSink(poster, "pollclaw")
	s.initialInterval = time.Millisecond // keep the backoff ladder out of test time
	return s
}

func TestSendRetriesTransportErrors(t *testing.T) {
	poster := &flakyPoster{
		failures: 3,
		err:      fmt.Errorf("%w: status 502", store.ErrTransport),
	}
	s := newFastSink(poster)

	if err := s.Send(context.Background(), "hi", testMsg()); err != nil {
		t.Fatalf("Send should succeed on attempt 4, got %v", err)
	}
	if poster.calls != 4 {
		t.Errorf("made %d attempts, want 4", poster.calls)
	}
}

func TestSendGivesUpAfterFourAttempts(t *testing.T) {
	poster := &flakyPoster{
		failures: 10,
		err:      fmt.Errorf("%w: connection reset", store.ErrTransport),
	}
	s := newFastSink(poster)

	err := s.Send(context.Background(), "hi", testMsg())
	if !errors.Is(err, store.ErrTransport) {
		t.Fatalf("Send = %v, want ErrTransport", err)
	}
	if poster.calls != 4 {
		t.Errorf("made %d attempts, want exactly 4 (1 + 3 retries)", poster.calls)
	}
}

func TestSendDoesNotRetryAuthOrDecode(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
	}{
		{"auth", fmt.Errorf("%w: status 401", store.ErrAuth)},
		{"decode", fmt.Errorf("%w: status 400", store.ErrDecode)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			poster := &flakyPoster{failures: 10, err: tc.err}
			s := newFastSink(poster)

			err := s.Send(context.Background(), "hi", testMsg())
			if !errors.Is(err, tc.err) {
				t.Fatalf("Send = %v, want %v", err, tc.err)
			}
			if poster.calls != 1 {
				t.Errorf("made %d attempts, want 1 (no retry)", poster.calls)
			}
		})
	}
}

func TestSendKeepsIdempotencyTokenAcrossRetries(t *testing.T) {
	poster := &flakyPoster{
		failures: 2,
		err:      fmt.Errorf("%w: timeout", store.ErrTransport),
	}
	s := newFastSink(poster)

	if err := s.Send(context.Background(), "hi", testMsg()); err != nil {
		t.Fatal(err)
	}
	if len(poster.rows) != 3 {
		t.Fatalf("saw %d rows", len(poster.rows))
	}
	key := poster.rows[0].DedupKey
	if key == "" {
		t.Fatal("dedup key not set")
	}
	for i, row := range poster.rows {
		if row.DedupKey != key {
			t.Errorf("attempt %d used a different dedup key", i+1)
		}
	}
}

func TestSendFillsReplyRow(t *testing.T) {
	poster := &flakyPoster{}
	s := newFastSink(poster)

	if err := s.Send(context.Background(), "おはよう、amy!", testMsg()); err != nil {
		t.Fatal(err)
	}
	row := poster.rows[0]
	if row.Sender != "pollclaw" {
		t.Errorf("sender = %q", row.Sender)
	}
	if row.Target != "amy" {
		t.Errorf("target = %q, want the original sender", row.Target)
	}
	if row.Body != "おはよう、amy!" {
		t.Errorf("body = %q", row.Body)
	}
	if row.CreatedAt.IsZero() {
		t.Error("created_at not set")
	}
}
