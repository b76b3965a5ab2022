package sinks

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/pollclaw/internal/bus"
	"github.com/nextlevelbuilder/pollclaw/internal/store"
)

// replyPoster is the write side of the store client.
type replyPoster interface {
	PostReply(ctx context.Context, reply bus.Reply) error
}

// ReplyPostSink posts composed replies back to the message store.
type ReplyPostSink struct {
	poster replyPoster
	sender string

	maxRetries      uint64
	initialInterval time.Duration
}

// NewReplyPostSink creates the reply-post sink. sender is the identity
// written on every posted row.
func NewReplyPostSink(poster replyPoster, sender string) *ReplyPostSink {
	return &ReplyPostSink{
		poster:          poster,
		sender:          sender,
		maxRetries:      3,
		initialInterval: time.Second,
	}
}

func (s *ReplyPostSink) Name() string { return "reply-post" }

// Send posts the reply, retrying transport errors up to three times with
// exponential backoff (1s, 2s, 4s). Auth errors surface immediately; decode
// errors are not retryable either, since replaying a malformed request
// cannot succeed. The idempotency token is generated once, before the first
// attempt, so retries insert the same logical row.
func (s *ReplyPostSink) Send(ctx context.Context, reply string, msg bus.Message) error {
	row := bus.Reply{
		Sender:    s.sender,
		Body:      reply,
		CreatedAt: time.Now().UTC(),
		Target:    msg.Sender,
		DedupKey:  uuid.NewString(),
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.initialInterval
	exp.Multiplier = 2
	exp.RandomizationFactor = 0 // deterministic 1s, 2s, 4s ladder

	policy := backoff.WithContext(backoff.WithMaxRetries(exp, s.maxRetries), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := s.poster.PostReply(ctx, row)
		if err == nil {
			return nil
		}
		if errors.Is(err, store.ErrTransport) {
			slog.Warn("reply post failed, backing off",
				"message_id", msg.ID,
				"attempt", attempt,
				"error", err,
			)
			return err
		}
		// ErrAuth and ErrDecode: retrying cannot help.
		return backoff.Permanent(err)
	}, policy)
}
