// Package engine drives the poll-deduplicate-classify-dispatch cycle against
// the hosted message store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/pollclaw/internal/bus"
	"github.com/nextlevelbuilder/pollclaw/internal/classify"
	"github.com/nextlevelbuilder/pollclaw/internal/compose"
	"github.com/nextlevelbuilder/pollclaw/internal/store"
)

// Fetcher is the read side of the store client.
type Fetcher interface {
	FetchSince(ctx context.Context, watermark int64) ([]bus.Message, error)
}

// Dispatcher routes a composed reply to the configured sinks.
type Dispatcher interface {
	Dispatch(ctx context.Context, reply string, msg bus.Message) []bus.DispatchResult
}

// Recorder receives dispatch outcomes for the optional on-disk log.
type Recorder interface {
	Record(ctx context.Context, msgID int64, intent string, results []bus.DispatchResult)
}

// Loop is the process driver. Single goroutine: the watermark and processed
// set are only ever touched from Run.
type Loop struct {
	fetcher    Fetcher
	dedup      *Deduplicator
	classifier *classify.Classifier
	composer   *compose.Composer
	dispatcher Dispatcher
	recorder   Recorder // may be nil

	interval       time.Duration
	schedule       string // optional cron expression gating fetches
	gron           *gronx.Gronx
	checkpointPath string // empty = no on-disk checkpoint
	dryRun         bool

	tracer trace.Tracer
}

// Params bundles the loop's collaborators and settings.
type Params struct {
	Fetcher        Fetcher
	Dedup          *Deduplicator
	Classifier     *classify.Classifier
	Composer       *compose.Composer
	Dispatcher     Dispatcher
	Recorder       Recorder
	Interval       time.Duration
	Schedule       string
	CheckpointPath string
	DryRun         bool
}

// NewLoop creates a poll loop. The schedule expression, when set, is
// validated here so a typo fails startup instead of silently never firing.
func NewLoop(p Params) (*Loop, error) {
	if p.Interval <= 0 {
		p.Interval = 4 * time.Second
	}
	l := &Loop{
		fetcher:        p.Fetcher,
		dedup:          p.Dedup,
		classifier:     p.Classifier,
		composer:       p.Composer,
		dispatcher:     p.Dispatcher,
		recorder:       p.Recorder,
		interval:       p.Interval,
		schedule:       p.Schedule,
		checkpointPath: p.CheckpointPath,
		dryRun:         p.DryRun,
		tracer:         otel.Tracer("pollclaw/engine"),
	}
	if p.Schedule != "" {
		g := gronx.New()
		if !g.IsValid(p.Schedule) {
			return nil, fmt.Errorf("invalid poll schedule %q", p.Schedule)
		}
		l.gron = g
	}
	return l, nil
}

// Run polls until ctx is cancelled or the store rejects our credentials.
// Individual record failures are logged and survived; only ErrAuth (the
// whole process cannot function) terminates the loop with an error.
func (l *Loop) Run(ctx context.Context) error {
	slog.Info("poll loop started",
		"interval", l.interval,
		"watermark", l.dedup.Watermark(),
		"dry_run", l.dryRun,
	)

	// First poll immediately; the ticker covers the rest.
	if err := l.tick(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("poll loop stopped", "watermark", l.dedup.Watermark())
			return nil
		case <-ticker.C:
			if !l.due() {
				continue
			}
			if err := l.tick(ctx); err != nil {
				return err
			}
		}
	}
}

// due gates ticks on the optional cron schedule.
func (l *Loop) due() bool {
	if l.gron == nil {
		return true
	}
	ok, err := l.gron.IsDue(l.schedule, time.Now())
	if err != nil {
		slog.Warn("schedule check failed", "schedule", l.schedule, "error", err)
		return true
	}
	return ok
}

func (l *Loop) tick(ctx context.Context) error {
	batch, err := l.fetcher.FetchSince(ctx, l.dedup.Watermark())
	if err != nil {
		if errors.Is(err, store.ErrAuth) {
			slog.Error("store rejected credentials, stopping", "error", err)
			return err
		}
		// Transport and decode failures skip the tick; the watermark is
		// untouched so the next tick re-fetches the same window.
		slog.Warn("fetch failed, will retry next tick", "error", err)
		return nil
	}
	if len(batch) == 0 {
		return nil
	}

	ctx, span := l.tracer.Start(ctx, "poll.tick",
		trace.WithAttributes(attribute.Int("batch.fetched", len(batch))))
	defer span.End()

	accepted := l.dedup.Filter(batch)
	span.SetAttributes(attribute.Int("batch.accepted", len(accepted)))

	for _, msg := range accepted {
		l.process(ctx, msg)
	}

	// Advance over the whole fetched page: everything at or below its max id
	// has now been dispatched or was already in the processed set.
	maxID := batch[len(batch)-1].ID
	l.dedup.Advance(maxID)
	l.checkpoint()
	return nil
}

// process runs one message through classify, compose and dispatch. Never
// returns an error: per-message failures are logged DispatchResults.
func (l *Loop) process(ctx context.Context, msg bus.Message) {
	intent := l.classifier.Classify(msg.Body)
	reply := l.composer.Compose(intent, msg)

	if l.dryRun {
		slog.Info("dry-run: composed reply",
			"id", msg.ID,
			"sender", msg.Sender,
			"intent", intent.Name,
			"reply", reply,
		)
		return
	}

	start := time.Now()
	results := l.dispatcher.Dispatch(ctx, reply, msg)

	attrs := []any{
		"id", msg.ID,
		"sender", msg.Sender,
		"intent", intent.Name,
		"latency", time.Since(start).Round(time.Millisecond),
	}
	failed := 0
	for _, res := range results {
		attrs = append(attrs, res.Sink, res.Success)
		if !res.Success {
			failed++
		}
	}
	if failed > 0 {
		slog.Warn("message dispatched with failures", attrs...)
	} else {
		slog.Info("message dispatched", attrs...)
	}

	if l.recorder != nil {
		l.recorder.Record(ctx, msg.ID, intent.Name, results)
	}
}

func (l *Loop) checkpoint() {
	if l.checkpointPath == "" {
		return
	}
	if err := WriteCheckpoint(l.checkpointPath, l.dedup.Watermark()); err != nil {
		slog.Warn("checkpoint write failed", "path", l.checkpointPath, "error", err)
	}
}
