// Package sinks routes composed replies to their dispatch targets. Sinks are
// independent side channels: posting a reply and driving UI automation are
// not transactional with each other.
package sinks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/pollclaw/internal/bus"
)

// Sink delivers one composed reply somewhere.
type Sink interface {
	// Name identifies the sink in logs and dispatch results.
	Name() string

	// Send delivers the reply. Implementations honor ctx cancellation and
	// return typed errors from their own taxonomy.
	Send(ctx context.Context, reply string, msg bus.Message) error
}

// Dispatcher invokes every configured sink in fixed order. A failure in one
// sink never prevents invocation of the next, and a panicking sink is
// converted into a failed DispatchResult instead of crashing the poll loop.
type Dispatcher struct {
	sinks       []Sink
	callTimeout time.Duration
	tracer      trace.Tracer
}

// NewDispatcher creates a dispatcher over the given sinks, invoked in slice
// order with callTimeout applied per sink call.
func NewDispatcher(callTimeout time.Duration, sinks ...Sink) *Dispatcher {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &Dispatcher{
		sinks:       sinks,
		callTimeout: callTimeout,
		tracer:      otel.Tracer("pollclaw/sinks"),
	}
}

// Dispatch sends the reply through every sink and returns one result per
// sink. Errors are captured in the results, never propagated.
func (d *Dispatcher) Dispatch(ctx context.Context, reply string, msg bus.Message) []bus.DispatchResult {
	results := make([]bus.DispatchResult, 0, len(d.sinks))
	for _, sink := range d.sinks {
		results = append(results, d.send(ctx, sink, reply, msg))
	}
	return results
}

func (d *Dispatcher) send(ctx context.Context, sink Sink, reply string, msg bus.Message) (result bus.DispatchResult) {
	ctx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	ctx, span := d.tracer.Start(ctx, "sink.send",
		trace.WithAttributes(
			attribute.String("sink", sink.Name()),
			attribute.Int64("message.id", msg.ID),
		))
	defer span.End()

	start := time.Now()
	result = bus.DispatchResult{Sink: sink.Name()}

	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("sink %s panicked: %v", sink.Name(), r)
			result.Success = false
			result.Latency = time.Since(start)
			slog.Error("sink panic recovered", "sink", sink.Name(), "panic", r)
		}
	}()

	err := sink.Send(ctx, reply, msg)
	result.Latency = time.Since(start)
	if err != nil {
		result.Err = err
		span.SetAttributes(attribute.Bool("success", false))
		return result
	}
	result.Success = true
	span.SetAttributes(attribute.Bool("success", true))
	return result
}
