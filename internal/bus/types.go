// Package bus defines the message types shared between the store client,
// the poll engine, and the dispatch sinks.
package bus

import (
	"time"
)

// Message is one row fetched from the hosted message table. Rows are created
// by external writers and are read-only to this engine.
type Message struct {
	ID        int64     `json:"id"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	Target    string    `json:"target,omitempty"`
}

// Reply is a row the engine posts back to the store in response to a Message.
// DedupKey is an idempotency token generated once per composed reply; it is
// stable across retries so a retried insert can be recognized server-side.
type Reply struct {
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	Target    string    `json:"target,omitempty"`
	DedupKey  string    `json:"dedup_key,omitempty"`
}

// DispatchResult is the outcome of one sink invocation. Used for logging and
// the optional dispatch log only, never persisted as engine state.
type DispatchResult struct {
	Sink    string
	Success bool
	Err     error
	Latency time.Duration
}
