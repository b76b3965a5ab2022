package store

import "errors"

// Error taxonomy for store operations. Callers match with errors.Is.
var (
	// ErrTransport covers network failures, 5xx responses and throttling.
	// Retryable.
	ErrTransport = errors.New("store: transport error")

	// ErrAuth covers 401/403. Fatal: credentials must be fixed externally.
	ErrAuth = errors.New("store: authentication rejected")

	// ErrDecode covers malformed payloads and request-shape 4xx responses.
	// Not retryable; the affected record or batch is dropped.
	ErrDecode = errors.New("store: malformed response")
)
