package ui

import "errors"

var (
	// ErrAborted means the fail-safe fired mid-sequence. Sink-local; the
	// poll loop logs it and keeps running.
	ErrAborted = errors.New("ui: aborted by fail-safe")

	// ErrWindowNotFound means no page matched the target title and no
	// fallback region is configured.
	ErrWindowNotFound = errors.New("ui: target window not found")

	// ErrFocusLost means focus acquisition timed out.
	ErrFocusLost = errors.New("ui: could not acquire focus")
)
