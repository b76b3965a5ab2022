// Package ui implements the UI actuation sink: synthetic input against a
// third-party chat surface, with a global fail-safe abort and locale-safe
// text injection.
package ui

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/pollclaw/internal/bus"
	"github.com/nextlevelbuilder/pollclaw/internal/config"
)

// State tracks where an actuation attempt is in its sequence.
type State int32

const (
	StateIdle State = iota
	StateFocusing
	StateClearing
	StateInjecting
	StateSending
	StateDone
	StateAborted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFocusing:
		return "focusing"
	case StateClearing:
		return "clearing"
	case StateInjecting:
		return "injecting"
	case StateSending:
		return "sending"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Sink drives the actuation sequence. Strictly self-serialized: two
// concurrent sequences against the same window would race on focus, so
// callers queue behind the mutex.
type Sink struct {
	mu       sync.Mutex
	locator  Locator
	failsafe FailSafe

	focusClicks int
	stepTimeout time.Duration
	autoSend    bool

	state atomic.Int32
}

// New creates the UI actuation sink.
func New(locator Locator, failsafe FailSafe, cfg config.UIConfig) *Sink {
	clicks := cfg.FocusClicks
	// 2 to 5 clicks defeat the focus races seen in the wild; clamp.
	if clicks < 2 {
		clicks = 2
	}
	if clicks > 5 {
		clicks = 5
	}
	return &Sink{
		locator:     locator,
		failsafe:    failsafe,
		focusClicks: clicks,
		stepTimeout: cfg.StepTimeout(),
		autoSend:    cfg.AutoSend,
	}
}

func (s *Sink) Name() string { return "ui-actuate" }

// State reports the current (or final) state of the last attempt.
func (s *Sink) State() State { return State(s.state.Load()) }

func (s *Sink) setState(st State) { s.state.Store(int32(st)) }

// checkAbort consults the fail-safe. Called before every input primitive,
// not just at entry: a corner flick mid-sequence must stop the next
// keystroke, not the next message.
func (s *Sink) checkAbort() error {
	if s.failsafe != nil && s.failsafe.Triggered() {
		s.setState(StateAborted)
		return ErrAborted
	}
	return nil
}

// Send performs one actuation sequence:
// focus clicks, clear stale input, inject text, optional send keystroke.
// The composed text is left unsent unless auto-send is on; pushing to a live
// third-party chat is for a human to confirm.
func (s *Sink) Send(ctx context.Context, reply string, msg bus.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setState(StateIdle)

	surface, err := s.locator.Locate(ctx)
	if err != nil {
		s.setState(StateFailed)
		return err
	}

	if err := s.focus(ctx, surface); err != nil {
		return err
	}
	if err := s.clear(ctx, surface); err != nil {
		return err
	}
	if err := s.inject(ctx, surface, reply); err != nil {
		return err
	}
	if s.autoSend {
		if err := s.send(ctx, surface); err != nil {
			return err
		}
	}

	s.setState(StateDone)
	slog.Debug("ui actuation complete", "message_id", msg.ID, "auto_send", s.autoSend)
	return nil
}

func (s *Sink) focus(ctx context.Context, surface Surface) error {
	s.setState(StateFocusing)
	stepCtx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()

	for i := 0; i < s.focusClicks; i++ {
		if err := s.checkAbort(); err != nil {
			return err
		}
		if err := surface.FocusClick(stepCtx); err != nil {
			s.setState(StateFailed)
			return fmt.Errorf("%w: %v", ErrFocusLost, err)
		}
	}
	return nil
}

func (s *Sink) clear(ctx context.Context, surface Surface) error {
	s.setState(StateClearing)
	stepCtx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()

	if err := s.checkAbort(); err != nil {
		return err
	}
	if err := surface.SelectAll(stepCtx); err != nil {
		s.setState(StateFailed)
		return fmt.Errorf("clear input: %w", err)
	}
	if err := s.checkAbort(); err != nil {
		return err
	}
	if err := surface.DeleteSelection(stepCtx); err != nil {
		s.setState(StateFailed)
		return fmt.Errorf("clear input: %w", err)
	}
	return nil
}

func (s *Sink) inject(ctx context.Context, surface Surface, reply string) error {
	s.setState(StateInjecting)
	stepCtx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()

	var lastErr error
	for _, injector := range chooseInjectors(reply) {
		if err := s.checkAbort(); err != nil {
			return err
		}
		if err := injector.Inject(stepCtx, surface, reply); err != nil {
			slog.Warn("text injection failed", "injector", injector.Name(), "error", err)
			lastErr = err
			continue
		}
		return nil
	}
	s.setState(StateFailed)
	return fmt.Errorf("inject text: %w", lastErr)
}

func (s *Sink) send(ctx context.Context, surface Surface) error {
	s.setState(StateSending)
	stepCtx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()

	if err := s.checkAbort(); err != nil {
		return err
	}
	if err := surface.PressEnter(stepCtx); err != nil {
		s.setState(StateFailed)
		return fmt.Errorf("send keystroke: %w", err)
	}
	return nil
}
