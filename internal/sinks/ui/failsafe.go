package ui

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
)

// FailSafe is the emergency abort for UI automation. Once triggered it stays
// triggered; the sink checks it before every input primitive.
type FailSafe interface {
	Triggered() bool
}

// ManualFailSafe is a process-local kill switch (tests, signal handlers).
type ManualFailSafe struct {
	tripped atomic.Bool
}

func (m *ManualFailSafe) Trip()           { m.tripped.Store(true) }
func (m *ManualFailSafe) Triggered() bool { return m.tripped.Load() }

// CornerWatcher trips when the human moves the pointer into the reserved
// top-left corner of the target page. Physical pointer movement fires
// mousemove events that synthetic injection does not replay to the tracker,
// so a real hand reaching for the corner is distinguishable.
type CornerWatcher struct {
	tripped atomic.Bool
	corner  float64
	cancel  context.CancelFunc
}

const pointerTracker = `() => {
	if (!window.__pollclawPointer) {
		window.__pollclawPointer = [-1, -1];
		window.addEventListener('mousemove', (e) => {
			window.__pollclawPointer = [e.clientX, e.clientY];
		}, {passive: true});
	}
}`

const pointerRead = `() => window.__pollclawPointer || [-1, -1]`

// WatchCorner installs a pointer tracker on the page and polls it. The
// check interval is short enough that a deliberate corner flick is caught
// between two input steps.
func WatchCorner(page *rod.Page, cornerSize int) (*CornerWatcher, error) {
	if cornerSize <= 0 {
		cornerSize = 10
	}
	if _, err := page.Eval(pointerTracker); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &CornerWatcher{corner: float64(cornerSize), cancel: cancel}

	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.poll(page)
			}
		}
	}()
	return w, nil
}

func (w *CornerWatcher) poll(page *rod.Page) {
	if w.tripped.Load() {
		return
	}
	res, err := page.Eval(pointerRead)
	if err != nil {
		return
	}
	pos := res.Value.Arr()
	if len(pos) != 2 {
		return
	}
	x, y := pos[0].Num(), pos[1].Num()
	if x >= 0 && x < w.corner && y >= 0 && y < w.corner {
		slog.Warn("fail-safe corner reached, aborting UI automation", "x", x, "y", y)
		w.tripped.Store(true)
	}
}

func (w *CornerWatcher) Triggered() bool { return w.tripped.Load() }

// Stop ends the polling goroutine.
func (w *CornerWatcher) Stop() { w.cancel() }
