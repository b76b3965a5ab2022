package ui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/nextlevelbuilder/pollclaw/internal/config"
)

// Surface is the set of synthetic-input primitives the sink drives. It is an
// interface so the state machine can be tested without a browser.
type Surface interface {
	// FocusClick clicks the focus target once.
	FocusClick(ctx context.Context) error

	// SelectAll selects any pre-existing input content.
	SelectAll(ctx context.Context) error

	// DeleteSelection deletes the current selection.
	DeleteSelection(ctx context.Context) error

	// InsertText injects text in one paste-style event. Locale-safe: works
	// for non-Latin payloads that per-key typing corrupts.
	InsertText(ctx context.Context, text string) error

	// TypeText types text key by key. ASCII payloads only.
	TypeText(ctx context.Context, text string) error

	// PressEnter sends the send keystroke.
	PressEnter(ctx context.Context) error
}

// Locator finds the target surface for one actuation attempt.
type Locator interface {
	Locate(ctx context.Context) (Surface, error)
}

// Browser wraps a DevTools connection and locates chat pages by title.
type Browser struct {
	browser *rod.Browser
	cfg     config.UIConfig
}

// Connect attaches to the browser hosting the chat application. With a
// control URL configured it attaches to a running browser; otherwise it
// launches one (headed, since a human may need to watch or take over).
func Connect(cfg config.UIConfig) (*Browser, error) {
	controlURL := cfg.ControlURL
	if controlURL == "" {
		u, err := launcher.New().Headless(false).Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	return &Browser{browser: b, cfg: cfg}, nil
}

// Close detaches from the browser. The browser itself is left running; the
// chat session belongs to the human.
func (b *Browser) Close() error {
	return b.browser.Close()
}

// Locate finds the page whose title contains the configured window title.
// When no page matches it degrades to the first open page with the fallback
// click region, matching the "best effort, never block forever" behaviour.
func (b *Browser) Locate(ctx context.Context) (Surface, error) {
	page, err := b.locatePage(ctx)
	if err != nil {
		return nil, err
	}
	return newPageSurface(page, b.cfg), nil
}

// WatchCorner installs the fail-safe pointer watcher on the target page.
func (b *Browser) WatchCorner(ctx context.Context) (*CornerWatcher, error) {
	page, err := b.locatePage(ctx)
	if err != nil {
		return nil, err
	}
	return WatchCorner(page, b.cfg.CornerSize)
}

func (b *Browser) locatePage(ctx context.Context) (*rod.Page, error) {
	pages, err := b.browser.Context(ctx).Pages()
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	if len(pages) == 0 {
		return nil, ErrWindowNotFound
	}

	if b.cfg.WindowTitle != "" {
		want := strings.ToLower(b.cfg.WindowTitle)
		for _, page := range pages {
			info, err := page.Info()
			if err != nil {
				continue
			}
			if strings.Contains(strings.ToLower(info.Title), want) {
				return page, nil
			}
		}
	}

	if b.cfg.FallbackClickX == 0 && b.cfg.FallbackClickY == 0 {
		return nil, ErrWindowNotFound
	}
	slog.Warn("target window not found, using fallback region",
		"title", b.cfg.WindowTitle,
		"x", b.cfg.FallbackClickX,
		"y", b.cfg.FallbackClickY,
	)
	return pages.First(), nil
}

// pageSurface drives one rod page.
type pageSurface struct {
	page *rod.Page
	x, y float64
}

func newPageSurface(page *rod.Page, cfg config.UIConfig) *pageSurface {
	x, y := float64(cfg.FallbackClickX), float64(cfg.FallbackClickY)
	if x == 0 && y == 0 {
		// Center-ish of a typical chat input bar.
		x, y = 400, 600
	}
	return &pageSurface{page: page, x: x, y: y}
}

func (s *pageSurface) FocusClick(ctx context.Context) error {
	p := s.page.Context(ctx)
	if err := p.Mouse.MoveTo(proto.Point{X: s.x, Y: s.y}); err != nil {
		return fmt.Errorf("move pointer: %w", err)
	}
	if err := p.Mouse.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("focus click: %w", err)
	}
	return nil
}

func (s *pageSurface) SelectAll(ctx context.Context) error {
	p := s.page.Context(ctx)
	if err := p.Keyboard.Press(input.ControlLeft); err != nil {
		return fmt.Errorf("hold ctrl: %w", err)
	}
	defer p.Keyboard.Release(input.ControlLeft)
	if err := p.Keyboard.Type(input.KeyA); err != nil {
		return fmt.Errorf("select all: %w", err)
	}
	return nil
}

func (s *pageSurface) DeleteSelection(ctx context.Context) error {
	if err := s.page.Context(ctx).Keyboard.Type(input.Backspace); err != nil {
		return fmt.Errorf("delete selection: %w", err)
	}
	return nil
}

func (s *pageSurface) InsertText(ctx context.Context, text string) error {
	if err := s.page.Context(ctx).InsertText(text); err != nil {
		return fmt.Errorf("insert text: %w", err)
	}
	return nil
}

func (s *pageSurface) TypeText(ctx context.Context, text string) error {
	p := s.page.Context(ctx)
	for _, r := range text {
		ev := proto.InputDispatchKeyEvent{
			Type: proto.InputDispatchKeyEventTypeChar,
			Text: string(r),
		}
		if err := ev.Call(p); err != nil {
			return fmt.Errorf("type %q: %w", r, err)
		}
	}
	return nil
}

func (s *pageSurface) PressEnter(ctx context.Context) error {
	if err := s.page.Context(ctx).Keyboard.Type(input.Enter); err != nil {
		return fmt.Errorf("press enter: %w", err)
	}
	return nil
}
