package ui

import (
	"context"
	"unicode/utf8"
)

// TextInjector puts reply text into the focused input field. The two
// implementations trade robustness against fidelity: paste-style insertion
// handles any script, per-key typing only survives ASCII.
type TextInjector interface {
	Name() string
	Inject(ctx context.Context, surface Surface, text string) error
}

// ClipboardInjector injects the whole payload as one insert event, the
// equivalent of a clipboard paste. Primary path: required for non-Latin
// text, which per-key typing corrupts.
type ClipboardInjector struct{}

func (ClipboardInjector) Name() string { return "clipboard" }

func (ClipboardInjector) Inject(ctx context.Context, surface Surface, text string) error {
	return surface.InsertText(ctx, text)
}

// DirectTypeInjector types the payload key by key.
type DirectTypeInjector struct{}

func (DirectTypeInjector) Name() string { return "direct-type" }

func (DirectTypeInjector) Inject(ctx context.Context, surface Surface, text string) error {
	return surface.TypeText(ctx, text)
}

// chooseInjectors decides the injection order once per payload: paste first
// always, per-key typing as a fallback only when the payload is pure ASCII.
func chooseInjectors(text string) []TextInjector {
	injectors := []TextInjector{ClipboardInjector{}}
	if isASCII(text) {
		injectors = append(injectors, DirectTypeInjector{})
	}
	return injectors
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
