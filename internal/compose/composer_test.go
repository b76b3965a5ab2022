package compose

import (
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/pollclaw/internal/bus"
	"github.com/nextlevelbuilder/pollclaw/internal/classify"
)

func msg(sender, body string) bus.Message {
	return bus.Message{
		ID:        1,
		Sender:    sender,
		Body:      body,
		CreatedAt: time.Date(2026, 8, 30, 9, 15, 0, 0, time.UTC),
	}
}

func TestComposeFillsPlaceholders(t *testing.T) {
	c := New(nil)
	intent := classify.Intent{
		Name:      "echo",
		Templates: []string{"{{sender}} at {{time}}: {{body}}"},
	}
	got := c.Compose(intent, msg("amy", "おはよう"))
	want := "amy at 09:15: おはよう"
	if got != want {
		t.Errorf("Compose = %q, want %q", got, want)
	}
}

func TestComposeTruncatesEchoedBody(t *testing.T) {
	c := New(nil)
	intent := classify.Intent{Name: "echo", Templates: []string{"{{body}}"}}

	long := strings.Repeat("あ", 500)
	got := c.Compose(intent, msg("amy", long))
	if !strings.HasSuffix(got, "…") {
		t.Error("truncated body should end with ellipsis")
	}
	if len([]rune(got)) >= 500 {
		t.Errorf("body not truncated, %d runes", len([]rune(got)))
	}
}

func TestFirstTemplateIsDeterministic(t *testing.T) {
	c := New(FirstTemplate{})
	intent := classify.Intent{Name: "multi", Templates: []string{"one", "two", "three"}}
	for i := 0; i < 20; i++ {
		if got := c.Compose(intent, msg("amy", "x")); got != "one" {
			t.Fatalf("FirstTemplate picked %q", got)
		}
	}
}

func TestSeededRandomIsReproducible(t *testing.T) {
	intent := classify.Intent{Name: "multi", Templates: []string{"a", "b", "c", "d"}}

	var first []string
	c1 := New(NewSeededRandom(7))
	for i := 0; i < 10; i++ {
		first = append(first, c1.Compose(intent, msg("amy", "x")))
	}

	c2 := New(NewSeededRandom(7))
	for i := 0; i < 10; i++ {
		if got := c2.Compose(intent, msg("amy", "x")); got != first[i] {
			t.Fatalf("same seed diverged at pick %d: %q vs %q", i, got, first[i])
		}
	}
}

func TestComposeEmptyTemplates(t *testing.T) {
	c := New(nil)
	if got := c.Compose(classify.Intent{Name: "hollow"}, msg("amy", "x")); got != "" {
		t.Errorf("intent without templates composed %q", got)
	}
}
