// Package compose renders reply text from a classified intent and the
// originating message.
package compose

import (
	"math/rand"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/nextlevelbuilder/pollclaw/internal/bus"
	"github.com/nextlevelbuilder/pollclaw/internal/classify"
)

// maxEchoedBodyWidth bounds how much of the inbound body a template may echo,
// measured in display cells so CJK text gets the same visual budget as ASCII.
const maxEchoedBodyWidth = 200

// VariationPolicy chooses among an intent's alternative templates.
// The deterministic FirstTemplate policy is the default; SeededRandom exists
// for the "creative reply" behaviour and is injected explicitly, never a
// global RNG.
type VariationPolicy interface {
	Pick(n int) int
}

// FirstTemplate always picks the first template. Deterministic.
type FirstTemplate struct{}

func (FirstTemplate) Pick(int) int { return 0 }

// SeededRandom picks a template with a private seeded RNG.
type SeededRandom struct {
	rng *rand.Rand
}

// NewSeededRandom creates a SeededRandom policy.
func NewSeededRandom(seed int64) *SeededRandom {
	return &SeededRandom{rng: rand.New(rand.NewSource(seed))}
}

func (s *SeededRandom) Pick(n int) int {
	if n <= 1 {
		return 0
	}
	return s.rng.Intn(n)
}

// Composer fills intent templates with message fields.
type Composer struct {
	variation VariationPolicy
}

// New creates a Composer. A nil policy falls back to FirstTemplate.
func New(variation VariationPolicy) *Composer {
	if variation == nil {
		variation = FirstTemplate{}
	}
	return &Composer{variation: variation}
}

// Compose renders the reply string for one message. No I/O.
func (c *Composer) Compose(intent classify.Intent, msg bus.Message) string {
	if len(intent.Templates) == 0 {
		return ""
	}
	tmpl := intent.Templates[c.variation.Pick(len(intent.Templates))]

	ts := msg.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	r := strings.NewReplacer(
		"{{sender}}", msg.Sender,
		"{{body}}", runewidth.Truncate(msg.Body, maxEchoedBodyWidth, "…"),
		"{{time}}", ts.Format("15:04"),
	)
	return r.Replace(tmpl)
}
