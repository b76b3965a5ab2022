// Package classify maps message text to an intent label via ordered
// keyword-rule matching. The rule table is loaded once at startup and is
// immutable for the lifetime of the run.
package classify

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/titanous/json5"
)

// Rule matches a keyword (substring, case-folded) to an intent label.
// Rules with higher weight are tried first; ties keep file order.
type Rule struct {
	Keyword string `json:"keyword"`
	Weight  int    `json:"weight,omitempty"`
	Intent  string `json:"intent"`
}

// Intent is a classification label with its reply templates. Templates may
// reference {{sender}}, {{body}} and {{time}}.
type Intent struct {
	Name      string   `json:"-"`
	Templates []string `json:"templates"`
}

// ruleFile is the on-disk shape of a rule table (JSON5).
type ruleFile struct {
	DefaultIntent string            `json:"default_intent"`
	Intents       map[string]Intent `json:"intents"`
	Rules         []Rule            `json:"rules"`
}

// Classifier evaluates the ordered rule table. Safe for concurrent reads.
type Classifier struct {
	rules      []Rule
	intents    map[string]Intent
	defaultInt Intent
}

// Classify normalizes body (trim plus Unicode-aware lowercase fold; source
// content is not exclusively Latin script) and returns the intent of the
// first matching rule, or the default intent when nothing matches. An empty
// body classifies to the default intent; this never fails.
func (c *Classifier) Classify(body string) Intent {
	normalized := strings.ToLower(strings.TrimSpace(body))
	if normalized == "" {
		return c.defaultInt
	}
	for _, r := range c.rules {
		if strings.Contains(normalized, r.Keyword) {
			if intent, ok := c.intents[r.Intent]; ok {
				return intent
			}
		}
	}
	return c.defaultInt
}

// DefaultIntent returns the configured fallback intent.
func (c *Classifier) DefaultIntent() Intent {
	return c.defaultInt
}

// Load reads a rule table from a JSON5 file. An empty path returns the
// built-in table.
func Load(path string) (*Classifier, error) {
	if path == "" {
		return builtin(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	var rf ruleFile
	if err := json5.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	return build(rf)
}

func build(rf ruleFile) (*Classifier, error) {
	if len(rf.Intents) == 0 {
		return nil, fmt.Errorf("rule table defines no intents")
	}
	if rf.DefaultIntent == "" {
		return nil, fmt.Errorf("rule table missing default_intent")
	}

	intents := make(map[string]Intent, len(rf.Intents))
	for name, intent := range rf.Intents {
		if len(intent.Templates) == 0 {
			return nil, fmt.Errorf("intent %q has no templates", name)
		}
		intent.Name = name
		intents[name] = intent
	}

	def, ok := intents[rf.DefaultIntent]
	if !ok {
		return nil, fmt.Errorf("default_intent %q is not defined", rf.DefaultIntent)
	}

	rules := make([]Rule, 0, len(rf.Rules))
	for i, r := range rf.Rules {
		if r.Keyword == "" {
			return nil, fmt.Errorf("rule %d has an empty keyword", i)
		}
		if _, ok := intents[r.Intent]; !ok {
			return nil, fmt.Errorf("rule %q references unknown intent %q", r.Keyword, r.Intent)
		}
		r.Keyword = strings.ToLower(r.Keyword)
		rules = append(rules, r)
	}
	// Higher weight first; SliceStable keeps file order for equal weights so
	// the "first rule wins" contract stays deterministic.
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Weight > rules[j].Weight })

	return &Classifier{rules: rules, intents: intents, defaultInt: def}, nil
}

// builtin is the compiled-in rule table used when no rule file is configured.
func builtin() *Classifier {
	c, err := build(ruleFile{
		DefaultIntent: "fallback",
		Intents: map[string]Intent{
			"greeting": {Templates: []string{
				"おはよう、{{sender}}!",
				"Hello {{sender}}, good to see you!",
			}},
			"thanks": {Templates: []string{
				"どういたしまして、{{sender}}!",
				"Anytime, {{sender}}!",
			}},
			"help": {Templates: []string{
				"{{sender}}, I post replies to messages here. Say hello or ask a question.",
			}},
			"fallback": {Templates: []string{
				"{{sender}} said: {{body}}",
			}},
		},
		Rules: []Rule{
			{Keyword: "おはよう", Weight: 10, Intent: "greeting"},
			{Keyword: "こんにちは", Weight: 10, Intent: "greeting"},
			{Keyword: "hello", Intent: "greeting"},
			{Keyword: "hi", Intent: "greeting"},
			{Keyword: "ありがとう", Weight: 10, Intent: "thanks"},
			{Keyword: "thank", Intent: "thanks"},
			{Keyword: "助けて", Weight: 10, Intent: "help"},
			{Keyword: "help", Intent: "help"},
		},
	})
	if err != nil {
		panic(err) // built-in table is a programming error if invalid
	}
	return c
}
