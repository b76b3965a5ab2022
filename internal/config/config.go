package config

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects which sinks the engine dispatches to.
type Mode string

const (
	ModeReply Mode = "reply"
	ModeUI    Mode = "ui"
	ModeBoth  Mode = "both"
)

// ParseMode validates a --mode flag value.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeReply:
		return ModeReply, nil
	case ModeUI:
		return ModeUI, nil
	case ModeBoth:
		return ModeBoth, nil
	}
	return "", fmt.Errorf("invalid mode %q (want reply, ui or both)", s)
}

// Config is the root configuration for the pollclaw engine.
type Config struct {
	Store       StoreConfig       `json:"store"`
	Poll        PollConfig        `json:"poll"`
	Rules       RulesConfig       `json:"rules"`
	Reply       ReplyConfig       `json:"reply"`
	UI          UIConfig          `json:"ui"`
	DispatchLog DispatchLogConfig `json:"dispatch_log,omitempty"`
	Telemetry   TelemetryConfig   `json:"telemetry,omitempty"`
}

// StoreConfig points the client at the hosted message table.
// Key is NEVER read from the config file (secret) — only from env STORE_KEY.
type StoreConfig struct {
	URL            string  `json:"url"`
	Key            string  `json:"-"` // from env STORE_KEY only
	Table          string  `json:"table"`
	PageSize       int     `json:"page_size,omitempty"`
	TimeoutSeconds int     `json:"timeout_seconds,omitempty"`
	RequestsPerSec float64 `json:"requests_per_sec,omitempty"`
}

// PollConfig drives the fetch loop.
type PollConfig struct {
	IntervalSeconds  int    `json:"interval_seconds,omitempty"`
	Schedule         string `json:"schedule,omitempty"` // optional cron expression gating fetches
	Mode             Mode   `json:"mode,omitempty"`
	CheckpointPath   string `json:"checkpoint_path,omitempty"` // watermark.json; empty = in-memory only
	ProcessedSetSize int    `json:"processed_set_size,omitempty"`
}

// RulesConfig locates the intent rule table.
type RulesConfig struct {
	Path      string `json:"path,omitempty"`      // JSON5 rule file; empty = built-in defaults
	Variation string `json:"variation,omitempty"` // "first" (default) or "random"
	Seed      int64  `json:"seed,omitempty"`      // seed for "random" variation
}

// ReplyConfig configures the reply-post sink.
type ReplyConfig struct {
	Sender string `json:"sender,omitempty"` // sender identity written on posted replies
}

// UIConfig configures the UI actuation sink.
type UIConfig struct {
	WindowTitle        string `json:"window_title"`               // substring match against page titles
	ControlURL         string `json:"control_url,omitempty"`      // DevTools websocket URL of a running browser; empty = launch one
	FocusClicks        int    `json:"focus_clicks,omitempty"`     // 2..5 clicks to defeat focus races
	FallbackClickX     int    `json:"fallback_click_x,omitempty"` // best-effort focus region when no title matches
	FallbackClickY     int    `json:"fallback_click_y,omitempty"`
	StepTimeoutSeconds int    `json:"step_timeout_seconds,omitempty"`
	AutoSend           bool   `json:"auto_send,omitempty"`   // press Enter after injecting (default: leave unsent)
	CornerSize         int    `json:"corner_size,omitempty"` // fail-safe corner edge length in px
}

// DispatchLogConfig enables the optional on-disk dispatch log.
type DispatchLogConfig struct {
	Path string `json:"path,omitempty"` // SQLite file; empty = disabled
}

// TelemetryConfig configures optional OTLP trace export.
type TelemetryConfig struct {
	OTLPEndpoint string `json:"otlp_endpoint,omitempty"` // host:port; empty = tracing disabled
	Insecure     bool   `json:"insecure,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Table:          "messages",
			PageSize:       50,
			TimeoutSeconds: 15,
			RequestsPerSec: 2,
		},
		Poll: PollConfig{
			IntervalSeconds:  4,
			Mode:             ModeReply,
			ProcessedSetSize: 256,
		},
		Rules: RulesConfig{
			Variation: "first",
		},
		Reply: ReplyConfig{
			Sender: "pollclaw",
		},
		UI: UIConfig{
			FocusClicks:        3,
			StepTimeoutSeconds: 5,
			CornerSize:         10,
		},
	}
}

// Interval returns the poll interval as a duration.
func (c *Config) Interval() time.Duration {
	if c.Poll.IntervalSeconds <= 0 {
		return 4 * time.Second
	}
	return time.Duration(c.Poll.IntervalSeconds) * time.Second
}

// StoreTimeout returns the per-request store timeout.
func (c *Config) StoreTimeout() time.Duration {
	if c.Store.TimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Store.TimeoutSeconds) * time.Second
}

// StepTimeout returns the per-step UI actuation timeout.
func (c *UIConfig) StepTimeout() time.Duration {
	if c.StepTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.StepTimeoutSeconds) * time.Second
}

// Validate checks the parts of the config that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Store.URL == "" {
		return fmt.Errorf("store.url is required (or set STORE_URL)")
	}
	if c.Store.Key == "" {
		return fmt.Errorf("store key is required (set STORE_KEY)")
	}
	if c.Store.Table == "" {
		return fmt.Errorf("store.table is required")
	}
	if _, err := ParseMode(string(c.Poll.Mode)); err != nil {
		return err
	}
	if c.Poll.Mode != ModeReply && c.UI.WindowTitle == "" && c.UI.FallbackClickX == 0 && c.UI.FallbackClickY == 0 {
		return fmt.Errorf("ui.window_title (or a fallback click region) is required for mode %q", c.Poll.Mode)
	}
	return nil
}
