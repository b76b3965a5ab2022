package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/pollclaw/internal/classify"
	"github.com/nextlevelbuilder/pollclaw/internal/compose"
	"github.com/nextlevelbuilder/pollclaw/internal/config"
	"github.com/nextlevelbuilder/pollclaw/internal/dispatchlog"
	"github.com/nextlevelbuilder/pollclaw/internal/engine"
	"github.com/nextlevelbuilder/pollclaw/internal/sinks"
	"github.com/nextlevelbuilder/pollclaw/internal/sinks/ui"
	"github.com/nextlevelbuilder/pollclaw/internal/store"
	"github.com/nextlevelbuilder/pollclaw/internal/tracing"
)

// Exit codes: 0 graceful stop, 1 fatal configuration or credential failure,
// 2 the UI sink could not attach to a browser.
const (
	exitOK       = 0
	exitFatal    = 1
	exitUIAttach = 2
)

func runEngine(cmd *cobra.Command) int {
	setupLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("config load failed", "error", err)
		return exitFatal
	}
	applyFlagOverrides(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return exitFatal
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Error("tracing setup failed", "error", err)
		return exitFatal
	}
	defer shutdownTracing(context.Background())

	client := store.New(cfg.Store, cfg.StoreTimeout())

	watermark, err := seedWatermark(ctx, cfg, client)
	if err != nil {
		slog.Error("watermark seeding failed", "error", err)
		return exitFatal
	}

	classifier, err := classify.Load(cfg.Rules.Path)
	if err != nil {
		slog.Error("rule table load failed", "path", cfg.Rules.Path, "error", err)
		return exitFatal
	}
	composer := compose.New(variationPolicy(cfg.Rules))

	sinkList, cleanup, code := buildSinks(ctx, cfg, client)
	if code != exitOK {
		return code
	}
	defer cleanup()

	var recorder engine.Recorder
	if cfg.DispatchLog.Path != "" {
		dlog, err := dispatchlog.Open(cfg.DispatchLog.Path)
		if err != nil {
			slog.Error("dispatch log open failed", "path", cfg.DispatchLog.Path, "error", err)
			return exitFatal
		}
		defer dlog.Close()
		recorder = dlog
	}

	loop, err := engine.NewLoop(engine.Params{
		Fetcher:        client,
		Dedup:          engine.NewDeduplicator(watermark, cfg.Poll.ProcessedSetSize),
		Classifier:     classifier,
		Composer:       composer,
		Dispatcher:     sinks.NewDispatcher(cfg.StoreTimeout()+30*time.Second, sinkList...),
		Recorder:       recorder,
		Interval:       cfg.Interval(),
		Schedule:       cfg.Poll.Schedule,
		CheckpointPath: cfg.Poll.CheckpointPath,
		DryRun:         flagDryRun,
	})
	if err != nil {
		slog.Error("loop setup failed", "error", err)
		return exitFatal
	}

	if err := loop.Run(ctx); err != nil {
		return exitFatal
	}
	return exitOK
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// applyFlagOverrides layers explicitly set flags over the loaded config.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("interval") {
		cfg.Poll.IntervalSeconds = flagInterval
	}
	if flags.Changed("table") {
		cfg.Store.Table = flagTable
	}
	if flags.Changed("mode") {
		cfg.Poll.Mode = config.Mode(flagMode)
	}
	if flags.Changed("schedule") {
		cfg.Poll.Schedule = flagSchedule
	}
	if flags.Changed("auto-send") {
		cfg.UI.AutoSend = flagAutoSend
	}
}

// seedWatermark restores the checkpoint, or asks the store for the current
// max id so a fresh start never replays the table's history.
func seedWatermark(ctx context.Context, cfg *config.Config, client *store.Client) (int64, error) {
	if cfg.Poll.CheckpointPath != "" {
		cp, ok, err := engine.ReadCheckpoint(cfg.Poll.CheckpointPath)
		if err != nil {
			return 0, err
		}
		if ok {
			slog.Info("checkpoint restored", "path", cfg.Poll.CheckpointPath, "watermark", cp.LastSeenID)
			return cp.LastSeenID, nil
		}
	}
	latest, err := client.LatestID(ctx)
	if err != nil {
		return 0, err
	}
	slog.Info("watermark seeded from store", "watermark", latest)
	return latest, nil
}

func variationPolicy(cfg config.RulesConfig) compose.VariationPolicy {
	if cfg.Variation == "random" {
		seed := cfg.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		return compose.NewSeededRandom(seed)
	}
	return compose.FirstTemplate{}
}

// buildSinks assembles the sinks for the configured mode. The UI sink gets
// its own exit code on attach failure so supervisors can tell "no browser"
// apart from bad credentials.
func buildSinks(ctx context.Context, cfg *config.Config, client *store.Client) ([]sinks.Sink, func(), int) {
	cleanup := func() {}
	var list []sinks.Sink

	if cfg.Poll.Mode == config.ModeReply || cfg.Poll.Mode == config.ModeBoth {
		list = append(list, sinks.NewReplyPostSink(client, cfg.Reply.Sender))
	}

	if cfg.Poll.Mode == config.ModeUI || cfg.Poll.Mode == config.ModeBoth {
		browser, err := ui.Connect(cfg.UI)
		if err != nil {
			slog.Error("browser attach failed", "error", err)
			return nil, cleanup, exitUIAttach
		}
		failsafe, err := browser.WatchCorner(ctx)
		if err != nil {
			slog.Error("fail-safe watcher install failed", "error", err)
			browser.Close()
			return nil, cleanup, exitUIAttach
		}
		cleanup = func() {
			failsafe.Stop()
			browser.Close()
		}
		list = append(list, ui.New(browser, failsafe, cfg.UI))
	}

	return list, cleanup, exitOK
}
