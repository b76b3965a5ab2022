package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/pollclaw/internal/config"
	"github.com/nextlevelbuilder/pollclaw/internal/dispatchlog"
	"github.com/nextlevelbuilder/pollclaw/internal/engine"
	"github.com/nextlevelbuilder/pollclaw/internal/store"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("pollclaw doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults + env)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Store:")
	checkValue("URL", cfg.Store.URL)
	checkSecret("Key", cfg.Store.Key)
	checkValue("Table", cfg.Store.Table)
	if cfg.Store.URL != "" && cfg.Store.Key != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client := store.New(cfg.Store, 5*time.Second)
		if latest, err := client.LatestID(ctx); err != nil {
			fmt.Printf("    %-12s UNREACHABLE (%s)\n", "Status:", err)
		} else {
			fmt.Printf("    %-12s reachable (max id %d)\n", "Status:", latest)
		}
	}

	fmt.Println()
	fmt.Println("  Poll:")
	fmt.Printf("    %-12s %s\n", "Mode:", cfg.Poll.Mode)
	fmt.Printf("    %-12s %s\n", "Interval:", cfg.Interval())
	if cfg.Poll.Schedule != "" {
		fmt.Printf("    %-12s %s\n", "Schedule:", cfg.Poll.Schedule)
	}
	if cfg.Poll.CheckpointPath != "" {
		if cp, ok, err := engine.ReadCheckpoint(cfg.Poll.CheckpointPath); err != nil {
			fmt.Printf("    %-12s UNREADABLE (%s)\n", "Checkpoint:", err)
		} else if ok {
			fmt.Printf("    %-12s watermark %d (updated %s)\n", "Checkpoint:", cp.LastSeenID, cp.UpdatedAt.Format(time.RFC3339))
		} else {
			fmt.Printf("    %-12s not written yet\n", "Checkpoint:")
		}
	}

	if cfg.Poll.Mode != config.ModeReply {
		fmt.Println()
		fmt.Println("  UI sink:")
		checkValue("Window", cfg.UI.WindowTitle)
		if cfg.UI.ControlURL != "" {
			checkValue("Browser", cfg.UI.ControlURL)
		} else {
			fmt.Printf("    %-12s (will launch one)\n", "Browser:")
		}
		fmt.Printf("    %-12s %v\n", "Auto-send:", cfg.UI.AutoSend)
	}

	if cfg.DispatchLog.Path != "" {
		fmt.Println()
		fmt.Printf("  Dispatch log: %s", cfg.DispatchLog.Path)
		if dlog, err := dispatchlog.Open(cfg.DispatchLog.Path); err != nil {
			fmt.Printf(" (OPEN FAILED: %s)\n", err)
		} else {
			defer dlog.Close()
			if n, err := dlog.FailureCount(context.Background(), 24*time.Hour); err == nil {
				fmt.Printf(" (%d failures in last 24h)\n", n)
			} else {
				fmt.Println(" (OK)")
			}
		}
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkValue(name, value string) {
	if value != "" {
		fmt.Printf("    %-12s %s\n", name+":", value)
	} else {
		fmt.Printf("    %-12s (not configured)\n", name+":")
	}
}

func checkSecret(name, secret string) {
	if len(secret) > 8 {
		masked := secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
		fmt.Printf("    %-12s %s\n", name+":", masked)
	} else if secret != "" {
		fmt.Printf("    %-12s %s\n", name+":", strings.Repeat("*", len(secret)))
	} else {
		fmt.Printf("    %-12s (not set — export STORE_KEY)\n", name+":")
	}
}
