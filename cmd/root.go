package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X github.com/nextlevelbuilder/pollclaw/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool

	flagInterval int
	flagTable    string
	flagMode     string
	flagSchedule string
	flagAutoSend bool
	flagDryRun   bool
)

var rootCmd = &cobra.Command{
	Use:   "pollclaw",
	Short: "PollClaw — message polling and dispatch engine",
	Long:  "PollClaw polls a hosted message table, classifies new messages by keyword rules, composes templated replies and dispatches them to a reply-post sink and/or a UI actuation sink.",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runEngine(cmd))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json or $POLLCLAW_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.Flags().IntVar(&flagInterval, "interval", 0, "poll interval in seconds (overrides config)")
	rootCmd.Flags().StringVar(&flagTable, "table", "", "message table name (overrides config)")
	rootCmd.Flags().StringVar(&flagMode, "mode", "", "dispatch mode: reply, ui or both (overrides config)")
	rootCmd.Flags().StringVar(&flagSchedule, "schedule", "", "cron expression gating polls (overrides config)")
	rootCmd.Flags().BoolVar(&flagAutoSend, "auto-send", false, "press the send key after injecting text into the UI")
	rootCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "classify and compose but never dispatch")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(doctorCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pollclaw %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("POLLCLAW_CONFIG"); v != "" {
		return v
	}
	return "config.json"
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
