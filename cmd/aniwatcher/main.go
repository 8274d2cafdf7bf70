package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
)

func main() {
	// A missing .env is fine; ANIWATCHER_* overrides may come from the
	// environment directly.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "aniwatcher",
		Short:         "Get notified when episodes of the anime you follow air",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (default: from config)")

	root.AddCommand(runCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(syncCmd())
	root.AddCommand(jobCmd())
	root.AddCommand(bootCmd())
	root.AddCommand(followCmd())
	root.AddCommand(unfollowCmd())
	root.AddCommand(followsCmd())
	root.AddCommand(scheduleCmd())
	root.AddCommand(pendingCmd())
	root.AddCommand(notificationsCmd())

	return root
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with notification loop, fallback triggers, sync and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server only",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func syncCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replace the cached schedule with the remote one",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(days)
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "window length in days (default: from config)")
	return cmd
}

func jobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "job",
		Short: "Run one notification pass; exit 0 on success, 75 to retry, 1 on failure",
		Long: `Entry point for a host job scheduler such as cron or a systemd timer.
Runs a single notification pass and reports the result as the exit status.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob()
		},
	}
}

func bootCmd() *cobra.Command {
	var noDelay bool

	cmd := &cobra.Command{
		Use:   "boot",
		Short: "Run the boot alarm: wait the configured delay, then one notification pass",
		Long: `Entry point for a boot hook. When notifications are enabled it waits
fallback.boot_alarm_delay and runs a single pass, covering the time until the
periodic job is scheduled again. Exit status as for "job".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBoot(noDelay)
		},
	}

	cmd.Flags().BoolVar(&noDelay, "no-delay", false, "run the pass immediately")
	return cmd
}

func followCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "follow <media-id>...",
		Short: "Follow media by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFollow(args, true)
		},
	}
}

func unfollowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unfollow <media-id>...",
		Short: "Stop following media by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFollow(args, false)
		},
	}
}

func followsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "follows",
		Short: "List followed media",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFollows(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func scheduleCmd() *cobra.Command {
	var (
		jsonOutput bool
		followed   bool
		days       int
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Show upcoming episodes from the cached schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule(jsonOutput, followed, days, limit)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().BoolVar(&followed, "followed", false, "only followed media")
	cmd.Flags().IntVar(&days, "days", 0, "only episodes airing within this many days")
	cmd.Flags().IntVar(&limit, "limit", 50, "max episodes to show")
	return cmd
}

func pendingCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Show aired episodes of followed media that have not been notified",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPending(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func notificationsCmd() *cobra.Command {
	var (
		jsonOutput bool
		markRead   bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Show delivered notifications and the unread count",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNotifications(jsonOutput, markRead, limit)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().BoolVar(&markRead, "mark-read", false, "mark all notifications read")
	cmd.Flags().IntVar(&limit, "limit", 20, "max notifications to show")
	return cmd
}
