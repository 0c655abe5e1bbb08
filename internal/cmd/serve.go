package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/towerops/tower/internal/audit"
	"github.com/towerops/tower/internal/auth"
	"github.com/towerops/tower/internal/config"
	"github.com/towerops/tower/internal/daemon"
	"github.com/towerops/tower/internal/telegram"
	"github.com/towerops/tower/internal/tmux"
)

var serveVerbose bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tower daemon",
	Long: `Run the tower daemon: poll the configured tmux sessions, listen for
pushed hook events on the unix socket, and deliver escalations over the
configured channel until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVarP(&serveVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if serveVerbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(cfg.Sessions) == 0 {
		slog.Warn("no sessions configured, only pushed hook events will be seen")
	}

	secret, err := cfg.ReadSecret()
	if err != nil {
		return fmt.Errorf("no usable auth secret, run \"tower auth setup\" first: %w", err)
	}
	gate := auth.NewGate(secret,
		auth.WithFailureThreshold(cfg.Auth.FailureThreshold),
		auth.WithLockoutDuration(cfg.Auth.LockoutDuration.Std()),
	)

	recorder, err := audit.NewRecorder(config.ExpandHome(cfg.Daemon.AuditTrail))
	if err != nil {
		return err
	}

	var channel daemon.Channel
	var tg *telegram.Channel
	if cfg.Telegram.Token != "" {
		tg, err = telegram.NewChannel(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			return err
		}
		channel = tg
	} else {
		slog.Warn("no telegram token configured, escalations go to the log and audit trail only")
	}

	tower := daemon.New(cfg, gate, recorder, tmux.New(), channel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if tg != nil {
		go tg.Run(ctx, tower.HandleInbound)
	}
	return tower.Run(ctx)
}
