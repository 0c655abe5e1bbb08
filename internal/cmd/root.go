// Package cmd implements the tower CLI.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/towerops/tower/internal/config"
	"github.com/towerops/tower/internal/version"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tower",
	Short: "Watch AI coding agents in tmux and escalate when they need you",
	Long: `Tower watches tmux panes driven by coding agents, classifies their
output, and escalates errors, permission prompts, and stalls to a human
over a chat channel. Replies are gated behind one-time codes and routed
back to the session that needs them.`,
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "path to tower.toml")
}

func loadConfig() (config.Config, error) {
	return config.Load(configPath)
}
