package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/towerops/tower/internal/audit"
	"github.com/towerops/tower/internal/daemon"
)

var statusJSON bool

var (
	statusTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39"))

	statusOKStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("76"))

	statusErrStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	statusMutedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("242"))
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what the running daemon is watching",
	Long: `Show the running daemon's watched sessions, uptime, and the most
recent escalations and replies from the audit trail.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print raw JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + cfg.Daemon.ListenAddr + "/status")
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s, is it running? (%w)", cfg.Daemon.ListenAddr, err)
	}
	defer resp.Body.Close()

	var st daemon.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return fmt.Errorf("decoding status: %w", err)
	}

	if statusJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	fmt.Fprintln(cmd.OutOrStdout(), renderStatus(st))
	return nil
}

func renderStatus(st daemon.Status) string {
	var b strings.Builder

	b.WriteString(statusTitleStyle.Render("Tower"))
	b.WriteString(statusMutedStyle.Render(fmt.Sprintf("  up %s", st.Uptime)))
	b.WriteString("\n\n")

	if len(st.Sessions) == 0 {
		b.WriteString(statusMutedStyle.Render("No sessions watched."))
	} else {
		b.WriteString(statusTitleStyle.Render("Sessions"))
		b.WriteString("\n")
		for i, target := range st.Sessions {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, target)
		}
	}

	if len(st.Recent) > 0 {
		b.WriteString("\n")
		b.WriteString(statusTitleStyle.Render("Recent activity"))
		b.WriteString("\n")
		for _, rec := range st.Recent {
			b.WriteString("  ")
			b.WriteString(renderRecord(rec))
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderRecord(rec audit.Record) string {
	ts := statusMutedStyle.Render(rec.Timestamp.Local().Format("15:04:05"))
	switch rec.Type {
	case "escalation":
		kind := rec.Kind
		if kind == "error" {
			kind = statusErrStyle.Render(kind)
		}
		return fmt.Sprintf("%s  %s on %s", ts, kind, rec.Target)
	default:
		outcome := rec.Outcome
		if outcome == audit.OutcomeSent {
			outcome = statusOKStyle.Render(outcome)
		} else if outcome != "" {
			outcome = statusErrStyle.Render(outcome)
		}
		if rec.Instruction != "" {
			return fmt.Sprintf("%s  reply %s, %q to %s", ts, outcome, rec.Instruction, rec.Target)
		}
		return fmt.Sprintf("%s  reply %s", ts, outcome)
	}
}
