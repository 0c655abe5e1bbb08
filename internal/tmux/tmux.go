// Package tmux wraps the tmux subprocess operations Tower depends on:
// capturing pane contents and injecting keystrokes. Every operation carries
// a bounded timeout so a wedged tmux server cannot stall a poll loop.
package tmux

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Common errors.
var (
	ErrNoServer        = errors.New("no tmux server running")
	ErrSessionNotFound = errors.New("session not found")
)

// DefaultTimeout bounds every tmux subprocess call.
const DefaultTimeout = 5 * time.Second

// runner executes a tmux command and returns combined output. Swappable in
// tests.
type runner func(ctx context.Context, args ...string) (string, error)

func execRunner(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "tmux", args...).CombinedOutput()
	return string(out), err
}

// Tmux is a handle on the local tmux server.
type Tmux struct {
	run     runner
	timeout time.Duration
}

// New creates a Tmux with the default subprocess runner and timeout.
func New() *Tmux {
	return &Tmux{run: execRunner, timeout: DefaultTimeout}
}

// NewWithRunner creates a Tmux with a custom runner, for tests.
func NewWithRunner(run func(ctx context.Context, args ...string) (string, error)) *Tmux {
	return &Tmux{run: run, timeout: DefaultTimeout}
}

// CapturePane returns the last n lines of the target pane. Any failure
// (timeout, missing pane, no server) yields an empty string and the error;
// callers watching panes treat that as "no output", not as an application
// error.
func (t *Tmux) CapturePane(ctx context.Context, target string, lines int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	out, err := t.run(ctx, "capture-pane", "-p", "-t", target, "-S", fmt.Sprintf("-%d", lines))
	if err != nil {
		return "", classifyTmuxError(out, err)
	}
	return out, nil
}

// SendKeys types the instruction into the target pane followed by Enter.
func (t *Tmux) SendKeys(ctx context.Context, target, instruction string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if _, err := t.run(ctx, "send-keys", "-t", target, instruction, "Enter"); err != nil {
		return fmt.Errorf("sending keys to %s: %w", target, err)
	}
	return nil
}

// NudgePane sends a bare Enter to the target pane, used to wake a session
// that is sitting at a prompt.
func (t *Tmux) NudgePane(ctx context.Context, target string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if _, err := t.run(ctx, "send-keys", "-t", target, "Enter"); err != nil {
		return fmt.Errorf("nudging %s: %w", target, err)
	}
	return nil
}

// HasSession reports whether the target session or pane exists.
func (t *Tmux) HasSession(ctx context.Context, target string) bool {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	_, err := t.run(ctx, "has-session", "-t", target)
	return err == nil
}

// ListSessions returns the names of all running tmux sessions. An absent
// server is reported as an empty list, not an error.
func (t *Tmux) ListSessions(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	out, err := t.run(ctx, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		if isNoServerOutput(out) {
			return []string{}, nil
		}
		return nil, err
	}

	var names []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

func classifyTmuxError(output string, err error) error {
	msg := strings.ToLower(strings.TrimSpace(output))
	switch {
	case isNoServerOutput(msg):
		return ErrNoServer
	case strings.Contains(msg, "can't find"):
		return ErrSessionNotFound
	default:
		return err
	}
}

func isNoServerOutput(output string) bool {
	msg := strings.ToLower(strings.TrimSpace(output))
	if msg == "" {
		return false
	}
	return strings.Contains(msg, "no server running") ||
		strings.Contains(msg, "failed to connect to server") ||
		msg == "no sessions" ||
		strings.HasPrefix(msg, "no sessions ")
}
