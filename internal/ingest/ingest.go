// Package ingest accepts push notifications from instrumented agent hooks.
//
// Polling catches errors and stalls, but a hooked agent can tell us about a
// permission prompt the instant it happens. Hooks connect to a local unix
// socket, write one JSON payload, and disconnect. Payloads map onto the
// same Event shape the pane monitors produce, with full confidence: a push
// from the agent itself is not an inference.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/towerops/tower/internal/classify"
)

const (
	// DefaultSocketPath is where hooks expect to find the listener.
	DefaultSocketPath = "/tmp/tower.sock"

	// maxPayloadBytes bounds a single hook payload.
	maxPayloadBytes = 8 << 10

	// readTimeout bounds how long a connection may take to deliver its
	// payload. A silent peer is dropped, never waited on.
	readTimeout = 5 * time.Second
)

// Hook event vocabulary. Anything else is dropped silently.
const (
	hookPermissionRequest = "PermissionRequest"
	hookNotification      = "Notification"

	notificationPermissionPrompt = "permission_prompt"
)

// payload is the wire shape hooks write to the socket.
type payload struct {
	HookEventName    string          `json:"hook_event_name"`
	NotificationType string          `json:"notification_type,omitempty"`
	ToolName         string          `json:"tool_name,omitempty"`
	ToolInput        json.RawMessage `json:"tool_input,omitempty"`
	Session          string          `json:"session,omitempty"`
}

// toolInput is the subset of tool parameters worth surfacing as evidence.
type toolInput struct {
	Command  string `json:"command,omitempty"`
	FilePath string `json:"file_path,omitempty"`
}

// Listener accepts hook connections and publishes the resulting events.
type Listener struct {
	socketPath    string
	defaultTarget string
	publish       func(classify.Event)
	now           func() time.Time
}

// Option configures a Listener.
type Option func(*Listener)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Listener) { l.now = now }
}

// NewListener creates a Listener. Events whose payload does not name a
// session are attributed to defaultTarget.
func NewListener(socketPath, defaultTarget string, publish func(classify.Event), opts ...Option) *Listener {
	l := &Listener{
		socketPath:    socketPath,
		defaultTarget: defaultTarget,
		publish:       publish,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.socketPath == "" {
		l.socketPath = DefaultSocketPath
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// Run listens until the context is cancelled. The socket file is replaced
// if stale and made world-writable so unprivileged hooks can connect.
func (l *Listener) Run(ctx context.Context) error {
	if err := os.Remove(l.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale socket: %w", err)
	}

	ln, err := net.Listen("unix", l.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", l.socketPath, err)
	}
	if err := os.Chmod(l.socketPath, 0o666); err != nil {
		ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	slog.Info("hook listener started", "socket", l.socketPath)

	go func() {
		<-ctx.Done()
		ln.Close()
		os.Remove(l.socketPath)
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("hook accept failed", "error", err)
			continue
		}
		go l.handle(conn)
	}
}

// handle reads one payload from the connection. Connections are independent
// and stateless; a malformed or slow payload costs nothing but a log line.
func (l *Listener) handle(conn net.Conn) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	data, err := io.ReadAll(io.LimitReader(conn, maxPayloadBytes))
	if err != nil {
		slog.Debug("hook read failed", "error", err)
		return
	}
	if len(data) == 0 {
		return
	}

	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		slog.Warn("malformed hook payload dropped", "error", err, "bytes", len(data))
		return
	}

	ev, ok := l.eventFrom(p)
	if !ok {
		return
	}
	l.publish(ev)
}

// eventFrom maps a hook payload to an Event. Unknown hook kinds report
// ok=false and are dropped without noise; hooks fire for many lifecycle
// moments Tower has no interest in.
func (l *Listener) eventFrom(p payload) (classify.Event, bool) {
	target := p.Session
	if target == "" {
		target = l.defaultTarget
	}

	switch p.HookEventName {
	case hookPermissionRequest:
		evidence := []string{fmt.Sprintf("Permission requested for: %s", orUnknown(p.ToolName))}
		var in toolInput
		if len(p.ToolInput) > 0 && json.Unmarshal(p.ToolInput, &in) == nil {
			if in.Command != "" {
				evidence = append(evidence, "Command: "+truncate(in.Command, 100))
			}
			if in.FilePath != "" {
				evidence = append(evidence, "File: "+in.FilePath)
			}
		}
		return classify.Event{
			Kind:       classify.KindPermission,
			Evidence:   evidence,
			Confidence: classify.ConfidencePush,
			Target:     target,
			ObservedAt: l.now(),
		}, true

	case hookNotification:
		if p.NotificationType != notificationPermissionPrompt {
			return classify.Event{}, false
		}
		return classify.Event{
			Kind:       classify.KindPermission,
			Evidence:   []string{"Permission prompt notification"},
			Confidence: classify.ConfidencePush,
			Target:     target,
			ObservedAt: l.now(),
		}, true

	default:
		return classify.Event{}, false
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
