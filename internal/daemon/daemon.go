// Package daemon wires the monitors, the ingest socket, the reply gate, and
// the delivery channel into one running Tower process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/towerops/tower/internal/audit"
	"github.com/towerops/tower/internal/auth"
	"github.com/towerops/tower/internal/bus"
	"github.com/towerops/tower/internal/classify"
	"github.com/towerops/tower/internal/config"
	"github.com/towerops/tower/internal/ingest"
	"github.com/towerops/tower/internal/monitor"
	"github.com/towerops/tower/internal/render"
	"github.com/towerops/tower/internal/route"
	"github.com/towerops/tower/internal/tmux"
)

// defaultPrincipal receives escalations delivered before anyone has
// authenticated, so they are still resolvable once someone does.
const defaultPrincipal = "operator"

// shutdownGrace bounds how long HTTP shutdown may take.
const shutdownGrace = 5 * time.Second

// detailCaptureLines is how much pane history a "detail" reply quotes.
const detailCaptureLines = 20

// Channel delivers escalation messages to wherever the human is.
type Channel interface {
	Deliver(text string) error
}

// Tower is the assembled daemon.
type Tower struct {
	cfg      config.Config
	gate     *auth.Gate
	router   *route.Router
	recorder *audit.Recorder
	events   *bus.Bus
	tm       *tmux.Tmux
	channel  Channel

	startedAt time.Time

	mu         sync.Mutex
	principals map[string]bool
}

// New assembles a Tower from its parts. The channel may be nil, in which
// case escalations are only logged and written to the audit trail.
func New(cfg config.Config, gate *auth.Gate, recorder *audit.Recorder, tm *tmux.Tmux, channel Channel) *Tower {
	return &Tower{
		cfg:        cfg,
		gate:       gate,
		router:     route.NewRouter(cfg.Targets()),
		recorder:   recorder,
		events:     bus.New(),
		tm:         tm,
		channel:    channel,
		startedAt:  time.Now(),
		principals: map[string]bool{},
	}
}

// Run starts every component and blocks until the context is canceled and
// all of them have stopped.
func (t *Tower) Run(ctx context.Context) error {
	release, err := t.acquirePidfile()
	if err != nil {
		return err
	}
	defer release()

	var wg sync.WaitGroup

	mcfg := monitor.Config{
		PollInterval:   t.cfg.Monitor.PollInterval.Std(),
		DebounceWindow: t.cfg.Monitor.DebounceWindow.Std(),
		StallThreshold: t.cfg.Monitor.StallThreshold.Std(),
		CaptureLines:   t.cfg.Monitor.CaptureLines,
	}
	for _, target := range t.cfg.Targets() {
		m := monitor.New(target, t.tm.CapturePane, t.events.Publish, mcfg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Run(ctx)
		}()
	}

	listener := ingest.NewListener(t.cfg.Daemon.SocketPath, t.firstTarget(), t.events.Publish)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := listener.Run(ctx); err != nil {
			slog.Error("ingest listener failed", "error", err)
		}
	}()

	deliveries, unsub := t.events.Subscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range deliveries {
			t.deliver(ev)
		}
	}()

	srv := &http.Server{Addr: t.cfg.Daemon.ListenAddr, Handler: t.httpHandler(ctx)}
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("http listening", "addr", t.cfg.Daemon.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	unsub()
	t.events.Close()
	wg.Wait()
	return nil
}

// acquirePidfile takes an exclusive flock on the pidfile and records our
// PID in it. A second tower on the same pidfile refuses to start.
func (t *Tower) acquirePidfile() (func(), error) {
	path := config.ExpandHome(t.cfg.Daemon.PidFile)
	flk := flock.New(path)
	locked, err := flk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking pidfile %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("pidfile %s is held, another tower is running", path)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		flk.Unlock()
		return nil, fmt.Errorf("writing pidfile: %w", err)
	}
	return func() {
		flk.Unlock()
		os.Remove(path)
	}, nil
}

func (t *Tower) firstTarget() string {
	if targets := t.cfg.Targets(); len(targets) > 0 {
		return targets[0]
	}
	return ""
}

// knownPrincipals returns everyone escalations should be registered for.
func (t *Tower) knownPrincipals() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.principals) == 0 {
		return []string{defaultPrincipal}
	}
	out := make([]string, 0, len(t.principals))
	for p := range t.principals {
		out = append(out, p)
	}
	return out
}

func (t *Tower) rememberPrincipal(principal string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.principals[principal] = true
}

// deliver handles one bus event: record it, register it as pending, and
// push the rendered message out on the channel.
func (t *Tower) deliver(ev classify.Event) {
	menu := render.Menu(ev.Kind)
	esc := route.NewEscalation(ev.Target, menu)

	// The same escalation is registered for every principal; its resolved
	// flag is shared, so whoever replies first wins and the dispatch stays
	// at-most-once.
	permission := ev.Kind == classify.KindPermission
	for _, principal := range t.knownPrincipals() {
		for _, evicted := range t.router.RegisterEscalation(principal, esc, permission) {
			if _, err := t.recorder.Expired(evicted.Principal, evicted.Escalation.ID, evicted.Escalation.Target); err != nil {
				slog.Error("recording expired escalation", "error", err)
			}
		}
	}

	message := render.Message(ev, menu)
	if _, err := t.recorder.Escalation(esc.ID, ev.Target, string(ev.Kind), ev.Evidence, ev.Confidence, message); err != nil {
		slog.Error("recording escalation", "error", err)
	}

	slog.Info("escalating", "target", ev.Target, "kind", ev.Kind, "confidence", ev.Confidence)
	if t.channel == nil {
		return
	}
	if err := t.channel.Deliver(message); err != nil {
		slog.Error("delivering escalation", "target", ev.Target, "error", err)
	}
}

// HandleInbound processes one message from a human and returns the text to
// send back. Unauthenticated principals get exactly one conversation: their
// message is treated as a TOTP code until one verifies.
func (t *Tower) HandleInbound(principal, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	if strings.EqualFold(text, "logout") {
		t.gate.Logout(principal)
		return "Logged out. Send your authenticator code to continue."
	}

	if !t.gate.IsAuthenticated(principal) {
		return t.handleAuth(principal, text)
	}

	lower := strings.ToLower(text)
	switch {
	case lower == "status" || lower == "s" || lower == "sitrep" || lower == "?":
		return t.statusText()
	case strings.HasPrefix(lower, "detail "):
		return t.detailText(strings.TrimSpace(text[len("detail "):]))
	}

	return t.handleReply(principal, text)
}

func (t *Tower) handleAuth(principal, code string) string {
	out := t.gate.Verify(principal, code)
	switch out.Verdict {
	case auth.VerdictAuthenticated:
		t.rememberPrincipal(principal)
		// Escalations delivered before anyone authenticated were parked
		// under the default principal; hand them over.
		t.router.Adopt(defaultPrincipal, principal)
		slog.Info("principal authenticated", "principal", principal)
		return "Authenticated.\n" + render.SessionList(t.router.Sessions())
	case auth.VerdictLockedOut:
		slog.Warn("principal locked out", "principal", principal, "remaining", out.Remaining)
		return fmt.Sprintf("Too many failed codes. Try again in %s.", out.Remaining.Round(time.Second))
	default:
		return "Invalid code. Send your current authenticator code."
	}
}

func (t *Tower) handleReply(principal, text string) string {
	res, err := t.router.Resolve(principal, text)
	if err != nil {
		// A bare session number that matched no pending menu selector is a
		// detail request, not a failed reply.
		if ordinal, convErr := strconv.Atoi(text); convErr == nil && len(text) <= 2 {
			if _, ok := t.router.SessionByOrdinal(ordinal); ok {
				return t.detailText(text)
			}
		}
		if _, aerr := t.recorder.Reply(principal, text, "", "", "", audit.OutcomeNoMatch); aerr != nil {
			slog.Error("recording no-match reply", "error", aerr)
		}
		return "That didn't match a pending option or a session. Send \"status\" to see what's watched."
	}

	if serr := t.tm.SendKeys(context.Background(), res.Target, res.Instruction); serr != nil {
		if _, aerr := t.recorder.Reply(principal, text, res.Target, res.Instruction, res.EscalationID, audit.OutcomeSendFailed); aerr != nil {
			slog.Error("recording failed reply", "error", aerr)
		}
		slog.Error("dispatch failed", "target", res.Target, "error", serr)
		return fmt.Sprintf("Could not reach %s: %v", res.Target, serr)
	}

	if _, aerr := t.recorder.Reply(principal, text, res.Target, res.Instruction, res.EscalationID, audit.OutcomeSent); aerr != nil {
		slog.Error("recording reply", "error", aerr)
	}
	slog.Info("instruction dispatched", "target", res.Target, "principal", principal)
	return fmt.Sprintf("Sent %q to %s.", res.Instruction, res.Target)
}

// statusCaptureLines is how much pane history the quick status glances at.
const statusCaptureLines = 20

// statusText reports each watched session's coarse state from a short
// capture. A capture failure reads as no output, so a dead pane shows as
// idle rather than breaking the report.
func (t *Tower) statusText() string {
	targets := t.router.Sessions()
	if len(targets) == 0 {
		return "No sessions are being watched."
	}

	var b strings.Builder
	b.WriteString("Tower status report\n")
	for i, target := range targets {
		text, err := t.tm.CapturePane(context.Background(), target, statusCaptureLines)
		if err != nil {
			text = ""
		}
		state := classify.SummaryState(classify.Sanitize(text))
		fmt.Fprintf(&b, "  %d. %s - %s\n", i+1, target, state)
	}
	fmt.Fprintf(&b, "Reply with a number for details, or \"<number>: <instruction>\".\nUp %s.",
		time.Since(t.startedAt).Round(time.Second))
	return b.String()
}

// detailText quotes the live tail of one watched pane.
func (t *Tower) detailText(arg string) string {
	ordinal, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Sprintf("Usage: detail <session number>.\n%s", render.SessionList(t.router.Sessions()))
	}
	target, ok := t.router.SessionByOrdinal(ordinal)
	if !ok {
		return fmt.Sprintf("No session %d.\n%s", ordinal, render.SessionList(t.router.Sessions()))
	}

	text, err := t.tm.CapturePane(context.Background(), target, detailCaptureLines)
	if err != nil {
		return fmt.Sprintf("Could not capture %s: %v", target, err)
	}
	text = strings.TrimSpace(classify.Sanitize(text))
	if text == "" {
		return fmt.Sprintf("%s has no output.", target)
	}
	return fmt.Sprintf("%s:\n%s", target, text)
}
