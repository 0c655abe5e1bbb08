// Package monitor polls tmux panes and decides when their output warrants
// escalating to a human.
//
// One Monitor watches one target. Each poll tick captures the pane, detects
// change, classifies new output, and applies debounce and stall policy.
// Monitors for different targets share nothing except the event bus they
// publish to, so a wedged target cannot affect the others.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/towerops/tower/internal/classify"
)

// Default policy knobs.
const (
	DefaultPollInterval   = 2 * time.Second
	DefaultDebounceWindow = 5 * time.Minute
	DefaultStallThreshold = 10 * time.Minute
	DefaultCaptureLines   = 50
)

// CaptureFunc reads the last n lines of a target's pane. It must honor the
// context deadline; any failure is treated by the monitor as empty output.
type CaptureFunc func(ctx context.Context, target string, lines int) (string, error)

// Config holds the per-target polling policy.
type Config struct {
	PollInterval   time.Duration
	DebounceWindow time.Duration
	StallThreshold time.Duration
	CaptureLines   int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = DefaultDebounceWindow
	}
	if c.StallThreshold <= 0 {
		c.StallThreshold = DefaultStallThreshold
	}
	if c.CaptureLines <= 0 {
		c.CaptureLines = DefaultCaptureLines
	}
	return c
}

// Monitor owns the watch state for a single target.
type Monitor struct {
	target  string
	cfg     Config
	capture CaptureFunc
	publish func(classify.Event)
	rules   *classify.Ruleset
	now     func() time.Time

	lastText         string
	lastChangeAt     time.Time
	lastEscalationAt time.Time
	lastStallAt      time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithRuleset overrides the default classification rules.
func WithRuleset(rs *classify.Ruleset) Option {
	return func(m *Monitor) { m.rules = rs }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a Monitor for the target. The stall clock starts at
// construction: a target that never produces output is not reported as
// stalled until StallThreshold has elapsed from here.
func New(target string, capture CaptureFunc, publish func(classify.Event), cfg Config, opts ...Option) *Monitor {
	m := &Monitor{
		target:  target,
		cfg:     cfg.withDefaults(),
		capture: capture,
		publish: publish,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.rules == nil {
		m.rules = classify.NewRuleset()
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.lastChangeAt = m.now()
	return m
}

// Run polls the target until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	slog.Info("monitor started", "target", m.target, "interval", m.cfg.PollInterval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("monitor stopped", "target", m.target)
			return
		case <-ticker.C:
			if ev := m.Tick(ctx); ev != nil {
				m.publish(*ev)
			}
		}
	}
}

// Tick performs one poll step and returns the event to emit, if any.
// Capture failures are treated as empty output: a missing pane or a slow
// tmux server is not an application error.
func (m *Monitor) Tick(ctx context.Context) *classify.Event {
	text, err := m.capture(ctx, m.target, m.cfg.CaptureLines)
	if err != nil {
		slog.Debug("capture failed, treating as empty", "target", m.target, "error", err)
		text = ""
	}
	text = classify.Sanitize(text)

	now := m.now()

	if text != m.lastText {
		m.lastChangeAt = now
		m.lastText = text

		ev := m.rules.Classify(text)
		if !ev.NeedsAttention() {
			return nil
		}
		if now.Sub(m.lastEscalationAt) < m.cfg.DebounceWindow {
			slog.Debug("event suppressed by debounce", "target", m.target, "kind", ev.Kind)
			return nil
		}
		m.lastEscalationAt = now
		ev.Target = m.target
		ev.ObservedAt = now
		return &ev
	}

	// Unchanged output: check for a stall. Stall emission has its own
	// debounce clock so repeated idling cannot flap, and so a stall report
	// does not mask a later classified event.
	idle := now.Sub(m.lastChangeAt)
	if idle > m.cfg.StallThreshold && now.Sub(m.lastStallAt) > m.cfg.DebounceWindow {
		m.lastStallAt = now
		ev := classify.Event{
			Kind:       classify.KindStalled,
			Evidence:   []string{fmt.Sprintf("no output change for %s", idle.Round(time.Minute))},
			Confidence: classify.ConfidenceStalled,
			Target:     m.target,
			ObservedAt: now,
		}
		return &ev
	}
	return nil
}

// Target returns the monitored target identifier.
func (m *Monitor) Target() string {
	return m.target
}
