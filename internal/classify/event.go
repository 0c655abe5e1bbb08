// Package classify turns raw pane output into typed events.
//
// Classification is rule-based: an ordered table of (kind, matcher) rules
// is applied to the captured text, first match wins. Events can also be
// synthesized by other components (stall detection, hook ingestion) using
// the same Event shape.
package classify

import "time"

// Kind identifies what a captured event means for the operator.
type Kind string

const (
	KindError      Kind = "error"      // Command or test failure in the pane
	KindPermission Kind = "permission" // Agent is waiting on an approval prompt
	KindStalled    Kind = "stalled"    // No output change past the stall threshold
	KindNormal     Kind = "normal"     // Nothing that needs a human
)

// Per-kind confidence constants. Permission prompts are the most direct
// signal (the prompt text is unambiguous), errors are next, and stalls are
// lowest because they are inferred from absence of output rather than from
// anything observed.
const (
	ConfidencePermission = 0.95
	ConfidenceError      = 0.9
	ConfidenceStalled    = 0.8
	ConfidencePush       = 1.0 // Events pushed by an instrumented hook
	ConfidenceQuiet      = 1.0 // Empty capture: certain that nothing is happening
)

// Evidence caps per kind. Error output tends to span several lines
// (failed test names, stack frames); permission prompts are short.
const (
	maxErrorEvidence      = 5
	maxPermissionEvidence = 3
)

// permissionWindow is how many trailing lines permission rules inspect.
// Prompts sit at the bottom of the pane; matching old scrollback would
// re-escalate prompts that were already answered.
const permissionWindow = 10

// Event is an immutable record of something detected in a monitored session.
type Event struct {
	Kind       Kind      `json:"kind"`
	Evidence   []string  `json:"evidence,omitempty"`
	Confidence float64   `json:"confidence"`
	Target     string    `json:"target"`
	ObservedAt time.Time `json:"observed_at"`
}

// NeedsAttention reports whether the event should be escalated to a human.
func (e Event) NeedsAttention() bool {
	switch e.Kind {
	case KindError, KindPermission, KindStalled:
		return true
	default:
		return false
	}
}
