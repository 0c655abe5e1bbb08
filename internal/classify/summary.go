package classify

import "strings"

// Coarse per-session states for the quick status report.
const (
	StateIdle    = "idle"
	StateError   = "error"
	StateWaiting = "waiting"
	StateDone    = "done"
	StateWorking = "working"
)

var (
	summaryError   = []string{"error", "failed", "exception", "traceback"}
	summaryWaiting = []string{"waiting", "approve", "confirm", "y/n"}
	summaryDone    = []string{"complete", "done", "finished", "pushed", "success"}
)

// SummaryState collapses recent pane text into one of five coarse states.
// Keyword groups are checked in order: error outranks waiting outranks
// done; any other output means the session is working. No output means
// idle. This is a quick glance, not the escalation path; the Ruleset owns
// escalation decisions.
func SummaryState(text string) string {
	if strings.TrimSpace(text) == "" {
		return StateIdle
	}
	lower := strings.ToLower(text)
	if containsAny(lower, summaryError) {
		return StateError
	}
	if containsAny(lower, summaryWaiting) {
		return StateWaiting
	}
	if containsAny(lower, summaryDone) {
		return StateDone
	}
	return StateWorking
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}
