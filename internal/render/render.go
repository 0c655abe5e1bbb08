// Package render formats escalation events into the messages humans see and
// assigns each event kind its default reply menu.
package render

import (
	"fmt"
	"strings"

	"github.com/towerops/tower/internal/classify"
	"github.com/towerops/tower/internal/route"
)

// maxEvidenceLines bounds how much captured output is quoted in a message.
const maxEvidenceLines = 5

// Menu returns the default reply options for an event kind. Every menu ends
// with "9" as the stop option so the human always has the same escape key
// regardless of what fired.
func Menu(kind classify.Kind) []route.Option {
	switch kind {
	case classify.KindPermission:
		return []route.Option{
			{Selector: "1", Label: "Approve", Instruction: "yes"},
			{Selector: "2", Label: "Deny", Instruction: "no"},
			{Selector: "9", Label: "Stop the agent", Instruction: "stop"},
		}
	case classify.KindStalled:
		return []route.Option{
			{Selector: "1", Label: "Nudge", Instruction: "continue"},
			{Selector: "9", Label: "Stop the agent", Instruction: "stop"},
		}
	default:
		return []route.Option{
			{Selector: "1", Label: "Retry", Instruction: "retry"},
			{Selector: "9", Label: "Stop the agent", Instruction: "stop"},
		}
	}
}

// headline maps an event kind to the message's first line.
func headline(ev classify.Event) string {
	switch ev.Kind {
	case classify.KindError:
		return fmt.Sprintf("Error in %s", ev.Target)
	case classify.KindPermission:
		return fmt.Sprintf("%s is asking for permission", ev.Target)
	case classify.KindStalled:
		return fmt.Sprintf("%s looks stalled", ev.Target)
	default:
		return fmt.Sprintf("Update from %s", ev.Target)
	}
}

// Message renders the full escalation text: headline, quoted evidence, and
// the numbered menu.
func Message(ev classify.Event, menu []route.Option) string {
	var b strings.Builder
	b.WriteString(headline(ev))
	b.WriteString("\n")

	evidence := ev.Evidence
	if len(evidence) > maxEvidenceLines {
		evidence = evidence[:maxEvidenceLines]
	}
	for _, line := range evidence {
		b.WriteString("> ")
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\nReply with:\n")
	for _, opt := range menu {
		fmt.Fprintf(&b, "  %s: %s\n", opt.Selector, opt.Label)
	}
	b.WriteString("Or \"<session number>: <instruction>\" to address any session directly.")
	return b.String()
}

// SessionList renders the ordinal-to-target table shown after
// authentication so replies like "2: run the tests" have a referent.
func SessionList(sessions []string) string {
	if len(sessions) == 0 {
		return "No sessions are being watched."
	}
	var b strings.Builder
	b.WriteString("Watched sessions:\n")
	for i, target := range sessions {
		fmt.Fprintf(&b, "  %d: %s\n", i+1, target)
	}
	return strings.TrimRight(b.String(), "\n")
}
