package classify

import (
	"strings"

	xansi "github.com/charmbracelet/x/ansi"
)

// Sanitize removes terminal control sequences from captured output and
// normalizes line endings. Capture collaborators hand us whatever tmux had
// in the pane, including color codes and cursor movement from TUI agents.
func Sanitize(text string) string {
	text = xansi.Strip(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}
