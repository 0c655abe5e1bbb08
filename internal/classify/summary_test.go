package classify

import "testing"

func TestSummaryState(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"empty", "", StateIdle},
		{"whitespace only", "  \n\t\n", StateIdle},
		{"traceback", "Traceback (most recent call last):\n  ...", StateError},
		{"failed tests", "FAILED tests/test_auth.py", StateError},
		{"approval prompt", "Do you want to proceed? [y/N]", StateWaiting},
		{"waiting line", "Waiting for confirmation", StateWaiting},
		{"finished", "All tasks finished.", StateDone},
		{"pushed", "Pushed to origin/main", StateDone},
		{"plain output", "compiling module three of seven", StateWorking},
		{"error beats done", "error: build failed\ndone", StateError},
		{"waiting beats done", "done, but confirm to continue", StateWaiting},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SummaryState(tt.text); got != tt.want {
				t.Errorf("SummaryState(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}
