package render

import (
	"strings"
	"testing"

	"github.com/towerops/tower/internal/classify"
)

func TestMenuAlwaysOffersStop(t *testing.T) {
	kinds := []classify.Kind{
		classify.KindError,
		classify.KindPermission,
		classify.KindStalled,
		classify.KindNormal,
	}
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			menu := Menu(kind)
			if len(menu) == 0 {
				t.Fatal("empty menu")
			}
			last := menu[len(menu)-1]
			if last.Selector != "9" || last.Instruction != "stop" {
				t.Errorf("last option = %+v, want selector 9 with stop", last)
			}
		})
	}
}

func TestMenuPermissionOffersApproveAndDeny(t *testing.T) {
	menu := Menu(classify.KindPermission)
	if len(menu) != 3 {
		t.Fatalf("got %d options, want 3", len(menu))
	}
	if menu[0].Instruction != "yes" {
		t.Errorf("option 1 instruction = %q, want yes", menu[0].Instruction)
	}
	if menu[1].Instruction != "no" {
		t.Errorf("option 2 instruction = %q, want no", menu[1].Instruction)
	}
}

func TestMessage(t *testing.T) {
	ev := classify.Event{
		Kind:     classify.KindError,
		Target:   "agents:1",
		Evidence: []string{"FAILED tests/test_auth.py", "exit code 1"},
	}
	msg := Message(ev, Menu(ev.Kind))

	for _, want := range []string{
		"Error in agents:1",
		"> FAILED tests/test_auth.py",
		"> exit code 1",
		"1: Retry",
		"9: Stop the agent",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestMessageTruncatesEvidence(t *testing.T) {
	ev := classify.Event{Kind: classify.KindError, Target: "agents:1"}
	for i := 0; i < 10; i++ {
		ev.Evidence = append(ev.Evidence, "line")
	}
	msg := Message(ev, Menu(ev.Kind))

	if got := strings.Count(msg, "> line"); got != maxEvidenceLines {
		t.Errorf("quoted %d evidence lines, want %d", got, maxEvidenceLines)
	}
}

func TestMessageHeadlines(t *testing.T) {
	tests := []struct {
		kind classify.Kind
		want string
	}{
		{classify.KindPermission, "agents:1 is asking for permission"},
		{classify.KindStalled, "agents:1 looks stalled"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			ev := classify.Event{Kind: tt.kind, Target: "agents:1"}
			msg := Message(ev, Menu(tt.kind))
			if !strings.HasPrefix(msg, tt.want) {
				t.Errorf("message = %q, want prefix %q", msg, tt.want)
			}
		})
	}
}

func TestSessionList(t *testing.T) {
	got := SessionList([]string{"agents:1", "agents:2"})
	for _, want := range []string{"1: agents:1", "2: agents:2"} {
		if !strings.Contains(got, want) {
			t.Errorf("session list missing %q:\n%s", want, got)
		}
	}

	if got := SessionList(nil); !strings.Contains(got, "No sessions") {
		t.Errorf("empty list rendering = %q", got)
	}
}
