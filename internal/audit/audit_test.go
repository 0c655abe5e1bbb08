package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestRecorder(t *testing.T) (*Recorder, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	r, err := NewRecorder(path, WithClock(func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}))
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	return r, path
}

func readLines(t *testing.T, path string) []Record {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening trail: %v", err)
	}
	defer f.Close()

	var records []Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", len(records)+1, err)
		}
		records = append(records, rec)
	}
	return records
}

func TestEscalationRecord(t *testing.T) {
	r, path := newTestRecorder(t)

	id, err := r.Escalation("esc-1", "agents:1", "error", []string{"FAILED tests/test_auth.py"}, 0.9, "Error in agents:1")
	if err != nil {
		t.Fatalf("Escalation: %v", err)
	}
	if id == "" {
		t.Fatal("empty record ID")
	}

	records := readLines(t, path)
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	rec := records[0]
	if rec.Type != "escalation" {
		t.Errorf("Type = %q, want escalation", rec.Type)
	}
	if rec.EscalationID != "esc-1" || rec.Target != "agents:1" || rec.Kind != "error" {
		t.Errorf("record fields = %+v", rec)
	}
	if rec.Confidence != 0.9 {
		t.Errorf("Confidence = %v, want 0.9", rec.Confidence)
	}
	if rec.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
}

func TestReplyOutcomes(t *testing.T) {
	r, path := newTestRecorder(t)

	for _, outcome := range []string{OutcomeSent, OutcomeSendFailed, OutcomeNoMatch} {
		if _, err := r.Reply("alice", "9", "agents:1", "stop", "esc-1", outcome); err != nil {
			t.Fatalf("Reply(%s): %v", outcome, err)
		}
	}
	if _, err := r.Expired("alice", "esc-2", "agents:1"); err != nil {
		t.Fatalf("Expired: %v", err)
	}

	records := readLines(t, path)
	if len(records) != 4 {
		t.Fatalf("got %d records, want 4", len(records))
	}
	want := []string{OutcomeSent, OutcomeSendFailed, OutcomeNoMatch, OutcomeExpired}
	for i, rec := range records {
		if rec.Outcome != want[i] {
			t.Errorf("record %d: Outcome = %q, want %q", i, rec.Outcome, want[i])
		}
		if rec.Type != "reply" {
			t.Errorf("record %d: Type = %q, want reply", i, rec.Type)
		}
	}
}

func TestAppendOnly(t *testing.T) {
	r, path := newTestRecorder(t)

	r.Escalation("esc-1", "agents:1", "error", nil, 0.9, "")
	first := readLines(t, path)
	r.Escalation("esc-2", "agents:2", "stalled", nil, 0.8, "")
	both := readLines(t, path)

	if len(both) != 2 {
		t.Fatalf("got %d records, want 2", len(both))
	}
	if both[0].ID != first[0].ID {
		t.Error("existing record rewritten by second append")
	}
}

func TestConcurrentAppends(t *testing.T) {
	r, path := newTestRecorder(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Reply("alice", "9", "agents:1", "stop", "", OutcomeSent)
		}()
	}
	wg.Wait()

	// Every line must still parse; interleaved partial writes would break this.
	records := readLines(t, path)
	if len(records) != 20 {
		t.Fatalf("got %d records, want 20", len(records))
	}
	seen := make(map[string]bool)
	for _, rec := range records {
		if seen[rec.ID] {
			t.Errorf("duplicate record ID %q", rec.ID)
		}
		seen[rec.ID] = true
	}
}

func TestTail(t *testing.T) {
	r, path := newTestRecorder(t)
	for i := 0; i < 5; i++ {
		r.Escalation("esc", "agents:1", "error", nil, 0.9, "")
	}

	records, err := Tail(path, 3)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("got %d records, want 3", len(records))
	}

	all, err := Tail(path, 0)
	if err != nil {
		t.Fatalf("Tail(0): %v", err)
	}
	if len(all) != 5 {
		t.Errorf("Tail(0) = %d records, want all 5", len(all))
	}
}

func TestTailMissingFile(t *testing.T) {
	records, err := Tail(filepath.Join(t.TempDir(), "absent.jsonl"), 10)
	if err != nil {
		t.Fatalf("Tail on missing file: %v", err)
	}
	if records != nil {
		t.Errorf("records = %v, want nil", records)
	}
}
