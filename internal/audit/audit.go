// Package audit appends a durable trail of escalations and the replies that
// resolved them.
//
// Records are JSON Lines, one object per line, appended to a single file.
// The trail is write-only from Tower's point of view; nothing in the daemon
// reads it back except the status surfaces.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome tags for reply records.
const (
	OutcomeSent       = "sent"
	OutcomeSendFailed = "send_failed"
	OutcomeNoMatch    = "no_match"
	OutcomeExpired    = "expired"
)

// Record is one line of the audit trail. Escalation records carry Kind,
// Evidence, and Confidence; reply records carry Principal, Reply, Outcome,
// and Instruction.
type Record struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Type         string    `json:"type"` // "escalation" or "reply"
	Target       string    `json:"target,omitempty"`
	Kind         string    `json:"kind,omitempty"`
	Evidence     []string  `json:"evidence,omitempty"`
	Confidence   float64   `json:"confidence,omitempty"`
	Message      string    `json:"message,omitempty"`
	EscalationID string    `json:"escalation_id,omitempty"`
	Principal    string    `json:"principal,omitempty"`
	Reply        string    `json:"reply,omitempty"`
	Instruction  string    `json:"instruction,omitempty"`
	Outcome      string    `json:"outcome,omitempty"`
}

// Recorder appends records to a JSONL file. Safe for concurrent use.
type Recorder struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a Recorder appending to path, creating parent
// directories as needed.
func NewRecorder(path string, opts ...Option) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}
	r := &Recorder{path: path, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Escalation records that an event was delivered to a human, including the
// exact message shown.
func (r *Recorder) Escalation(escalationID, target, kind string, evidence []string, confidence float64, message string) (string, error) {
	return r.append(Record{
		Type:         "escalation",
		EscalationID: escalationID,
		Target:       target,
		Kind:         kind,
		Evidence:     evidence,
		Confidence:   confidence,
		Message:      message,
	})
}

// Reply records the outcome of handling a human reply. The escalationID is
// empty for ordinal-addressed instructions and no-match replies.
func (r *Recorder) Reply(principal, reply, target, instruction, escalationID, outcome string) (string, error) {
	return r.append(Record{
		Type:         "reply",
		Principal:    principal,
		Reply:        reply,
		Target:       target,
		Instruction:  instruction,
		EscalationID: escalationID,
		Outcome:      outcome,
	})
}

// Expired records an escalation that aged out of the pending set without
// ever being resolved.
func (r *Recorder) Expired(principal, escalationID, target string) (string, error) {
	return r.append(Record{
		Type:         "reply",
		Principal:    principal,
		EscalationID: escalationID,
		Target:       target,
		Outcome:      OutcomeExpired,
	})
}

func (r *Recorder) append(rec Record) (string, error) {
	rec.ID = uuid.NewString()
	rec.Timestamp = r.now().UTC()

	line, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshaling audit record: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("opening audit trail: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return "", fmt.Errorf("appending audit record: %w", err)
	}
	return rec.ID, nil
}

// Tail returns up to n most recent records, oldest first. A missing file is
// an empty trail, not an error.
func Tail(path string, n int) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening audit trail: %w", err)
	}
	defer f.Close()

	var records []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			// A torn final line from a crash is skipped, not fatal.
			continue
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading audit trail: %w", err)
	}

	if n > 0 && len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}
