// Package route maps an authenticated human's reply onto exactly one target
// session and instruction.
//
// A reply can be a menu selection from the escalation the human was shown,
// an explicit "<ordinal>: free text" instruction aimed at any registered
// session, or a bare affirmative consuming a remembered permission prompt.
// Anything else is NoMatch: nothing is dispatched, nothing is mutated.
package route

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrNoMatch is returned when a reply maps to nothing.
var ErrNoMatch = errors.New("reply did not match any option, ordinal, or pending approval")

// DefaultPendingCap bounds how many unresolved escalations are retained per
// principal. Unbounded growth here would be a slow leak; the oldest entry
// is evicted once the cap is hit.
const DefaultPendingCap = 8

// Option is one entry in an escalation's offered menu.
type Option struct {
	Selector    string `json:"selector"`
	Label       string `json:"label"`
	Instruction string `json:"instruction"`
}

// Escalation correlates a delivered event with the reply it expects. One
// Escalation may be registered for several principals at once; resolved is
// atomic so that exactly one of them can win it.
type Escalation struct {
	ID        string    `json:"id"`
	Target    string    `json:"target"`
	Options   []Option  `json:"options"`
	CreatedAt time.Time `json:"created_at"`

	resolved atomic.Bool
}

// NewEscalation builds an Escalation with a fresh ID.
func NewEscalation(target string, options []Option) *Escalation {
	return &Escalation{
		ID:        uuid.NewString(),
		Target:    target,
		Options:   options,
		CreatedAt: time.Now(),
	}
}

// Resolution is a successfully routed reply.
type Resolution struct {
	Target       string
	Instruction  string
	EscalationID string // empty for ordinal-addressed instructions
}

// Evicted describes an escalation dropped unresolved, so the caller can
// record its outcome.
type Evicted struct {
	Principal  string
	Escalation *Escalation
}

// principalState holds one principal's routing memory.
type principalState struct {
	mu               sync.Mutex
	pending          []*Escalation // oldest first
	permissionTarget string        // last session to raise a permission event
}

// Router resolves replies against per-principal pending state and the
// ordered registry of monitored sessions.
type Router struct {
	mu         sync.Mutex
	principals map[string]*principalState

	sessions   []string // ordinal 1 = sessions[0]
	pendingCap int
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithPendingCap overrides the per-principal retention bound.
func WithPendingCap(n int) RouterOption {
	return func(r *Router) { r.pendingCap = n }
}

// NewRouter creates a Router over the given ordered session targets.
func NewRouter(sessions []string, opts ...RouterOption) *Router {
	r := &Router{
		principals: make(map[string]*principalState),
		sessions:   sessions,
		pendingCap: DefaultPendingCap,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// state returns the principal's state, creating it on first contact.
// Each principal has its own mutex so one slow channel cannot serialize
// another principal's replies.
func (r *Router) state(principal string) *principalState {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.principals[principal]
	if !ok {
		s = &principalState{}
		r.principals[principal] = s
	}
	return s
}

// RegisterEscalation records a delivered escalation as awaiting the
// principal's reply. If the escalation's event was a permission prompt the
// target is also remembered for bare-affirmative routing. Escalations
// evicted by the retention cap are returned so they can be audited as
// expired.
func (r *Router) RegisterEscalation(principal string, esc *Escalation, permission bool) []Evicted {
	s := r.state(principal)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, esc)
	if permission {
		s.permissionTarget = esc.Target
	}

	var evicted []Evicted
	for len(s.pending) > r.pendingCap {
		old := s.pending[0]
		s.pending = s.pending[1:]
		if !old.resolved.Load() {
			evicted = append(evicted, Evicted{Principal: principal, Escalation: old})
		}
	}
	return evicted
}

// ordinalReply matches "<index>: instruction" and "<index> instruction".
var ordinalReply = regexp.MustCompile(`^(\d+)[:\s]\s*(\S.*)$`)

// affirmatives is the fixed vocabulary that consumes a remembered
// permission prompt.
var affirmatives = map[string]bool{
	"yes":      true,
	"y":        true,
	"ok":       true,
	"go":       true,
	"go ahead": true,
	"approve":  true,
	"continue": true,
}

// Resolve maps a reply to a target and instruction. Resolution order, first
// match wins:
//
//  1. bare selector of the most recent unresolved escalation
//  2. "<ordinal>: free text" addressed at a registered session
//  3. a bare affirmative, consuming the remembered permission target
//
// A resolved escalation never matches again; replaying the same selector
// after resolution falls through to ErrNoMatch.
func (r *Router) Resolve(principal, reply string) (Resolution, error) {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return Resolution{}, ErrNoMatch
	}

	s := r.state(principal)
	s.mu.Lock()
	defer s.mu.Unlock()

	// 1. Menu selection against the most recent unresolved escalation.
	// The escalation may be shared with other principals, so winning it is
	// a compare-and-swap; a loser moves on to the next older unresolved
	// entry, exactly as if the winner had resolved it moments earlier.
	for i := len(s.pending) - 1; i >= 0; i-- {
		esc := s.pending[i]
		if esc.resolved.Load() {
			continue
		}
		opt := matchOption(esc.Options, reply)
		if opt == nil {
			// Only the most recent unresolved escalation offers its menu.
			break
		}
		if !esc.resolved.CompareAndSwap(false, true) {
			continue
		}
		return Resolution{
			Target:       esc.Target,
			Instruction:  opt.Instruction,
			EscalationID: esc.ID,
		}, nil
	}

	// 2. Explicit ordinal escape hatch, bypassing any menu.
	if m := ordinalReply.FindStringSubmatch(reply); m != nil {
		ordinal, err := strconv.Atoi(m[1])
		if err == nil && ordinal >= 1 && ordinal <= len(r.sessions) {
			return Resolution{
				Target:      r.sessions[ordinal-1],
				Instruction: strings.TrimSpace(m[2]),
			}, nil
		}
		return Resolution{}, ErrNoMatch
	}

	// 3. Bare affirmative, at-most-once against the remembered permission
	// target.
	if affirmatives[strings.ToLower(reply)] {
		if s.permissionTarget != "" {
			target := s.permissionTarget
			s.permissionTarget = ""
			return Resolution{Target: target, Instruction: "yes"}, nil
		}
	}

	return Resolution{}, ErrNoMatch
}

// Pending returns the most recent unresolved escalation for the principal,
// or nil.
func (r *Router) Pending(principal string) *Escalation {
	s := r.state(principal)
	s.mu.Lock()
	defer s.mu.Unlock()

	return latestUnresolved(s.pending)
}

// Sessions returns the registered targets in ordinal order.
func (r *Router) Sessions() []string {
	return r.sessions
}

// SessionByOrdinal returns the target for a 1-based ordinal.
func (r *Router) SessionByOrdinal(ordinal int) (string, bool) {
	if ordinal < 1 || ordinal > len(r.sessions) {
		return "", false
	}
	return r.sessions[ordinal-1], true
}

// Adopt moves routing memory accumulated under from into to. Escalations
// delivered before anyone authenticated are parked under a shared default
// principal; the first principal to authenticate adopts them.
func (r *Router) Adopt(from, to string) {
	if from == to {
		return
	}

	r.mu.Lock()
	fs, ok := r.principals[from]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.principals, from)
	ts, ok := r.principals[to]
	if !ok {
		ts = &principalState{}
		r.principals[to] = ts
	}
	r.mu.Unlock()

	fs.mu.Lock()
	defer fs.mu.Unlock()
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.pending = append(fs.pending, ts.pending...)
	if ts.permissionTarget == "" {
		ts.permissionTarget = fs.permissionTarget
	}
}

// Forget clears all routing memory for the principal.
func (r *Router) Forget(principal string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.principals, principal)
}

func latestUnresolved(pending []*Escalation) *Escalation {
	for i := len(pending) - 1; i >= 0; i-- {
		if !pending[i].resolved.Load() {
			return pending[i]
		}
	}
	return nil
}

func matchOption(options []Option, reply string) *Option {
	for i := range options {
		if strings.EqualFold(reply, options[i].Selector) {
			return &options[i]
		}
	}
	return nil
}
