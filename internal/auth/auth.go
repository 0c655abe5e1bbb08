// Package auth gates inbound replies behind time-based one-time codes.
//
// Every principal (a chat user, a caller) must present a valid TOTP code
// before Tower will route their instructions anywhere. Failed attempts are
// tracked per principal with a temporary lockout; one user hammering wrong
// codes can never lock out another.
package auth

import (
	"sync"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Default lockout policy. These are configuration constants, not derived
// values.
const (
	DefaultFailureThreshold = 3
	DefaultLockoutDuration  = 5 * time.Minute
)

// totpPeriod is the TOTP time step in seconds. Codes one step either side
// of now are accepted to absorb clock drift.
const (
	totpPeriod = 30
	totpSkew   = 1
)

// Verdict is the result class of a verification attempt.
type Verdict string

const (
	VerdictAuthenticated Verdict = "authenticated"
	VerdictRejected      Verdict = "rejected"
	VerdictLockedOut     Verdict = "locked_out"
)

// Outcome reports a verification attempt. Remaining is set only for
// VerdictLockedOut.
type Outcome struct {
	Verdict   Verdict
	Remaining time.Duration
}

// authState tracks one principal's standing with the gate.
type authState struct {
	authenticated  bool
	failedAttempts int
	lockoutUntil   time.Time
}

// Gate verifies codes and enforces per-principal lockout.
type Gate struct {
	secret    string
	threshold int
	lockout   time.Duration
	now       func() time.Time

	mu     sync.Mutex
	states map[string]*authState
}

// Option configures a Gate.
type Option func(*Gate)

// WithFailureThreshold sets how many consecutive failures trigger lockout.
func WithFailureThreshold(n int) Option {
	return func(g *Gate) { g.threshold = n }
}

// WithLockoutDuration sets how long a locked-out principal must wait.
func WithLockoutDuration(d time.Duration) Option {
	return func(g *Gate) { g.lockout = d }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// NewGate creates a Gate verifying against the given base32 shared secret.
func NewGate(secret string, opts ...Option) *Gate {
	g := &Gate{
		secret:    secret,
		threshold: DefaultFailureThreshold,
		lockout:   DefaultLockoutDuration,
		states:    make(map[string]*authState),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

func (g *Gate) getOrCreate(principal string) *authState {
	s, ok := g.states[principal]
	if !ok {
		s = &authState{}
		g.states[principal] = s
	}
	return s
}

// Verify checks a code for the principal. A locked-out principal is turned
// away before the code is even looked at, so probing during lockout does
// not consume verification attempts.
func (g *Gate) Verify(principal, code string) Outcome {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.getOrCreate(principal)
	now := g.now()

	if !s.lockoutUntil.IsZero() {
		if now.Before(s.lockoutUntil) {
			return Outcome{Verdict: VerdictLockedOut, Remaining: s.lockoutUntil.Sub(now)}
		}
		// Lockout has passed with no fresh failure: clean slate.
		s.lockoutUntil = time.Time{}
		s.failedAttempts = 0
	}

	ok, err := totp.ValidateCustom(code, g.secret, now, validateOpts())
	if err == nil && ok {
		s.authenticated = true
		s.failedAttempts = 0
		return Outcome{Verdict: VerdictAuthenticated}
	}

	s.failedAttempts++
	if s.failedAttempts >= g.threshold {
		s.lockoutUntil = now.Add(g.lockout)
		s.failedAttempts = 0
		return Outcome{Verdict: VerdictLockedOut, Remaining: g.lockout}
	}
	return Outcome{Verdict: VerdictRejected}
}

// IsAuthenticated reports whether the principal has presented a valid code
// and has not logged out since.
func (g *Gate) IsAuthenticated(principal string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.states[principal]
	return ok && s.authenticated
}

// Logout clears all state for the principal. The next contact starts over.
func (g *Gate) Logout(principal string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.states, principal)
}

func validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}
