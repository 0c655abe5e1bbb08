package auth

import (
	"testing"
	"time"
)

// testSecret is a fixed base32 secret; codes for it are generated with
// CodeAt so tests never depend on wall-clock time.
const testSecret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"

func fixedTime() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func codeAt(t *testing.T, at time.Time) string {
	t.Helper()
	code, err := CodeAt(testSecret, at)
	if err != nil {
		t.Fatalf("CodeAt: %v", err)
	}
	return code
}

func TestVerifyValidCode(t *testing.T) {
	now := fixedTime()
	g := NewGate(testSecret, WithClock(func() time.Time { return now }))

	out := g.Verify("alice", codeAt(t, now))
	if out.Verdict != VerdictAuthenticated {
		t.Fatalf("Verdict = %q, want authenticated", out.Verdict)
	}
	if !g.IsAuthenticated("alice") {
		t.Error("IsAuthenticated = false after successful verify")
	}
}

func TestVerifyClockDrift(t *testing.T) {
	now := fixedTime()
	g := NewGate(testSecret, WithClock(func() time.Time { return now }))

	tests := []struct {
		name   string
		offset time.Duration
		want   Verdict
	}{
		{"one step behind", -30 * time.Second, VerdictAuthenticated},
		{"one step ahead", 30 * time.Second, VerdictAuthenticated},
		{"two steps behind", -60 * time.Second, VerdictRejected},
		{"two steps ahead", 60 * time.Second, VerdictRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g.Logout("drift-user") // reset attempt counters between cases
			out := g.Verify("drift-user", codeAt(t, now.Add(tt.offset)))
			if out.Verdict != tt.want {
				t.Errorf("Verdict = %q, want %q", out.Verdict, tt.want)
			}
		})
	}
}

func TestLockoutAfterThreshold(t *testing.T) {
	now := fixedTime()
	g := NewGate(testSecret,
		WithClock(func() time.Time { return now }),
		WithFailureThreshold(3),
		WithLockoutDuration(5*time.Minute),
	)

	for i := 0; i < 2; i++ {
		if out := g.Verify("alice", "000000"); out.Verdict != VerdictRejected {
			t.Fatalf("attempt %d: Verdict = %q, want rejected", i+1, out.Verdict)
		}
	}

	out := g.Verify("alice", "000000")
	if out.Verdict != VerdictLockedOut {
		t.Fatalf("third failure: Verdict = %q, want locked_out", out.Verdict)
	}
	if out.Remaining != 5*time.Minute {
		t.Errorf("Remaining = %v, want 5m", out.Remaining)
	}

	// Even a correct code is refused during lockout, and the check happens
	// before verification.
	out = g.Verify("alice", codeAt(t, now))
	if out.Verdict != VerdictLockedOut {
		t.Errorf("during lockout: Verdict = %q, want locked_out", out.Verdict)
	}
	if out.Remaining <= 0 || out.Remaining > 5*time.Minute {
		t.Errorf("Remaining = %v, want within lockout window", out.Remaining)
	}
}

func TestLockoutIsPerPrincipal(t *testing.T) {
	now := fixedTime()
	g := NewGate(testSecret, WithClock(func() time.Time { return now }))

	for i := 0; i < 3; i++ {
		g.Verify("alice", "000000")
	}
	if out := g.Verify("alice", codeAt(t, now)); out.Verdict != VerdictLockedOut {
		t.Fatalf("alice should be locked out, got %q", out.Verdict)
	}

	// Bob is unaffected by alice's failures.
	if out := g.Verify("bob", codeAt(t, now)); out.Verdict != VerdictAuthenticated {
		t.Errorf("bob: Verdict = %q, want authenticated", out.Verdict)
	}
}

func TestLockoutExpires(t *testing.T) {
	now := fixedTime()
	g := NewGate(testSecret,
		WithClock(func() time.Time { return now }),
		WithLockoutDuration(5*time.Minute),
	)

	for i := 0; i < 3; i++ {
		g.Verify("alice", "000000")
	}

	now = now.Add(6 * time.Minute)
	out := g.Verify("alice", codeAt(t, now))
	if out.Verdict != VerdictAuthenticated {
		t.Errorf("after lockout expiry: Verdict = %q, want authenticated", out.Verdict)
	}
}

func TestFailedAttemptsResetAfterExpiredLockout(t *testing.T) {
	now := fixedTime()
	g := NewGate(testSecret,
		WithClock(func() time.Time { return now }),
		WithFailureThreshold(3),
		WithLockoutDuration(time.Minute),
	)

	for i := 0; i < 3; i++ {
		g.Verify("alice", "000000")
	}
	now = now.Add(2 * time.Minute)

	// The counter restarted: two fresh failures must not lock out again.
	for i := 0; i < 2; i++ {
		if out := g.Verify("alice", "000000"); out.Verdict != VerdictRejected {
			t.Fatalf("attempt %d after expiry: Verdict = %q, want rejected", i+1, out.Verdict)
		}
	}
}

func TestSuccessResetsFailedAttempts(t *testing.T) {
	now := fixedTime()
	g := NewGate(testSecret, WithClock(func() time.Time { return now }))

	g.Verify("alice", "000000")
	g.Verify("alice", "000000")
	if out := g.Verify("alice", codeAt(t, now)); out.Verdict != VerdictAuthenticated {
		t.Fatalf("Verdict = %q, want authenticated", out.Verdict)
	}

	// Counter was cleared by the success; two more failures stay rejected.
	for i := 0; i < 2; i++ {
		if out := g.Verify("alice", "000000"); out.Verdict != VerdictRejected {
			t.Errorf("attempt %d: Verdict = %q, want rejected", i+1, out.Verdict)
		}
	}
}

func TestLogout(t *testing.T) {
	now := fixedTime()
	g := NewGate(testSecret, WithClock(func() time.Time { return now }))

	g.Verify("alice", codeAt(t, now))
	if !g.IsAuthenticated("alice") {
		t.Fatal("expected alice authenticated")
	}

	g.Logout("alice")
	if g.IsAuthenticated("alice") {
		t.Error("alice still authenticated after logout")
	}
}

func TestGenerateSecretRoundTrip(t *testing.T) {
	secret, uri, err := GenerateSecret("Tower", "operator")
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	if secret == "" {
		t.Fatal("empty secret")
	}
	if uri == "" {
		t.Fatal("empty provisioning URI")
	}

	now := fixedTime()
	code, err := CodeAt(secret, now)
	if err != nil {
		t.Fatalf("CodeAt: %v", err)
	}
	g := NewGate(secret, WithClock(func() time.Time { return now }))
	if out := g.Verify("alice", code); out.Verdict != VerdictAuthenticated {
		t.Errorf("generated secret does not verify its own code: %q", out.Verdict)
	}
}
