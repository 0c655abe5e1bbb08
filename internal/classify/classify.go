package classify

import (
	"regexp"
	"strings"
	"time"
)

// Rule maps an output pattern to an event kind. Rules are evaluated in
// slice order within their kind group, first match wins.
type Rule struct {
	Kind  Kind
	Regex *regexp.Regexp
}

// Ruleset holds the ordered detection rules. Error rules are always
// evaluated before permission rules regardless of insertion order.
type Ruleset struct {
	errors      []Rule
	permissions []Rule
}

// NewRuleset creates a Ruleset with the built-in detection rules.
func NewRuleset() *Ruleset {
	return &Ruleset{
		errors:      defaultErrorRules(),
		permissions: defaultPermissionRules(),
	}
}

// AddRule appends a custom pattern for the given kind. Only error and
// permission rules are accepted; the other kinds are never pattern-derived.
func (rs *Ruleset) AddRule(kind Kind, pattern string) error {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return err
	}
	switch kind {
	case KindError:
		rs.errors = append(rs.errors, Rule{Kind: KindError, Regex: re})
	case KindPermission:
		rs.permissions = append(rs.permissions, Rule{Kind: KindPermission, Regex: re})
	}
	return nil
}

// Classify examines sanitized pane output and returns a typed event.
// Priority order: error rules over the whole capture, then permission rules
// over the trailing permissionWindow lines, otherwise Normal. Empty or
// whitespace-only input is Normal with full confidence: certainty that
// nothing is happening, not that everything is fine.
func (rs *Ruleset) Classify(raw string) Event {
	now := time.Now()

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Event{Kind: KindNormal, Confidence: ConfidenceQuiet, ObservedAt: now}
	}

	lines := strings.Split(trimmed, "\n")

	for _, rule := range rs.errors {
		evidence := matchLines(rule.Regex, lines, maxErrorEvidence)
		if len(evidence) > 0 {
			return Event{
				Kind:       KindError,
				Evidence:   evidence,
				Confidence: ConfidenceError,
				ObservedAt: now,
			}
		}
	}

	recent := lines
	if len(recent) > permissionWindow {
		recent = recent[len(recent)-permissionWindow:]
	}
	for _, rule := range rs.permissions {
		evidence := matchLines(rule.Regex, recent, maxPermissionEvidence)
		if len(evidence) > 0 {
			return Event{
				Kind:       KindPermission,
				Evidence:   evidence,
				Confidence: ConfidencePermission,
				ObservedAt: now,
			}
		}
	}

	return Event{Kind: KindNormal, Confidence: ConfidenceQuiet, ObservedAt: now}
}

// matchLines collects lines matching re, in order, up to limit.
func matchLines(re *regexp.Regexp, lines []string, limit int) []string {
	var out []string
	for _, line := range lines {
		if re.MatchString(line) {
			out = append(out, strings.TrimSpace(line))
			if len(out) >= limit {
				break
			}
		}
	}
	return out
}

// defaultErrorRules returns the built-in error patterns. Order matters:
// the most specific tool output formats come first.
func defaultErrorRules() []Rule {
	return []Rule{
		{KindError, regexp.MustCompile(`(?i)Traceback \(most recent call last\)`)},
		{KindError, regexp.MustCompile(`error\[E\d+\]`)}, // rustc
		{KindError, regexp.MustCompile(`npm ERR!`)},
		{KindError, regexp.MustCompile(`(?i)\bFAILED\b`)},
		{KindError, regexp.MustCompile(`(?i)\bError:`)},
		{KindError, regexp.MustCompile(`(?i)exit code [1-9]\d*`)},
		{KindError, regexp.MustCompile(`(?i)Command failed`)},
		{KindError, regexp.MustCompile(`(?i)(?:^|\s)(?:fatal|panic):`)},
	}
}

// defaultPermissionRules returns the built-in approval-prompt patterns.
func defaultPermissionRules() []Rule {
	return []Rule{
		{KindPermission, regexp.MustCompile(`(?i)Do you want to`)},
		{KindPermission, regexp.MustCompile(`(?i)Allow\?`)},
		{KindPermission, regexp.MustCompile(`(?i)Proceed\?`)},
		{KindPermission, regexp.MustCompile(`(?i)Continue\?`)},
		{KindPermission, regexp.MustCompile(`(?i)Are you sure`)},
		{KindPermission, regexp.MustCompile(`\[y/N\]`)},
		{KindPermission, regexp.MustCompile(`\[Y/n\]`)},
	}
}
