// Package retry implements the attempt, backoff, and dead-letter policy shared
// by every job processor.
package retry

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JakeFAU/source-monitor/internal/monitor"
)

// DefaultSchedule is the escalating backoff table indexed by attempt number.
var DefaultSchedule = []time.Duration{
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	time.Hour,
	6 * time.Hour,
}

const (
	// DefaultMaxAttempts dead-letters a job on its fifth failed attempt.
	DefaultMaxAttempts = 5
	// MaxErrorLength bounds persisted error text, in runes.
	MaxErrorLength = 500
)

// Outcome is the decision taken after a failed attempt.
type Outcome string

// Outcomes.
const (
	OutcomeRetry      Outcome = "retry"
	OutcomeDeadLetter Outcome = "dead_letter"
)

// Decision describes what the processor must persist after a failure.
type Decision struct {
	Outcome       Outcome
	NextAttemptAt time.Time
	Error         string
}

// Policy computes backoff and retry decisions from an attempt count.
type Policy struct {
	maxAttempts int
	schedule    []time.Duration
}

// NewPolicy builds a policy. Zero or empty arguments select the defaults.
func NewPolicy(maxAttempts int, schedule []time.Duration) *Policy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if len(schedule) == 0 {
		schedule = DefaultSchedule
	}
	return &Policy{
		maxAttempts: maxAttempts,
		schedule:    append([]time.Duration(nil), schedule...),
	}
}

// MaxAttempts returns the dead-letter threshold.
func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

// Backoff returns the wait before the attempt following attempt. Attempts
// past the end of the table reuse its last entry.
func (p *Policy) Backoff(attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.schedule) {
		idx = len(p.schedule) - 1
	}
	return p.schedule[idx]
}

// Decide maps a failed attempt to a retry or a dead-letter.
func (p *Policy) Decide(attempt int, err error, now time.Time) Decision {
	msg := Sanitize(err, "attempt failed")
	if monitor.IsPermanent(err) || attempt >= p.maxAttempts {
		return Decision{Outcome: OutcomeDeadLetter, Error: msg}
	}
	return Decision{
		Outcome:       OutcomeRetry,
		NextAttemptAt: now.Add(p.Backoff(attempt)),
		Error:         msg,
	}
}

var (
	bearerPattern   = regexp.MustCompile(`(?i)\b(bearer|token)\s+[A-Za-z0-9\-._~+/]{8,}=*`)
	keyValuePattern = regexp.MustCompile(
		`(?i)\b([a-z0-9_\-]*(?:key|secret|password|passwd|pwd|token|authorization|credential)[a-z0-9_\-]*)` +
			`(\s*[=:]\s*)("[^"]*"|'[^']*'|[^\s&,;"']+)`,
	)
	userInfoPattern  = regexp.MustCompile(`(?i)\b(https?://)[^/\s:@]+:[^/\s@]+@`)
	githubPATPattern = regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{20,}\b`)
	whitespace       = regexp.MustCompile(`\s+`)
)

const redacted = "[REDACTED]"

// Sanitize renders err for persistence: secrets are redacted, whitespace is
// collapsed, and the result is bounded to MaxErrorLength runes. A nil or
// empty error yields fallback.
func Sanitize(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	return SanitizeText(err.Error(), fallback)
}

// SanitizeText applies Sanitize rules to an arbitrary message.
func SanitizeText(msg, fallback string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return fallback
	}
	msg = bearerPattern.ReplaceAllString(msg, "$1 "+redacted)
	msg = keyValuePattern.ReplaceAllString(msg, "${1}${2}"+redacted)
	msg = userInfoPattern.ReplaceAllString(msg, "${1}"+redacted+"@")
	msg = githubPATPattern.ReplaceAllString(msg, redacted)
	msg = whitespace.ReplaceAllString(msg, " ")
	return truncateRunes(msg, MaxErrorLength)
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + "…"
}
