package rules

import (
	"fmt"
	"strings"
	"time"
)

// Severity ranks a violation.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ParseSeverity parses a severity name.
func ParseSeverity(s string) (Severity, error) {
	switch sev := Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return sev, nil
	default:
		return "", fmt.Errorf("unknown severity %q", s)
	}
}

// Fix describes an edit to a single line.
//
// The last occurrence of Match on the line is replaced with Replacement, or
// the whole line is removed when DeleteLine is set. The fix fails if Match is
// no longer on the line.
type Fix struct {
	Match       string `json:"match"`
	Replacement string `json:"replacement"`
	DeleteLine  bool   `json:"delete_line,omitempty"`
}

// Violation is one rule finding.
type Violation struct {
	Path        string   `json:"path"`
	RuleID      string   `json:"rule_id"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Line        int      `json:"line"`
	Fix         *Fix     `json:"fix,omitempty"`
}

// Outcome is the result of attempting one violation's fix.
type Outcome string

const (
	OutcomeFixed   Outcome = "fixed"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// FixResult is the outcome for one violation.
type FixResult struct {
	Violation Violation `json:"violation"`
	Outcome   Outcome   `json:"outcome"`
	Error     string    `json:"error,omitempty"`
}

// FixOutcome aggregates an AutoFix call.
type FixOutcome struct {
	Fixed   int         `json:"fixed"`
	Failed  int         `json:"failed"`
	Skipped int         `json:"skipped"`
	Results []FixResult `json:"results,omitempty"`
}

func (o *FixOutcome) add(v Violation, outcome Outcome, err error) {
	r := FixResult{Violation: v, Outcome: outcome}
	if err != nil {
		r.Error = err.Error()
	}
	o.Results = append(o.Results, r)
	switch outcome {
	case OutcomeFixed:
		o.Fixed++
	case OutcomeFailed:
		o.Failed++
	case OutcomeSkipped:
		o.Skipped++
	}
}

// Merge adds other's counts and results to o.
func (o *FixOutcome) Merge(other FixOutcome) {
	o.Fixed += other.Fixed
	o.Failed += other.Failed
	o.Skipped += other.Skipped
	o.Results = append(o.Results, other.Results...)
}

// Report summarizes every scan and fix since the engine was created.
type Report struct {
	Scans        int64            `json:"scans"`
	FilesScanned int64            `json:"files_scanned"`
	Violations   int64            `json:"violations"`
	BySeverity   map[Severity]int `json:"by_severity"`
	ByRule       map[string]int   `json:"by_rule"`
	Fixed        int64            `json:"fixed"`
	Failed       int64            `json:"failed"`
	Skipped      int64            `json:"skipped"`
	LastScan     time.Time        `json:"last_scan,omitempty"`
}
