package rules

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	gitleaksconfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksregexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// SecretRedaction replaces detected secrets.
const SecretRedaction = "REDACTED"

// secretRule runs the gitleaks default rule set over file content.
type secretRule struct {
	paths []*regexp.Regexp

	// The detector accumulates state between calls.
	mu       sync.Mutex
	detector *detect.Detector
}

// HardcodedSecret detects credentials with the gitleaks default rules.
// Allowlisted paths are skipped and allowlisted content regexes are fed to
// the detector.
func HardcodedSecret(allow Allowlist) (Rule, error) {
	r := &secretRule{}
	for _, p := range allow.Paths {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("allowlist path %q: %w", p, err)
		}
		r.paths = append(r.paths, re)
	}

	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("load gitleaks rules: %w", err)
	}
	if len(allow.Regexes) > 0 {
		al := &gitleaksconfig.Allowlist{Description: "federated rules allowlist"}
		for _, p := range allow.Regexes {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("allowlist regex %q: %w", p, err)
			}
			al.Regexes = append(al.Regexes, (*gitleaksregexp.Regexp)(re))
		}
		d.Config.Allowlists = append(d.Config.Allowlists, al)
	}
	r.detector = d
	return r, nil
}

func (r *secretRule) ID() string          { return "hardcoded-secret" }
func (r *secretRule) Description() string { return "hardcoded credential" }
func (r *secretRule) Severity() Severity  { return SeverityCritical }

func (r *secretRule) Applies(path string) bool {
	for _, re := range r.paths {
		if re.MatchString(path) {
			return false
		}
	}
	return true
}

func (r *secretRule) Check(path string, content []byte) []Violation {
	text := string(content)
	r.mu.Lock()
	findings := r.detector.DetectString(text)
	r.mu.Unlock()

	type hit struct {
		line   int
		secret string
		rule   string
	}
	var hits []hit
	lines := strings.Split(text, "\n")
	for _, f := range findings {
		if f.Secret == "" {
			continue
		}
		line := secretLine(lines, f.StartLine, f.Secret)
		if line == 0 {
			continue
		}
		hits = append(hits, hit{line: line, secret: f.Secret, rule: f.RuleID})
	}

	// Several gitleaks rules can match the same credential. Keep one hit per
	// line for any secret contained in another.
	var out []Violation
	for i, h := range hits {
		dup := false
		for j, o := range hits {
			if i == j || o.line != h.line || !strings.Contains(o.secret, h.secret) {
				continue
			}
			if len(o.secret) > len(h.secret) || j < i {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		out = append(out, Violation{
			Path:        path,
			RuleID:      r.ID(),
			Severity:    SeverityCritical,
			Description: fmt.Sprintf("%s (%s)", r.Description(), h.rule),
			Line:        h.line,
			Fix:         &Fix{Match: h.secret, Replacement: SecretRedaction},
		})
	}
	return out
}

// secretLine returns the 1-based line holding secret. gitleaks reports the
// finding's start line; both 0- and 1-based readings are checked before
// falling back to the first line containing the secret.
func secretLine(lines []string, start int, secret string) int {
	for _, n := range []int{start + 1, start} {
		if n >= 1 && n <= len(lines) && strings.Contains(lines[n-1], secret) {
			return n
		}
	}
	for i, l := range lines {
		if strings.Contains(l, secret) {
			return i + 1
		}
	}
	return 0
}
