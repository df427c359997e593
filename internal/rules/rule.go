package rules

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Rule checks a single file.
type Rule interface {
	ID() string
	Description() string
	Severity() Severity
	// Applies reports whether the rule should run on path.
	Applies(path string) bool
	// Check returns the violations in content. Lines are 1-based.
	Check(path string, content []byte) []Violation
}

// globs matches a path's base name against shell patterns. Empty matches all.
type globs []string

func (g globs) match(path string) bool {
	if len(g) == 0 {
		return true
	}
	base := filepath.Base(path)
	for _, p := range g {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
	}
	return false
}

// fixFunc builds the fix for the matched text on a line. Nil means no fix.
type fixFunc func(line, match string) *Fix

// patternRule reports every line matching a regular expression.
type patternRule struct {
	id          string
	description string
	severity    Severity
	pattern     *regexp.Regexp
	paths       globs
	fix         fixFunc
}

func (r *patternRule) ID() string               { return r.id }
func (r *patternRule) Description() string      { return r.description }
func (r *patternRule) Severity() Severity       { return r.severity }
func (r *patternRule) Applies(path string) bool { return r.paths.match(path) }

func (r *patternRule) Check(path string, content []byte) []Violation {
	var out []Violation
	for i, line := range strings.Split(string(content), "\n") {
		m := r.pattern.FindString(line)
		if m == "" && !r.pattern.MatchString(line) {
			continue
		}
		v := Violation{
			Path:        path,
			RuleID:      r.id,
			Severity:    r.severity,
			Description: r.description,
			Line:        i + 1,
		}
		if r.fix != nil {
			v.Fix = r.fix(line, m)
		}
		out = append(out, v)
	}
	return out
}

func replaceWith(replacement string) fixFunc {
	return func(_, match string) *Fix {
		return &Fix{Match: match, Replacement: replacement}
	}
}

func deleteLine(_, match string) *Fix {
	return &Fix{Match: strings.TrimSpace(match), DeleteLine: true}
}

// BareExcept flags Python bare except clauses.
func BareExcept() Rule {
	return &patternRule{
		id:          "bare-except",
		description: "bare except clause catches SystemExit and KeyboardInterrupt",
		severity:    SeverityWarning,
		pattern:     regexp.MustCompile(`\bexcept\s*:`),
		paths:       globs{"*.py"},
		fix:         replaceWith("except Exception:"),
	}
}

// DebugBreakpoint flags leftover debugger statements.
func DebugBreakpoint() Rule {
	return &patternRule{
		id:          "debug-breakpoint",
		description: "debugger statement left in source",
		severity:    SeverityCritical,
		pattern:     regexp.MustCompile(`^\s*(breakpoint\(\)|import pdb;\s*pdb\.set_trace\(\)|pdb\.set_trace\(\)|debugger;?)\s*$`),
		paths:       globs{"*.py", "*.js", "*.ts"},
		fix:         deleteLine,
	}
}

// TrailingWhitespace flags lines ending in spaces or tabs.
func TrailingWhitespace() Rule {
	return &patternRule{
		id:          "trailing-whitespace",
		description: "trailing whitespace",
		severity:    SeverityInfo,
		pattern:     regexp.MustCompile(`[ \t]+$`),
		fix:         replaceWith(""),
	}
}

// ConsoleLog flags console.log calls. There is no automatic fix.
func ConsoleLog() Rule {
	return &patternRule{
		id:          "console-log",
		description: "console.log call left in source",
		severity:    SeverityWarning,
		pattern:     regexp.MustCompile(`\bconsole\.log\(`),
		paths:       globs{"*.js", "*.ts", "*.jsx", "*.tsx"},
	}
}

// NewPatternRule builds a regex rule. A non-empty replacement is expanded
// against the match ($1 etc.) to produce the fix.
func NewPatternRule(id, description string, severity Severity, pattern string, replacement string, paths []string) (Rule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	r := &patternRule{
		id:          id,
		description: description,
		severity:    severity,
		pattern:     re,
		paths:       globs(paths),
	}
	if replacement != "" {
		r.fix = func(_, match string) *Fix {
			return &Fix{Match: match, Replacement: re.ReplaceAllString(match, replacement)}
		}
	}
	return r, nil
}
