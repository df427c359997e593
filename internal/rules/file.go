package rules

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
)

// Allowlist excludes paths and content from secret detection. Entries are
// regular expressions.
type Allowlist struct {
	Paths   []string `toml:"paths"`
	Regexes []string `toml:"regexes"`
}

// CustomRule is a user-defined regex rule.
type CustomRule struct {
	ID          string   `toml:"id"`
	Description string   `toml:"description"`
	Severity    string   `toml:"severity"`
	Pattern     string   `toml:"pattern"`
	Replacement string   `toml:"replacement"`
	Paths       []string `toml:"paths"`
}

// File is the rules file.
//
//	disabled = ["console-log"]
//
//	[allowlist]
//	paths = ['''testdata/''']
//	regexes = ['''EXAMPLE_KEY''']
//
//	[[rule]]
//	id = "no-print"
//	severity = "info"
//	pattern = '''^\s*print\('''
//	paths = ["*.py"]
type File struct {
	Disabled  []string     `toml:"disabled"`
	Allowlist Allowlist    `toml:"allowlist"`
	Rules     []CustomRule `toml:"rule"`
}

// LoadFile reads a rules file. A missing file yields an empty File.
func LoadFile(path string) (*File, error) {
	f := &File{}
	if path == "" {
		return f, nil
	}
	if _, err := toml.DecodeFile(path, f); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &File{}, nil
		}
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("rules file %s: %w", path, err)
	}
	return f, nil
}

// Validate checks patterns and severities.
func (f *File) Validate() error {
	for _, p := range append(append([]string{}, f.Allowlist.Paths...), f.Allowlist.Regexes...) {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("allowlist pattern %q: %w", p, err)
		}
	}
	seen := make(map[string]bool)
	for i, r := range f.Rules {
		if r.ID == "" {
			return fmt.Errorf("rule %d: id is required", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("rule %q defined twice", r.ID)
		}
		seen[r.ID] = true
		if _, err := ParseSeverity(r.Severity); err != nil {
			return fmt.Errorf("rule %q: %w", r.ID, err)
		}
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return fmt.Errorf("rule %q pattern: %w", r.ID, err)
		}
	}
	return nil
}

// DefaultRules returns the built-in rules plus f's custom rules, minus the
// disabled ones. f may be nil.
func DefaultRules(f *File) ([]Rule, error) {
	if f == nil {
		f = &File{}
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	disabled := make(map[string]bool, len(f.Disabled))
	for _, id := range f.Disabled {
		disabled[id] = true
	}

	var out []Rule
	add := func(r Rule) {
		if !disabled[r.ID()] {
			out = append(out, r)
		}
	}

	if !disabled["hardcoded-secret"] {
		secret, err := HardcodedSecret(f.Allowlist)
		if err != nil {
			return nil, err
		}
		out = append(out, secret)
	}
	add(BareExcept())
	add(DebugBreakpoint())
	add(TrailingWhitespace())
	add(ConsoleLog())

	for _, c := range f.Rules {
		sev, _ := ParseSeverity(c.Severity)
		desc := c.Description
		if desc == "" {
			desc = c.ID
		}
		r, err := NewPatternRule(c.ID, desc, sev, c.Pattern, c.Replacement, c.Paths)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", c.ID, err)
		}
		add(r)
	}
	return out, nil
}
