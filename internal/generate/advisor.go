package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/federated/internal/rules"
)

const advisorPrompt = `A code scanner reported this violation.
Rule: %s (%s)
Description: %s
File: %s
Line %d:
%s

Reply with a JSON object {"match": "<exact text on the line to replace>", "replacement": "<new text>", "delete_line": <true|false>}.
Reply {"match": ""} when no safe fix exists.`

// Advisor suggests fixes for violations whose rule has none.
type Advisor struct {
	c Completer
}

// NewAdvisor creates an Advisor backed by c.
func NewAdvisor(c Completer) *Advisor { return &Advisor{c: c} }

var errNoSuggestion = errors.New("no suggestion")

// Suggest implements rules.Advisor. Lines flagged as secrets are never sent.
func (a *Advisor) Suggest(ctx context.Context, v rules.Violation, line string) (*rules.Fix, error) {
	if v.RuleID == "hardcoded-secret" {
		return nil, errNoSuggestion
	}
	prompt := fmt.Sprintf(advisorPrompt, v.RuleID, v.Severity, v.Description, v.Path, v.Line, line)
	out, err := a.c.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	raw, err := ExtractJSON(out)
	if err != nil {
		return nil, err
	}
	var fix rules.Fix
	if err := json.Unmarshal([]byte(raw), &fix); err != nil {
		return nil, fmt.Errorf("decode suggestion: %w", err)
	}
	if fix.Match == "" {
		return nil, errNoSuggestion
	}
	return &fix, nil
}
