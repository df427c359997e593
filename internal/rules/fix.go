package rules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/federated/internal/apperr"
	"github.com/fyrsmithlabs/federated/internal/metrics"
)

// AutoFix applies the fixes carried by violations. Violations without a fix
// are skipped. Each file is rewritten at most once, atomically; a file where
// any fix fails is left untouched and all its violations are failed.
func (e *Engine) AutoFix(ctx context.Context, violations []Violation) FixOutcome {
	var out FixOutcome
	byFile := make(map[string][]Violation)
	var order []string
	for _, v := range violations {
		if v.Fix == nil {
			out.add(v, OutcomeSkipped, nil)
			continue
		}
		if _, ok := byFile[v.Path]; !ok {
			order = append(order, v.Path)
		}
		byFile[v.Path] = append(byFile[v.Path], v)
	}

	for _, path := range order {
		vs := byFile[path]
		err := ctx.Err()
		if err == nil {
			err = fixFile(path, vs)
		}
		outcome := OutcomeFixed
		if err != nil {
			outcome = OutcomeFailed
			err = apperr.E("rules.AutoFix", apperr.ErrRemediation, err)
			e.logger.Warn(ctx, "remediation failed", zap.String("path", path), zap.Error(err))
		}
		for _, v := range vs {
			out.add(v, outcome, err)
		}
	}

	e.mu.Lock()
	e.report.Fixed += int64(out.Fixed)
	e.report.Failed += int64(out.Failed)
	e.report.Skipped += int64(out.Skipped)
	e.mu.Unlock()
	metrics.ObserveFixOutcomes(out.Fixed, out.Failed, out.Skipped)

	if out.Fixed+out.Failed > 0 {
		e.logger.Info(ctx, "remediation completed",
			zap.Int("fixed", out.Fixed), zap.Int("failed", out.Failed), zap.Int("skipped", out.Skipped))
	}
	return out
}

// fixFile applies vs to path in memory and replaces the file with a rename.
func fixFile(path string, vs []Violation) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	fixed, err := applyFixes(string(content), vs)
	if err != nil {
		return err
	}
	if fixed == string(content) {
		return nil
	}
	return writeAtomic(path, []byte(fixed), info.Mode().Perm())
}

// applyFixes edits bottom-up so removed lines do not shift pending fixes.
// On one line, replacements run before a deletion.
func applyFixes(content string, vs []Violation) (string, error) {
	lines := bytesToLines(content)
	sorted := append([]Violation(nil), vs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Line != sorted[j].Line {
			return sorted[i].Line > sorted[j].Line
		}
		return !sorted[i].Fix.DeleteLine && sorted[j].Fix.DeleteLine
	})

	deleted := make(map[int]bool)
	for _, v := range sorted {
		idx := v.Line - 1
		if idx < 0 || idx >= len(lines) || deleted[idx] {
			return "", fmt.Errorf("%s line %d: line no longer present", v.RuleID, v.Line)
		}
		line := lines[idx]
		pos := strings.LastIndex(line, v.Fix.Match)
		if v.Fix.Match == "" || pos < 0 {
			return "", fmt.Errorf("%s line %d: %q no longer present", v.RuleID, v.Line, v.Fix.Match)
		}
		if v.Fix.DeleteLine {
			deleted[idx] = true
			continue
		}
		lines[idx] = line[:pos] + v.Fix.Replacement + line[pos+len(v.Fix.Match):]
	}

	var b strings.Builder
	b.Grow(len(content))
	for i, l := range lines {
		if deleted[i] {
			continue
		}
		b.WriteString(l)
	}
	return b.String(), nil
}

// bytesToLines splits content into lines that keep their terminators, so
// joining them reproduces content exactly. Check and fix use the text
// without the terminator.
func bytesToLines(content string) []string {
	var lines []string
	for content != "" {
		i := strings.IndexByte(content, '\n')
		if i < 0 {
			lines = append(lines, content)
			break
		}
		lines = append(lines, content[:i+1])
		content = content[i+1:]
	}
	return lines
}

func writeAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".fix-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
