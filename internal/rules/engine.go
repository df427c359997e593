package rules

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/federated/internal/logging"
	"github.com/fyrsmithlabs/federated/internal/metrics"
)

// maxFileSize bounds the files the scanner reads.
const maxFileSize = 4 << 20

// Advisor suggests fixes for violations that have none.
type Advisor interface {
	Suggest(ctx context.Context, v Violation, line string) (*Fix, error)
}

// Engine runs rules over files.
type Engine struct {
	rules   []Rule
	advisor Advisor
	logger  *logging.Logger

	mu     sync.Mutex
	report Report
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithAdvisor consults a for violations lacking a fix.
func WithAdvisor(a Advisor) EngineOption {
	return func(e *Engine) { e.advisor = a }
}

// WithLogger sets the engine logger.
func WithLogger(l *logging.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine running rules.
func NewEngine(rules []Rule, opts ...EngineOption) *Engine {
	e := &Engine{
		rules:  rules,
		logger: logging.NewNop(),
		report: Report{
			BySeverity: make(map[Severity]int),
			ByRule:     make(map[string]int),
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rules returns the engine's rules.
func (e *Engine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// ScanFile runs every applicable rule against path. Binary files yield no
// violations.
func (e *Engine) ScanFile(ctx context.Context, path string) ([]Violation, error) {
	vs, err := e.scanFile(ctx, path)
	if err != nil {
		return nil, err
	}
	e.record(1, vs)
	return vs, nil
}

func (e *Engine) scanFile(ctx context.Context, path string) ([]Violation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > maxFileSize {
		e.logger.Debug(ctx, "skipping large file", zap.String("path", path), zap.Int64("size", info.Size()))
		return nil, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if !utf8.Valid(content) || bytes.IndexByte(content, 0) >= 0 {
		return nil, nil
	}

	var lines []string
	var out []Violation
	for _, r := range e.rules {
		if !r.Applies(path) {
			continue
		}
		for _, v := range r.Check(path, content) {
			if v.Fix == nil && e.advisor != nil {
				if lines == nil {
					lines = bytesToLines(string(content))
				}
				v.Fix = e.advise(ctx, v, lines)
			}
			out = append(out, v)
		}
	}
	sortViolations(out)
	return out, nil
}

func (e *Engine) advise(ctx context.Context, v Violation, lines []string) *Fix {
	if v.Line < 1 || v.Line > len(lines) {
		return nil
	}
	line := strings.TrimRight(lines[v.Line-1], "\r\n")
	fix, err := e.advisor.Suggest(ctx, v, line)
	if err == nil && (fix == nil || fix.Match == "" || !strings.Contains(line, fix.Match)) {
		err = fmt.Errorf("suggestion does not apply to line %d", v.Line)
	}
	if err != nil {
		e.logger.Debug(ctx, "advisor suggestion skipped",
			zap.String("rule", v.RuleID), zap.String("path", v.Path), zap.Error(err))
		return nil
	}
	return fix
}

// ScanDirectory walks root and scans files whose base name matches one of
// patterns (all files when patterns is empty). Files without violations are
// omitted from the result.
func (e *Engine) ScanDirectory(ctx context.Context, root string, patterns []string) (map[string][]Violation, error) {
	out := make(map[string][]Violation)
	var files int64
	var all []Violation
	err := WalkFiles(ctx, root, patterns, e.logger, func(path string, _ fs.DirEntry) error {
		vs, err := e.scanFile(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Warn(ctx, "scan failed", zap.String("path", path), zap.Error(err))
			return nil
		}
		files++
		if len(vs) > 0 {
			out[path] = vs
			all = append(all, vs...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.record(files, all)
	e.logger.Info(ctx, "scan completed",
		zap.String("root", root),
		zap.Int64("files", files),
		zap.Int("files_with_violations", len(out)),
		zap.Int("violations", len(all)))
	return out, nil
}

func (e *Engine) record(files int64, vs []Violation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.report.Scans++
	e.report.FilesScanned += files
	e.report.Violations += int64(len(vs))
	e.report.LastScan = time.Now().UTC()
	for _, v := range vs {
		e.report.BySeverity[v.Severity]++
		e.report.ByRule[v.RuleID]++
		metrics.ObserveViolation(v.RuleID, string(v.Severity))
	}
}

// Report returns a copy of the cumulative report.
func (e *Engine) Report() Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.report
	r.BySeverity = make(map[Severity]int, len(e.report.BySeverity))
	for k, v := range e.report.BySeverity {
		r.BySeverity[k] = v
	}
	r.ByRule = make(map[string]int, len(e.report.ByRule))
	for k, v := range e.report.ByRule {
		r.ByRule[k] = v
	}
	return r
}

// Flatten returns the violations of a ScanDirectory result in path order.
func Flatten(byPath map[string][]Violation) []Violation {
	paths := make([]string, 0, len(byPath))
	for p := range byPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	var out []Violation
	for _, p := range paths {
		out = append(out, byPath[p]...)
	}
	return out
}

func sortViolations(vs []Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		if vs[i].Line != vs[j].Line {
			return vs[i].Line < vs[j].Line
		}
		return vs[i].RuleID < vs[j].RuleID
	})
}
