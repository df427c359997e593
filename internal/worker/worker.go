// Package worker runs the external job worker: a command invoked with an
// input path and an output directory that reports progress markers and a
// final JSON object on its output.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/federated/internal/apperr"
	"github.com/fyrsmithlabs/federated/internal/events"
	"github.com/fyrsmithlabs/federated/internal/logging"
)

// DefaultTimeout bounds a job when no timeout is configured.
const DefaultTimeout = 10 * time.Minute

const (
	maxOutputBytes = 4 << 20
	waitDelay      = 2 * time.Second
)

// ErrNotConfigured is returned when no worker command is set.
var ErrNotConfigured = errors.New("worker command not configured")

var progressPattern = regexp.MustCompile(`progress:\s*(\d{1,3})\b`)

// Config configures a Runner.
type Config struct {
	Command string
	Args    []string
	Timeout time.Duration
}

// Result is the outcome of one job. A missing or malformed result object
// yields Success false with Error set.
type Result struct {
	JobID       string         `json:"job_id"`
	Success     bool           `json:"success"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	OutputFiles []string       `json:"outputFiles,omitempty"`
	Error       string         `json:"error,omitempty"`
	ExitCode    int            `json:"exit_code"`
	Progress    int            `json:"progress"`
	DurationMS  int64          `json:"duration_ms"`
}

// payload is the JSON object a worker prints.
type payload struct {
	Success     *bool          `json:"success"`
	Metadata    map[string]any `json:"metadata"`
	OutputFiles []string       `json:"outputFiles"`
	Error       string         `json:"error"`
}

// ProgressFunc receives progress percentages in [0, 100].
type ProgressFunc func(percent int)

// Runner invokes the worker command.
type Runner struct {
	cfg    Config
	logger *logging.Logger
	events *events.Publisher
}

// New creates a Runner. pub may be nil.
func New(cfg Config, logger *logging.Logger, pub *events.Publisher) (*Runner, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{cfg: cfg, logger: logger.Named("worker"), events: pub}, nil
}

// Run executes `<command> <args...> --input <input> --output <output>`. An
// empty output creates a temporary directory. The returned error covers
// invalid invocations only; job failures are reported in Result.
func (r *Runner) Run(ctx context.Context, input, output string, progress ProgressFunc) (Result, error) {
	const op = "worker.Run"
	if strings.TrimSpace(input) == "" {
		return Result{}, apperr.Errorf(op, apperr.ErrInvalidInput, "input path is required")
	}
	if _, err := os.Stat(input); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Result{}, apperr.Errorf(op, apperr.ErrNotFound, "input %q", input)
		}
		return Result{}, apperr.E(op, nil, err)
	}
	if output == "" {
		dir, err := os.MkdirTemp("", "federated-job-")
		if err != nil {
			return Result{}, fmt.Errorf("create output dir: %w", err)
		}
		output = dir
	} else if err := os.MkdirAll(output, 0o755); err != nil {
		return Result{}, fmt.Errorf("create output dir: %w", err)
	}

	job := r.events.StartOperation(ctx, "job")
	res := Result{JobID: job.ID}
	log := r.logger.With(zap.String("job_id", job.ID), zap.String("command", r.cfg.Command))

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	args := append(append([]string{}, r.cfg.Args...), "--input", input, "--output", output)
	cmd := exec.CommandContext(runCtx, r.cfg.Command, args...)
	cmd.WaitDelay = waitDelay

	out := &lineCollector{onLine: func(line string) {
		m := progressPattern.FindStringSubmatch(line)
		if m == nil {
			return
		}
		pct, _ := strconv.Atoi(m[1])
		if pct > 100 {
			pct = 100
		}
		res.Progress = pct
		if progress != nil {
			progress(pct)
		}
		_ = job.Progress(ctx, pct, "")
	}}
	cmd.Stdout = out
	cmd.Stderr = out

	start := time.Now()
	log.Info(ctx, "job started", zap.String("input", input), zap.String("output", output))
	runErr := cmd.Run()
	out.flush()
	res.DurationMS = time.Since(start).Milliseconds()

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		res.ExitCode = -1
		res.Error = fmt.Sprintf("worker timed out after %s", r.cfg.Timeout)
	case runErr != nil:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		res.Error = runErr.Error()
	default:
		applyPayload(&res, out.String())
	}

	if res.Success {
		log.Info(ctx, "job completed", zap.Int64("duration_ms", res.DurationMS), zap.Int("output_files", len(res.OutputFiles)))
		_ = job.Complete(ctx, res)
	} else {
		log.Warn(ctx, "job failed", zap.Int("exit_code", res.ExitCode), zap.String("error", res.Error))
		_ = job.Fail(ctx, errors.New(res.Error))
	}
	return res, nil
}

// applyPayload fills res from the last JSON object in output.
func applyPayload(res *Result, output string) {
	raw, ok := LastJSONObject(output)
	if !ok {
		res.Error = "worker produced no result object"
		return
	}
	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		res.Error = fmt.Sprintf("malformed worker result: %v", err)
		return
	}
	res.Success = p.Success == nil || *p.Success
	res.Metadata = p.Metadata
	res.OutputFiles = p.OutputFiles
	if !res.Success {
		res.Error = p.Error
		if res.Error == "" {
			res.Error = "worker reported failure"
		}
	}
}

// LastJSONObject returns the last line of output that holds a complete JSON
// object, falling back to the span from the first '{' to the last '}'.
func LastJSONObject(output string) (string, bool) {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if strings.HasPrefix(line, "{") && strings.HasSuffix(line, "}") && json.Valid([]byte(line)) {
			return line, true
		}
	}
	start, end := strings.Index(output, "{"), strings.LastIndex(output, "}")
	if start >= 0 && end > start {
		span := output[start : end+1]
		if json.Valid([]byte(span)) {
			return span, true
		}
	}
	return "", false
}

// lineCollector keeps the last maxOutputBytes of combined output and calls
// onLine for each complete line. The result object is printed last, so the
// head of a verbose run is what gets dropped.
type lineCollector struct {
	mu      sync.Mutex
	tail    []byte
	partial []byte
	onLine  func(string)
}

func (c *lineCollector) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tail = append(c.tail, p...)
	if len(c.tail) > 2*maxOutputBytes {
		c.tail = append([]byte(nil), c.tail[len(c.tail)-maxOutputBytes:]...)
	}
	c.partial = append(c.partial, p...)
	for {
		i := bytes.IndexByte(c.partial, '\n')
		if i < 0 {
			break
		}
		c.onLine(string(c.partial[:i]))
		c.partial = c.partial[i+1:]
	}
	if len(c.partial) > maxOutputBytes {
		c.partial = nil
	}
	return len(p), nil
}

func (c *lineCollector) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.partial) > 0 {
		c.onLine(string(c.partial))
		c.partial = nil
	}
}

func (c *lineCollector) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.tail
	if len(t) > maxOutputBytes {
		t = t[len(t)-maxOutputBytes:]
	}
	return string(t)
}
