// Package monitor runs the periodic health, search and rule checks and
// renders the operator dashboard.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/federated/internal/logging"
	"github.com/fyrsmithlabs/federated/internal/metrics"
	"github.com/fyrsmithlabs/federated/internal/rules"
	"github.com/fyrsmithlabs/federated/internal/search"
)

// DefaultInterval is the tick period when none is configured.
const DefaultInterval = 60 * time.Second

// Sources are the components a tick inspects.
type Sources interface {
	HealthCheckAll(ctx context.Context) map[string]bool
	SearchStats() search.Stats
	RuleReport() rules.Report
}

// Snapshot is the result of one tick. Snapshots are immutable once published.
type Snapshot struct {
	Health map[string]bool `json:"health"`
	Search search.Stats    `json:"search"`
	Rules  rules.Report    `json:"rules"`
	// Errors maps a failed sub-check to its error.
	Errors   map[string]string `json:"errors,omitempty"`
	At       time.Time         `json:"at"`
	Duration time.Duration     `json:"duration"`
}

// Online counts healthy stores.
func (s *Snapshot) Online() int {
	n := 0
	for _, ok := range s.Health {
		if ok {
			n++
		}
	}
	return n
}

// Loop ticks at a fixed interval. A tick still running when the next is due
// causes that next tick to be dropped.
type Loop struct {
	src      Sources
	interval time.Duration
	logger   *logging.Logger
	onTick   func(context.Context, *Snapshot)

	running  atomic.Bool
	snapshot atomic.Pointer[Snapshot]
	ticks    atomic.Int64
	skipped  atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithLogger sets the loop logger.
func WithLogger(l *logging.Logger) LoopOption {
	return func(lp *Loop) { lp.logger = l }
}

// OnSnapshot registers fn to run after each published snapshot.
func OnSnapshot(fn func(context.Context, *Snapshot)) LoopOption {
	return func(lp *Loop) { lp.onTick = fn }
}

// NewLoop creates a stopped loop.
func NewLoop(src Sources, interval time.Duration, opts ...LoopOption) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	lp := &Loop{src: src, interval: interval, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(lp)
	}
	return lp
}

// Start runs the loop in the background until Stop or ctx ends. Calling
// Start on a running loop does nothing.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx, l.done)
}

// Stop halts the loop and waits for an in-flight tick to finish.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !l.running.CompareAndSwap(false, true) {
				l.skipped.Add(1)
				metrics.ObserveMonitorTick("skipped")
				l.logger.Debug(ctx, "monitor tick skipped, previous tick still running")
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer l.running.Store(false)
				l.tick(ctx)
			}()
		}
	}
}

// RunOnce runs a tick now. It returns false without running when a tick is
// already in progress.
func (l *Loop) RunOnce(ctx context.Context) (*Snapshot, bool) {
	if !l.running.CompareAndSwap(false, true) {
		l.skipped.Add(1)
		return nil, false
	}
	defer l.running.Store(false)
	return l.tick(ctx), true
}

func (l *Loop) tick(ctx context.Context) *Snapshot {
	start := time.Now()
	snap := &Snapshot{Errors: make(map[string]string)}

	l.check(ctx, snap, "health", func() { snap.Health = l.src.HealthCheckAll(ctx) })
	l.check(ctx, snap, "search", func() { snap.Search = l.src.SearchStats() })
	l.check(ctx, snap, "rules", func() { snap.Rules = l.src.RuleReport() })

	if snap.Health == nil {
		snap.Health = map[string]bool{}
	}
	snap.At = time.Now().UTC()
	snap.Duration = time.Since(start)
	l.snapshot.Store(snap)
	l.ticks.Add(1)

	result := metrics.ResultSuccess
	if len(snap.Errors) > 0 {
		result = metrics.ResultPartial
	}
	metrics.ObserveMonitorTick(result)
	l.logger.Debug(ctx, "monitor tick completed",
		zap.Int("stores_online", snap.Online()),
		zap.Int("stores_total", len(snap.Health)),
		zap.Duration("elapsed", snap.Duration))

	if l.onTick != nil {
		l.onTick(ctx, snap)
	}
	return snap
}

// check runs one sub-check, recording a panic as that check's error.
func (l *Loop) check(ctx context.Context, snap *Snapshot, name string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			snap.Errors[name] = fmt.Sprint(p)
			l.logger.Error(ctx, "monitor check failed", zap.String("check", name), zap.Any("panic", p))
		}
	}()
	fn()
}

// Snapshot returns the latest snapshot, or nil before the first tick.
func (l *Loop) Snapshot() *Snapshot { return l.snapshot.Load() }

// Ticks returns the number of completed ticks.
func (l *Loop) Ticks() int64 { return l.ticks.Load() }

// Skipped returns the number of dropped ticks.
func (l *Loop) Skipped() int64 { return l.skipped.Load() }
