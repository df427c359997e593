// Package platform composes the store registry, sharding router, search index
// and rule engine into the federated operations served by the control API.
package platform

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/federated/internal/apperr"
	"github.com/fyrsmithlabs/federated/internal/events"
	"github.com/fyrsmithlabs/federated/internal/gitmeta"
	"github.com/fyrsmithlabs/federated/internal/logging"
	"github.com/fyrsmithlabs/federated/internal/monitor"
	"github.com/fyrsmithlabs/federated/internal/router"
	"github.com/fyrsmithlabs/federated/internal/rules"
	"github.com/fyrsmithlabs/federated/internal/search"
	"github.com/fyrsmithlabs/federated/internal/store"
	"github.com/fyrsmithlabs/federated/internal/watch"
)

const (
	// SearchCollection is the collection whose documents are placed on the
	// shard stores.
	SearchCollection = "search_index"
	// ShardStorePrefix prefixes the shard store names.
	ShardStorePrefix = "search_shard"
	// RoutingKey is the params key carrying a document id.
	RoutingKey = "doc_id"
)

// DefaultQueryTimeout bounds a single store query.
const DefaultQueryTimeout = 10 * time.Second

var tracer = otel.Tracer("federated.platform")

// Options configures a Platform.
type Options struct {
	Root            string
	Stores          []store.Descriptor
	IndexPatterns   []string
	ScanPatterns    []string
	GitMetadata     bool
	MonitorInterval time.Duration
	Watch           bool
	WatchDebounce   time.Duration
	SearchLimit     int
	// QueryTimeout bounds each store query of a federated call.
	QueryTimeout time.Duration
}

// Deps are the components a Platform orchestrates.
type Deps struct {
	Registry *store.Registry
	Router   router.Router
	Index    *search.Index
	Engine   *rules.Engine
	// Events may be nil.
	Events *events.Publisher
	Logger *logging.Logger
}

// Platform is one federation instance.
type Platform struct {
	opts   Options
	deps   Deps
	logger *logging.Logger

	state   atomic.Int32
	started time.Time
	git     gitmeta.Info

	queries atomic.Int64
	fixed   atomic.Int64

	monitor *monitor.Loop
	watcher *watch.Watcher

	// lifecycle guards initCancel and the stop path.
	lifecycle  sync.Mutex
	initCancel context.CancelFunc
	initDone   chan struct{}
}

// New creates an uninitialized Platform.
func New(opts Options, deps Deps) (*Platform, error) {
	if deps.Registry == nil || deps.Router == nil || deps.Index == nil || deps.Engine == nil {
		return nil, errors.New("platform: registry, router, index and engine are required")
	}
	if opts.Root == "" {
		opts.Root = "."
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	opts.Root = root
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = search.DefaultLimit
	}
	if opts.MonitorInterval <= 0 {
		opts.MonitorInterval = monitor.DefaultInterval
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = DefaultQueryTimeout
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}

	p := &Platform{
		opts:    opts,
		deps:    deps,
		logger:  deps.Logger.Named("platform"),
		started: time.Now(),
	}
	p.monitor = monitor.NewLoop(sources{p}, opts.MonitorInterval,
		monitor.WithLogger(deps.Logger.Named("monitor")),
		monitor.OnSnapshot(p.publishStatus))
	return p, nil
}

// State returns the current lifecycle state.
func (p *Platform) State() State { return State(p.state.Load()) }

// Root returns the absolute tree root.
func (p *Platform) Root() string { return p.opts.Root }

func (p *Platform) requireReady(op string) error {
	if s := p.State(); s != StateReady {
		return apperr.Errorf(op, apperr.ErrPlatformNotRunning, "state %s", s)
	}
	return nil
}

// Initialize brings the platform from Uninitialized to Ready. Store
// registration failures and an empty health sweep degrade the platform but
// do not stop it. The index pass and the scan end early when ctx is cancelled
// or Shutdown is called.
func (p *Platform) Initialize(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing)) {
		return apperr.Errorf("platform.Initialize", apperr.ErrInvalidInput, "cannot initialize from state %s", p.State())
	}
	ctx, span := tracer.Start(ctx, "platform.Initialize")
	defer span.End()

	p.lifecycle.Lock()
	ctx, cancel := context.WithCancel(ctx)
	p.initCancel = cancel
	p.initDone = make(chan struct{})
	done := p.initDone
	p.lifecycle.Unlock()
	defer func() {
		cancel()
		close(done)
	}()

	op := p.deps.Events.StartOperation(ctx, "initialize")

	if err := p.initialize(ctx, op); err != nil {
		_ = op.Fail(ctx, err)
		p.state.CompareAndSwap(int32(StateInitializing), int32(StateStopped))
		return err
	}

	if !p.state.CompareAndSwap(int32(StateInitializing), int32(StateReady)) {
		return apperr.Errorf("platform.Initialize", apperr.ErrPlatformNotRunning, "shut down during initialization")
	}
	_ = op.Complete(ctx, p.Status(ctx))
	p.logger.Info(ctx, "platform ready",
		zap.String("root", p.opts.Root),
		zap.Int("stores_online", len(p.deps.Registry.Online())),
		zap.Int("stores_total", p.deps.Registry.Len()),
		zap.Duration("elapsed", time.Since(p.started)))
	return nil
}

func (p *Platform) initialize(ctx context.Context, op *events.Operation) error {
	p.registerStores(ctx)
	_ = op.Progress(ctx, 10, "stores registered")

	n := p.deps.Index.NumShards()
	p.deps.Router.AddRule(SearchCollection, router.ShardRule(ShardStorePrefix, n, RoutingKey))

	health := p.deps.Registry.HealthCheckAll(ctx)
	online := 0
	for _, ok := range health {
		if ok {
			online++
		}
	}
	if online == 0 {
		p.logger.Warn(ctx, "no stores online, continuing degraded", zap.Int("stores_total", len(health)))
	} else {
		p.logger.Info(ctx, "database federation ready",
			zap.Int("stores_online", online), zap.Int("stores_total", len(health)))
	}
	_ = op.Progress(ctx, 20, "health sweep completed")

	if p.opts.GitMetadata {
		info, err := gitmeta.Detect(p.opts.Root)
		switch {
		case errors.Is(err, gitmeta.ErrNotGitRepo):
			p.logger.Debug(ctx, "root is not a git repository")
		case err != nil:
			p.logger.Warn(ctx, "reading git metadata failed", zap.Error(err))
		default:
			p.git = info
		}
	}

	// A failed index or scan pass degrades startup; only cancellation aborts.
	indexed, err := p.indexTree(ctx)
	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("initial index: %w", ctx.Err())
	case err != nil:
		p.logger.Error(ctx, "initial index failed, continuing degraded",
			zap.String("root", p.opts.Root), zap.Int("documents", indexed), zap.Error(err))
	default:
		p.logger.Info(ctx, "codebase indexed", zap.Int("documents", indexed))
	}
	_ = op.Progress(ctx, 60, "codebase indexed")

	err = p.initialScan(ctx)
	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("initial scan: %w", ctx.Err())
	case err != nil:
		p.logger.Error(ctx, "initial scan failed, continuing degraded",
			zap.String("root", p.opts.Root), zap.Error(err))
	}
	_ = op.Progress(ctx, 90, "initial scan completed")

	p.monitor.RunOnce(ctx)
	p.monitor.Start(context.WithoutCancel(ctx))

	if p.opts.Watch {
		if err := p.startWatcher(ctx); err != nil {
			p.logger.Warn(ctx, "file watcher disabled", zap.Error(err))
		}
	}
	return nil
}

func (p *Platform) registerStores(ctx context.Context) {
	for _, d := range p.opts.Stores {
		if err := p.deps.Registry.Register(ctx, d); err != nil {
			p.logger.Error(ctx, "store registration failed, excluding it",
				zap.String("store", d.Name), zap.String("kind", string(d.Kind)), zap.Error(err))
			continue
		}
		p.logger.Debug(ctx, "store registered", zap.String("store", d.Name), zap.String("kind", string(d.Kind)))
	}
}

// initialScan fixes critical violations only; the rest are reported.
func (p *Platform) initialScan(ctx context.Context) error {
	found, err := p.deps.Engine.ScanDirectory(ctx, p.opts.Root, p.opts.ScanPatterns)
	if err != nil {
		return err
	}
	all := rules.Flatten(found)
	var critical []rules.Violation
	for _, v := range all {
		if v.Severity == rules.SeverityCritical {
			critical = append(critical, v)
		}
	}
	p.logger.Info(ctx, "rule violations found",
		zap.Int("violations", len(all)), zap.Int("critical", len(critical)))
	if len(critical) == 0 {
		return nil
	}

	outcome := p.deps.Engine.AutoFix(ctx, critical)
	p.fixed.Add(int64(outcome.Fixed))
	p.reindexFixed(ctx, outcome)
	if err := p.deps.Events.Violations(ctx, outcome); err != nil {
		p.logger.Warn(ctx, "publishing violations failed", zap.Error(err))
	}
	return nil
}

func (p *Platform) startWatcher(ctx context.Context) error {
	w, err := watch.New(p.opts.Root, p, watch.Options{
		Patterns: p.opts.IndexPatterns,
		SkipDirs: rules.ExcludedDirs,
		Debounce: p.opts.WatchDebounce,
		Logger:   p.deps.Logger.Named("watch"),
	})
	if err != nil {
		return err
	}
	if err := w.Start(context.WithoutCancel(ctx)); err != nil {
		w.Stop()
		return err
	}
	p.watcher = w
	return nil
}

// Shutdown stops background work, cancels a running initialization and
// closes the stores. Shutting down a stopped platform is a no-op.
func (p *Platform) Shutdown(ctx context.Context) error {
	for {
		s := p.State()
		if s == StateStopped || s == StateShuttingDown {
			return nil
		}
		if p.state.CompareAndSwap(int32(s), int32(StateShuttingDown)) {
			break
		}
	}
	p.logger.Info(ctx, "platform shutting down")

	p.lifecycle.Lock()
	cancel, done := p.initCancel, p.initDone
	p.lifecycle.Unlock()
	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			p.logger.Warn(ctx, "initialization still running at shutdown deadline")
		}
	}

	p.monitor.Stop()
	if p.watcher != nil {
		p.watcher.Stop()
	}

	final := p.Status(ctx)
	final.Status = StateStopped.String()
	if err := p.deps.Events.Status(ctx, final); err != nil {
		p.logger.Debug(ctx, "publishing final status failed", zap.Error(err))
	}

	err := p.deps.Registry.Close()
	p.state.Store(int32(StateStopped))
	if err != nil {
		return fmt.Errorf("close stores: %w", err)
	}
	p.logger.Info(ctx, "platform stopped", zap.Duration("uptime", time.Since(p.started)))
	return nil
}

// sources adapts the platform to the monitor loop.
type sources struct{ p *Platform }

func (s sources) HealthCheckAll(ctx context.Context) map[string]bool {
	return s.p.deps.Registry.HealthCheckAll(ctx)
}

func (s sources) SearchStats() search.Stats { return s.p.deps.Index.Stats() }

func (s sources) RuleReport() rules.Report { return s.p.deps.Engine.Report() }

func (p *Platform) publishStatus(ctx context.Context, _ *monitor.Snapshot) {
	if err := p.deps.Events.Status(ctx, p.Status(ctx)); err != nil {
		p.logger.Debug(ctx, "publishing status failed", zap.Error(err))
	}
}
