package main

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/federated/internal/config"
	"github.com/fyrsmithlabs/federated/internal/events"
	"github.com/fyrsmithlabs/federated/internal/generate"
	"github.com/fyrsmithlabs/federated/internal/http"
	"github.com/fyrsmithlabs/federated/internal/logging"
	"github.com/fyrsmithlabs/federated/internal/metrics"
	"github.com/fyrsmithlabs/federated/internal/platform"
	"github.com/fyrsmithlabs/federated/internal/router"
	"github.com/fyrsmithlabs/federated/internal/rules"
	"github.com/fyrsmithlabs/federated/internal/search"
	"github.com/fyrsmithlabs/federated/internal/store"
	"github.com/fyrsmithlabs/federated/internal/telemetry"
	"github.com/fyrsmithlabs/federated/internal/worker"
)

// run wires the daemon and blocks until ctx is cancelled or the server
// fails. Components are built in dependency order and torn down in reverse.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Observability)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version), logger)
	if err != nil {
		return err
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	pub, err := events.Connect(cfg.Events.URL, cfg.Events.SubjectPrefix, logger)
	if err != nil {
		// Events are informational; the daemon runs without them.
		logger.Warn(ctx, "event publishing disabled", zap.Error(err))
		pub = nil
	}
	defer pub.Close()

	p, err := newPlatform(cfg, logger, pub)
	if err != nil {
		return err
	}

	var opts []http.Option
	opts = append(opts, http.WithGatherer(reg))
	runner, err := worker.New(worker.Config{
		Command: cfg.Worker.Command,
		Args:    cfg.Worker.Args,
		Timeout: cfg.Worker.Timeout.Duration(),
	}, logger, pub)
	switch {
	case err == nil:
		opts = append(opts, http.WithJobRunner(runner))
	case !errors.Is(err, worker.ErrNotConfigured):
		return fmt.Errorf("configure worker: %w", err)
	}

	srv, err := http.NewServer(p, logger, &http.Config{Host: cfg.Server.Host, Port: cfg.Server.Port}, opts...)
	if err != nil {
		return err
	}

	logger.Info(ctx, "starting federated",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr()),
		zap.String("root", cfg.Platform.Root),
		zap.Int("stores", len(cfg.Stores.Definitions)),
		zap.Bool("telemetry", tel.IsEnabled()),
		zap.Bool("events", pub != nil),
		zap.Bool("jobs", runner != nil),
	)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// The API is up while initialization runs so /status reports progress.
	initErr := p.Initialize(ctx)

	if initErr == nil {
		select {
		case <-ctx.Done():
		case err, ok := <-serveErr:
			if ok {
				initErr = fmt.Errorf("http server: %w", err)
			}
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "http shutdown failed", zap.Error(err))
	}
	if err := p.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "platform shutdown failed", zap.Error(err))
	}
	logger.Info(shutdownCtx, "federated stopped")

	if initErr != nil && !errors.Is(initErr, context.Canceled) {
		return initErr
	}
	return nil
}

func newLogger(o config.ObservabilityConfig) (*logging.Logger, error) {
	lc := logging.NewDefaultConfig()
	level, err := logging.ParseLevel(o.LogLevel)
	if err != nil {
		return nil, err
	}
	lc.Level = level
	if o.LogFormat != "" {
		lc.Format = o.LogFormat
	}
	return logging.NewLogger(lc)
}

// newPlatform builds the store registry, router, index and rule engine and
// hands them to the orchestrator.
func newPlatform(cfg *config.Config, logger *logging.Logger, pub *events.Publisher) (*platform.Platform, error) {
	if usesFiles(cfg.Stores.Definitions) {
		if err := os.MkdirAll(cfg.Platform.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	registry := store.NewRegistry(
		store.WithOpener(store.NewOpener(store.OpenOptions{
			VectorSize:   cfg.Stores.Qdrant.VectorSize,
			QdrantAPIKey: cfg.Stores.Qdrant.APIKey.Value(),
			QdrantTLS:    cfg.Stores.Qdrant.UseTLS,
		})),
		store.WithProbeTimeout(cfg.Stores.ProbeTimeout.Duration()),
		store.WithLogger(logger),
	)

	index, err := search.New(cfg.Search.Shards,
		search.WithShardTimeout(cfg.Search.ShardTimeout.Duration()),
		search.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	engine, err := newEngine(cfg, logger)
	if err != nil {
		return nil, err
	}

	return platform.New(platform.Options{
		Root:            cfg.Platform.Root,
		Stores:          descriptors(cfg.Stores.Definitions),
		IndexPatterns:   cfg.Platform.IndexPatterns,
		ScanPatterns:    cfg.Platform.ScanPatterns,
		GitMetadata:     cfg.Platform.GitMetadata,
		MonitorInterval: cfg.Monitor.Interval.Duration(),
		Watch:           cfg.Watch.Enabled,
		WatchDebounce:   cfg.Watch.Debounce.Duration(),
		SearchLimit:     cfg.Search.DefaultLimit,
		QueryTimeout:    cfg.Stores.QueryTimeout.Duration(),
	}, platform.Deps{
		Registry: registry,
		Router:   router.New(registry),
		Index:    index,
		Engine:   engine,
		Events:   pub,
		Logger:   logger,
	})
}

func newEngine(cfg *config.Config, logger *logging.Logger) (*rules.Engine, error) {
	var file *rules.File
	if cfg.Rules.File != "" {
		f, err := rules.LoadFile(cfg.Rules.File)
		if err != nil {
			return nil, err
		}
		file = f
	}
	if cfg.Rules.DisableSecrets {
		if file == nil {
			file = &rules.File{}
		}
		file.Disabled = append(file.Disabled, "hardcoded-secret")
	}
	rs, err := rules.DefaultRules(file)
	if err != nil {
		return nil, err
	}

	opts := []rules.EngineOption{rules.WithLogger(logger)}
	if cfg.Rules.UseAdvisor && cfg.Generator.Enabled {
		gen, err := generate.New(generate.Config{
			BaseURL:   cfg.Generator.BaseURL,
			Model:     cfg.Generator.Model,
			APIKey:    cfg.Generator.APIKey.Value(),
			RateLimit: cfg.Generator.RateLimit,
			Burst:     cfg.Generator.Burst,
		}, logger)
		if err != nil {
			return nil, err
		}
		logger.Info(context.Background(), "rule advisor enabled",
			zap.String("base_url", cfg.Generator.BaseURL),
			zap.String("model", cfg.Generator.Model),
			logging.RedactedString("api_key", cfg.Generator.APIKey.Value()))
		opts = append(opts, rules.WithAdvisor(generate.NewAdvisor(gen)))
	}
	return rules.NewEngine(rs, opts...), nil
}

func descriptors(defs []config.StoreDefinition) []store.Descriptor {
	out := make([]store.Descriptor, 0, len(defs))
	for _, d := range defs {
		out = append(out, store.Descriptor{Name: d.Name, Kind: store.Kind(d.Kind), DSN: d.DSN})
	}
	return out
}

func usesFiles(defs []config.StoreDefinition) bool {
	for _, d := range defs {
		if d.Kind == config.StoreKindSQLite || d.Kind == config.StoreKindChromem {
			return true
		}
	}
	return false
}
