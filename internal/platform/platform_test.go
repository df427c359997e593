package platform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/federated/internal/apperr"
	"github.com/fyrsmithlabs/federated/internal/logging"
	"github.com/fyrsmithlabs/federated/internal/router"
	"github.com/fyrsmithlabs/federated/internal/rules"
	"github.com/fyrsmithlabs/federated/internal/search"
	"github.com/fyrsmithlabs/federated/internal/store"
)

const shards = 4

type fixture struct {
	p        *Platform
	registry *store.Registry
	root     string
	logger   *logging.TestLogger
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func memoryStores() []store.Descriptor {
	ds := []store.Descriptor{{Name: "main", Kind: store.KindMemory}}
	for i := 0; i < shards; i++ {
		ds = append(ds, store.Descriptor{Name: fmt.Sprintf("%s_%d", ShardStorePrefix, i), Kind: store.KindMemory})
	}
	return ds
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	root := t.TempDir()
	tl := logging.NewTestLogger()
	reg := store.NewRegistry(store.WithLogger(tl.Logger))

	idx, err := search.New(shards)
	require.NoError(t, err)
	rs, err := rules.DefaultRules(nil)
	require.NoError(t, err)

	opts := Options{
		Root:            root,
		Stores:          memoryStores(),
		IndexPatterns:   []string{"*.py"},
		ScanPatterns:    []string{"*.py", "*.js"},
		MonitorInterval: time.Hour,
	}
	if mutate != nil {
		mutate(&opts)
	}
	p, err := New(opts, Deps{
		Registry: reg,
		Router:   router.New(reg),
		Index:    idx,
		Engine:   rules.NewEngine(rs),
		Logger:   tl.Logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return &fixture{p: p, registry: reg, root: root, logger: tl}
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Options{}, Deps{})
	require.Error(t, err)
}

func TestPlatform_NotRunning(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.p.Search(ctx, "anything", nil)
	assert.ErrorIs(t, err, apperr.ErrPlatformNotRunning)
	_, err = f.p.EnforceRules(ctx, "")
	assert.ErrorIs(t, err, apperr.ErrPlatformNotRunning)
	_, err = f.p.FederatedQuery(ctx, "documents", nil)
	assert.ErrorIs(t, err, apperr.ErrPlatformNotRunning)

	st := f.p.Status(ctx)
	assert.Equal(t, "uninitialized", st.State)
}

func TestPlatform_Initialize(t *testing.T) {
	f := newFixture(t, nil)
	app := writeFile(t, f.root, "pkg/app.py",
		"def compute(x):\n    breakpoint()\n    try:\n        return x\n    except:\n        return None\n")
	writeFile(t, f.root, "notes.txt", "compute is not indexed here\n")
	writeFile(t, f.root, "venv/lib.py", "def compute():\n    breakpoint()\n")
	ctx := context.Background()

	require.NoError(t, f.p.Initialize(ctx))
	assert.Equal(t, StateReady, f.p.State())

	content, err := os.ReadFile(app)
	require.NoError(t, err)
	assert.NotContains(t, string(content), "breakpoint()", "critical violation fixed")
	assert.Contains(t, string(content), "except:", "warnings are left for enforce")

	results, err := f.p.Search(ctx, "compute", nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "pkg/app.py", results[0].ID)
	assert.Equal(t, "python", results[0].Metadata["file_type"])
	assert.Equal(t, "app.py", results[0].Metadata["title"])
	assert.NotContains(t, results[0].Content, "breakpoint()", "fixed files are reindexed")

	st := f.p.Status(ctx)
	assert.Equal(t, "online", st.Status)
	assert.Equal(t, 5, st.DatabasesTotal)
	assert.Equal(t, 5, st.DatabasesOnline)
	assert.EqualValues(t, 1, st.QueriesProcessed)
	assert.EqualValues(t, 1, st.ViolationsFixed)
	assert.Equal(t, 1, st.SearchStats.TotalDocuments)
	assert.EqualValues(t, 1, st.RuleReport.Scans)
	assert.False(t, st.UpdatedAt.IsZero())

	f.logger.AssertLogged(t, zapcore.InfoLevel, "platform ready")
}

func TestPlatform_InitializeTwice(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.p.Initialize(context.Background()))
	assert.Error(t, f.p.Initialize(context.Background()))
}

func TestPlatform_DegradedStartup(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Stores = []store.Descriptor{
			{Name: "broken", Kind: store.Kind("postgres")},
			{Name: "", Kind: store.KindMemory},
		}
	})
	writeFile(t, f.root, "a.py", "value = 1\n")

	require.NoError(t, f.p.Initialize(context.Background()))
	assert.Equal(t, StateReady, f.p.State())
	assert.Zero(t, f.registry.Len())
	f.logger.AssertLogged(t, zapcore.WarnLevel, "no stores online")

	results, err := f.p.Search(context.Background(), "value", nil)
	require.NoError(t, err)
	assert.Len(t, results, 1, "search works without stores")
}

func TestPlatform_MissingRootStillReady(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Root = filepath.Join(o.Root, "does-not-exist")
	})
	ctx := context.Background()

	require.NoError(t, f.p.Initialize(ctx))
	assert.Equal(t, StateReady, f.p.State())
	f.logger.AssertLogged(t, zapcore.ErrorLevel, "initial index failed")
	f.logger.AssertLogged(t, zapcore.ErrorLevel, "initial scan failed")

	results, err := f.p.Search(ctx, "anything", nil)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, "ready", f.p.Status(ctx).State)
}

func TestPlatform_InitializeCancelled(t *testing.T) {
	f := newFixture(t, nil)
	writeFile(t, f.root, "a.py", "x = 1\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.p.Initialize(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateStopped, f.p.State())
}

func TestFederatedQuery_FanOutSingleStore(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Stores = nil })
	main := store.NewMemoryStore()
	rows := []store.Row{
		{"id": 1, "name": "ada"},
		{"id": 2, "name": "grace"},
	}
	main.Insert("users", rows...)
	f.registry.Attach(store.Descriptor{Name: "main", Kind: store.KindMemory}, main)
	ctx := context.Background()
	require.NoError(t, f.p.Initialize(ctx))

	got, err := f.p.FederatedQuery(ctx, "users", nil)
	require.NoError(t, err)
	assert.Equal(t, rows, got)

	got, err = f.p.FederatedQuery(ctx, "users", map[string]any{"name": "grace"})
	require.NoError(t, err)
	assert.Equal(t, []store.Row{rows[1]}, got)
}

func TestFederatedQuery_FanOutDegrades(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Stores = nil })
	a, b := store.NewMemoryStore(), store.NewMemoryStore()
	a.Insert("events", store.Row{"src": "a"})
	b.Insert("events", store.Row{"src": "b"})
	f.registry.Attach(store.Descriptor{Name: "alpha", Kind: store.KindMemory}, a)
	f.registry.Attach(store.Descriptor{Name: "beta", Kind: store.KindMemory}, b)
	ctx := context.Background()
	require.NoError(t, f.p.Initialize(ctx))

	got, err := f.p.FederatedQuery(ctx, "events", nil)
	require.NoError(t, err)
	assert.Equal(t, []store.Row{{"src": "a"}, {"src": "b"}}, got, "concatenated in store name order")

	a.SetDown(true)
	got, err = f.p.FederatedQuery(ctx, "events", nil)
	require.NoError(t, err)
	assert.Equal(t, []store.Row{{"src": "b"}}, got)

	b.SetDown(true)
	_, err = f.p.FederatedQuery(ctx, "events", nil)
	assert.ErrorIs(t, err, apperr.ErrPartialDegradation)
}

// stuckStore answers pings but ignores the context on Query.
type stuckStore struct {
	delay time.Duration
}

func (s *stuckStore) Ping(context.Context) error { return nil }

func (s *stuckStore) Query(context.Context, string, map[string]any) ([]store.Row, error) {
	time.Sleep(s.delay)
	return []store.Row{{"src": "stuck"}}, nil
}

func (s *stuckStore) Close() error { return nil }

func TestFederatedQuery_SlowStoreTimesOut(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Stores = nil
		o.QueryTimeout = 50 * time.Millisecond
	})
	main := store.NewMemoryStore()
	main.Insert("events", store.Row{"src": "main"})
	f.registry.Attach(store.Descriptor{Name: "main", Kind: store.KindMemory}, main)
	stuck := &stuckStore{delay: 2 * time.Second}
	f.registry.Attach(store.Descriptor{Name: "stuck", Kind: store.KindMemory}, stuck)
	ctx := context.Background()
	require.NoError(t, f.p.Initialize(ctx))

	start := time.Now()
	got, err := f.p.FederatedQuery(ctx, "events", nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []store.Row{{"src": "main"}}, got)
	f.logger.AssertLogged(t, zapcore.WarnLevel, "store query failed")

	_, err = f.p.queryStore(ctx, stuck, "events", nil)
	assert.ErrorIs(t, err, apperr.ErrTimeout)
}

func TestFederatedQuery_Routed(t *testing.T) {
	f := newFixture(t, nil)
	writeFile(t, f.root, "a.py", "alpha = 1\n")
	writeFile(t, f.root, "b.py", "beta = 2\n")
	ctx := context.Background()
	require.NoError(t, f.p.Initialize(ctx))

	rows, err := f.p.FederatedQuery(ctx, "documents", map[string]any{
		ParamCollection: SearchCollection,
		ParamRoutingKey: "a.py",
	})
	require.NoError(t, err)
	var ids []any
	for _, r := range rows {
		ids = append(ids, r["id"])
	}
	assert.Contains(t, ids, "a.py", "document persisted on the shard store it routes to")

	name, err := f.p.deps.Router.Resolve(SearchCollection, map[string]any{RoutingKey: "a.py"})
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%s_%d", ShardStorePrefix, search.ShardFor("a.py", shards)), name)
}

func TestFederatedQuery_RoutingErrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.p.Initialize(ctx))

	_, err := f.p.FederatedQuery(ctx, "documents", map[string]any{
		ParamCollection: "unknown",
		ParamRoutingKey: "x",
	})
	assert.ErrorIs(t, err, apperr.ErrRouting)

	_, err = f.p.FederatedQuery(ctx, "  ", nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestEnforceRules(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.p.Initialize(ctx))

	path := writeFile(t, f.root, "svc.py", "try:\n    run()\nexcept:\n    pass\n")

	out, err := f.p.EnforceRules(ctx, "svc.py")
	require.NoError(t, err)
	assert.Equal(t, 1, out.Fixed)
	assert.Equal(t, 0, out.Failed)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "except Exception:")
	assert.EqualValues(t, 1, f.p.Status(ctx).ViolationsFixed)

	writeFile(t, f.root, "web.js", "console.log('x');  \n")
	out, err = f.p.EnforceRules(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, out.Fixed, "trailing whitespace fixed")
	assert.Equal(t, 1, out.Skipped, "console.log has no fix")
	assert.EqualValues(t, 2, f.p.Status(ctx).ViolationsFixed)
}

func TestEnforceRules_InvalidPaths(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.p.Initialize(ctx))

	_, err := f.p.EnforceRules(ctx, "../outside.py")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = f.p.EnforceRules(ctx, "missing.py")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, os.Mkdir(filepath.Join(f.root, "dir"), 0o755))
	_, err = f.p.EnforceRules(ctx, "dir")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestSearch_EmptyText(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.p.Initialize(context.Background()))
	_, err := f.p.Search(context.Background(), " ", nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestWatchHandler(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.p.Initialize(ctx))

	path := writeFile(t, f.root, "late.py", "def zebra():\n    return 1\n")
	f.p.Changed(ctx, path)
	results, err := f.p.Search(ctx, "zebra", nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "late.py", results[0].ID)

	require.NoError(t, os.Remove(path))
	f.p.Removed(ctx, path)
	results, err = f.p.Search(ctx, "zebra", nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestShutdown(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.p.Initialize(ctx))

	require.NoError(t, f.p.Shutdown(ctx))
	assert.Equal(t, StateStopped, f.p.State())
	require.NoError(t, f.p.Shutdown(ctx))

	_, err := f.p.Search(ctx, "x", nil)
	assert.ErrorIs(t, err, apperr.ErrPlatformNotRunning)
	assert.Equal(t, "stopped", f.p.Status(ctx).Status)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "shutting_down", StateShuttingDown.String())
	assert.Equal(t, "unknown", State(42).String())
}
