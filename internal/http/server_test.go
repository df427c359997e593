package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/federated/internal/apperr"
	"github.com/fyrsmithlabs/federated/internal/logging"
	"github.com/fyrsmithlabs/federated/internal/platform"
	"github.com/fyrsmithlabs/federated/internal/router"
	"github.com/fyrsmithlabs/federated/internal/rules"
	"github.com/fyrsmithlabs/federated/internal/search"
	"github.com/fyrsmithlabs/federated/internal/store"
	"github.com/fyrsmithlabs/federated/internal/worker"
)

type fakePlatform struct {
	status  platform.Status
	results []search.Result
	outcome rules.FixOutcome
	rows    []store.Row
	err     error

	gotText    string
	gotFilters map[string]string
	gotPath    string
	gotQuery   string
	gotParams  map[string]any
}

func (f *fakePlatform) Status(context.Context) platform.Status { return f.status }

func (f *fakePlatform) Search(_ context.Context, text string, filters map[string]string) ([]search.Result, error) {
	f.gotText, f.gotFilters = text, filters
	return f.results, f.err
}

func (f *fakePlatform) EnforceRules(_ context.Context, path string) (rules.FixOutcome, error) {
	f.gotPath = path
	return f.outcome, f.err
}

func (f *fakePlatform) FederatedQuery(_ context.Context, query string, params map[string]any) ([]store.Row, error) {
	f.gotQuery, f.gotParams = query, params
	return f.rows, f.err
}

type fakeRunner struct {
	res worker.Result
	err error
	in  string
}

func (f *fakeRunner) Run(_ context.Context, input, _ string, _ worker.ProgressFunc) (worker.Result, error) {
	f.in = input
	return f.res, f.err
}

func setupTestServer(t *testing.T, p Platform, opts ...Option) (*Server, *logging.TestLogger) {
	t.Helper()
	tl := logging.NewTestLogger()
	s, err := NewServer(p, tl.Logger, nil, opts...)
	require.NoError(t, err)
	return s, tl
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Message
}

func TestNewServer(t *testing.T) {
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		s, err := NewServer(&fakePlatform{}, logging.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1", s.config.Host)
		assert.Equal(t, 8989, s.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(&fakePlatform{}, nil, nil)
		assert.ErrorContains(t, err, "logger is required")
	})

	t.Run("returns error when platform is nil", func(t *testing.T) {
		_, err := NewServer(nil, logging.NewNop(), nil)
		assert.ErrorContains(t, err, "platform cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	s, _ := setupTestServer(t, &fakePlatform{})
	rec := do(t, s, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleStatus(t *testing.T) {
	fp := &fakePlatform{status: platform.Status{Status: "online", State: "ready", DatabasesOnline: 5, DatabasesTotal: 6}}
	s, _ := setupTestServer(t, fp)

	rec := do(t, s, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var st platform.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "online", st.Status)
	assert.Equal(t, 5, st.DatabasesOnline)
	assert.Equal(t, 6, st.DatabasesTotal)
}

func TestHandleSearch(t *testing.T) {
	t.Run("empty q is rejected", func(t *testing.T) {
		fp := &fakePlatform{}
		s, _ := setupTestServer(t, fp)
		for _, target := range []string{"/search", "/search?q=", "/search?q=%20%20"} {
			rec := do(t, s, http.MethodGet, target, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code, target)
			assert.Contains(t, errorMessage(t, rec), "q is required")
		}
		assert.Empty(t, fp.gotText)
	})

	t.Run("other params become filters", func(t *testing.T) {
		fp := &fakePlatform{results: []search.Result{{ID: "a.py", Score: 1.5}}}
		s, _ := setupTestServer(t, fp)

		rec := do(t, s, http.MethodGet, "/search?q=compute&file_type=python", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "compute", fp.gotText)
		assert.Equal(t, map[string]string{"file_type": "python"}, fp.gotFilters)

		var got []search.Result
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.Len(t, got, 1)
		assert.Equal(t, "a.py", got[0].ID)
	})

	t.Run("limit is reserved and caps results", func(t *testing.T) {
		fp := &fakePlatform{results: []search.Result{
			{ID: "a.py", Score: 2.5}, {ID: "b.py", Score: 2.1}, {ID: "c.py", Score: 1.2},
		}}
		s, _ := setupTestServer(t, fp)

		rec := do(t, s, http.MethodGet, "/search?q=compute&limit=2&file_type=python", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, map[string]string{"file_type": "python"}, fp.gotFilters)

		var got []search.Result
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.Len(t, got, 2)
		assert.Equal(t, "a.py", got[0].ID)
		assert.Equal(t, "b.py", got[1].ID)
	})

	t.Run("bad limit is rejected", func(t *testing.T) {
		for _, target := range []string{"/search?q=compute&limit=five", "/search?q=compute&limit=0"} {
			fp := &fakePlatform{}
			s, _ := setupTestServer(t, fp)
			rec := do(t, s, http.MethodGet, target, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code, target)
			assert.Contains(t, errorMessage(t, rec), "limit")
			assert.Empty(t, fp.gotText, target)
		}
	})

	t.Run("prefixed filter reaches reserved keys", func(t *testing.T) {
		fp := &fakePlatform{}
		s, _ := setupTestServer(t, fp)

		rec := do(t, s, http.MethodGet, "/search?q=compute&filter.limit=strict&filter.language=go", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, map[string]string{"limit": "strict", "language": "go"}, fp.gotFilters)
	})

	t.Run("platform error is a 500", func(t *testing.T) {
		fp := &fakePlatform{err: apperr.E("platform.Search", apperr.ErrPlatformNotRunning, nil)}
		s, tl := setupTestServer(t, fp)

		rec := do(t, s, http.MethodGet, "/search?q=compute", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, errorMessage(t, rec), "platform not running")
		tl.AssertLogged(t, zapcore.ErrorLevel, "search failed")
	})
}

func TestHandleEnforce(t *testing.T) {
	t.Run("file path is forwarded", func(t *testing.T) {
		fp := &fakePlatform{outcome: rules.FixOutcome{Fixed: 2, Skipped: 1}}
		s, _ := setupTestServer(t, fp)

		rec := do(t, s, http.MethodPost, "/enforce", `{"file_path":"pkg/app.py"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "pkg/app.py", fp.gotPath)

		var got rules.FixOutcome
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, 2, got.Fixed)
		assert.Equal(t, 1, got.Skipped)
	})

	t.Run("empty body scans everything", func(t *testing.T) {
		fp := &fakePlatform{gotPath: "unset"}
		s, _ := setupTestServer(t, fp)

		rec := do(t, s, http.MethodPost, "/enforce", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "", fp.gotPath)
	})

	t.Run("invalid path is a 400", func(t *testing.T) {
		fp := &fakePlatform{err: apperr.Errorf("platform.EnforceRules", apperr.ErrInvalidInput, "outside root")}
		s, _ := setupTestServer(t, fp)

		rec := do(t, s, http.MethodPost, "/enforce", `{"file_path":"../etc/passwd"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		s, _ := setupTestServer(t, &fakePlatform{})
		rec := do(t, s, http.MethodPost, "/enforce", `{"file_path":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleQuery(t *testing.T) {
	t.Run("missing query", func(t *testing.T) {
		s, _ := setupTestServer(t, &fakePlatform{})
		rec := do(t, s, http.MethodPost, "/query", `{"params":{"a":1}}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, errorMessage(t, rec), "sql or query")
	})

	t.Run("sql wins over query", func(t *testing.T) {
		fp := &fakePlatform{rows: []store.Row{{"id": "a"}}}
		s, _ := setupTestServer(t, fp)

		rec := do(t, s, http.MethodPost, "/query", `{"sql":"SELECT 1","query":"ignored","params":{"collection":"search_index","routing_key":"a"}}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "SELECT 1", fp.gotQuery)
		assert.Equal(t, map[string]any{"collection": "search_index", "routing_key": "a"}, fp.gotParams)
		assert.JSONEq(t, `[{"id":"a"}]`, rec.Body.String())
	})

	t.Run("query alias", func(t *testing.T) {
		fp := &fakePlatform{}
		s, _ := setupTestServer(t, fp)

		rec := do(t, s, http.MethodPost, "/query", `{"query":"documents"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "documents", fp.gotQuery)
	})

	t.Run("degradation is never a 200", func(t *testing.T) {
		fp := &fakePlatform{err: apperr.Errorf("platform.FederatedQuery", apperr.ErrPartialDegradation, "all 2 stores failed")}
		s, _ := setupTestServer(t, fp)

		rec := do(t, s, http.MethodPost, "/query", `{"query":"documents"}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, errorMessage(t, rec), "all 2 stores failed")
	})
}

func TestHandleJob(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		s, _ := setupTestServer(t, &fakePlatform{})
		rec := do(t, s, http.MethodPost, "/jobs", `{"input":"a.pdf"}`)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("missing input", func(t *testing.T) {
		fr := &fakeRunner{}
		s, _ := setupTestServer(t, &fakePlatform{}, WithJobRunner(fr))
		rec := do(t, s, http.MethodPost, "/jobs", `{"output":"/tmp/out"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, fr.in)
	})

	t.Run("result is returned", func(t *testing.T) {
		fr := &fakeRunner{res: worker.Result{JobID: "job-1", Success: true, OutputFiles: []string{"out.json"}}}
		s, _ := setupTestServer(t, &fakePlatform{}, WithJobRunner(fr))

		rec := do(t, s, http.MethodPost, "/jobs", `{"input":"a.pdf"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "a.pdf", fr.in)

		var got worker.Result
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.True(t, got.Success)
		assert.Equal(t, []string{"out.json"}, got.OutputFiles)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "federated_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	s, _ := setupTestServer(t, &fakePlatform{}, WithGatherer(reg))
	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "federated_test_total 1")
}

func TestRequestLogging(t *testing.T) {
	s, tl := setupTestServer(t, &fakePlatform{})
	rec := do(t, s, http.MethodGet, "/search", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	entries := tl.FilterMessage("http request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(http.StatusBadRequest), fields["status"])
	assert.NotEmpty(t, fields["request.id"])
	assert.Equal(t, rec.Header().Get("X-Request-Id"), fields["request.id"])
}

// TestEndToEnd drives a real platform over memory stores through the API.
func TestEndToEnd(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "calc.py"),
		[]byte("def compute(x):\n    breakpoint()\n    return x\n"), 0o644))

	reg := store.NewRegistry()
	descs := []store.Descriptor{{Name: "main", Kind: store.KindMemory}}
	for i := 0; i < 4; i++ {
		descs = append(descs, store.Descriptor{Name: fmt.Sprintf("%s_%d", platform.ShardStorePrefix, i), Kind: store.KindMemory})
	}
	idx, err := search.New(4)
	require.NoError(t, err)
	rs, err := rules.DefaultRules(nil)
	require.NoError(t, err)

	p, err := platform.New(platform.Options{
		Root:            root,
		Stores:          descs,
		IndexPatterns:   []string{"*.py"},
		ScanPatterns:    []string{"*.py"},
		MonitorInterval: time.Hour,
	}, platform.Deps{
		Registry: reg,
		Router:   router.New(reg),
		Index:    idx,
		Engine:   rules.NewEngine(rs),
	})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, p.Initialize(ctx))
	t.Cleanup(func() { _ = p.Shutdown(ctx) })

	s, _ := setupTestServer(t, p)

	rec := do(t, s, http.MethodGet, "/search?q=", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/search?q=compute", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var results []search.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "calc.py", results[0].ID)

	rec = do(t, s, http.MethodPost, "/query", `{"query":"documents","params":{"collection":"search_index","routing_key":"calc.py"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []store.Row
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "calc.py", rows[0]["id"])

	rec = do(t, s, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st platform.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "online", st.Status)
	assert.Equal(t, 5, st.DatabasesOnline)
	assert.Equal(t, int64(1), st.ViolationsFixed)
}
