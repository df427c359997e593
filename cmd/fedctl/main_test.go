package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/federated/internal/platform"
	"github.com/fyrsmithlabs/federated/internal/rules"
	"github.com/fyrsmithlabs/federated/internal/search"
	"github.com/fyrsmithlabs/federated/internal/store"
)

func sampleStatus() platform.Status {
	return platform.Status{
		Status:          "ok",
		State:           "online",
		Root:            "/srv/project",
		UptimeSeconds:   125,
		DatabasesOnline: 1,
		DatabasesTotal:  2,
		Stores: []store.Descriptor{
			{Name: "main", Kind: store.KindSQLite, Online: true},
			{Name: "vectors", Kind: store.KindChromem, Online: false, LastError: "ping timed out"},
		},
		QueriesProcessed: 42,
		ViolationsFixed:  3,
		SearchStats: search.Stats{
			Shards:         []search.ShardStats{{Name: "s0", Documents: 4}, {Name: "s1", Documents: 6}},
			TotalDocuments: 10,
			PartialQueries: 2,
		},
		RuleReport:     rules.Report{Violations: 5, Fixed: 3, Failed: 1, Skipped: 1},
		MonitorSkipped: 7,
		UpdatedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func fakeDaemon(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/status":
			_ = json.NewEncoder(w).Encode(sampleStatus())
		case "/search":
			if r.URL.Query().Get("language") != "go" {
				_, _ = w.Write([]byte(`[]`))
				return
			}
			_, _ = w.Write([]byte(`[{"id":"main.go","title":"main.go","score":1.5}]`))
		case "/enforce":
			var req map[string]string
			_ = json.NewDecoder(r.Body).Decode(&req)
			_ = json.NewEncoder(w).Encode(rules.FixOutcome{
				Fixed: 1,
				Results: []rules.FixResult{{
					Violation: rules.Violation{Path: req["file_path"], Line: 3, RuleID: "no-console-log"},
					Outcome:   rules.OutcomeFixed,
				}},
			})
		case "/query":
			var req struct {
				Query  string         `json:"query"`
				Params map[string]any `json:"params"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			_ = json.NewEncoder(w).Encode([]store.Row{{"query": req.Query, "key": req.Params["routing_key"]}})
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"not found"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestStatusCmd(t *testing.T) {
	srv := fakeDaemon(t)

	out, err := execute(t, "status", "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "State:      online (ok)")
	assert.Contains(t, out, "Root:       /srv/project")
	assert.Contains(t, out, "vectors")
	assert.Contains(t, out, "ping timed out")
	assert.Contains(t, out, "Violations: 5 found, 3 fixed")

	out, err = execute(t, "status", "--server", srv.URL, "--json")
	require.NoError(t, err)
	var st platform.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "online", st.State)
	assert.Len(t, st.Stores, 2)
}

func TestSearchCmd(t *testing.T) {
	srv := fakeDaemon(t)

	out, err := execute(t, "search", "handler", "--server", srv.URL, "--filter", "language=go")
	require.NoError(t, err)
	assert.Contains(t, out, "main.go")
	assert.Contains(t, out, "1.500")

	out, err = execute(t, "search", "handler", "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "no results")

	_, err = execute(t, "search", "--server", srv.URL)
	assert.Error(t, err)
}

func TestEnforceCmd(t *testing.T) {
	srv := fakeDaemon(t)

	out, err := execute(t, "enforce", "src/app.js", "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "fixed 1, failed 0, skipped 0")
	assert.Contains(t, out, "src/app.js:3 no-console-log")
}

func TestQueryCmd(t *testing.T) {
	srv := fakeDaemon(t)

	out, err := execute(t, "query", "documents", "--server", srv.URL, "--param", "routing_key=a.py")
	require.NoError(t, err)
	var rows []store.Row
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "documents", rows[0]["query"])
	assert.Equal(t, "a.py", rows[0]["key"])
}

func TestCmd_DaemonUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := execute(t, "status", "--server", url, "--timeout", "1s")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to")
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "fedctl dev\n", out)
}

func TestToReading(t *testing.T) {
	r := toReading(sampleStatus())

	assert.Equal(t, "online", r.State)
	assert.Equal(t, int64(125), r.Uptime)
	assert.Equal(t, 10, r.Documents)
	assert.Equal(t, 2, r.Shards)
	assert.Equal(t, int64(42), r.QueriesProcessed)
	assert.Equal(t, int64(2), r.PartialQueries)
	assert.Equal(t, int64(5), r.Violations)
	assert.Equal(t, int64(3), r.Fixed)
	assert.Equal(t, int64(1), r.Failed)
	assert.Equal(t, int64(7), r.MonitorSkipped)
	assert.Equal(t, 1, r.Online())
	require.Len(t, r.Stores, 2)
	assert.Equal(t, "chromem", r.Stores[1].Kind)
	assert.Equal(t, "ping timed out", r.Stores[1].LastError)
	assert.Equal(t, sampleStatus().UpdatedAt, r.At)
}

func TestQueryParams(t *testing.T) {
	assert.Nil(t, queryParams(nil))
	assert.Equal(t, map[string]any{"k": "v"}, queryParams(map[string]string{"k": "v"}))
}
