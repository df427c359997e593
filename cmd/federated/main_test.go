package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/federated/internal/config"
	"github.com/fyrsmithlabs/federated/internal/logging"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestRunIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "calc.py"), []byte("def compute(x):\n    return x\n"), 0o644))

	port := freePort(t)
	cfgPath := filepath.Join(t.TempDir(), "federated.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
server:
  port: %d
platform:
  root: %q
  git_metadata: false
search:
  shards: 2
stores:
  definitions:
    - {name: main, kind: memory}
    - {name: search_shard_0, kind: memory}
    - {name: search_shard_1, kind: memory}
observability:
  log_level: warn
`, port, root)), 0o600))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx, cfgPath) }()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	var status struct {
		Status          string `json:"status"`
		DatabasesOnline int    `json:"databases_online"`
	}
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/status")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return json.NewDecoder(resp.Body).Decode(&status) == nil && status.Status == "online"
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, 3, status.DatabasesOnline)

	resp, err := http.Get(base + "/search?q=")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down in time")
	}
}

func TestDescriptors(t *testing.T) {
	defs := config.DefaultStores("/var/lib/federated", 2)
	ds := descriptors(defs)
	require.Len(t, ds, 4)
	assert.Equal(t, "main", ds[0].Name)
	assert.Equal(t, "search_shard_1", ds[2].Name)
	assert.Equal(t, "/var/lib/federated/monitoring.db", ds[3].DSN)
	assert.True(t, usesFiles(defs))
	assert.False(t, usesFiles([]config.StoreDefinition{{Name: "m", Kind: config.StoreKindMemory}}))
}

func TestNewEngine_DisableSecrets(t *testing.T) {
	cfg := config.Default()
	cfg.Rules.DisableSecrets = true
	e, err := newEngine(cfg, logging.NewNop())
	require.NoError(t, err)
	for _, r := range e.Rules() {
		assert.NotEqual(t, "hardcoded-secret", r.ID())
	}
}
