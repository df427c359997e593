package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:8989", cfg.Server.Addr())
	assert.Equal(t, 60*time.Second, cfg.Monitor.Interval.Duration())
	assert.Equal(t, 4, cfg.Search.Shards)
	assert.Equal(t, 50, cfg.Search.DefaultLimit)
	assert.Equal(t, 10*time.Second, cfg.Stores.QueryTimeout.Duration())
	assert.Equal(t, []string{"*.py", "*.js"}, cfg.Platform.ScanPatterns)

	names := make([]string, 0, len(cfg.Stores.Definitions))
	for _, def := range cfg.Stores.Definitions {
		names = append(names, def.Name)
		assert.Equal(t, StoreKindSQLite, def.Kind)
	}
	assert.Equal(t, []string{
		"main", "search_shard_0", "search_shard_1", "search_shard_2", "search_shard_3", "monitoring",
	}, names)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"no shards", func(c *Config) { c.Search.Shards = 0 }, "search shards"},
		{"zero interval", func(c *Config) { c.Monitor.Interval = 0 }, "monitor interval"},
		{"zero query timeout", func(c *Config) { c.Stores.QueryTimeout = 0 }, "query timeout"},
		{"duplicate store", func(c *Config) {
			c.Stores.Definitions = append(c.Stores.Definitions, StoreDefinition{Name: "main", Kind: StoreKindMemory})
		}, "duplicate store name"},
		{"unknown kind", func(c *Config) {
			c.Stores.Definitions = []StoreDefinition{{Name: "x", Kind: "postgres"}}
		}, "unknown kind"},
		{"telemetry without service", func(c *Config) {
			c.Observability.EnableTelemetry = true
			c.Observability.ServiceName = ""
		}, "service name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadWithFile_NoFile(t *testing.T) {
	cfg, err := LoadWithFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8989, cfg.Server.Port)
	assert.Len(t, cfg.Stores.Definitions, 6)
}

func TestLoadWithFile_YAML(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9191
platform:
  root: /srv/code
  scan_patterns: ["*.go"]
monitor:
  interval: 15s
stores:
  definitions:
    - name: main
      kind: memory
    - name: vectors
      kind: chromem
`)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "/srv/code", cfg.Platform.Root)
	assert.Equal(t, []string{"*.go"}, cfg.Platform.ScanPatterns)
	assert.Equal(t, []string{"*.py"}, cfg.Platform.IndexPatterns)
	assert.Equal(t, 15*time.Second, cfg.Monitor.Interval.Duration())
	require.Len(t, cfg.Stores.Definitions, 2)
	assert.Equal(t, StoreDefinition{Name: "vectors", Kind: StoreKindChromem}, cfg.Stores.Definitions[1])
}

func TestLoadWithFile_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9191\n")
	t.Setenv("FEDERATED_SERVER_PORT", "9292")
	t.Setenv("FEDERATED_MONITOR_INTERVAL", "5s")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9292, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Monitor.Interval.Duration())
}

func TestLoadWithFile_DataDirRebuildsStores(t *testing.T) {
	path := writeConfig(t, "platform:\n  data_dir: /var/lib/federated\nsearch:\n  shards: 2\n")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)
	require.Len(t, cfg.Stores.Definitions, 4)
	assert.Equal(t, filepath.Join("/var/lib/federated", "search_shard_1.db"), cfg.Stores.Definitions[2].DSN)
}

func TestLoadWithFile_Rejects(t *testing.T) {
	t.Run("world writable", func(t *testing.T) {
		path := writeConfig(t, "server:\n  port: 9191\n")
		require.NoError(t, os.Chmod(path, 0666))
		_, err := LoadWithFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "world-writable")
	})

	t.Run("invalid values", func(t *testing.T) {
		path := writeConfig(t, "server:\n  port: 0\n")
		_, err := LoadWithFile(path)
		require.Error(t, err)
	})

	t.Run("too large", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "big.yaml")
		big := make([]byte, maxConfigFileSize+1)
		for i := range big {
			big[i] = '#'
		}
		require.NoError(t, os.WriteFile(path, big, 0600))
		_, err := LoadWithFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too large")
	})
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("sk-live-123")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "sk-live-123", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(struct{ Key Secret }{s})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-live")

	var empty Secret
	assert.False(t, empty.IsSet())
	assert.Equal(t, "", empty.String())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())
	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
