// Package config provides configuration loading for the federated daemon.
//
// Configuration is layered: hardcoded defaults, then an optional YAML file,
// then FEDERATED_* environment variables. See LoadWithFile.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// Store kinds understood by the store registry.
const (
	StoreKindSQLite  = "sqlite"
	StoreKindMemory  = "memory"
	StoreKindChromem = "chromem"
	StoreKindQdrant  = "qdrant"
)

// Config holds the complete daemon configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Platform      PlatformConfig      `koanf:"platform"`
	Stores        StoresConfig        `koanf:"stores"`
	Search        SearchConfig        `koanf:"search"`
	Rules         RulesConfig         `koanf:"rules"`
	Monitor       MonitorConfig       `koanf:"monitor"`
	Watch         WatchConfig         `koanf:"watch"`
	Events        EventsConfig        `koanf:"events"`
	Worker        WorkerConfig        `koanf:"worker"`
	Generator     GeneratorConfig     `koanf:"generator"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds control API settings.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PlatformConfig controls what the orchestrator indexes and scans at startup.
type PlatformConfig struct {
	Root          string   `koanf:"root"`
	DataDir       string   `koanf:"data_dir"`
	IndexPatterns []string `koanf:"index_patterns"`
	ScanPatterns  []string `koanf:"scan_patterns"`
	// GitMetadata attaches branch and commit to indexed documents when Root
	// is a git repository.
	GitMetadata bool `koanf:"git_metadata"`
}

// StoreDefinition describes one backing store.
type StoreDefinition struct {
	Name string `koanf:"name"`
	Kind string `koanf:"kind"`
	DSN  string `koanf:"dsn"`
}

// StoresConfig lists the federated stores.
type StoresConfig struct {
	ProbeTimeout Duration          `koanf:"probe_timeout"`
	QueryTimeout Duration          `koanf:"query_timeout"`
	Definitions  []StoreDefinition `koanf:"definitions"`
	Qdrant       QdrantConfig      `koanf:"qdrant"`
}

// QdrantConfig holds client settings shared by qdrant stores.
type QdrantConfig struct {
	APIKey     Secret `koanf:"api_key"`
	UseTLS     bool   `koanf:"use_tls"`
	VectorSize int    `koanf:"vector_size"`
}

// SearchConfig configures the sharded index.
type SearchConfig struct {
	Shards       int      `koanf:"shards"`
	ShardTimeout Duration `koanf:"shard_timeout"`
	DefaultLimit int      `koanf:"default_limit"`
}

// RulesConfig configures the rule engine.
type RulesConfig struct {
	// File is an optional TOML rules file.
	File           string `koanf:"file"`
	DisableSecrets bool   `koanf:"disable_secrets"`
	UseAdvisor     bool   `koanf:"use_advisor"`
}

// MonitorConfig configures the background monitor loop.
type MonitorConfig struct {
	Interval Duration `koanf:"interval"`
}

// WatchConfig configures the optional file watcher.
type WatchConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Debounce Duration `koanf:"debounce"`
}

// EventsConfig configures NATS event publishing. Empty URL disables it.
type EventsConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// WorkerConfig configures the external worker collaborator.
type WorkerConfig struct {
	Command string   `koanf:"command"`
	Args    []string `koanf:"args"`
	Timeout Duration `koanf:"timeout"`
}

// GeneratorConfig configures the external text-generation collaborator.
type GeneratorConfig struct {
	Enabled   bool    `koanf:"enabled"`
	BaseURL   string  `koanf:"base_url"`
	Model     string  `koanf:"model"`
	APIKey    Secret  `koanf:"api_key"`
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`
}

// ObservabilityConfig holds logging and OpenTelemetry settings.
type ObservabilityConfig struct {
	LogLevel          string  `koanf:"log_level"`
	LogFormat         string  `koanf:"log_format"`
	EnableTelemetry   bool    `koanf:"enable_telemetry"`
	ServiceName       string  `koanf:"service_name"`
	OTLPEndpoint      string  `koanf:"otlp_endpoint"`
	OTLPProtocol      string  `koanf:"otlp_protocol"`
	OTLPInsecure      bool    `koanf:"otlp_insecure"`
	TraceSamplingRate float64 `koanf:"trace_sampling_rate"`
}

// Default returns the configuration the daemon runs with when nothing is set.
//
// It reproduces the classic layout: a main store, four search shard stores and
// a monitoring store, all SQLite files under the data directory.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8989,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Platform: PlatformConfig{
			Root:          ".",
			DataDir:       "data",
			IndexPatterns: []string{"*.py"},
			ScanPatterns:  []string{"*.py", "*.js"},
			GitMetadata:   true,
		},
		Stores: StoresConfig{
			ProbeTimeout: Duration(2 * time.Second),
			QueryTimeout: Duration(10 * time.Second),
			Qdrant: QdrantConfig{
				VectorSize: 256,
			},
		},
		Search: SearchConfig{
			Shards:       4,
			ShardTimeout: Duration(5 * time.Second),
			DefaultLimit: 50,
		},
		Monitor: MonitorConfig{
			Interval: Duration(60 * time.Second),
		},
		Watch: WatchConfig{
			Debounce: Duration(500 * time.Millisecond),
		},
		Events: EventsConfig{
			SubjectPrefix: "federated",
		},
		Worker: WorkerConfig{
			Timeout: Duration(10 * time.Minute),
		},
		Generator: GeneratorConfig{
			BaseURL:   "http://localhost:11434/v1",
			Model:     "llama3.1",
			RateLimit: 1,
			Burst:     2,
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogFormat:         "json",
			ServiceName:       "federated",
			OTLPEndpoint:      "localhost:4317",
			OTLPProtocol:      "grpc",
			OTLPInsecure:      true,
			TraceSamplingRate: 1.0,
		},
	}
	cfg.Stores.Definitions = DefaultStores(cfg.Platform.DataDir, cfg.Search.Shards)
	return cfg
}

// DefaultStores returns the main, shard and monitoring store definitions.
func DefaultStores(dataDir string, shards int) []StoreDefinition {
	defs := []StoreDefinition{{
		Name: "main",
		Kind: StoreKindSQLite,
		DSN:  filepath.Join(dataDir, "federated.db"),
	}}
	for i := 0; i < shards; i++ {
		name := ShardStoreName(i)
		defs = append(defs, StoreDefinition{
			Name: name,
			Kind: StoreKindSQLite,
			DSN:  filepath.Join(dataDir, name+".db"),
		})
	}
	return append(defs, StoreDefinition{
		Name: "monitoring",
		Kind: StoreKindSQLite,
		DSN:  filepath.Join(dataDir, "monitoring.db"),
	})
}

// ShardStoreName names the backing store of search shard i.
func ShardStoreName(i int) string {
	return fmt.Sprintf("search_shard_%d", i)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Search.Shards < 1 {
		return fmt.Errorf("search shards must be >= 1, got %d", c.Search.Shards)
	}
	if c.Search.ShardTimeout <= 0 {
		return errors.New("search shard timeout must be positive")
	}
	if c.Search.DefaultLimit < 1 {
		return fmt.Errorf("search default limit must be >= 1, got %d", c.Search.DefaultLimit)
	}
	if c.Monitor.Interval <= 0 {
		return errors.New("monitor interval must be positive")
	}
	if c.Stores.ProbeTimeout <= 0 {
		return errors.New("store probe timeout must be positive")
	}
	if c.Stores.QueryTimeout <= 0 {
		return errors.New("store query timeout must be positive")
	}

	seen := make(map[string]bool, len(c.Stores.Definitions))
	for _, def := range c.Stores.Definitions {
		if def.Name == "" {
			return errors.New("store definition missing name")
		}
		if seen[def.Name] {
			return fmt.Errorf("duplicate store name: %s", def.Name)
		}
		seen[def.Name] = true
		switch def.Kind {
		case StoreKindSQLite, StoreKindMemory, StoreKindChromem, StoreKindQdrant:
		default:
			return fmt.Errorf("store %s: unknown kind %q", def.Name, def.Kind)
		}
	}

	if c.Generator.Enabled && c.Generator.RateLimit <= 0 {
		return errors.New("generator rate limit must be positive when enabled")
	}
	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	return nil
}
