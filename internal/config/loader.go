package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "FEDERATED_"
)

// listKeys are replaced wholesale when a layer sets them, instead of being
// merged element by element into the defaults.
var listKeys = []string{
	"platform.index_patterns",
	"platform.scan_patterns",
	"stores.definitions",
	"worker.args",
}

// LoadWithFile loads configuration from an optional YAML file, then overrides
// with environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (FEDERATED_SERVER_PORT, FEDERATED_MONITOR_INTERVAL, ...)
//  2. YAML config file at configPath (skipped when empty or missing)
//  3. Defaults from Default()
//
// Environment variables map onto YAML keys by splitting on the first
// underscore after the prefix:
//
//	FEDERATED_SERVER_PORT          -> server.port
//	FEDERATED_STORES_PROBE_TIMEOUT -> stores.probe_timeout
//	FEDERATED_PLATFORM_ROOT        -> platform.root
//
// The file must not be world-writable and must be at most 1MB.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if content != nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	for _, key := range listKeys {
		if k.Exists(key) {
			clearList(cfg, key)
		}
	}
	// Store layout follows data_dir unless stores are listed explicitly.
	if k.Exists("platform.data_dir") || k.Exists("search.shards") {
		cfg.Stores.Definitions = nil
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envKey maps FEDERATED_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// readConfigFile returns nil content when the file does not exist.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	// Stat the open descriptor to avoid a TOCTOU race with the path.
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

func validateConfigFileProperties(info os.FileInfo) error {
	if info.IsDir() {
		return fmt.Errorf("config path is a directory")
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o002 != 0 {
		return fmt.Errorf("insecure config file permissions: %v (world-writable)", info.Mode().Perm())
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

func clearList(cfg *Config, key string) {
	switch key {
	case "platform.index_patterns":
		cfg.Platform.IndexPatterns = nil
	case "platform.scan_patterns":
		cfg.Platform.ScanPatterns = nil
	case "stores.definitions":
		cfg.Stores.Definitions = nil
	case "worker.args":
		cfg.Worker.Args = nil
	}
}

// applyDefaults fills values a layer may have blanked out.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Platform.Root == "" {
		cfg.Platform.Root = "."
	}
	if cfg.Platform.DataDir == "" {
		cfg.Platform.DataDir = "data"
	}
	if len(cfg.Stores.Definitions) == 0 {
		cfg.Stores.Definitions = DefaultStores(cfg.Platform.DataDir, cfg.Search.Shards)
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "federated"
	}
	if cfg.Stores.Qdrant.VectorSize == 0 {
		cfg.Stores.Qdrant.VectorSize = 256
	}
}
