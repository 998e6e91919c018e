// Package config provides configuration management for the mira
// code-intelligence core, grounded on the teacher's flat Config struct +
// env-var-overlay pattern.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

const (
	// DefaultSocketName is the Unix-socket / named-pipe file name under DataDir.
	DefaultSocketName = "mira.sock"

	// DefaultDebounceMillis is the watcher's quiet-window before a re-index.
	DefaultDebounceMillis = 500

	// DefaultPollIntervalMillis is the watcher's fallback polling cadence.
	DefaultPollIntervalMillis = 2000

	// DefaultFlushSymbolThreshold flushes a pending batch once this many
	// symbols have accumulated.
	DefaultFlushSymbolThreshold = 1000

	// DefaultFlushFileThreshold flushes a pending batch once this many files
	// have accumulated.
	DefaultFlushFileThreshold = 100

	// DefaultFlushChunkThreshold flushes pending embedding units once this
	// many chunks have accumulated.
	DefaultFlushChunkThreshold = 1000

	// DefaultMaxConns is the pool size for each of the Main/Code stores.
	DefaultMaxConns = 4

	// DefaultMaxToolIterations bounds one agentic consultation (spec §4.J).
	DefaultMaxToolIterations = 15
)

// Config holds the application configuration.
type Config struct {
	DataDir               string   `json:"data_dir"`
	MainDBPath            string   `json:"main_db_path"`
	CodeDBPath            string   `json:"code_db_path"`
	SocketPath            string   `json:"socket_path"`
	EmbeddingAPIKey       string   `json:"-"`
	EmbeddingBaseURL      string   `json:"embedding_base_url"`
	EmbeddingModelName    string   `json:"embedding_model_name"`
	EmbeddingDimensions   int      `json:"embedding_dimensions"`
	LLMAPIKey             string   `json:"-"`
	LLMModel              string   `json:"llm_model"`
	MainBackend           string   `json:"main_backend"` // "sqlite" | "postgres"
	PostgresDSN           string   `json:"postgres_dsn"`
	RedisAddr             string   `json:"redis_addr"`
	FalkorDBAddr          string   `json:"falkordb_addr"`
	OTelEndpoint          string   `json:"otel_endpoint"`
	MaxConns              int      `json:"max_conns"`
	DebounceMillis        int      `json:"debounce_millis"`
	PollIntervalMillis    int      `json:"poll_interval_millis"`
	FlushSymbolThreshold  int      `json:"flush_symbol_threshold"`
	FlushFileThreshold    int      `json:"flush_file_threshold"`
	FlushChunkThreshold   int      `json:"flush_chunk_threshold"`
	MaxToolIterations     int      `json:"max_tool_iterations"`
	HealthScanIntervalSec int      `json:"health_scan_interval_sec"`
	InjectionCacheEntries int      `json:"injection_cache_entries"`
	InjectionCacheTTLSec  int      `json:"injection_cache_ttl_sec"`
	AllowedExtensions     []string `json:"allowed_extensions"`
	SkipDirs              []string `json:"skip_dirs"`
}

// DefaultAllowedExtensions are the source extensions the indexer/watcher walk.
var DefaultAllowedExtensions = []string{"rs", "py", "ts", "tsx", "js", "jsx", "go"}

// DefaultSkipDirs are path components that prune the recursive walk.
var DefaultSkipDirs = []string{
	"node_modules", "target", ".git", "pkg", "dist", "build", "vendor",
	"__pycache__", ".next", "out", ".venv", "venv",
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// homeDataDir returns ~/.mira, the conventional state directory (spec §6).
func homeDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mira")
}

// Default returns a Config populated with defaults, overlaid by environment
// variables. Absence of EMBEDDING_API_KEY / LLM_API_KEY disables semantic
// features per spec §6 — callers check those fields, not an error.
func Default() *Config {
	dataDir := homeDataDir()
	cfg := &Config{
		DataDir:               dataDir,
		MainDBPath:            filepath.Join(dataDir, "mira.db"),
		CodeDBPath:            filepath.Join(dataDir, "mira.db.code"),
		SocketPath:            filepath.Join(dataDir, DefaultSocketName),
		EmbeddingModelName:    "text-embedding-3-small",
		EmbeddingDimensions:   1536,
		LLMModel:              "haiku",
		MainBackend:           "sqlite",
		MaxConns:              DefaultMaxConns,
		DebounceMillis:        DefaultDebounceMillis,
		PollIntervalMillis:    DefaultPollIntervalMillis,
		FlushSymbolThreshold:  DefaultFlushSymbolThreshold,
		FlushFileThreshold:    DefaultFlushFileThreshold,
		FlushChunkThreshold:   DefaultFlushChunkThreshold,
		MaxToolIterations:     DefaultMaxToolIterations,
		HealthScanIntervalSec: 300,
		InjectionCacheEntries: 100,
		InjectionCacheTTLSec:  300,
		AllowedExtensions:     append([]string(nil), DefaultAllowedExtensions...),
		SkipDirs:              append([]string(nil), DefaultSkipDirs...),
	}
	cfg.overlayEnv()
	return cfg
}

// Global returns the process-wide Config, loading it once.
func Global() *Config {
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig = Default()
	})
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

func (c *Config) overlayEnv() {
	if v := os.Getenv("MIRA_DATA_DIR"); v != "" {
		c.DataDir = v
		c.MainDBPath = filepath.Join(v, "mira.db")
		c.CodeDBPath = filepath.Join(v, "mira.db.code")
		c.SocketPath = filepath.Join(v, DefaultSocketName)
	}
	c.EmbeddingAPIKey = os.Getenv("MIRA_EMBEDDING_API_KEY")
	c.LLMAPIKey = os.Getenv("MIRA_LLM_API_KEY")
	if v := os.Getenv("MIRA_EMBEDDING_BASE_URL"); v != "" {
		c.EmbeddingBaseURL = v
	}
	if v := os.Getenv("MIRA_MAIN_BACKEND"); v != "" {
		c.MainBackend = v
	}
	if v := os.Getenv("MIRA_POSTGRES_DSN"); v != "" {
		c.PostgresDSN = v
	}
	if v := os.Getenv("MIRA_REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("MIRA_FALKORDB_ADDR"); v != "" {
		c.FalkorDBAddr = v
	}
	if v := os.Getenv("MIRA_OTEL_ENDPOINT"); v != "" {
		c.OTelEndpoint = v
	}
	if v := os.Getenv("MIRA_MAX_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxConns = n
		}
	}
}

// EnsureDataDir creates the data directory if it doesn't exist, 0700
// (owner-only) since it holds API keys' derived caches and the index.
func EnsureDataDir(c *Config) error {
	return os.MkdirAll(c.DataDir, 0700)
}

// SettingsPath returns the on-disk JSON settings override file path.
func SettingsPath(c *Config) string {
	return filepath.Join(c.DataDir, "settings.json")
}

// LoadSettingsOverlay merges a JSON settings file on top of cfg, if present.
// A missing file is not an error (fresh install).
func LoadSettingsOverlay(cfg *Config) error {
	path := SettingsPath(cfg)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, cfg)
}

// EnsureSettings writes a default settings file if one doesn't exist yet.
func EnsureSettings(cfg *Config) error {
	path := SettingsPath(cfg)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// EnsureAll ensures the data directory and default settings file exist.
func EnsureAll(cfg *Config) error {
	if err := EnsureDataDir(cfg); err != nil {
		return err
	}
	return EnsureSettings(cfg)
}

// IsExternalImport applies the cheap prefix heuristic spec §4.B calls for:
// an import whose path does not begin with any of the project-local markers
// (the module's own path prefix, or a relative "./" / "../") is external.
func IsExternalImport(importPath string, localPrefixes []string) bool {
	if strings.HasPrefix(importPath, ".") {
		return false
	}
	for _, p := range localPrefixes {
		if p != "" && strings.HasPrefix(importPath, p) {
			return false
		}
	}
	return true
}
