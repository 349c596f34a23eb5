package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete Mnemosyne daemon configuration.
type Config struct {
	Version int           `yaml:"version" json:"version"`
	Paths   PathsConfig   `yaml:"paths" json:"paths"`
	Index   IndexConfig   `yaml:"index" json:"index"`
	Ingest  IngestConfig  `yaml:"ingest" json:"ingest"`
	Watch   WatchConfig   `yaml:"watch" json:"watch"`
	Server  ServerConfig  `yaml:"server" json:"server"`
	Log     LogConfig     `yaml:"log" json:"log"`
}

// PathsConfig configures which paths are excluded from snapshotting, on top
// of the project's .mnemignore file.
type PathsConfig struct {
	// Exclude holds additional gitignore-style patterns, merged after the
	// built-in defaults and before .mnemignore.
	Exclude []string `yaml:"exclude" json:"exclude"`

	// RespectGitignore additionally consults the project's .gitignore.
	RespectGitignore bool `yaml:"respect_gitignore" json:"respect_gitignore"`
}

// IndexConfig configures the embedded index store.
type IndexConfig struct {
	// Backend selects the index store implementation.
	// Options: "bolt" (default, B-tree key-value) or "sql" (SQLite, WAL mode).
	Backend string `yaml:"backend" json:"backend"`

	// InternCacheSize bounds the LRU caches in front of the path/name/scope
	// interning tables.
	InternCacheSize int `yaml:"intern_cache_size" json:"intern_cache_size"`
}

// IngestConfig configures the snapshot pipeline.
type IngestConfig struct {
	// MaxFileSize is the largest file, in bytes, the pipeline will snapshot.
	MaxFileSize int64 `yaml:"max_file_size" json:"max_file_size"`

	// MinFreeSpace is the free-space floor, in bytes; below it ingests are
	// skipped with a warning counter rather than filling the disk.
	MinFreeSpace int64 `yaml:"min_free_space" json:"min_free_space"`

	// Workers sizes the CPU worker pool for chunking/parsing/hashing.
	Workers int `yaml:"workers" json:"workers"`
}

// WatchConfig configures the filesystem watcher.
type WatchConfig struct {
	// DebounceBase is the per-path debounce window at low event rates.
	DebounceBase time.Duration `yaml:"debounce_base" json:"debounce_base"`

	// DebounceMax caps the adaptive debounce window under sustained load.
	DebounceMax time.Duration `yaml:"debounce_max" json:"debounce_max"`

	// DropAfter discards queued events older than this (a lost-save
	// condition, surfaced through the dropped_events counter).
	DropAfter time.Duration `yaml:"drop_after" json:"drop_after"`
}

// ServerConfig configures the RPC server.
type ServerConfig struct {
	// SocketPath is the Unix domain socket the daemon listens on.
	// Empty selects the per-user default under the state directory.
	SocketPath string `yaml:"socket_path" json:"socket_path"`

	// RequestTimeout is the per-request handling ceiling; exceeding it
	// produces an InternalError and cancels the underlying work.
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	// MaxBatch is the maximum JSON-RPC batch size advertised at initialize.
	MaxBatch int `yaml:"max_batch" json:"max_batch"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level    string `yaml:"level" json:"level"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// defaultExcludePatterns are always excluded from snapshotting.
var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/.mnemosyne/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/*.min.js",
	"**/*.min.css",
}

// NewConfig creates a Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Exclude:          defaultExcludePatterns,
			RespectGitignore: true,
		},
		Index: IndexConfig{
			Backend:         "bolt",
			InternCacheSize: 4096,
		},
		Ingest: IngestConfig{
			MaxFileSize:  8 * 1024 * 1024,
			MinFreeSpace: 256 * 1024 * 1024,
			Workers:      runtime.NumCPU(),
		},
		Watch: WatchConfig{
			DebounceBase: 500 * time.Millisecond,
			DebounceMax:  5 * time.Second,
			DropAfter:    30 * time.Second,
		},
		Server: ServerConfig{
			SocketPath:     "",
			RequestTimeout: 30 * time.Second,
			MaxBatch:       64,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file,
// following the XDG Base Directory convention:
//   - $XDG_CONFIG_HOME/mnemosyne/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/mnemosyne/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "mnemosyne", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "mnemosyne", "config.yaml")
	}
	return filepath.Join(home, ".config", "mnemosyne", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// DefaultSocketPath returns the per-user default RPC socket path.
func DefaultSocketPath() string {
	if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
		return filepath.Join(xdg, "mnemosyne", "mnemd.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".mnemosyne", "mnemd.sock")
	}
	return filepath.Join(home, ".mnemosyne", "mnemd.sock")
}

func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil // No user config is fine
	}
	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// Load loads configuration for the project rooted at dir, applying sources
// in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/mnemosyne/config.yaml)
//  3. Project config (.mnemosyne.yaml in the project root)
//  4. Environment variables (MNEMOSYNE_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFromFile attempts to load configuration from .mnemosyne.yaml or .mnemosyne.yml.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".mnemosyne.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}
	ymlPath := filepath.Join(dir, ".mnemosyne.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}
	// No config file is fine - use defaults
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if len(other.Paths.Exclude) > 0 {
		// Merge with defaults rather than replace
		c.Paths.Exclude = append(c.Paths.Exclude, other.Paths.Exclude...)
	}
	if other.Paths.RespectGitignore {
		c.Paths.RespectGitignore = true
	}

	if other.Index.Backend != "" {
		c.Index.Backend = other.Index.Backend
	}
	if other.Index.InternCacheSize != 0 {
		c.Index.InternCacheSize = other.Index.InternCacheSize
	}

	if other.Ingest.MaxFileSize != 0 {
		c.Ingest.MaxFileSize = other.Ingest.MaxFileSize
	}
	if other.Ingest.MinFreeSpace != 0 {
		c.Ingest.MinFreeSpace = other.Ingest.MinFreeSpace
	}
	if other.Ingest.Workers != 0 {
		c.Ingest.Workers = other.Ingest.Workers
	}

	if other.Watch.DebounceBase != 0 {
		c.Watch.DebounceBase = other.Watch.DebounceBase
	}
	if other.Watch.DebounceMax != 0 {
		c.Watch.DebounceMax = other.Watch.DebounceMax
	}
	if other.Watch.DropAfter != 0 {
		c.Watch.DropAfter = other.Watch.DropAfter
	}

	if other.Server.SocketPath != "" {
		c.Server.SocketPath = other.Server.SocketPath
	}
	if other.Server.RequestTimeout != 0 {
		c.Server.RequestTimeout = other.Server.RequestTimeout
	}
	if other.Server.MaxBatch != 0 {
		c.Server.MaxBatch = other.Server.MaxBatch
	}

	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.FilePath != "" {
		c.Log.FilePath = other.Log.FilePath
	}
}

// applyEnvOverrides applies MNEMOSYNE_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MNEMOSYNE_INDEX_BACKEND"); v != "" {
		c.Index.Backend = v
	}
	if v := os.Getenv("MNEMOSYNE_SOCKET_PATH"); v != "" {
		c.Server.SocketPath = v
	}
	if v := os.Getenv("MNEMOSYNE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("MNEMOSYNE_MAX_FILE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.Ingest.MaxFileSize = n
		}
	}
	if v := os.Getenv("MNEMOSYNE_WATCH_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Watch.DebounceBase = d
		}
	}
	if v := os.Getenv("MNEMOSYNE_RESPECT_GITIGNORE"); v != "" {
		c.Paths.RespectGitignore = strings.ToLower(v) == "true" || v == "1"
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	validBackends := map[string]bool{"bolt": true, "sql": true}
	if !validBackends[strings.ToLower(c.Index.Backend)] {
		return fmt.Errorf("index.backend must be 'bolt' or 'sql', got %s", c.Index.Backend)
	}

	if c.Ingest.MaxFileSize <= 0 {
		return fmt.Errorf("ingest.max_file_size must be positive, got %d", c.Ingest.MaxFileSize)
	}
	if c.Ingest.MinFreeSpace < 0 {
		return fmt.Errorf("ingest.min_free_space must be non-negative, got %d", c.Ingest.MinFreeSpace)
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest.workers must be positive, got %d", c.Ingest.Workers)
	}

	if c.Watch.DebounceBase <= 0 {
		return fmt.Errorf("watch.debounce_base must be positive, got %s", c.Watch.DebounceBase)
	}
	if c.Watch.DebounceMax < c.Watch.DebounceBase {
		return fmt.Errorf("watch.debounce_max (%s) must be at least watch.debounce_base (%s)",
			c.Watch.DebounceMax, c.Watch.DebounceBase)
	}

	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be positive, got %s", c.Server.RequestTimeout)
	}
	if c.Server.MaxBatch <= 0 {
		return fmt.Errorf("server.max_batch must be positive, got %d", c.Server.MaxBatch)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("log.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Log.Level)
	}

	return nil
}

// SocketPath returns the configured socket path, falling back to the
// per-user default when unset.
func (c *Config) SocketPath() string {
	if c.Server.SocketPath != "" {
		return c.Server.SocketPath
	}
	return DefaultSocketPath()
}

// WriteYAML writes the configuration to a YAML file, backing up any
// existing revision first.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if _, err := BackupConfig(path); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
