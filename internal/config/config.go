package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// History backends.
const (
	BackendFile    = "file"
	BackendSQLite  = "sqlite"
	BackendSurreal = "surreal"
	BackendMemory  = "memory"
)

// Config holds all configuration values.
type Config struct {
	// Ingestion Service
	ServerURL     string
	ClientTimeout time.Duration
	StallTimeout  time.Duration

	// History
	HistoryBackend string
	DataDir        string
	HistoryLimit   int

	// SurrealDB connection (history backend "surreal")
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// fileConfig is the optional YAML file. Every key is overridden by its env var.
type fileConfig struct {
	ServerURL      string `yaml:"server_url"`
	ClientTimeout  string `yaml:"client_timeout"`
	StallTimeout   string `yaml:"stall_timeout"`
	HistoryBackend string `yaml:"history_backend"`
	DataDir        string `yaml:"data_dir"`
	HistoryLimit   int    `yaml:"history_limit"`

	SurrealDB struct {
		URL       string `yaml:"url"`
		Namespace string `yaml:"namespace"`
		Database  string `yaml:"database"`
		User      string `yaml:"user"`
		Pass      string `yaml:"pass"`
		AuthLevel string `yaml:"auth_level"`
	} `yaml:"surrealdb"`

	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`
}

// DefaultPath is where Load looks for the YAML file when INBOX_CONFIG is unset.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "hydra-inbox", "config.yaml")
}

func defaultDataDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "hydra-inbox")
	}
	return filepath.Join(os.TempDir(), "hydra-inbox")
}

// Load reads configuration from the optional YAML file and environment
// variables. Environment wins. A missing file is not an error.
func Load() (Config, error) {
	path := getEnv("INBOX_CONFIG", DefaultPath())
	fc, err := readFile(path)
	if err != nil {
		return Config{}, err
	}
	return fromSources(fc), nil
}

func readFile(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fc, nil
	}
	if err != nil {
		return fc, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse config %s: %w", path, err)
	}
	return fc, nil
}

func fromSources(fc fileConfig) Config {
	return Config{
		ServerURL:     getEnv("INBOX_SERVER_URL", or(fc.ServerURL, "http://localhost:8484/query")),
		ClientTimeout: parseDuration(getEnv("INBOX_CLIENT_TIMEOUT", fc.ClientTimeout), 10*time.Minute),
		StallTimeout:  parseDuration(getEnv("INBOX_STALL_TIMEOUT", fc.StallTimeout), 10*time.Minute),

		HistoryBackend: strings.ToLower(getEnv("INBOX_HISTORY_BACKEND", or(fc.HistoryBackend, BackendFile))),
		DataDir:        getEnv("INBOX_DATA_DIR", or(fc.DataDir, defaultDataDir())),
		HistoryLimit:   parseInt(getEnv("INBOX_HISTORY_LIMIT", ""), or(fc.HistoryLimit, 50)),

		SurrealDBURL:       getEnv("SURREALDB_URL", or(fc.SurrealDB.URL, "ws://localhost:8000/rpc")),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", or(fc.SurrealDB.Namespace, "hydra")),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", or(fc.SurrealDB.Database, "inbox")),
		SurrealDBUser:      getEnv("SURREALDB_USER", or(fc.SurrealDB.User, "root")),
		SurrealDBPass:      getEnv("SURREALDB_PASS", or(fc.SurrealDB.Pass, "root")),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", or(fc.SurrealDB.AuthLevel, "root")),

		LogFile:  getEnv("INBOX_LOG_FILE", or(fc.LogFile, filepath.Join(os.TempDir(), "hydra-inbox.log"))),
		LogLevel: parseLogLevel(getEnv("INBOX_LOG_LEVEL", or(fc.LogLevel, "INFO"))),
	}
}

// Validate checks values that can't be defaulted.
func (c Config) Validate() error {
	switch c.HistoryBackend {
	case BackendFile, BackendSQLite, BackendSurreal, BackendMemory:
	default:
		return fmt.Errorf("unknown history backend %q", c.HistoryBackend)
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("history limit must be positive, got %d", c.HistoryLimit)
	}
	if c.StallTimeout < 0 {
		return fmt.Errorf("stall timeout must not be negative, got %s", c.StallTimeout)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func or[T comparable](v, fallback T) T {
	var zero T
	if v == zero {
		return fallback
	}
	return v
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return fallback
}

func parseInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return fallback
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
