// Package config provides centralized configuration for csvsync.
// Settings come from environment variables (optionally seeded from a .env
// file by the CLI) and are validated before any command runs.
package config

import (
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig
	Files    FilesConfig
	Run      RunConfig
	Server   ServerConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string.
	// Supports both DATABASE_URL and DB_URL env vars. Only commands that
	// touch the database require it (see RequireDatabase).
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 1)
	MinConns int `env:"DB_MIN_CONNS" default:"1"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// FilesConfig locates the CSV files each definition reads and writes.
type FilesConfig struct {
	// CSVDir is the directory definition file names are resolved against (default: csv/files)
	CSVDir string `env:"CSV_DIR" default:"csv/files"`

	// BackupDir receives timestamped copies before export (default: csv/backups)
	BackupDir string `env:"CSV_BACKUP_DIR" default:"csv/backups"`

	// DefinitionsFile is an optional YAML manifest with extra definitions
	DefinitionsFile string `env:"CSV_DEFINITIONS_FILE"`
}

// RunConfig bounds import and export runs.
type RunConfig struct {
	// Timeout is the maximum duration of a single run (default: 10m)
	Timeout time.Duration `env:"RUN_TIMEOUT" default:"10m"`

	// MaxConcurrent is the number of runs allowed at once (default: 1)
	MaxConcurrent int `env:"RUN_MAX_CONCURRENT" default:"1"`

	// MaxWaitTime is how long a run waits for a free slot (default: 30s)
	MaxWaitTime time.Duration `env:"RUN_MAX_WAIT" default:"30s"`
}

// ServerConfig holds HTTP server settings for `csvsync serve`.
type ServerConfig struct {
	// Host is the interface to bind to (default: 127.0.0.1)
	Host string `env:"SERVER_HOST" default:"127.0.0.1"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 15m)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"15m"`
}

// SecurityConfig holds API authentication settings.
type SecurityConfig struct {
	// RequireAPIKey rejects API requests without a valid X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`

	// TrustedProxies lists CIDRs whose X-Real-IP / X-Forwarded-For headers are believed
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// Path resolves a definition's file name against the CSV directory.
// Absolute names are returned unchanged.
func (c *FilesConfig) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.CSVDir, name)
}
