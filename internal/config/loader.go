package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// ErrNoDatabase is returned by RequireDatabase when no connection string is set.
var ErrNoDatabase = errors.New("DATABASE_URL is required")

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom is Load with a custom variable lookup.
func LoadFrom(getenv func(string) string) (*Config, error) {
	cfg := &Config{}

	if err := decode(reflect.ValueOf(cfg).Elem(), getenv); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// MustLoad loads configuration and panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// decode fills every `env`-tagged field below v. Missing required
// variables and unparsable values are all reported together.
func decode(v reflect.Value, getenv func(string) string) error {
	var missing []string
	var errs []error

	var walk func(v reflect.Value)
	walk = func(v reflect.Value) {
		for _, f := range reflect.VisibleFields(v.Type()) {
			fv := v.FieldByIndex(f.Index)
			if !fv.CanSet() {
				continue
			}
			if f.Type.Kind() == reflect.Struct {
				walk(fv)
				continue
			}

			name := f.Tag.Get("env")
			if name == "" {
				continue
			}
			raw := firstSet(getenv, name, f.Tag.Get("envAlt"))
			if raw == "" && f.Tag.Get("required") == "true" {
				missing = append(missing, name)
				continue
			}
			if raw == "" {
				raw = f.Tag.Get("default")
			}
			if raw == "" {
				continue
			}
			if err := parseInto(fv, raw); err != nil {
				errs = append(errs, fmt.Errorf("invalid value for %s=%q: %w", name, raw, err))
			}
		}
	}
	walk(v)

	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("required environment variables not set: %s", strings.Join(missing, ", ")))
	}
	return errors.Join(errs...)
}

// firstSet returns the first non-blank value among the named variables.
func firstSet(getenv func(string) string, names ...string) string {
	for _, n := range names {
		if n == "" {
			continue
		}
		if v := strings.TrimSpace(getenv(n)); v != "" {
			return v
		}
	}
	return ""
}

var durationType = reflect.TypeOf(time.Duration(0))

// parseInto stores raw in field according to the field's type.
// Slices of strings are comma-separated with blank entries dropped.
func parseInto(field reflect.Value, raw string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice of %s", field.Type().Elem())
		}
		var items []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				items = append(items, p)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Sprintf(format, args...))
		}
	}

	db := c.Database
	check(db.MaxConns > 0, "DB_MAX_CONNS must be positive")
	check(db.MinConns >= 0, "DB_MIN_CONNS must be non-negative")
	check(db.MaxConns >= db.MinConns, "DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", db.MaxConns, db.MinConns)

	check(strings.TrimSpace(c.Files.CSVDir) != "", "CSV_DIR must not be empty")
	check(strings.TrimSpace(c.Files.BackupDir) != "", "CSV_BACKUP_DIR must not be empty")

	check(c.Run.Timeout > 0, "RUN_TIMEOUT must be positive")
	check(c.Run.MaxConcurrent > 0, "RUN_MAX_CONCURRENT must be positive")
	check(c.Run.MaxWaitTime > 0, "RUN_MAX_WAIT must be positive")

	check(c.Server.Port > 0 && c.Server.Port <= 65535, "SERVER_PORT (%d) must be 1-65535", c.Server.Port)
	check(c.Server.ReadTimeout >= 0, "SERVER_READ_TIMEOUT must be non-negative")
	check(c.Server.ShutdownTimeout > 0, "SERVER_SHUTDOWN_TIMEOUT must be positive")

	check(!c.Security.RequireAPIKey || len(c.Security.APIKeys) > 0,
		"REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		check(false, "LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		check(false, "LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format)
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// RequireDatabase reports ErrNoDatabase when no connection string was configured.
func (c *Config) RequireDatabase() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return ErrNoDatabase
	}
	return nil
}

// String returns a safe representation of the config for logging.
// The database URL is masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Database: {URL: [MASKED], MaxConns: %d, MinConns: %d}, ",
		c.Database.MaxConns, c.Database.MinConns)
	fmt.Fprintf(&b, "Files: {CSVDir: %q, BackupDir: %q, DefinitionsFile: %q}, ",
		c.Files.CSVDir, c.Files.BackupDir, c.Files.DefinitionsFile)
	fmt.Fprintf(&b, "Run: {Timeout: %s, MaxConcurrent: %d}, ", c.Run.Timeout, c.Run.MaxConcurrent)
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
