// Package config builds the syncd server configuration. Values are layered:
// built-in defaults, then an optional YAML file (-config or SYNCD_CONFIG),
// then SYNCD_* environment variables, then command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Config is the server configuration.
type Config struct {
	Addr       string `yaml:"addr"`
	WSAddr     string `yaml:"ws_addr"`
	Store      string `yaml:"store"`
	DSN        string `yaml:"dsn"`
	SQLitePath string `yaml:"sqlite_path"`
	JWTKey     string `yaml:"jwt_key"`
	TLSCert    string `yaml:"tls_cert"`
	TLSKey     string `yaml:"tls_key"`
	Insecure   bool   `yaml:"insecure"`
	Dev        bool   `yaml:"dev"`

	// AdminUsers may run queue-wide operations.
	AdminUsers []string `yaml:"admin_users"`

	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`

	QueueMax        int           `yaml:"queue_max"`
	QueueRetries    int           `yaml:"queue_retries"`
	QueueRetryDelay time.Duration `yaml:"queue_retry_delay"`

	SyncCASRetries  int `yaml:"sync_cas_retries"`
	NotifyBuffer    int `yaml:"notify_buffer"`
	ConflictHistory int `yaml:"conflict_history"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Addr:            ":8443",
		Store:           StoreMemory,
		SQLitePath:      "syncd.db",
		TLSCert:         "cert.pem",
		TLSKey:          "key.pem",
		LogMaxSizeMB:    100,
		LogMaxBackups:   5,
		QueueMax:        1000,
		QueueRetries:    3,
		QueueRetryDelay: time.Second,
		SyncCASRetries:  5,
		NotifyBuffer:    256,
		ConflictHistory: 20,
		ShutdownTimeout: 10 * time.Second,
	}
}

// ReadFile decodes the YAML file at path over base. Keys absent from the
// file keep their base value; unknown keys are an error.
func ReadFile(path string, base Config) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&base); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config file %s: %w", path, err)
	}
	return base, nil
}

// configPath finds -config in args ahead of the real parse, falling back
// to SYNCD_CONFIG.
func configPath(args []string, lookup env) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			break
		}
		name := strings.TrimLeft(a, "-")
		if name == a {
			continue
		}
		if v, ok := strings.CutPrefix(name, "config="); ok {
			return v
		}
		if name == "config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return envString(lookup, "SYNCD_CONFIG", "")
}

type env func(string) (string, bool)

// splitList parses a comma-separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func envString(lookup env, key, def string) string {
	if v, ok := lookup(key); ok {
		return v
	}
	return def
}

func envInt(lookup env, key string, def int) (int, error) {
	v, ok := lookup(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envBool(lookup env, key string, def bool) (bool, error) {
	v, ok := lookup(key)
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func envDuration(lookup env, key string, def time.Duration) (time.Duration, error) {
	v, ok := lookup(key)
	if !ok {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// Load parses args (without the program name) over the process environment.
func Load(args []string) (Config, error) {
	return load(args, os.LookupEnv, os.Stderr)
}

func load(args []string, lookup env, out io.Writer) (Config, error) {
	base := Defaults()
	path := configPath(args, lookup)
	if path != "" {
		var err error
		if base, err = ReadFile(path, base); err != nil {
			return Config{}, err
		}
	}

	var (
		c    Config
		errs []error
	)
	num := func(key string, def int) int {
		n, err := envInt(lookup, key, def)
		errs = append(errs, err)
		return n
	}
	dur := func(key string, def time.Duration) time.Duration {
		d, err := envDuration(lookup, key, def)
		errs = append(errs, err)
		return d
	}
	boolean := func(key string, def bool) bool {
		b, err := envBool(lookup, key, def)
		errs = append(errs, err)
		return b
	}
	str := func(key, def string) string { return envString(lookup, key, def) }

	var ignored, admins string
	fs := flag.NewFlagSet("syncd", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&ignored, "config", path, "YAML config file")
	fs.StringVar(&c.Addr, "addr", str("SYNCD_ADDR", base.Addr), "gRPC listen address")
	fs.StringVar(&c.WSAddr, "ws-addr", str("SYNCD_WS_ADDR", base.WSAddr), "websocket event listen address, empty disables")
	fs.StringVar(&c.Store, "store", str("SYNCD_STORE", base.Store), "storage backend: memory|postgres|sqlite")
	fs.StringVar(&c.DSN, "dsn", str("SYNCD_DSN", base.DSN), "PostgreSQL DSN")
	fs.StringVar(&c.SQLitePath, "sqlite-path", str("SYNCD_SQLITE_PATH", base.SQLitePath), "SQLite database file")
	fs.StringVar(&c.JWTKey, "jwt-key", str("SYNCD_JWT_KEY", base.JWTKey), "HS256 signing key (required)")
	fs.StringVar(&c.TLSCert, "tls-cert", str("SYNCD_TLS_CERT", base.TLSCert), "TLS certificate (PEM)")
	fs.StringVar(&c.TLSKey, "tls-key", str("SYNCD_TLS_KEY", base.TLSKey), "TLS private key (PEM)")
	fs.BoolVar(&c.Insecure, "insecure", boolean("SYNCD_INSECURE", base.Insecure), "serve plaintext (dev only)")
	fs.StringVar(&admins, "admin-users", str("SYNCD_ADMIN_USERS", strings.Join(base.AdminUsers, ",")), "comma-separated user IDs allowed to drain or clear the whole queue")
	fs.BoolVar(&c.Dev, "dev", boolean("SYNCD_DEV", base.Dev), "development logging and server reflection")
	fs.StringVar(&c.LogFile, "log-file", str("SYNCD_LOG_FILE", base.LogFile), "rotated JSON log file, empty logs to stderr")
	fs.IntVar(&c.LogMaxSizeMB, "log-max-size", num("SYNCD_LOG_MAX_SIZE", base.LogMaxSizeMB), "log file size in MB before rotation")
	fs.IntVar(&c.LogMaxBackups, "log-max-backups", num("SYNCD_LOG_MAX_BACKUPS", base.LogMaxBackups), "rotated log files kept")
	fs.IntVar(&c.QueueMax, "queue-max", num("SYNCD_QUEUE_MAX", base.QueueMax), "max pending offline operations")
	fs.IntVar(&c.QueueRetries, "queue-retries", num("SYNCD_QUEUE_RETRIES", base.QueueRetries), "failed attempts before a queued operation is dropped")
	fs.DurationVar(&c.QueueRetryDelay, "queue-retry-delay", dur("SYNCD_QUEUE_RETRY_DELAY", base.QueueRetryDelay), "pause after a failed queued operation")
	fs.IntVar(&c.SyncCASRetries, "sync-cas-retries", num("SYNCD_SYNC_CAS_RETRIES", base.SyncCASRetries), "write retries after a version race")
	fs.IntVar(&c.NotifyBuffer, "notify-buffer", num("SYNCD_NOTIFY_BUFFER", base.NotifyBuffer), "event buffer size")
	fs.IntVar(&c.ConflictHistory, "conflict-history", num("SYNCD_CONFLICT_HISTORY", base.ConflictHistory), "conflict records kept per entity, 0 disables")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", dur("SYNCD_SHUTDOWN_TIMEOUT", base.ShutdownTimeout), "graceful shutdown limit")

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	c.AdminUsers = splitList(admins)
	return c, c.Validate()
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DSN == "" {
			errs = append(errs, errors.New("postgres store requires -dsn"))
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite store requires -sqlite-path"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if c.JWTKey == "" {
		errs = append(errs, errors.New("missing jwt signing key (-jwt-key)"))
	}
	if !c.Insecure && (c.TLSCert == "" || c.TLSKey == "") {
		errs = append(errs, errors.New("tls cert and key are required unless -insecure"))
	}
	if c.LogFile != "" && (c.LogMaxSizeMB <= 0 || c.LogMaxBackups < 0) {
		errs = append(errs, errors.New("-log-max-size must be positive and -log-max-backups not negative"))
	}
	if c.WSAddr != "" && c.WSAddr == c.Addr {
		errs = append(errs, errors.New("-ws-addr must differ from -addr"))
	}
	if c.QueueMax <= 0 {
		errs = append(errs, errors.New("-queue-max must be positive"))
	}
	if c.QueueRetries <= 0 {
		errs = append(errs, errors.New("-queue-retries must be positive"))
	}
	if c.QueueRetryDelay < 0 {
		errs = append(errs, errors.New("-queue-retry-delay must not be negative"))
	}
	if c.SyncCASRetries < 0 {
		errs = append(errs, errors.New("-sync-cas-retries must not be negative"))
	}
	if c.NotifyBuffer <= 0 {
		errs = append(errs, errors.New("-notify-buffer must be positive"))
	}
	if c.ConflictHistory < 0 {
		errs = append(errs, errors.New("-conflict-history must not be negative"))
	}
	return errors.Join(errs...)
}
