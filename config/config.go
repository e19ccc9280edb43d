// Package config loads the trial-service configuration from the environment.
//
// A .env file in the working directory is loaded first when present; real
// environment variables always win over values from the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Ledger backends understood by LedgerConfig.Backend.
const (
	LedgerMemory   = "memory"
	LedgerPostgres = "postgres"
	LedgerSQLite   = "sqlite"
)

// Config is the root configuration object.
type Config struct {
	Service   ServiceConfig
	Logging   LoggingConfig
	Tracing   TracingConfig
	Profiling ProfilingConfig
	Shutdown  ShutdownConfig
	Ledger    LedgerConfig
	Database  DatabaseConfig
	Invite    InviteConfig
	CORS      CORSConfig
}

type ServiceConfig struct {
	Name    string
	Version string
	Env     string
	Port    string
}

type LoggingConfig struct {
	Level string
}

type TracingConfig struct {
	Enabled    bool
	Endpoint   string
	SampleRate float64
}

type ProfilingConfig struct {
	Enabled  bool
	Endpoint string
}

type ShutdownConfig struct {
	Timeout             string
	ReadinessDrainDelay string
}

// LedgerConfig selects where (code, user) grant timestamps live.
type LedgerConfig struct {
	Backend       string
	SQLitePath    string
	SweepInterval string
	// HashKey keys the BLAKE2b digest applied to user ids before storage.
	HashKey string
}

type DatabaseConfig struct {
	URL      string
	MaxConns int
}

// InviteConfig describes the code-policy table and its reserved entries.
type InviteConfig struct {
	PolicyFile         string
	DeveloperCode      string
	ProCode            string
	ProDurationMinutes int
	DeprecatedCodes    []string
}

type CORSConfig struct {
	AllowedOrigins []string
}

// Load builds a Config from the environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Service: ServiceConfig{
			Name:    getEnv("SERVICE_NAME", "trial-service"),
			Version: getEnv("SERVICE_VERSION", "dev"),
			Env:     getEnv("ENV", "development"),
			Port:    getEnv("PORT", "8080"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Tracing: TracingConfig{
			Enabled:    getEnvBool("TRACING_ENABLED", false),
			Endpoint:   getEnv("OTEL_COLLECTOR_ENDPOINT", "localhost:4318"),
			SampleRate: getEnvFloat("OTEL_SAMPLE_RATE", 0.1),
		},
		Profiling: ProfilingConfig{
			Enabled:  getEnvBool("PROFILING_ENABLED", false),
			Endpoint: getEnv("PYROSCOPE_ENDPOINT", "http://localhost:4040"),
		},
		Shutdown: ShutdownConfig{
			Timeout:             getEnv("SHUTDOWN_TIMEOUT", "10s"),
			ReadinessDrainDelay: getEnv("READINESS_DRAIN_DELAY", "5s"),
		},
		Ledger: LedgerConfig{
			Backend:       strings.ToLower(getEnv("LEDGER_BACKEND", LedgerMemory)),
			SQLitePath:    getEnv("LEDGER_SQLITE_PATH", "./data/ledger.db"),
			SweepInterval: getEnv("LEDGER_SWEEP_INTERVAL", "1h"),
			HashKey:       getEnv("LEDGER_HASH_KEY", ""),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			MaxConns: getEnvInt("DB_POOL_MAX_CONNECTIONS", 10),
		},
		Invite: InviteConfig{
			PolicyFile:         getEnv("INVITE_POLICY_FILE", ""),
			DeveloperCode:      getEnv("INVITE_DEVELOPER_CODE", "DEVUNLIMITED"),
			ProCode:            getEnv("INVITE_PRO_CODE", "STUDYPRO"),
			ProDurationMinutes: getEnvInt("INVITE_PRO_DURATION_MINUTES", 10080),
			DeprecatedCodes:    getEnvList("INVITE_DEPRECATED_CODES", []string{"PROMAX"}),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Service.Port == "" {
		return errors.New("PORT is required")
	}
	if _, err := strconv.Atoi(c.Service.Port); err != nil {
		return fmt.Errorf("invalid PORT %q: %w", c.Service.Port, err)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be within [0,1], got %v", c.Tracing.SampleRate)
	}
	for name, v := range map[string]string{
		"SHUTDOWN_TIMEOUT":      c.Shutdown.Timeout,
		"READINESS_DRAIN_DELAY": c.Shutdown.ReadinessDrainDelay,
		"LEDGER_SWEEP_INTERVAL": c.Ledger.SweepInterval,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, v, err)
		}
	}
	switch c.Ledger.Backend {
	case LedgerMemory:
	case LedgerPostgres:
		if c.Database.URL == "" {
			return errors.New("DATABASE_URL is required for the postgres ledger")
		}
	case LedgerSQLite:
		if c.Ledger.SQLitePath == "" {
			return errors.New("LEDGER_SQLITE_PATH is required for the sqlite ledger")
		}
	default:
		return fmt.Errorf("unknown LEDGER_BACKEND %q", c.Ledger.Backend)
	}
	if strings.TrimSpace(c.Invite.DeveloperCode) == "" {
		return errors.New("INVITE_DEVELOPER_CODE must not be empty")
	}
	if strings.TrimSpace(c.Invite.ProCode) == "" {
		return errors.New("INVITE_PRO_CODE must not be empty")
	}
	if c.Invite.ProDurationMinutes <= 0 {
		return fmt.Errorf("INVITE_PRO_DURATION_MINUTES must be positive, got %d", c.Invite.ProDurationMinutes)
	}
	return nil
}

// GetShutdownTimeoutDuration returns the HTTP shutdown timeout.
func (c *Config) GetShutdownTimeoutDuration() time.Duration {
	return parseDurationOr(c.Shutdown.Timeout, 10*time.Second)
}

// GetReadinessDrainDelayDuration returns how long /ready reports 503 before the
// HTTP server stops accepting connections.
func (c *Config) GetReadinessDrainDelayDuration() time.Duration {
	return parseDurationOr(c.Shutdown.ReadinessDrainDelay, 5*time.Second)
}

// GetSweepIntervalDuration returns the ledger purge interval; zero disables it.
func (c *Config) GetSweepIntervalDuration() time.Duration {
	return parseDurationOr(c.Ledger.SweepInterval, time.Hour)
}

func parseDurationOr(v string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvList splits a comma separated variable, dropping empty items.
func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
