package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the scribe server.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Database  DatabaseConfig
	Badger    BadgerConfig
	Redis     RedisConfig
	Engine    EngineConfig
	Jobs      JobsConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port               int
	Env                string
	CORSAllowedOrigins []string
}

type StoreConfig struct {
	Driver string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type BadgerConfig struct {
	Dir string
}

type RedisConfig struct {
	URL string
}

// EngineConfig describes how the external transcription engine is invoked.
type EngineConfig struct {
	Executable string
	Script     string
}

type JobsConfig struct {
	UploadDir     string
	OutputDir     string
	MaxConcurrent int
	SSETimeout    time.Duration
	ResultTTL     time.Duration
	DrainTimeout  time.Duration
}

type AuthConfig struct {
	AdminAPIKey string
	AdminOwner  string
}

type RateLimitConfig struct {
	RequestsPerMin int
}

const (
	StoreDriverPostgres = "postgres"
	StoreDriverBadger   = "badger"
)

var validDrivers = map[string]bool{
	StoreDriverPostgres: true,
	StoreDriverBadger:   true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:               envInt("SCRIBE_PORT", 8080),
			Env:                envString("SCRIBE_ENV", "development"),
			CORSAllowedOrigins: envList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		},
		Store: StoreConfig{
			Driver: envString("STORE_DRIVER", StoreDriverPostgres),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("DATABASE_MIGRATIONS_DIR", "migrations"),
		},
		Badger: BadgerConfig{
			Dir: envString("BADGER_DIR", "data/badger"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Engine: EngineConfig{
			Executable: envString("WHISPER_EXECUTABLE", "python3"),
			Script:     os.Getenv("WHISPER_SCRIPT"),
		},
		Jobs: JobsConfig{
			UploadDir:     envString("UPLOAD_DIR", "data/uploads"),
			OutputDir:     envString("OUTPUT_DIR", "data/outputs"),
			MaxConcurrent: envInt("MAX_CONCURRENT_JOBS", 0),
			SSETimeout:    envDuration("SSE_TIMEOUT", 30*time.Minute),
			ResultTTL:     envDuration("RESULT_CACHE_TTL", 10*time.Minute),
			DrainTimeout:  envDuration("JOB_DRAIN_TIMEOUT", 30*time.Second),
		},
		Auth: AuthConfig{
			AdminAPIKey: os.Getenv("ADMIN_API_KEY"),
			AdminOwner:  envString("ADMIN_OWNER", "admin"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMin: envInt("RATE_LIMIT_PER_MIN", 60),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if !validDrivers[c.Store.Driver] {
		return fmt.Errorf("STORE_DRIVER must be one of postgres, badger; got %q", c.Store.Driver)
	}
	if c.Store.Driver == StoreDriverPostgres && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is postgres")
	}
	if c.Store.Driver == StoreDriverBadger && c.Badger.Dir == "" {
		return fmt.Errorf("BADGER_DIR is required when STORE_DRIVER is badger")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.Engine.Script == "" {
		return fmt.Errorf("WHISPER_SCRIPT is required")
	}
	if c.Engine.Executable == "" {
		return fmt.Errorf("WHISPER_EXECUTABLE must not be empty")
	}
	if c.Jobs.OutputDir == "" {
		return fmt.Errorf("OUTPUT_DIR must not be empty")
	}
	if c.Jobs.MaxConcurrent < 0 {
		return fmt.Errorf("MAX_CONCURRENT_JOBS must be >= 0, got %d", c.Jobs.MaxConcurrent)
	}
	if c.Auth.AdminAPIKey != "" && len(c.Auth.AdminAPIKey) < 16 {
		return fmt.Errorf("ADMIN_API_KEY must be at least 16 characters")
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// envList splits a comma-separated variable, dropping empty entries.
func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
