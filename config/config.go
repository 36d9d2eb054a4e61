package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Admin     AdminConfig
	AWS       AWSConfig
	Event     EventConfig
	Allocator AllocatorConfig
	Stats     StatsConfig
	Client    ClientConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AdminConfig seeds the organizer account on server start when both
// fields are set.
type AdminConfig struct {
	Email    string
	Password string
}

// AWSConfig holds AWS credentials and the bucket exported passes go to.
// An empty PassesBucket disables pass export.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	PassesBucket         string
	PresignExpireMinutes int
}

// EventConfig describes the conference the passes are issued for.
type EventConfig struct {
	Prefix       string // regId prefix, e.g. PZ26-OCP
	AuthProvider string // provenance tag stamped on registrations
	LogoPath     string // optional center graphic for QR codes
	QRSize       int
	// CounterBootstrap creates the allocator counter on server start when it
	// does not exist yet. Existing counters are never touched.
	CounterBootstrap bool
	CounterStart     int
}

// AllocatorConfig bounds retries when concurrent registrations collide.
type AllocatorConfig struct {
	MaxRetries       int
	InitialBackoffMS int
	MaxBackoffMS     int
}

// StatsConfig controls the participant count cache.
type StatsConfig struct {
	CacheTTLSeconds int
}

// ClientConfig is read by passctl.
type ClientConfig struct {
	APIURL         string
	SessionFile    string
	PassFile       string
	RequestTimeout time.Duration
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// InitialBackoff returns the first retry delay.
func (c AllocatorConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffMS) * time.Millisecond
}

// MaxBackoff returns the retry delay ceiling.
func (c AllocatorConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffMS) * time.Millisecond
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "confpass"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 0)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24*7),
		},
		Admin: AdminConfig{
			Email:    getEnv("ADMIN_EMAIL", ""),
			Password: getEnv("ADMIN_PASSWORD", ""),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			PassesBucket:         getEnv("AWS_S3_PASSES_BUCKET", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Event: EventConfig{
			Prefix:           getEnv("EVENT_PREFIX", "PZ26-OCP"),
			AuthProvider:     getEnv("AUTH_PROVIDER_TAG", "password"),
			LogoPath:         getEnv("PASS_LOGO_PATH", ""),
			QRSize:           getEnvInt("PASS_QR_SIZE", 512),
			CounterBootstrap: getEnvBool("COUNTER_BOOTSTRAP", false),
			CounterStart:     getEnvInt("COUNTER_START", 1),
		},
		Allocator: AllocatorConfig{
			MaxRetries:       getEnvInt("ALLOCATOR_MAX_RETRIES", 5),
			InitialBackoffMS: getEnvInt("ALLOCATOR_INITIAL_BACKOFF_MS", 25),
			MaxBackoffMS:     getEnvInt("ALLOCATOR_MAX_BACKOFF_MS", 400),
		},
		Stats: StatsConfig{
			CacheTTLSeconds: getEnvInt("STATS_CACHE_TTL_SEC", 30),
		},
		Client: ClientConfig{
			APIURL:         strings.TrimRight(getEnv("CONFPASS_API_URL", "http://localhost:8080"), "/"),
			SessionFile:    getEnv("CONFPASS_SESSION_FILE", statePath("session.json")),
			PassFile:       getEnv("CONFPASS_PASS_FILE", statePath("pass.json")),
			RequestTimeout: time.Duration(getEnvInt("CONFPASS_TIMEOUT_SEC", 10)) * time.Second,
		},
	}
	if cfg.Event.Prefix == "" {
		return nil, fmt.Errorf("EVENT_PREFIX must not be empty")
	}
	if cfg.Event.CounterStart < 1 {
		return nil, fmt.Errorf("COUNTER_START must be >= 1, got %d", cfg.Event.CounterStart)
	}
	return cfg, nil
}

// statePath places client state under $XDG_CONFIG_HOME/confpass.
func statePath(name string) string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "confpass-"+name)
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "confpass", name)
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
