package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/livepoll/backend/pkg/database"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	AWS       AWSConfig
	RateLimit RateLimitConfig
	Export    ExportConfig
	RabbitMQ  RabbitMQConfig
	Log       LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:3000,http://localhost:3001)
	WSAllowedOrigins   []string
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/livepoll?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	Migrate  bool
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis connection settings. An empty Addr runs the server single-instance without Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret             string
	ExpireHours        int
	SessionExpireHours int // lifetime of the per-session host token
}

// AWSConfig holds AWS credentials and the exports bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	Endpoint             string // optional, e.g. a MinIO or localstack URL
	ExportsBucket        string
	PresignExpireMinutes int
}

// RateLimitConfig bounds answer submissions per participant and auth attempts per IP.
type RateLimitConfig struct {
	AnswerLimit     int
	AnswerWindowSec int
	AuthLimit       int
	AuthWindowSec   int
}

// ExportConfig controls the results export worker.
type ExportConfig struct {
	InProcessWorker bool // run the export worker inside the API server
}

// RabbitMQConfig holds the domain events broker. An empty URI disables event publishing.
type RabbitMQConfig struct {
	URI string
}

// LogConfig selects the logger flavour.
type LogConfig struct {
	Development bool
}

// PoolOptions converts the pool sizing settings for database.NewPostgresPool.
func (c DatabaseConfig) PoolOptions() database.PoolOptions {
	return database.PoolOptions{
		MaxConns:        int32(c.MaxConns),
		MinConns:        int32(c.MinConns),
		MaxConnLifetime: time.Hour,
	}
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

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),
			WSAllowedOrigins:   splitTrim(getEnv("WS_ALLOWED_ORIGINS", "*"), ","),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "livepoll"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			Migrate:  getEnvBool("DB_MIGRATE", true),
			MaxConns: getEnvInt("DB_MAX_CONNS", 20),
			MinConns: getEnvInt("DB_MIN_CONNS", 2),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:             getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours:        getEnvInt("JWT_EXPIRE_HOURS", 24),
			SessionExpireHours: getEnvInt("JWT_SESSION_EXPIRE_HOURS", 72),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			Endpoint:             getEnv("AWS_S3_ENDPOINT", ""),
			ExportsBucket:        getEnv("AWS_S3_EXPORTS_BUCKET", "livepoll-exports"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		RateLimit: RateLimitConfig{
			AnswerLimit:     getEnvInt("RATE_LIMIT_ANSWERS", 30),
			AnswerWindowSec: getEnvInt("RATE_LIMIT_ANSWERS_WINDOW_SEC", 60),
			AuthLimit:       getEnvInt("RATE_LIMIT_AUTH", 10),
			AuthWindowSec:   getEnvInt("RATE_LIMIT_AUTH_WINDOW_SEC", 60),
		},
		Export: ExportConfig{
			InProcessWorker: getEnvBool("EXPORT_IN_PROCESS_WORKER", false),
		},
		RabbitMQ: RabbitMQConfig{
			URI: getEnv("RABBITMQ_URI", ""),
		},
		Log: LogConfig{
			Development: getEnv("APP_ENV", "production") == "development",
		},
	}
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET must not be empty")
	}
	return cfg, nil
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

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
