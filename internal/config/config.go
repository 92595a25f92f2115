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

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Port        int
	DatabaseURL string
	Store       string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LogLevel    string
	LogEncoding string
	Development bool

	ImportChunkSize    int
	ImportChunkRetries int
	IdempotencyTTL     time.Duration
}

func Load() (Config, error) {
	return load(filepath.Join(".", ".env"), os.Getenv)
}

// load reads envPath when it exists. Process environment values win over the
// file.
func load(envPath string, getenv func(string) string) (Config, error) {
	values := map[string]string{}
	if _, err := os.Stat(envPath); err == nil {
		fileValues, err := godotenv.Read(envPath)
		if err != nil {
			return Config{}, fmt.Errorf("read %s: %w", envPath, err)
		}
		values = fileValues
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("stat %s: %w", envPath, err)
	}
	get := func(key string) string {
		return firstNonEmpty(getenv(key), values[key])
	}

	cfg := Config{
		Port:               8080,
		Store:              StorePostgres,
		LogLevel:           "info",
		LogEncoding:        "json",
		ImportChunkSize:    50,
		ImportChunkRetries: 3,
		IdempotencyTTL:     24 * time.Hour,
	}

	var err error
	if cfg.Port, err = positiveInt(get("PORT"), "PORT", cfg.Port); err != nil {
		return Config{}, err
	}

	if raw := get("STORE"); raw != "" {
		cfg.Store = strings.ToLower(raw)
	}
	switch cfg.Store {
	case StorePostgres, StoreMemory:
	default:
		return Config{}, fmt.Errorf("invalid STORE: %q (want %s or %s)", cfg.Store, StorePostgres, StoreMemory)
	}

	cfg.DatabaseURL = get("DATABASE_URL")
	if cfg.DatabaseURL == "" && cfg.Store == StorePostgres {
		return Config{}, fmt.Errorf("DATABASE_URL is required (environment variable or .env)")
	}

	cfg.RedisAddr = get("REDIS_ADDR")
	cfg.RedisPassword = get("REDIS_PASSWORD")
	if raw := get("REDIS_DB"); raw != "" {
		db, err := strconv.Atoi(raw)
		if err != nil || db < 0 {
			return Config{}, fmt.Errorf("invalid REDIS_DB: %q", raw)
		}
		cfg.RedisDB = db
	}

	if raw := get("LOG_LEVEL"); raw != "" {
		cfg.LogLevel = strings.ToLower(raw)
	}
	if raw := get("LOG_ENCODING"); raw != "" {
		cfg.LogEncoding = strings.ToLower(raw)
	}
	if cfg.LogEncoding != "json" && cfg.LogEncoding != "console" {
		return Config{}, fmt.Errorf("invalid LOG_ENCODING: %q", cfg.LogEncoding)
	}
	switch env := strings.ToLower(get("APP_ENV")); env {
	case "", "production":
	case "development":
		cfg.Development = true
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV: %q", env)
	}

	if cfg.ImportChunkSize, err = positiveInt(get("IMPORT_CHUNK_SIZE"), "IMPORT_CHUNK_SIZE", cfg.ImportChunkSize); err != nil {
		return Config{}, err
	}
	if cfg.ImportChunkRetries, err = positiveInt(get("IMPORT_CHUNK_RETRIES"), "IMPORT_CHUNK_RETRIES", cfg.ImportChunkRetries); err != nil {
		return Config{}, err
	}
	if raw := get("IDEMPOTENCY_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil || ttl <= 0 {
			return Config{}, fmt.Errorf("invalid IDEMPOTENCY_TTL: %q", raw)
		}
		cfg.IdempotencyTTL = ttl
	}

	return cfg, nil
}

func positiveInt(raw, name string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return value, nil
}

func firstNonEmpty(candidates ...string) string {
	for _, candidate := range candidates {
		if value := strings.TrimSpace(candidate); value != "" {
			return value
		}
	}
	return ""
}
