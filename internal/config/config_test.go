package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(filepath.Join(t.TempDir(), ".env"), env(map[string]string{"DATABASE_URL": "postgres://x"}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 8080 || cfg.Store != StorePostgres || cfg.LogLevel != "info" || cfg.LogEncoding != "json" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.ImportChunkSize != 50 || cfg.ImportChunkRetries != 3 || cfg.IdempotencyTTL != 24*time.Hour || cfg.Development {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadEnvironmentWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	body := "# local\nPORT=9000\nDATABASE_URL='postgres://file'\nREDIS_ADDR=localhost:6379\nexport APP_ENV=development\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}

	cfg, err := load(path, env(map[string]string{"PORT": "9100"}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 9100 {
		t.Fatalf("expected environment port, got %d", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://file" || cfg.RedisAddr != "localhost:6379" || !cfg.Development {
		t.Fatalf("expected file values, got %+v", cfg)
	}
}

func TestLoadMemoryStoreNeedsNoDatabase(t *testing.T) {
	cfg, err := load(filepath.Join(t.TempDir(), ".env"), env(map[string]string{"STORE": "memory"}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store != StoreMemory || cfg.DatabaseURL != "" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]string
		want   string
	}{
		{"missing database", map[string]string{}, "DATABASE_URL is required"},
		{"port", map[string]string{"DATABASE_URL": "x", "PORT": "abc"}, "invalid PORT"},
		{"store", map[string]string{"DATABASE_URL": "x", "STORE": "mysql"}, "invalid STORE"},
		{"redis db", map[string]string{"DATABASE_URL": "x", "REDIS_DB": "-1"}, "invalid REDIS_DB"},
		{"encoding", map[string]string{"DATABASE_URL": "x", "LOG_ENCODING": "xml"}, "invalid LOG_ENCODING"},
		{"app env", map[string]string{"DATABASE_URL": "x", "APP_ENV": "staging"}, "invalid APP_ENV"},
		{"chunk size", map[string]string{"DATABASE_URL": "x", "IMPORT_CHUNK_SIZE": "0"}, "invalid IMPORT_CHUNK_SIZE"},
		{"ttl", map[string]string{"DATABASE_URL": "x", "IDEMPOTENCY_TTL": "soon"}, "invalid IDEMPOTENCY_TTL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(filepath.Join(t.TempDir(), ".env"), env(tt.values))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
