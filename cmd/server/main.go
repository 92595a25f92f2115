package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"stockledger/internal/config"
	"stockledger/internal/db"
	"stockledger/internal/guard"
	httpapi "stockledger/internal/http"
	"stockledger/internal/logger"
	"stockledger/internal/memstore"
	"stockledger/internal/repository"
	"stockledger/internal/service"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel, cfg.LogEncoding, cfg.Development)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx := context.Background()
	var store service.Store
	switch cfg.Store {
	case config.StoreMemory:
		zl.Warn("using in-memory store, data is lost on restart")
		store = memstore.New()
	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, zl)
		if err != nil {
			zl.Fatal("database error", zap.Error(err))
		}
		defer pool.Close()

		if err := db.RunMigrations(ctx, pool, zl); err != nil {
			zl.Fatal("migration error", zap.Error(err))
		}
		reader := db.OpenReader(pool)
		defer reader.Close()
		store = repository.New(pool, reader)
	}

	var g guard.Guard
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			zl.Fatal("redis error", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		g = guard.NewRedis(client, cfg.IdempotencyTTL)
	} else {
		g = guard.NewMemory(cfg.IdempotencyTTL)
	}

	svc := service.New(store, g, zl, service.Options{
		ImportChunkSize: cfg.ImportChunkSize,
		ImportRetries:   cfg.ImportChunkRetries,
	})
	handler := httpapi.NewHandler(svc, zl.Named("http"))
	router := httpapi.NewRouter(handler, zl.Named("http"))

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		zl.Info("stockledger listening", zap.String("addr", server.Addr), zap.String("store", cfg.Store))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Error("graceful shutdown failed", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			zl.Error("force close failed", zap.Error(closeErr))
		}
	}
}
