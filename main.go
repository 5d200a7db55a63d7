package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/redis/go-redis/v9"
)

// getSecret pulls one secret version from Google Secret Manager.
func getSecret(secretName string) (string, error) {
	ctx := context.Background()
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create secret manager client: %w", err)
	}
	defer client.Close()

	req := &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	}
	result, err := client.AccessSecretVersion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to access secret version: %w", err)
	}

	return string(result.Payload.GetData()), nil
}

// resolveSecret swaps a configured literal for a Secret Manager value when
// a resource name is set. Resolution failures log and keep the literal.
func resolveSecret(literal, secretName, what string) string {
	if secretName == "" {
		return literal
	}
	value, err := getSecret(secretName)
	if err != nil {
		slog.Error("failed to resolve secret", "secret", what, "err", err)
		return literal
	}
	return value
}

func main() {
	handler := NewCloudLogHandler(os.Stdout, slog.LevelInfo)
	slog.SetDefault(slog.New(handler))

	cfg, err := LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	cfg.DBPassword = resolveSecret(cfg.DBPassword, cfg.DBPasswordSecret, "db_password")
	cfg.RedisPassword = resolveSecret(cfg.RedisPassword, cfg.RedisPasswordSecret, "redis_password")

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		slog.Error("failed to open postgres", "err", err)
		os.Exit(1)
	}
	store, err := NewPostgresStore(db)
	if err != nil {
		slog.Error("failed to prepare statements", "err", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	svc := &Services{
		Store:  store,
		Cache:  NewRedisCache(rdb),
		Push:   NewHub(),
		Client: &http.Client{Timeout: 30 * time.Second},
	}
	manager := NewManager(svc, cfg.MaxConcurrentGames)

	router := NewRouter(manager)

	slog.Info("starting snakesaas", "port", cfg.Port, "max_concurrent_games", cfg.MaxConcurrentGames)
	log.Fatal(http.ListenAndServe(fmt.Sprintf(":%d", cfg.Port), router))
}
