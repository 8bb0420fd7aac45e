package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"tempo/internal/auth"
	"tempo/internal/config"
	transporthttp "tempo/internal/http"
	"tempo/internal/kv"
	"tempo/internal/platform/database"
	"tempo/internal/platform/logging"
	"tempo/internal/platform/migrate"
	"tempo/internal/tracker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel)

	store, cleanup, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	if len(os.Args) > 1 && os.Args[1] == "init-user" {
		if err := runInitUser(ctx, store, os.Args[2:]); err != nil {
			logger.Error("init-user failed", "error", err)
			os.Exit(1)
		}
		return
	}

	registry := auth.NewRegistry(cfg)
	flow := auth.NewFlow(store, registry, nil)
	sessions := auth.NewSessionManager(store, auth.SessionTTL)
	router := transporthttp.NewRouter(cfg, store, flow, sessions, registry, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    http.DefaultMaxHeaderBytes,
	}

	go func() {
		logger.Info("Tempo API listening", "addr", srv.Addr, "store", cfg.DataStore, "providers", registry.Names())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func buildStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (kv.Store, func(), error) {
	if cfg.UseInMemoryStore() {
		logger.Info("using in-memory store")
		return kv.NewMemoryStore(), nil, nil
	}

	switch cfg.DataStore {
	case "redis":
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opt)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("connected to redis")
		return kv.NewRedisStore(client), func() { _ = client.Close() }, nil

	case "postgres":
		db, err := database.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() {
			_ = db.Close()
		}
		if err := migrate.Apply(ctx, db, logger); err != nil {
			cleanup()
			return nil, nil, err
		}
		logger.Info("connected to postgres")
		return kv.NewPostgresStore(db), cleanup, nil

	default:
		return nil, nil, fmt.Errorf("unknown DATA_STORE %q", cfg.DataStore)
	}
}

// runInitUser creates a user record outside the OAuth flow, mainly for local
// development against the in-memory or a fresh store.
func runInitUser(ctx context.Context, store kv.Store, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: init-user <email> <name> [id]")
	}

	email, name := args[0], args[1]
	id := "local:" + email
	if len(args) > 2 {
		id = args[2]
	}

	_, err := tracker.CreateUser(ctx, store, tracker.User{ID: id, Email: email, Name: name})
	if errors.Is(err, tracker.ErrUserExists) {
		return fmt.Errorf("user %s already exists", id)
	}
	if err != nil {
		return err
	}

	fmt.Printf("created user %s (%s)\n", id, email)
	return nil
}
