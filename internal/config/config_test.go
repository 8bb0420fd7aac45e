package config

import (
	"strings"
	"testing"
)

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, p := range []string{"GOOGLE", "GITHUB", "TWITTER"} {
		t.Setenv(p+"_CLIENT_ID", "")
		t.Setenv(p+"_CLIENT_SECRET", "")
	}
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
}

func TestLoadAllowsEmptyProvidersInDevelopment(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATA_STORE", "memory")
	t.Setenv("PORT", "8080")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Google.Configured() {
		t.Fatalf("expected no Google credentials in development")
	}
	if cfg.AppURL != "http://localhost:8080" {
		t.Fatalf("unexpected app URL %q", cfg.AppURL)
	}
}

func TestLoadRequiresProviderOutsideDevelopment(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATA_STORE", "memory")
	t.Setenv("PORT", "8080")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when no OAuth provider configured outside development")
	}
	if !strings.Contains(err.Error(), "no OAuth provider configured") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadAcceptsSingleProviderOutsideDevelopment(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATA_STORE", "memory")
	t.Setenv("PORT", "9090")
	t.Setenv("GITHUB_CLIENT_ID", "client-id")
	t.Setenv("GITHUB_CLIENT_SECRET", "client-secret")
	t.Setenv("APP_URL", "https://tempo.example.com/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if !cfg.GitHub.Configured() {
		t.Fatalf("expected GitHub credentials to be set")
	}
	if cfg.AppURL != "https://tempo.example.com" {
		t.Fatalf("expected trailing slash to be trimmed, got %q", cfg.AppURL)
	}
	if cfg.HTTPAddress() != ":9090" {
		t.Fatalf("unexpected address %q", cfg.HTTPAddress())
	}
}

func TestLoadValidatesStoreSelection(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATA_STORE", "redis")
	t.Setenv("PORT", "8080")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATA_STORE is redis without REDIS_URL")
	}

	t.Setenv("DATA_STORE", "cassandra")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown DATA_STORE")
	}
}
