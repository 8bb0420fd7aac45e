package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// OAuthCredentials holds one provider's client registration.
type OAuthCredentials struct {
	ClientID     string
	ClientSecret string
}

// Configured reports whether the provider can be offered on the login page.
func (c OAuthCredentials) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Config aggregates runtime configuration for the tempo service.
type Config struct {
	Environment    string
	HTTPPort       int
	DataStore      string
	DatabaseURL    string
	RedisURL       string
	LogLevel       string
	AllowedOrigins []string
	AppURL         string
	StaticDir      string

	Google  OAuthCredentials
	GitHub  OAuthCredentials
	Twitter OAuthCredentials
}

// Load reads configuration from environment variables with sensible defaults for local development.
func Load() (Config, error) {
	databaseURL, err := getEnvOrFile("DATABASE_URL", "/run/secrets/tempo_database_url")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Environment:    getEnv("APP_ENV", "development"),
		DatabaseURL:    databaseURL,
		RedisURL:       getEnv("REDIS_URL", ""),
		DataStore:      strings.ToLower(getEnv("DATA_STORE", "memory")),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		AllowedOrigins: parseCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:8080")),
		AppURL:         strings.TrimSuffix(getEnv("APP_URL", "http://localhost:8080"), "/"),
		StaticDir:      getEnv("STATIC_DIR", "web"),
	}

	portValue := getEnv("PORT", getEnv("HTTP_PORT", "8080"))
	port, err := strconv.Atoi(portValue)
	if err != nil {
		return Config{}, fmt.Errorf("invalid port %q: %w", portValue, err)
	}
	cfg.HTTPPort = port

	for _, p := range []struct {
		name string
		dst  *OAuthCredentials
	}{
		{"GOOGLE", &cfg.Google},
		{"GITHUB", &cfg.GitHub},
		{"TWITTER", &cfg.Twitter},
	} {
		secret, err := getEnvOrFile(p.name+"_CLIENT_SECRET", "")
		if err != nil {
			return Config{}, err
		}
		p.dst.ClientID = strings.TrimSpace(getEnv(p.name+"_CLIENT_ID", ""))
		p.dst.ClientSecret = strings.TrimSpace(secret)
	}

	switch cfg.DataStore {
	case "memory":
	case "redis":
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("DATA_STORE is redis but REDIS_URL is not set")
		}
	case "postgres":
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATA_STORE is postgres but DATABASE_URL is not set")
		}
	default:
		return Config{}, fmt.Errorf("unknown DATA_STORE %q", cfg.DataStore)
	}

	if !cfg.IsDevelopment() && !cfg.Google.Configured() && !cfg.GitHub.Configured() && !cfg.Twitter.Configured() {
		return Config{}, fmt.Errorf("no OAuth provider configured; at least one of GOOGLE/GITHUB/TWITTER client credentials is required outside development")
	}

	return cfg, nil
}

// HTTPAddress returns the address the HTTP server should bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// IsDevelopment reports whether the service runs in development mode.
func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// UseInMemoryStore returns true if the in-memory store should be used.
func (c Config) UseInMemoryStore() bool {
	return c.DataStore == "memory"
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvOrFile(key, defaultPath string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}

	fileKey := key + "_FILE"
	if path := os.Getenv(fileKey); path != "" {
		return readSecret(path, fileKey)
	}

	if defaultPath != "" {
		return readSecret(defaultPath, key)
	}

	return "", nil
}

func readSecret(path, name string) (string, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("config: reading %s (%s): %w", name, path, err)
	}

	value := strings.TrimSpace(string(contents))
	if value == "" {
		return "", fmt.Errorf("config: %s (%s) is empty", name, path)
	}
	return value, nil
}
