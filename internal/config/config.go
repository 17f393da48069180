package config

import (
	"log/slog"
	"os"
	"strings"
)

// Runtime configuration comes from the environment. Connection strings
// carry key material, so they are never logged and never exposed past the
// accessor functions here.

// UserWallet returns the user wallet's connection string from NWC_URI.
func UserWallet() (string, bool) {
	uri := strings.TrimSpace(os.Getenv("NWC_URI"))
	return uri, uri != ""
}

// Bridge reports whether a bridge wallet is configured (BRIDGE_NWC_URI)
// and its connection string. The orchestrator only ever sees this pair,
// never the raw environment.
func Bridge() (connection string, configured bool) {
	uri := strings.TrimSpace(os.Getenv("BRIDGE_NWC_URI"))
	return uri, uri != ""
}

// Port returns the HTTP listen port, default 8080.
func Port() string {
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	return "8080"
}

// RedisURL returns the optional Redis cache URL.
func RedisURL() string {
	return os.Getenv("REDIS_URL")
}

// InitLogger initializes the structured logger with JSON output.
// Log level is controlled by LOG_LEVEL (debug/info/warn/error).
func InitLogger() {
	var level slog.Level
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", "level", level.String())
}
