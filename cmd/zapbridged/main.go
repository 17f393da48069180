package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"zapbridge/internal/bridge"
	"zapbridge/internal/cache"
	"zapbridge/internal/config"
)

const maxBodySize = 32 * 1024 // POST bodies are small JSON payloads

// limitBody wraps a handler to bound request body size
func limitBody(next http.HandlerFunc, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next(w, r)
	}
}

func main() {
	config.InitLogger()

	userURI, ok := config.UserWallet()
	if !ok {
		slog.Error("NWC_URI is required")
		os.Exit(1)
	}

	orch := bridge.New(bridge.Options{
		BridgeLookup: config.Bridge,
	})

	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := orch.Initialize(initCtx, userURI); err != nil {
		cancel()
		slog.Error("initialization failed", "error", err)
		os.Exit(1)
	}
	cancel()

	caps := orch.Capabilities()
	slog.Info("bridge orchestrator ready",
		"wallet", caps.WalletName,
		"supports_keysend", caps.SupportsKeysend,
		"has_bridge", caps.HasBridge,
		"profile_assumed", caps.ProfileAssumed)

	cacheBackend := cache.FromEnv("zapbridge:")
	srv := &server{orch: orch, cache: cacheBackend}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/keysend", limitBody(srv.keysendHandler, maxBodySize))
	mux.HandleFunc("/api/balance", srv.balanceHandler)
	mux.HandleFunc("/api/capabilities", srv.capabilitiesHandler)
	mux.HandleFunc("/api/transactions", srv.transactionsHandler)
	mux.HandleFunc("/api/invoice", srv.lookupHandler)
	mux.HandleFunc("/health", srv.healthHandler)
	mux.HandleFunc("/metrics", metricsHandler)

	httpServer := &http.Server{
		Addr:         ":" + config.Port(),
		Handler:      requestLoggingMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("server listening", "port", config.Port())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)
	orch.Close()
	cacheBackend.Close()
}
