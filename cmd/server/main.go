package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	script "github.com/Mkas1988/digital-script"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := script.DefaultConfig()
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			slog.Error("opening config", "error", err)
			os.Exit(1)
		}
		if err := json.NewDecoder(f).Decode(&cfg); err != nil {
			f.Close()
			slog.Error("parsing config", "error", err)
			os.Exit(1)
		}
		f.Close()
	}

	// Override from environment variables.
	if v := os.Getenv("DIGITALSCRIPT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("DIGITALSCRIPT_BLOB_DIR"); v != "" {
		cfg.Blob.BlobDir = v
	}
	if v := os.Getenv("DIGITALSCRIPT_BUCKET_URL"); v != "" {
		cfg.Blob.BucketURL = v
	}
	if v := os.Getenv("DIGITALSCRIPT_BUCKET_API_KEY"); v != "" {
		cfg.Blob.APIKey = v
	}
	if v := os.Getenv("DIGITALSCRIPT_BUCKET_PUBLIC_URL"); v != "" {
		cfg.Blob.PublicBaseURL = v
	}
	if v := os.Getenv("DIGITALSCRIPT_CHAT_PROVIDER"); v != "" {
		cfg.Chat.Provider = v
	}
	if v := os.Getenv("DIGITALSCRIPT_CHAT_MODEL"); v != "" {
		cfg.Chat.Model = v
	}
	if v := os.Getenv("DIGITALSCRIPT_CHAT_BASE_URL"); v != "" {
		cfg.Chat.BaseURL = v
	}
	if v := os.Getenv("DIGITALSCRIPT_CHAT_API_KEY"); v != "" {
		cfg.Chat.APIKey = v
	}
	if v := os.Getenv("DIGITALSCRIPT_VISION_PROVIDER"); v != "" {
		cfg.Vision.Provider = v
	}
	if v := os.Getenv("DIGITALSCRIPT_VISION_MODEL"); v != "" {
		cfg.Vision.Model = v
	}
	if v := os.Getenv("DIGITALSCRIPT_EMBED_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("DIGITALSCRIPT_EMBED_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("DIGITALSCRIPT_EMBED_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("DIGITALSCRIPT_EMBED_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}

	// Fallback: check well-known provider env vars for API keys.
	for _, llmCfg := range []*struct {
		provider string
		key      *string
	}{
		{cfg.Chat.Provider, &cfg.Chat.APIKey},
		{cfg.Vision.Provider, &cfg.Vision.APIKey},
		{cfg.Embedding.Provider, &cfg.Embedding.APIKey},
	} {
		if *llmCfg.key != "" {
			continue
		}
		switch llmCfg.provider {
		case "openai":
			*llmCfg.key = os.Getenv("OPENAI_API_KEY")
		case "openrouter":
			*llmCfg.key = os.Getenv("OPENROUTER_API_KEY")
		}
	}

	apiKey := os.Getenv("DIGITALSCRIPT_API_KEY")
	corsOrigins := os.Getenv("DIGITALSCRIPT_CORS_ORIGINS")

	engine, err := script.New(cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	h := newHandler(engine)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /documents", h.handleIngest)
	mux.HandleFunc("GET /documents", h.handleListDocuments)
	mux.HandleFunc("GET /documents/{id}", h.handleGetDocument)
	mux.HandleFunc("GET /documents/{id}/sections", h.handleGetSections)
	mux.HandleFunc("GET /documents/{id}/images", h.handleGetImages)
	mux.HandleFunc("GET /documents/{id}/export", h.handleExport)
	mux.HandleFunc("DELETE /documents/{id}", h.handleDeleteDocument)
	mux.HandleFunc("POST /search", h.handleSearch)
	mux.HandleFunc("GET /health", h.handleHealth)

	// Middleware chain: recovery -> cors -> auth -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // ingestion responses can be long-running
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
