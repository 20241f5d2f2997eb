// Package main provides the HTTP entry point for the document chat service.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/docchat/docchat/internal/chat"
	"github.com/docchat/docchat/internal/chunker"
	"github.com/docchat/docchat/internal/config"
	"github.com/docchat/docchat/internal/embedding"
	"github.com/docchat/docchat/internal/httpapi"
	"github.com/docchat/docchat/internal/index"
	"github.com/docchat/docchat/internal/ingest"
	"github.com/docchat/docchat/internal/llm"
	"github.com/docchat/docchat/internal/retrieval"
	"github.com/docchat/docchat/internal/session"
)

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(getEnv("DOCCHAT_CONFIG", "config.yaml"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Vector index backend
	var idx index.Index
	switch cfg.Index.Type {
	case "qdrant":
		q, err := index.NewQdrant(cfg.Index.Qdrant.Host, cfg.Index.Qdrant.Port, cfg.Index.Qdrant.Collection, embedding.Dimension)
		if err != nil {
			log.Fatalf("failed to connect to Qdrant: %v", err)
		}
		defer q.Close()
		if err := q.EnsureCollection(ctx); err != nil {
			log.Fatalf("failed to ensure collection: %v", err)
		}
		idx = q
	default:
		idx = index.NewMemory()
	}

	// OpenAI client shared by embeddings and chat
	client, err := embedding.NewClient(cfg.OpenAI.BaseURL, cfg.APIKey())
	if err != nil {
		log.Fatalf("failed to create OpenAI client: %v", err)
	}
	embedder := embedding.NewOpenAI(client, 0) // default batch size
	generator := llm.NewOpenAI(client.Client(), cfg.Chat.Model)

	// Chunkers
	text, err := chunker.NewSplitter(cfg.Chunker.Size, cfg.Chunker.Overlap)
	if err != nil {
		log.Fatalf("invalid chunker config: %v", err)
	}

	// Core pipeline
	pipeline := ingest.NewPipeline(text, chunker.NewMarkdownSplitter(text), embedder, idx, logger)
	engine := retrieval.NewEngine(embedder, idx, cfg.Retrieval.TopK, cfg.Retrieval.MinScore, logger)
	sessions := session.NewStore(busyPolicy(cfg.Chat.BusyPolicy))
	orchestrator := chat.New(engine, generator, sessions, chat.Options{
		HistoryLimit:     cfg.Chat.HistoryLimit,
		OnRetrievalError: retrievalPolicy(cfg.Chat.OnRetrievalError),
	}, logger)

	api := httpapi.NewServer(pipeline, orchestrator, sessions, idx, logger)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	logger.Info("starting HTTP server", "addr", cfg.Server.Addr, "index", cfg.Index.Type)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("HTTP server error: %v", err)
	}
}

func busyPolicy(name string) session.BusyPolicy {
	if name == "block" {
		return session.Block
	}
	return session.Reject
}

func retrievalPolicy(name string) chat.RetrievalPolicy {
	if name == "fail" {
		return chat.FailTurn
	}
	return chat.ProceedUngrounded
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
