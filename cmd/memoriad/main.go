// Command memoriad runs the memory-augmented conversational service:
// config load, component wiring, HTTP listen, signal-driven graceful
// shutdown.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nimlabs/memoria/config"
	"github.com/nimlabs/memoria/embedding"
	"github.com/nimlabs/memoria/embedding/remote"
	"github.com/nimlabs/memoria/embedding/simple"
	"github.com/nimlabs/memoria/errs"
	"github.com/nimlabs/memoria/extraction"
	"github.com/nimlabs/memoria/httpapi"
	"github.com/nimlabs/memoria/identity"
	"github.com/nimlabs/memoria/orchestrator"
	"github.com/nimlabs/memoria/retrieval"
	"github.com/nimlabs/memoria/role"
	"github.com/nimlabs/memoria/store/chromem"
)

const (
	replyModel    = "claude-sonnet-4-20250514"
	scoringModel  = "claude-sonnet-4-20250514"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	log.Println("=============================================================")
	log.Println("  Memoria — memory-augmented conversational service")
	log.Println("=============================================================")
	log.Printf("environment:      %s", cfg.Environment)
	log.Printf("embedding model:  %s", cfg.EmbeddingModel)
	log.Printf("data dir:         %s", cfg.DataDir)

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		log.Fatalf("embedding adapter: %v", err)
	}

	st, err := chromem.New(cfg.DataDir, embedder)
	if err != nil {
		if errs.Is(err, errs.KindDimensionMismatch) {
			log.Fatalf("store: embedding adapter does not match the dimension recorded for an existing scope: %v", err)
		}
		log.Fatalf("store: %v", err)
	}
	defer st.Close()

	ident, err := identity.New(cfg.DataDir)
	if err != nil {
		log.Fatalf("identity: %v", err)
	}

	roles := role.DefaultRegistry()

	anthropicClient := anthropic.NewClient(option.WithAPIKey(cfg.ReplyLLMAPIKey))

	extractionEngine := extraction.New(&anthropicClient, scoringModel, cfg.LLMTimeout)
	pool := extraction.NewPool(extractionEngine, st,
		extraction.WithConcurrency(cfg.ExtractionWorkers),
		extraction.WithShutdownTimeout(cfg.ShutdownTimeout),
	)

	retriever := retrieval.New(st)

	orch := orchestrator.New(&anthropicClient, roles, ident, retriever, pool, orchestrator.Config{
		ReplyModel:         replyModel,
		ExtractThreshold:   cfg.MemoryExtractThreshold,
		ExtractWindow:      cfg.ExtractionWindow,
		MaxContextMemories: cfg.MaxContextMemories,
		MinImportance:      5, // retrieval importance floor unless overridden per-call
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	orch.StartEvictionSweep(ctx)

	server := httpapi.New(cfg, orch, ident, roles, st, embedder)

	addr := cfg.Host + ":" + cfg.Port
	go func() {
		log.Println("=============================================================")
		log.Printf("listening on %s", addr)
		log.Println("=============================================================")
		if err := server.Listen(addr); err != nil {
			log.Printf("http server stopped: %v", err)
		}
	}()

	waitForShutdown(cancel, server, pool, cfg)
}

func buildEmbedder(cfg *config.Config) (embedding.Embedder, error) {
	switch cfg.EmbeddingModel {
	case "remote-llm":
		return remote.New(remote.Config{
			BaseURL: cfg.EmbeddingBaseURL,
			APIKey:  cfg.EmbeddingAPIKey,
		})
	case "local-transformer":
		return newLocalEmbedder(cfg)
	case "simple":
		return simple.New(512), nil
	default:
		return nil, errs.New(errs.KindConfigInvalid, "unrecognized EMBEDDING_MODEL: "+cfg.EmbeddingModel)
	}
}

func waitForShutdown(cancel context.CancelFunc, server *httpapi.Server, pool *extraction.Pool, cfg *config.Config) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh

	log.Printf("received signal %v, shutting down...", sig)
	cancel()

	if err := server.ShutdownWithTimeout(cfg.ShutdownTimeout); err != nil {
		log.Printf("http shutdown error: %v", err)
	}
	pool.Stop()

	log.Println("shutdown complete")
}
