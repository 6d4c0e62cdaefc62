// Package app wires configuration into the generation pipeline shared by
// the API server and the operator CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/aiox-platform/notigen/internal/assembly"
	"github.com/aiox-platform/notigen/internal/config"
	"github.com/aiox-platform/notigen/internal/database"
	"github.com/aiox-platform/notigen/internal/embedding"
	"github.com/aiox-platform/notigen/internal/ingest"
	"github.com/aiox-platform/notigen/internal/kvstore"
	"github.com/aiox-platform/notigen/internal/llm"
	"github.com/aiox-platform/notigen/internal/memory"
	inats "github.com/aiox-platform/notigen/internal/nats"
	"github.com/aiox-platform/notigen/internal/orchestrator"
	"github.com/aiox-platform/notigen/internal/respcache"
	"github.com/aiox-platform/notigen/internal/retrieval"
	"github.com/aiox-platform/notigen/internal/vectorindex"
)

// App holds every long-lived component. NATS and Publisher are nil when no
// NATS URL is configured.
type App struct {
	Config       *config.Config
	Store        kvstore.Store
	Index        vectorindex.Index
	Embeddings   *embedding.Cache
	Retrieval    *retrieval.Engine
	Invoker      *llm.Invoker
	Responses    *respcache.Cache
	Memory       *memory.Memory
	Indexer      *ingest.Indexer
	NATS         *inats.Client
	Publisher    *inats.Publisher
	Orchestrator *orchestrator.Orchestrator

	redis *redis.Client
	pool  *pgxpool.Pool
}

// New connects to every configured backend and builds the pipeline.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	store, redisClient, err := kvstore.Open(ctx, cfg.Store, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("opening key-value store: %w", err)
	}
	a.Store, a.redis = store, redisClient

	if err := a.openIndex(ctx); err != nil {
		a.Close()
		return nil, err
	}

	embedProvider, err := embedding.NewOpenAIProvider(cfg.Embedding)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}
	a.Embeddings = embedding.NewCache(embedProvider, store, embedding.CacheOptions{
		TTL:       cfg.Embedding.CacheTTL,
		BatchSize: cfg.Embedding.BatchSize,
	})
	a.Indexer = ingest.NewIndexer(a.Embeddings, a.Index)

	a.Retrieval = retrieval.NewEngine(a.Embeddings, a.Index, store, retrieval.Options{
		CacheTTL:        cfg.Retrieval.CacheTTL,
		CacheMaxResults: cfg.Retrieval.CacheMaxResult,
		Normalization:   retrieval.Normalization(cfg.Retrieval.Normalization),
	})

	llmProvider, err := llm.NewOpenAIProvider(cfg.LLM)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating completion provider: %w", err)
	}
	a.Invoker = llm.NewInvoker(llmProvider, llm.InvokerOptions{
		MaxAttempts: cfg.LLM.MaxRetries,
		BaseDelay:   cfg.LLM.BaseDelay,
		Pricing: llm.Pricing{
			InputPerMillion:  cfg.LLM.InputPricePerM,
			OutputPerMillion: cfg.LLM.OutputPricePerM,
		},
		Defaults: Params(cfg.LLM),
	})

	a.Responses = respcache.New(store, cfg.ResponseCache.TTL, cfg.ResponseCache.Enabled)
	convLimits := memory.Config{
		MaxTurns:  cfg.Conversation.MaxTurns,
		MaxTokens: cfg.Conversation.MaxTokens,
		TTLSec:    int(cfg.Conversation.TTL.Seconds()),
	}
	tenantLimits, err := memory.ParseTenantLimits(convLimits, []byte(cfg.Conversation.TenantLimits))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Memory = memory.New(store, convLimits, memory.WithTenantLimits(tenantLimits))

	if cfg.NATS.URL != "" {
		a.NATS, err = inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Publisher = inats.NewPublisher(a.NATS.JetStream())
	}

	deps := orchestrator.Deps{
		Retriever:     a.Retrieval,
		LLM:           a.Invoker,
		Cache:         a.Responses,
		Conversations: a.Memory,
	}
	if a.Publisher != nil {
		deps.Events = a.Publisher
	}
	a.Orchestrator = orchestrator.New(deps, Defaults(cfg))

	return a, nil
}

func (a *App) openIndex(ctx context.Context) error {
	cfg := a.Config
	switch cfg.Index.Backend {
	case "chromem":
		idx, err := vectorindex.NewChromemIndex(cfg.Index.Path, cfg.Index.Collection)
		if err != nil {
			return err
		}
		a.Index = idx
	case "pgvector":
		if err := database.RunMigrations(cfg.DB.DSN(), cfg.Index.Migrations); err != nil {
			return err
		}
		pool, err := database.NewPostgresPool(ctx, cfg.DB)
		if err != nil {
			return err
		}
		a.pool = pool
		a.Index = vectorindex.NewPostgresIndex(pool)
	default:
		return fmt.Errorf("unknown index backend %q", cfg.Index.Backend)
	}
	slog.Info("vector index ready", "backend", cfg.Index.Backend)
	return nil
}

// Params are the completion defaults from configuration.
func Params(cfg config.LLMConfig) llm.Params {
	return llm.Params{Temperature: cfg.Temperature, MaxTokens: cfg.MaxTokens, TopP: cfg.TopP}
}

// Defaults are the generation defaults from configuration.
func Defaults(cfg *config.Config) orchestrator.Defaults {
	asm := assembly.DefaultOptions()
	asm.MinScore = cfg.Context.MinScore
	asm.SimilarityThreshold = cfg.Context.SimilarityThreshold
	asm.DiversityWeight = cfg.Context.DiversityWeight
	asm.MaxTokens = cfg.Context.MaxTokens
	asm.SystemPrompt = cfg.Context.SystemPrompt

	return orchestrator.Defaults{
		TopK:           cfg.Retrieval.TopK,
		ScoreThreshold: cfg.Retrieval.ScoreThreshold,
		Assembly:       asm,
		Params:         Params(cfg.LLM),
		UseCache:       cfg.ResponseCache.Enabled,
	}
}

// MemoryStore returns the in-process store when that backend is active.
func (a *App) MemoryStore() (*kvstore.MemoryStore, bool) {
	ms, ok := a.Store.(*kvstore.MemoryStore)
	return ms, ok
}

// Ping checks the key-value store.
func (a *App) Ping(ctx context.Context) error {
	return a.Store.Ping(ctx)
}

// CheckIndex checks that the vector index answers.
func (a *App) CheckIndex(ctx context.Context) error {
	_, err := a.Index.Count(ctx)
	return err
}

// CheckNATS reports a disconnected NATS client.
func (a *App) CheckNATS(context.Context) error {
	if !a.NATS.Healthy() {
		return errors.New("nats disconnected")
	}
	return nil
}

// Close waits for background work and releases connections.
func (a *App) Close() {
	if a.Orchestrator != nil {
		a.Orchestrator.Wait()
	}
	if a.NATS != nil {
		a.NATS.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Warn("closing redis client", "error", err)
		}
	}
}
