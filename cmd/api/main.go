package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/aiox-platform/notigen/internal/api"
	"github.com/aiox-platform/notigen/internal/app"
	"github.com/aiox-platform/notigen/internal/config"
	"github.com/aiox-platform/notigen/internal/ingest"
	"github.com/aiox-platform/notigen/internal/memory"
	inats "github.com/aiox-platform/notigen/internal/nats"
	"github.com/aiox-platform/notigen/internal/orchestrator"
	"github.com/aiox-platform/notigen/internal/retrieval"
	"github.com/aiox-platform/notigen/internal/scheduler"
	"github.com/aiox-platform/notigen/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("starting pipeline", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	// Template corpus
	if cfg.Templates.Dir != "" {
		watcher := ingest.NewWatcher(a.Indexer, cfg.Templates.Dir)
		n, err := watcher.IngestAll(ctx)
		if err != nil {
			slog.Error("ingesting template dir", "dir", cfg.Templates.Dir, "error", err)
			os.Exit(1)
		}
		slog.Info("template corpus loaded", "dir", cfg.Templates.Dir, "templates", n)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := watcher.Run(ctx); err != nil {
				slog.Error("template watcher stopped", "error", err)
			}
		}()
	}

	if a.NATS != nil {
		consumer := ingest.NewConsumer(a.Indexer, inats.NewConsumerManager(a.NATS.JetStream()))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("template consumer stopped", "error", err)
			}
		}()
	}

	// Periodic jobs
	sched := scheduler.New()
	if ms, ok := a.MemoryStore(); ok {
		if err := sched.Add("store-sweep", cfg.Store.SweepSchedule, scheduler.SweepJob(ms)); err != nil {
			slog.Error("scheduling store sweep", "error", err)
			os.Exit(1)
		}
	}
	err = sched.Add("stats-snapshot", scheduler.StatsSchedule, scheduler.StatsJob(map[string]func() any{
		"generation": func() any { return a.Orchestrator.Stats() },
		"retrieval":  func() any { return a.Retrieval.Stats() },
		"embedding":  func() any { return a.Embeddings.Stats() },
	}))
	if err != nil {
		slog.Error("scheduling stats snapshot", "error", err)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	// Handlers
	genHandler := orchestrator.NewHandler(a.Orchestrator, a.Retrieval)
	searchHandler := retrieval.NewHandler(a.Retrieval)
	convHandler := memory.NewHandler(a.Memory)

	routerCfg := api.RouterConfig{
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
		Required: map[string]api.HealthCheck{
			"store": a.Ping,
			"index": a.CheckIndex,
		},
		Optional: map[string]api.HealthCheck{"nats": nil},
	}
	if a.NATS != nil {
		routerCfg.Optional["nats"] = a.CheckNATS
	}

	router := api.NewRouter(routerCfg, api.HandlerSet{
		Generate:               genHandler.Generate,
		GenerateStream:         genHandler.GenerateStream,
		GenerateInConversation: genHandler.GenerateInConversation,
		Stats:                  genHandler.Stats,
		ResetStats:             genHandler.ResetStats,

		Search:          searchHandler.Search,
		SimilarTemplate: searchHandler.Similar,
		RetrievalStats:  searchHandler.Stats,

		CreateConversation:  convHandler.Create,
		ListConversations:   convHandler.List,
		ClearConversations:  convHandler.Clear,
		GetConversation:     convHandler.Get,
		ConversationContext: convHandler.Context,
		DeleteConversation:  convHandler.Delete,
	})

	// Start server
	srv := server.New(cfg.Server, router)
	if err := srv.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
