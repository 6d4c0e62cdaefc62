// Package orchestrator runs the notification generation pipeline:
// retrieval, context assembly, response cache, completion and citations.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aiox-platform/notigen/internal/assembly"
	"github.com/aiox-platform/notigen/internal/llm"
	"github.com/aiox-platform/notigen/internal/memory"
	"github.com/aiox-platform/notigen/internal/metrics"
	inats "github.com/aiox-platform/notigen/internal/nats"
	"github.com/aiox-platform/notigen/internal/respcache"
	"github.com/aiox-platform/notigen/internal/retrieval"
)

var tracer = otel.Tracer("github.com/aiox-platform/notigen/internal/orchestrator")

// backgroundTimeout bounds fire-and-forget cache writes and event publishing.
const backgroundTimeout = 5 * time.Second

type Retriever interface {
	Search(ctx context.Context, q retrieval.Query) (*retrieval.Response, error)
}

type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Result, error)
	Stream(ctx context.Context, req llm.Request) (*llm.Stream, error)
	Model() string
}

type ResponseCache interface {
	IsAvailable(ctx context.Context) bool
	Get(ctx context.Context, key string) (*respcache.CachedResponse, bool)
	Set(ctx context.Context, key string, resp respcache.CachedResponse) error
}

type EventPublisher interface {
	PublishGeneration(ctx context.Context, event inats.GenerationEvent) error
}

// Conversations is the conversation memory used by the conversational
// variants. *memory.Memory satisfies it.
type Conversations interface {
	Create(ctx context.Context, userID string, meta memory.Metadata) (string, error)
	AddTurn(ctx context.Context, id string, turn memory.Turn) (*memory.History, error)
	Get(ctx context.Context, id string) (*memory.History, error)
	GetRecentContext(ctx context.Context, id string, n int) (string, error)
	List(ctx context.Context, userID string) ([]*memory.History, error)
	Delete(ctx context.Context, id string) error
	ClearUser(ctx context.Context, userID string) (int, error)
}

// Deps are the orchestrator's collaborators. Retriever and LLM are required;
// the rest are optional and skipped when nil.
type Deps struct {
	Retriever     Retriever
	LLM           Completer
	Cache         ResponseCache
	Events        EventPublisher
	Conversations Conversations
}

type Orchestrator struct {
	deps      Deps
	defaults  Defaults
	validator *Validator
	stats     statsRecorder

	// tracks background cache writes and event publishes
	bg sync.WaitGroup
}

func New(deps Deps, defaults Defaults) *Orchestrator {
	if defaults.TopK <= 0 {
		defaults.TopK = retrieval.DefaultTopK
	}
	if defaults.Assembly.MaxTokens <= 0 {
		defaults.Assembly = assembly.DefaultOptions()
	}
	return &Orchestrator{
		deps:      deps,
		defaults:  defaults,
		validator: NewValidator(),
	}
}

// Generate produces a notification for query.
func (o *Orchestrator) Generate(ctx context.Context, query string, opts Options) (*Result, error) {
	return o.generate(ctx, "sync", query, "", opts, "")
}

// generate runs the pipeline for query. A non-empty history is prepended to
// the request after the query itself has been validated.
func (o *Orchestrator) generate(ctx context.Context, mode, query, history string, opts Options, conversationID string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.Generate", trace.WithAttributes(attribute.String("generation.mode", mode)))
	defer span.End()

	start := time.Now()
	res, err := o.run(ctx, query, history, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		o.fail(ctx, mode, query, conversationID, err, time.Since(start))
		return nil, err
	}

	res.Metadata.ConversationID = conversationID
	res.Metadata.Timings.TotalMs = time.Since(start).Milliseconds()
	span.SetAttributes(
		attribute.Bool("generation.cache_hit", res.Metadata.CacheHit),
		attribute.Int("generation.sources", len(res.Sources)),
	)

	o.stats.success(false, res.Metadata.Tokens.TotalTokens, res.Metadata.Cost, res.Metadata.CacheHit, res.Metadata.Timings.TotalMs)
	metrics.GenerationsTotal.WithLabelValues(mode, "success").Inc()
	metrics.GenerationDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())
	o.publish(ctx, inats.GenerationEvent{
		Mode:           mode,
		Outcome:        "success",
		ConversationID: conversationID,
		Query:          query,
		Model:          res.Metadata.Model,
		SourceIDs:      sourceIDs(res.Sources),
		InputTokens:    res.Metadata.Tokens.InputTokens,
		OutputTokens:   res.Metadata.Tokens.OutputTokens,
		Cost:           res.Metadata.Cost,
		CacheHit:       res.Metadata.CacheHit,
		RetryCount:     res.Metadata.RetryCount,
		LatencyMs:      res.Metadata.Timings.TotalMs,
	})

	slog.Debug("generation completed",
		"mode", mode,
		"sources", len(res.Sources),
		"cache_hit", res.Metadata.CacheHit,
		"tokens", res.Metadata.Tokens.TotalTokens,
		"total_ms", res.Metadata.Timings.TotalMs,
	)
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, query, history string, opts Options) (*Result, error) {
	if err := o.validator.Validate(query, opts); err != nil {
		return nil, err
	}
	text := withHistory(history, query)
	r := o.defaults.resolve(text, opts)

	retrieved, assembled, timings, err := o.prepare(ctx, r, text)
	if err != nil {
		return nil, err
	}
	sources := citations(assembled.Selected)

	res := &Result{
		Sources: sources,
		Metadata: ResultMetadata{
			Timings:   timings,
			Retrieval: retrieved.Metadata,
			Context:   assembled.Metadata,
		},
	}

	genStart := time.Now()
	cacheKey := respcache.Key(assembled.SystemPrompt, assembled.UserPrompt, r.params)
	useCache := r.useCache && o.deps.Cache != nil && o.deps.Cache.IsAvailable(ctx)

	if useCache {
		if cached, ok := o.deps.Cache.Get(ctx, cacheKey); ok {
			res.Content = cached.Response
			res.Metadata.Tokens = cached.TokensUsed
			res.Metadata.Model = cached.Model
			res.Metadata.CacheHit = true
			res.Metadata.OriginalCost = cached.Cost
			res.Metadata.CachedLatencyMs = cached.LatencyMs
			res.Metadata.Timings.GenerationMs = time.Since(genStart).Milliseconds()
			return res, nil
		}
	}

	completion, err := o.deps.LLM.Complete(ctx, llm.Request{
		SystemPrompt: assembled.SystemPrompt,
		UserPrompt:   assembled.UserPrompt,
		Params:       &r.params,
	})
	if err != nil {
		return nil, err
	}
	metrics.GenerationDuration.WithLabelValues("generation").Observe(time.Since(genStart).Seconds())

	res.Content = completion.Content
	res.Metadata.Tokens = completion.Usage
	res.Metadata.Cost = completion.Cost
	res.Metadata.Model = completion.Model
	res.Metadata.RetryCount = completion.RetryCount
	res.Metadata.FinishReason = completion.FinishReason
	res.Metadata.Timings.GenerationMs = time.Since(genStart).Milliseconds()

	if useCache {
		o.cacheResponse(ctx, cacheKey, respcache.CachedResponse{
			Response:   completion.Content,
			TokensUsed: completion.Usage,
			Cost:       completion.Cost,
			Model:      completion.Model,
			LatencyMs:  completion.LatencyMs,
		})
	}
	return res, nil
}

// prepare runs retrieval and context assembly.
func (o *Orchestrator) prepare(ctx context.Context, r resolved, query string) (*retrieval.Response, *assembly.Context, Timings, error) {
	var timings Timings

	retStart := time.Now()
	retrieved, err := o.deps.Retriever.Search(ctx, r.query)
	if err != nil {
		return nil, nil, timings, err
	}
	timings.RetrievalMs = time.Since(retStart).Milliseconds()
	metrics.GenerationDuration.WithLabelValues("retrieval").Observe(time.Since(retStart).Seconds())

	asmStart := time.Now()
	assembled := assembly.Assemble(retrieved.Results, query, r.assembly)
	timings.AssemblyMs = time.Since(asmStart).Milliseconds()
	metrics.GenerationDuration.WithLabelValues("assembly").Observe(time.Since(asmStart).Seconds())

	return retrieved, assembled, timings, nil
}

func (o *Orchestrator) cacheResponse(ctx context.Context, key string, resp respcache.CachedResponse) {
	o.background(ctx, func(ctx context.Context) {
		if err := o.deps.Cache.Set(ctx, key, resp); err != nil {
			slog.Warn("response cache write failed", "key", key, "error", err)
		}
	})
}

func (o *Orchestrator) publish(ctx context.Context, event inats.GenerationEvent) {
	if o.deps.Events == nil {
		return
	}
	event.ID = uuid.NewString()
	event.Timestamp = time.Now().UTC()
	o.background(ctx, func(ctx context.Context) {
		if err := o.deps.Events.PublishGeneration(ctx, event); err != nil {
			slog.Warn("publishing generation event", "id", event.ID, "error", err)
		}
	})
}

// background runs fn detached from the request's cancellation but bounded by
// backgroundTimeout.
func (o *Orchestrator) background(ctx context.Context, fn func(ctx context.Context)) {
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (o *Orchestrator) fail(ctx context.Context, mode, query, conversationID string, err error, elapsed time.Duration) {
	o.stats.failure()
	code := ErrorCode(err)
	metrics.GenerationsTotal.WithLabelValues(mode, "failure").Inc()
	if !errors.Is(err, ErrInvalidRequest) {
		slog.Warn("generation failed", "mode", mode, "code", code, "error", err)
	}
	o.publish(ctx, inats.GenerationEvent{
		Mode:           mode,
		Outcome:        "failure",
		ErrorCode:      code,
		ConversationID: conversationID,
		Query:          query,
		LatencyMs:      elapsed.Milliseconds(),
	})
}

// ErrorCode classifies a pipeline error for clients and events.
func ErrorCode(err error) string {
	var invErr *llm.InvocationError
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "INVALID_REQUEST"
	case errors.Is(err, memory.ErrConversationNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrConversationsDisabled):
		return "UNAVAILABLE"
	case errors.As(err, &invErr):
		return string(invErr.Type)
	case errors.Is(err, context.Canceled):
		return "CANCELLED"
	case errors.Is(err, context.DeadlineExceeded):
		return string(llm.ErrTimeout)
	default:
		return "INTERNAL"
	}
}

// Stats returns a snapshot of generation activity.
func (o *Orchestrator) Stats() Stats { return o.stats.snapshot() }

func (o *Orchestrator) ResetStats() { o.stats.reset() }

// Wait blocks until background cache writes and event publishes finish.
func (o *Orchestrator) Wait() { o.bg.Wait() }
