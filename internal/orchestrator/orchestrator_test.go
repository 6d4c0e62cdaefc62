package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/aiox-platform/notigen/internal/assembly"
	"github.com/aiox-platform/notigen/internal/kvstore"
	"github.com/aiox-platform/notigen/internal/llm"
	"github.com/aiox-platform/notigen/internal/memory"
	inats "github.com/aiox-platform/notigen/internal/nats"
	"github.com/aiox-platform/notigen/internal/respcache"
	"github.com/aiox-platform/notigen/internal/retrieval"
	"github.com/aiox-platform/notigen/internal/vectorindex"
)

type fakeRetriever struct {
	mu      sync.Mutex
	results []retrieval.Result
	err     error
	queries []retrieval.Query
}

func (f *fakeRetriever) Search(_ context.Context, q retrieval.Query) (*retrieval.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	return &retrieval.Response{
		Results:  f.results,
		Metadata: retrieval.Metadata{TotalResults: len(f.results)},
	}, nil
}

var fakeUsage = llm.Usage{InputTokens: 1000, OutputTokens: 50, TotalTokens: 1050}

// fakeProvider fails with errs in order, then answers with content. Streams
// emit one word per chunk followed by a usage report.
type fakeProvider struct {
	mu       sync.Mutex
	content  string
	errs     []error
	calls    int
	lastMsgs []llm.Message
}

func (p *fakeProvider) Model() string { return "fake-model" }

func (p *fakeProvider) next(msgs []llm.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.lastMsgs = msgs
	if p.calls <= len(p.errs) {
		return p.errs[p.calls-1]
	}
	return nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeProvider) messages() []llm.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastMsgs
}

func (p *fakeProvider) Complete(_ context.Context, msgs []llm.Message, _ llm.Params) (*llm.Completion, error) {
	if err := p.next(msgs); err != nil {
		return nil, err
	}
	return &llm.Completion{Content: p.content, Model: "fake-model", FinishReason: "stop", Usage: fakeUsage}, nil
}

func (p *fakeProvider) Stream(ctx context.Context, msgs []llm.Message, _ llm.Params) (<-chan llm.StreamChunk, error) {
	if err := p.next(msgs); err != nil {
		return nil, err
	}
	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		for _, w := range strings.Fields(p.content) {
			select {
			case ch <- llm.StreamChunk{Content: w + " "}:
			case <-ctx.Done():
				return
			}
		}
		usage := fakeUsage
		select {
		case ch <- llm.StreamChunk{Done: true, FinishReason: "stop", Usage: &usage}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []inats.GenerationEvent
}

func (f *fakePublisher) PublishGeneration(_ context.Context, e inats.GenerationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakePublisher) all() []inats.GenerationEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]inats.GenerationEvent(nil), f.events...)
}

type fixture struct {
	orch      *Orchestrator
	retriever *fakeRetriever
	provider  *fakeProvider
	events    *fakePublisher
	store     *kvstore.MemoryStore
}

func newFixture(t *testing.T, results []retrieval.Result) *fixture {
	t.Helper()
	f := &fixture{
		retriever: &fakeRetriever{results: results},
		provider:  &fakeProvider{content: "Good news: your order has shipped."},
		events:    &fakePublisher{},
		store:     kvstore.NewMemoryStore(),
	}
	invoker := llm.NewInvoker(f.provider, llm.InvokerOptions{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Pricing:     llm.Pricing{InputPerMillion: 0.15, OutputPerMillion: 0.60},
		Defaults:    llm.Params{Temperature: 0.7, MaxTokens: 1000, TopP: 1},
	})
	f.orch = New(Deps{
		Retriever:     f.retriever,
		LLM:           invoker,
		Cache:         respcache.New(f.store, time.Hour, true),
		Events:        f.events,
		Conversations: memory.New(f.store, memory.DefaultConfig()),
	}, Defaults{
		TopK:           5,
		ScoreThreshold: 0.7,
		Assembly:       assembly.DefaultOptions(),
		Params:         llm.Params{Temperature: 0.7, MaxTokens: 1000, TopP: 1},
		UseCache:       true,
	})
	t.Cleanup(f.orch.Wait)
	return f
}

func sampleResults() []retrieval.Result {
	return []retrieval.Result{
		{ID: "ship-email", Score: 0.92, Payload: vectorindex.Payload{
			Content: "Hi {name}, your order {order_id} has shipped and will arrive {eta}.",
			Channel: "email", Category: "order", Tone: "friendly",
		}},
		{ID: "ship-sms", Score: 0.81, Payload: vectorindex.Payload{
			Content: "Order {order_id} shipped. Track: {link}",
			Channel: "sms", Category: "order",
		}},
		{ID: "weak", Score: 0.3, Payload: vectorindex.Payload{Content: "Unrelated marketing blast"}},
	}
}

func boolPtr(b bool) *bool          { return &b }
func floatPtr(f float64) *float64 { return &f }

func TestGenerate_CitesSelectedTemplates(t *testing.T) {
	f := newFixture(t, sampleResults())

	res, err := f.orch.Generate(context.Background(), "Generate order shipment notification", Options{})
	require.NoError(t, err)

	assert.Equal(t, "Good news: your order has shipped.", res.Content)
	require.Len(t, res.Sources, 2)
	assert.Equal(t, "ship-email", res.Sources[0].ID)
	assert.Equal(t, 1, res.Sources[0].Rank)
	assert.Equal(t, 2, res.Sources[1].Rank)
	assert.Equal(t, "email", res.Sources[0].Channel)
	assert.Equal(t, fakeUsage, res.Metadata.Tokens)
	assert.Greater(t, res.Metadata.Cost, 0.0)
	assert.Equal(t, "fake-model", res.Metadata.Model)
	assert.False(t, res.Metadata.CacheHit)
	assert.Equal(t, 3, res.Metadata.Context.TotalResults)
	assert.Equal(t, 2, res.Metadata.Context.SelectedResults)

	msgs := f.provider.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, assembly.DefaultSystemPrompt, msgs[0].Content)
	assert.Contains(t, msgs[1].Content, "## Template Examples")
	assert.NotContains(t, msgs[1].Content, "Unrelated marketing blast")

	q := f.retriever.queries[0]
	assert.Equal(t, 5, q.TopK)
	assert.Equal(t, 0.7, q.ScoreThreshold)
}

func TestGenerate_EmptyRetrievalStillGenerates(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.orch.Generate(context.Background(), "Generate order shipment notification", Options{})
	require.NoError(t, err)

	require.NotNil(t, res.Sources)
	assert.Empty(t, res.Sources)

	msgs := f.provider.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, assembly.DefaultSystemPrompt, msgs[0].Content)
	assert.Equal(t, "## User Request\n\nGenerate order shipment notification", msgs[1].Content)
}

func TestGenerate_CacheHitCostsNothing(t *testing.T) {
	f := newFixture(t, sampleResults())
	ctx := context.Background()

	first, err := f.orch.Generate(ctx, "Generate order shipment notification", Options{})
	require.NoError(t, err)
	f.orch.Wait()

	second, err := f.orch.Generate(ctx, "Generate order shipment notification", Options{})
	require.NoError(t, err)

	assert.True(t, second.Metadata.CacheHit)
	assert.Zero(t, second.Metadata.Cost)
	assert.InDelta(t, first.Metadata.Cost, second.Metadata.OriginalCost, 1e-12)
	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, first.Metadata.Tokens, second.Metadata.Tokens)
	assert.Equal(t, "fake-model", second.Metadata.Model)
	assert.Equal(t, 1, f.provider.callCount())

	stats := f.orch.Stats()
	assert.Equal(t, int64(2), stats.TotalGenerations)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.InDelta(t, first.Metadata.Cost, stats.TotalCost, 1e-12)
}

func TestGenerate_CacheHitReportsOriginalLatency(t *testing.T) {
	f := newFixture(t, sampleResults())
	ctx := context.Background()

	_, err := f.orch.Generate(ctx, "Generate order shipment notification", Options{})
	require.NoError(t, err)
	f.orch.Wait()

	keys, err := f.store.Keys(ctx, "resp:*")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	cache := respcache.New(f.store, time.Hour, true)
	require.NoError(t, cache.Set(ctx, keys[0], respcache.CachedResponse{
		Response:   "Replayed.",
		TokensUsed: fakeUsage,
		Cost:       0.0042,
		Model:      "fake-model",
		LatencyMs:  850,
	}))

	res, err := f.orch.Generate(ctx, "Generate order shipment notification", Options{})
	require.NoError(t, err)
	assert.True(t, res.Metadata.CacheHit)
	assert.Equal(t, "Replayed.", res.Content)
	assert.Zero(t, res.Metadata.Cost)
	assert.Equal(t, 0.0042, res.Metadata.OriginalCost)
	assert.Equal(t, int64(850), res.Metadata.CachedLatencyMs)
}

func TestGenerate_CacheBypassed(t *testing.T) {
	f := newFixture(t, sampleResults())
	ctx := context.Background()

	for range 2 {
		res, err := f.orch.Generate(ctx, "Generate order shipment notification", Options{UseCache: boolPtr(false)})
		require.NoError(t, err)
		assert.False(t, res.Metadata.CacheHit)
	}
	f.orch.Wait()
	assert.Equal(t, 2, f.provider.callCount())
	assert.Zero(t, f.store.Len())
}

func TestGenerate_ParamsChangeCacheKey(t *testing.T) {
	f := newFixture(t, sampleResults())
	ctx := context.Background()

	_, err := f.orch.Generate(ctx, "Generate order shipment notification", Options{})
	require.NoError(t, err)
	f.orch.Wait()

	res, err := f.orch.Generate(ctx, "Generate order shipment notification", Options{Temperature: floatPtr(0.1)})
	require.NoError(t, err)
	assert.False(t, res.Metadata.CacheHit)
	assert.Equal(t, 2, f.provider.callCount())
}

func TestGenerate_RetriesRateLimit(t *testing.T) {
	f := newFixture(t, sampleResults())
	f.provider.errs = []error{&llm.ProviderError{StatusCode: 429}, &llm.ProviderError{StatusCode: 429}}

	res, err := f.orch.Generate(context.Background(), "Generate order shipment notification", Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Metadata.RetryCount)
	assert.Equal(t, 3, f.provider.callCount())
}

func TestGenerate_LLMFailure(t *testing.T) {
	f := newFixture(t, sampleResults())
	f.provider.errs = []error{&llm.ProviderError{StatusCode: 401, Message: "bad key"}}

	_, err := f.orch.Generate(context.Background(), "Generate order shipment notification", Options{})
	require.Error(t, err)

	var invErr *llm.InvocationError
	require.True(t, errors.As(err, &invErr))
	assert.Equal(t, llm.ErrAuth, invErr.Type)
	assert.Equal(t, "AUTH_ERROR", ErrorCode(err))
	assert.Equal(t, int64(1), f.orch.Stats().Failures)

	f.orch.Wait()
	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, "failure", events[0].Outcome)
	assert.Equal(t, "AUTH_ERROR", events[0].ErrorCode)
}

func TestGenerate_RetrievalFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.retriever.err = errors.New("index offline")

	_, err := f.orch.Generate(context.Background(), "Generate order shipment notification", Options{})
	require.Error(t, err)
	assert.Equal(t, "INTERNAL", ErrorCode(err))
	assert.Zero(t, f.provider.callCount())
}

func TestGenerate_Validation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		query string
		opts  Options
	}{
		{"empty query", "   ", Options{}},
		{"query too long", strings.Repeat("a", MaxQueryLength+1), Options{}},
		{"top k too large", "ok", Options{TopK: 51}},
		{"threshold above one", "ok", Options{ScoreThreshold: floatPtr(1.5)}},
		{"temperature above two", "ok", Options{Temperature: floatPtr(2.5)}},
		{"diversity negative", "ok", Options{DiversityWeight: floatPtr(-0.1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orch.Generate(ctx, tt.query, tt.opts)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
	assert.Zero(t, f.provider.callCount())
	assert.Empty(t, f.retriever.queries)
}

func TestGenerate_OptionsOverrideDefaults(t *testing.T) {
	f := newFixture(t, sampleResults())
	filter := vectorindex.Filter{Channel: "sms"}

	_, err := f.orch.Generate(context.Background(), "Generate order shipment notification", Options{
		TopK:           3,
		ScoreThreshold: floatPtr(0),
		Filter:         filter,
		SystemPrompt:   "Write SMS only.",
	})
	require.NoError(t, err)

	q := f.retriever.queries[0]
	assert.Equal(t, 3, q.TopK)
	assert.Zero(t, q.ScoreThreshold)
	assert.Equal(t, filter, q.Filter)
	assert.Equal(t, "Write SMS only.", f.provider.messages()[0].Content)
}

func TestGenerate_PublishesSuccessEvent(t *testing.T) {
	f := newFixture(t, sampleResults())

	_, err := f.orch.Generate(context.Background(), "Generate order shipment notification", Options{})
	require.NoError(t, err)
	f.orch.Wait()

	events := f.events.all()
	require.Len(t, events, 1)
	e := events[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "sync", e.Mode)
	assert.Equal(t, "success", e.Outcome)
	assert.Equal(t, []string{"ship-email", "ship-sms"}, e.SourceIDs)
	assert.Equal(t, 1000, e.InputTokens)
}

func TestGenerate_WithoutOptionalDeps(t *testing.T) {
	provider := &fakeProvider{content: "done"}
	orch := New(Deps{
		Retriever: &fakeRetriever{},
		LLM:       llm.NewInvoker(provider, llm.InvokerOptions{BaseDelay: time.Millisecond}),
	}, Defaults{UseCache: true})

	res, err := orch.Generate(context.Background(), "anything", Options{})
	require.NoError(t, err)
	assert.Equal(t, "done", res.Content)

	_, err = orch.StartConversation(context.Background(), "u", memory.Metadata{})
	assert.ErrorIs(t, err, ErrConversationsDisabled)
}

func TestStats_AverageLatencyAndReset(t *testing.T) {
	var r statsRecorder
	r.success(false, 100, 0.1, false, 100)
	r.success(true, 50, 0.2, true, 300)
	r.failure()

	s := r.snapshot()
	assert.Equal(t, int64(2), s.TotalGenerations)
	assert.Equal(t, int64(1), s.StreamedCount)
	assert.Equal(t, int64(150), s.TotalTokensUsed)
	assert.InDelta(t, 0.3, s.TotalCost, 1e-12)
	assert.Equal(t, int64(1), s.CacheHits)
	assert.Equal(t, int64(1), s.Failures)
	assert.InDelta(t, 200, s.AvgLatencyMs, 1e-9)

	r.reset()
	assert.Equal(t, Stats{}, r.snapshot())
}

func TestStats_RunningMeanMatchesArithmeticMean(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		latencies := rapid.SliceOfN(rapid.Int64Range(0, 60_000), 1, 200).Draw(t, "latencies")
		var r statsRecorder
		var sum float64
		for _, l := range latencies {
			r.success(false, 0, 0, false, l)
			sum += float64(l)
		}
		want := sum / float64(len(latencies))
		if got := r.snapshot().AvgLatencyMs; got < want-1e-6 || got > want+1e-6 {
			t.Fatalf("running mean %f, arithmetic mean %f", got, want)
		}
	})
}

func TestCitations_ExcerptBounded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		content := rapid.String().Draw(t, "content")
		cites := citations([]retrieval.Result{{ID: "x", Payload: vectorindex.Payload{Content: content}}})
		ex := cites[0].Excerpt
		if len([]rune(ex)) > excerptLength {
			t.Fatalf("excerpt has %d runes", len([]rune(ex)))
		}
		if !strings.HasPrefix(content, ex) {
			t.Fatalf("excerpt %q is not a prefix of %q", ex, content)
		}
	})
}
