package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aiox-platform/notigen/internal/llm"
	"github.com/aiox-platform/notigen/internal/metrics"
	inats "github.com/aiox-platform/notigen/internal/nats"
)

type EventType string

const (
	EventRetrieval EventType = "retrieval"
	EventAssembly  EventType = "assembly"
	EventContent   EventType = "content"
	EventSources   EventType = "sources"
	EventComplete  EventType = "complete"
	EventError     EventType = "error"
)

// Event is one step of a streamed generation. Data holds the payload type
// matching Type.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

type RetrievalEvent struct {
	Count  int   `json:"count"`
	TimeMs int64 `json:"time_ms"`
}

type AssemblyEvent struct {
	ContextCount int   `json:"context_count"`
	Tokens       int   `json:"tokens"`
	TimeMs       int64 `json:"time_ms"`
}

type ContentEvent struct {
	Chunk  string `json:"chunk"`
	Tokens int    `json:"tokens"`
}

type SourcesEvent struct {
	Sources []SourceCitation `json:"sources"`
}

type CompleteEvent struct {
	Timings    Timings          `json:"timings"`
	TokensUsed llm.Usage        `json:"tokens_used"`
	Cost       float64          `json:"cost"`
	Model      string           `json:"model"`
	Sources    []SourceCitation `json:"sources"`
}

type ErrorEvent struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Stream delivers the events of one streamed generation. The events channel
// is closed after the complete or error event.
type Stream struct {
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (s *Stream) Events() <-chan Event { return s.events }

// Err returns the error reported by the terminal error event, if any.
// It is meaningful once Events is closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the generation and waits for it to release the LLM stream.
func (s *Stream) Close() {
	s.cancel()
	<-s.done
}

// GenerateStream runs the pipeline and streams its progress. Invalid requests
// are rejected before the stream starts; later failures arrive as an error
// event.
func (o *Orchestrator) GenerateStream(ctx context.Context, query string, opts Options) (*Stream, error) {
	if err := o.validator.Validate(query, opts); err != nil {
		o.fail(ctx, "stream", query, "", err, 0)
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		events: make(chan Event),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		defer close(s.events)
		defer cancel()
		o.runStream(ctx, s, query, opts)
	}()
	return s, nil
}

func (o *Orchestrator) runStream(ctx context.Context, s *Stream, query string, opts Options) {
	ctx, span := tracer.Start(ctx, "orchestrator.GenerateStream")
	defer span.End()

	start := time.Now()
	emit := func(t EventType, data any) bool {
		select {
		case s.events <- Event{Type: t, Data: data}:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		span.RecordError(err)
		o.fail(ctx, "stream", query, "", err, time.Since(start))
		emit(EventError, ErrorEvent{Message: err.Error(), Code: ErrorCode(err)})
	}

	r := o.defaults.resolve(query, opts)
	retrieved, assembled, timings, err := o.prepare(ctx, r, query)
	if err != nil {
		fail(err)
		return
	}
	if !emit(EventRetrieval, RetrievalEvent{Count: len(retrieved.Results), TimeMs: timings.RetrievalMs}) {
		fail(ctx.Err())
		return
	}
	if !emit(EventAssembly, AssemblyEvent{
		ContextCount: len(assembled.Selected),
		Tokens:       assembled.Metadata.EstimatedTokens,
		TimeMs:       timings.AssemblyMs,
	}) {
		fail(ctx.Err())
		return
	}

	genStart := time.Now()
	llmStream, err := o.deps.LLM.Stream(ctx, llm.Request{
		SystemPrompt: assembled.SystemPrompt,
		UserPrompt:   assembled.UserPrompt,
		Params:       &r.params,
	})
	if err != nil {
		fail(err)
		return
	}
	defer llmStream.Close()

	for llmStream.Next() {
		c := llmStream.Chunk()
		if !emit(EventContent, ContentEvent{Chunk: c.Content, Tokens: c.ApproxTokens}) {
			fail(ctx.Err())
			return
		}
	}
	if err := llmStream.Err(); err != nil {
		fail(err)
		return
	}
	timings.GenerationMs = time.Since(genStart).Milliseconds()

	sources := citations(assembled.Selected)
	if !emit(EventSources, SourcesEvent{Sources: sources}) {
		fail(ctx.Err())
		return
	}

	usage := llmStream.Usage()
	cost := llmStream.Cost()
	timings.TotalMs = time.Since(start).Milliseconds()

	o.stats.success(true, usage.TotalTokens, cost, false, timings.TotalMs)
	metrics.GenerationsTotal.WithLabelValues("stream", "success").Inc()
	metrics.GenerationDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())
	o.publish(ctx, inats.GenerationEvent{
		Mode:         "stream",
		Outcome:      "success",
		Query:        query,
		Model:        llmStream.Model(),
		SourceIDs:    sourceIDs(sources),
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		Cost:         cost,
		LatencyMs:    timings.TotalMs,
	})

	if !emit(EventComplete, CompleteEvent{
		Timings:    timings,
		TokensUsed: usage,
		Cost:       cost,
		Model:      llmStream.Model(),
		Sources:    sources,
	}) {
		slog.Debug("stream consumer left before completion event")
	}
}
