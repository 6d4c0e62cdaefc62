package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/aiox-platform/notigen/internal/metrics"
	"github.com/aiox-platform/notigen/internal/retry"
)

var tracer = otel.Tracer("github.com/aiox-platform/notigen/internal/llm")

type InvokerOptions struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Pricing     Pricing
	Defaults    Params
}

type Request struct {
	SystemPrompt string
	UserPrompt   string
	Params       *Params // nil uses the invoker defaults
}

type Result struct {
	Content      string      `json:"content"`
	Model        string      `json:"model"`
	FinishReason string      `json:"finish_reason"`
	Usage        Usage       `json:"usage"`
	Cost         float64     `json:"cost"`
	LatencyMs    int64       `json:"latency_ms"`
	Attempts     int         `json:"attempts"`
	RetryCount   int         `json:"retry_count"`
	Failures     []ErrorType `json:"failures,omitempty"`
}

// Invoker calls a Provider with classified retries and computes usage cost.
type Invoker struct {
	provider Provider
	opts     InvokerOptions
}

func NewInvoker(provider Provider, opts InvokerOptions) *Invoker {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	return &Invoker{provider: provider, opts: opts}
}

func (inv *Invoker) Model() string { return inv.provider.Model() }

func (inv *Invoker) Pricing() Pricing { return inv.opts.Pricing }

func (inv *Invoker) policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: inv.opts.MaxAttempts,
		BaseDelay:   inv.opts.BaseDelay,
		Multiplier:  2,
		Jitter:      0.25,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			slog.Warn("llm attempt failed, retrying",
				"attempt", attempt, "class", Classify(err), "delay", delay, "error", err)
		},
	}
}

func (inv *Invoker) params(req Request) Params {
	if req.Params != nil {
		return *req.Params
	}
	return inv.opts.Defaults
}

func messages(req Request) []Message {
	msgs := make([]Message, 0, 2)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: req.SystemPrompt})
	}
	return append(msgs, Message{Role: RoleUser, Content: req.UserPrompt})
}

// Complete runs one completion. Retryable failures are retried with
// exponential backoff; the final failure is returned as *InvocationError.
func (inv *Invoker) Complete(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "llm.Complete")
	defer span.End()

	start := time.Now()
	params := inv.params(req)
	msgs := messages(req)

	var (
		completion *Completion
		failures   []ErrorType
	)
	attempts, err := retry.Do(ctx, inv.policy(), func(ctx context.Context, attempt int) error {
		c, err := inv.provider.Complete(ctx, msgs, params)
		if err != nil {
			class := Classify(err)
			failures = append(failures, class)
			metrics.LLMAttemptsTotal.WithLabelValues(string(class)).Inc()
			return err
		}
		metrics.LLMAttemptsTotal.WithLabelValues("success").Inc()
		completion = c
		return nil
	}, func(err error, attempt int) bool {
		return Classify(err).Retryable(attempt)
	})
	span.SetAttributes(attribute.Int("llm.attempts", attempts))
	if err != nil {
		return nil, invocationError(err, attempts)
	}

	model := completion.Model
	if model == "" {
		model = inv.provider.Model()
	}
	cost := inv.opts.Pricing.Cost(completion.Usage)
	recordUsage(completion.Usage, cost)

	return &Result{
		Content:      completion.Content,
		Model:        model,
		FinishReason: completion.FinishReason,
		Usage:        completion.Usage,
		Cost:         cost,
		LatencyMs:    time.Since(start).Milliseconds(),
		Attempts:     attempts,
		RetryCount:   attempts - 1,
		Failures:     failures,
	}, nil
}

// Stream opens a streaming completion. Opening failures are retried like
// Complete; once the first chunk has arrived the stream is not retried.
func (inv *Invoker) Stream(ctx context.Context, req Request) (*Stream, error) {
	params := inv.params(req)
	msgs := messages(req)

	var s *Stream
	attempts, err := retry.Do(ctx, inv.policy(), func(ctx context.Context, attempt int) error {
		streamCtx, cancel := context.WithCancel(ctx)
		ch, err := inv.provider.Stream(streamCtx, msgs, params)
		if err != nil {
			cancel()
			metrics.LLMAttemptsTotal.WithLabelValues(string(Classify(err))).Inc()
			return err
		}

		var first StreamChunk
		select {
		case c, ok := <-ch:
			if !ok {
				first = StreamChunk{Done: true}
			} else {
				first = c
			}
		case <-ctx.Done():
			cancel()
			return ctx.Err()
		}
		if first.Err != nil {
			cancel()
			metrics.LLMAttemptsTotal.WithLabelValues(string(Classify(first.Err))).Inc()
			return first.Err
		}

		metrics.LLMAttemptsTotal.WithLabelValues("success").Inc()
		s = &Stream{
			ch:      ch,
			cancel:  cancel,
			pending: &first,
			model:   inv.provider.Model(),
			pricing: inv.opts.Pricing,
		}
		return nil
	}, func(err error, attempt int) bool {
		return Classify(err).Retryable(attempt)
	})
	if err != nil {
		return nil, invocationError(err, attempts)
	}
	s.attempts = attempts
	return s, nil
}

func invocationError(err error, attempts int) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &InvocationError{
		Type:     Classify(err),
		Message:  err.Error(),
		Attempts: attempts,
		Err:      err,
	}
}

func recordUsage(u Usage, cost float64) {
	metrics.TokensUsedTotal.WithLabelValues("input").Add(float64(u.InputTokens))
	metrics.TokensUsedTotal.WithLabelValues("output").Add(float64(u.OutputTokens))
	metrics.CostTotal.Add(cost)
}
