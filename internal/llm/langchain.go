package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/aiox-platform/notigen/internal/config"
)

// LangChainProvider adapts a langchaingo model to Provider.
type LangChainProvider struct {
	model llms.Model
	name  string
}

func NewLangChainProvider(model llms.Model, name string) *LangChainProvider {
	return &LangChainProvider{model: model, name: name}
}

// NewOpenAIProvider builds a provider against an OpenAI-compatible chat endpoint.
func NewOpenAIProvider(cfg config.LLMConfig) (*LangChainProvider, error) {
	token := cfg.APIKey
	if token == "" {
		token = "unused"
	}
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai chat client: %w", err)
	}
	return NewLangChainProvider(client, cfg.Model), nil
}

func (p *LangChainProvider) Model() string { return p.name }

func (p *LangChainProvider) Complete(ctx context.Context, messages []Message, params Params) (*Completion, error) {
	resp, err := p.model.GenerateContent(ctx, toMessageContent(messages), p.callOptions(params)...)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.New("provider returned no choices")
	}

	choice := resp.Choices[0]
	return &Completion{
		Content:      choice.Content,
		Model:        p.name,
		FinishReason: choice.StopReason,
		Usage:        usageFrom(choice.GenerationInfo),
	}, nil
}

func (p *LangChainProvider) Stream(ctx context.Context, messages []Message, params Params) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk)

	go func() {
		defer close(ch)

		send := func(c StreamChunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		opts := append(p.callOptions(params), llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			if !send(StreamChunk{Content: string(chunk)}) {
				return ctx.Err()
			}
			return nil
		}))

		resp, err := p.model.GenerateContent(ctx, toMessageContent(messages), opts...)
		if err != nil {
			send(StreamChunk{Err: err})
			return
		}

		final := StreamChunk{Done: true}
		if resp != nil && len(resp.Choices) > 0 {
			final.FinishReason = resp.Choices[0].StopReason
			if u := usageFrom(resp.Choices[0].GenerationInfo); u.TotalTokens > 0 {
				final.Usage = &u
			}
		}
		send(final)
	}()

	return ch, nil
}

func (p *LangChainProvider) callOptions(params Params) []llms.CallOption {
	opts := []llms.CallOption{llms.WithModel(p.name)}
	if params.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(params.Temperature))
	}
	if params.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(params.MaxTokens))
	}
	if params.TopP > 0 {
		opts = append(opts, llms.WithTopP(params.TopP))
	}
	return opts
}

func toMessageContent(messages []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		role := llms.ChatMessageTypeHuman
		if m.Role == RoleSystem {
			role = llms.ChatMessageTypeSystem
		}
		out = append(out, llms.TextParts(role, m.Content))
	}
	return out
}

// usageFrom reads the token counts the OpenAI adapter places in GenerationInfo.
func usageFrom(info map[string]any) Usage {
	u := Usage{
		InputTokens:  intValue(info["PromptTokens"]),
		OutputTokens: intValue(info["CompletionTokens"]),
		TotalTokens:  intValue(info["TotalTokens"]),
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	return u
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
