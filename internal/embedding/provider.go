package embedding

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/aiox-platform/notigen/internal/config"
)

// Provider produces embedding vectors for text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Dimensions() int
}

// LangChainProvider adapts a langchaingo Embedder to Provider.
type LangChainProvider struct {
	embedder   embeddings.Embedder
	model      string
	dimensions int
}

func NewLangChainProvider(embedder embeddings.Embedder, model string, dimensions int) *LangChainProvider {
	return &LangChainProvider{embedder: embedder, model: model, dimensions: dimensions}
}

// NewOpenAIProvider builds a provider against an OpenAI-compatible endpoint.
func NewOpenAIProvider(cfg config.EmbeddingConfig) (*LangChainProvider, error) {
	token := cfg.APIKey
	if token == "" {
		// openai.New refuses an empty token; local endpoints ignore it.
		token = "unused"
	}
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai embedding client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(cfg.BatchSize))
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return NewLangChainProvider(embedder, cfg.Model, cfg.Dimensions), nil
}

func (p *LangChainProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	return vec, p.checkDimensions(vec)
}

func (p *LangChainProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}
	for _, v := range vecs {
		if err := p.checkDimensions(v); err != nil {
			return nil, err
		}
	}
	return vecs, nil
}

func (p *LangChainProvider) Model() string   { return p.model }
func (p *LangChainProvider) Dimensions() int { return p.dimensions }

func (p *LangChainProvider) checkDimensions(vec []float32) error {
	if p.dimensions > 0 && len(vec) != p.dimensions {
		return fmt.Errorf("embedding has %d dimensions, model %s expects %d", len(vec), p.model, p.dimensions)
	}
	return nil
}
