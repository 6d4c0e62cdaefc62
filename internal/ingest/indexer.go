package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aiox-platform/notigen/internal/embedding"
	"github.com/aiox-platform/notigen/internal/metrics"
	"github.com/aiox-platform/notigen/internal/vectorindex"
)

// Embedder embeds texts in input order. *embedding.Cache satisfies it.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) (*embedding.BatchResult, error)
}

// Indexer embeds templates and upserts them into the vector index.
type Indexer struct {
	embedder Embedder
	index    vectorindex.Index
}

func NewIndexer(embedder Embedder, index vectorindex.Index) *Indexer {
	return &Indexer{embedder: embedder, index: index}
}

// Ingest embeds the content of every template and writes them to the index.
// source labels the origin in logs and metrics.
func (ix *Indexer) Ingest(ctx context.Context, source string, templates []Template) (int, error) {
	if len(templates) == 0 {
		return 0, nil
	}
	if err := Validate(templates); err != nil {
		return 0, fmt.Errorf("invalid templates: %w", err)
	}

	texts := make([]string, len(templates))
	for i, t := range templates {
		texts[i] = t.Content
	}

	batch, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding templates: %w", err)
	}

	docs := make([]vectorindex.Document, len(templates))
	for i, t := range templates {
		docs[i] = vectorindex.Document{
			ID:        t.ID,
			Payload:   t.Payload,
			Embedding: batch.Vectors[i].Values,
		}
	}
	if err := ix.index.Upsert(ctx, docs...); err != nil {
		return 0, fmt.Errorf("upserting templates: %w", err)
	}

	metrics.TemplatesIndexedTotal.WithLabelValues(source).Add(float64(len(docs)))
	slog.Info("templates indexed",
		"source", source,
		"count", len(docs),
		"embedding_cache_hits", batch.CacheHits,
		"duration_ms", batch.ProcessingTime.Milliseconds(),
	)
	return len(docs), nil
}

// IngestFile loads a template file and ingests its contents.
func (ix *Indexer) IngestFile(ctx context.Context, path string) (int, error) {
	templates, err := LoadFile(path)
	if err != nil {
		return 0, err
	}
	return ix.Ingest(ctx, "file", templates)
}
