// Package vectorindex stores notification templates with their embeddings and
// answers nearest-neighbour queries over them.
package vectorindex

import (
	"context"
	"errors"
	"slices"
	"strings"
)

var ErrDocumentNotFound = errors.New("vectorindex: document not found")

// Payload is the template content and descriptive metadata attached to a vector.
type Payload struct {
	Content  string   `json:"content" yaml:"content"`
	Channel  string   `json:"channel,omitempty" yaml:"channel"`
	Category string   `json:"category,omitempty" yaml:"category"`
	Tone     string   `json:"tone,omitempty" yaml:"tone"`
	Language string   `json:"language,omitempty" yaml:"language"`
	Tags     []string `json:"tags,omitempty" yaml:"tags"`
}

type Document struct {
	ID        string
	Payload   Payload
	Embedding []float32
}

// Hit is a search match. Score is the cosine similarity reported by the backend.
type Hit struct {
	ID      string
	Score   float64
	Payload Payload
}

// Filter restricts a search to templates whose metadata equals every non-empty
// field. Tags must all be present on the template.
type Filter struct {
	Channel  string   `json:"channel,omitempty"`
	Category string   `json:"category,omitempty"`
	Tone     string   `json:"tone,omitempty"`
	Language string   `json:"language,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

func (f Filter) IsZero() bool {
	return f.Channel == "" && f.Category == "" && f.Tone == "" && f.Language == "" && len(f.Tags) == 0
}

// Matches reports whether p satisfies the filter.
func (f Filter) Matches(p Payload) bool {
	if f.Channel != "" && f.Channel != p.Channel {
		return false
	}
	if f.Category != "" && f.Category != p.Category {
		return false
	}
	if f.Tone != "" && f.Tone != p.Tone {
		return false
	}
	if f.Language != "" && f.Language != p.Language {
		return false
	}
	for _, t := range f.Tags {
		if !slices.Contains(p.Tags, t) {
			return false
		}
	}
	return true
}

// Canonical renders the filter deterministically, for use in cache keys.
func (f Filter) Canonical() string {
	tags := slices.Clone(f.Tags)
	slices.Sort(tags)
	return "channel=" + f.Channel +
		"|category=" + f.Category +
		"|tone=" + f.Tone +
		"|language=" + f.Language +
		"|tags=" + strings.Join(tags, ",")
}

// Index is the vector store consulted by retrieval.
type Index interface {
	Upsert(ctx context.Context, docs ...Document) error
	// Search returns at most topK hits with score >= threshold, best first.
	Search(ctx context.Context, vector []float32, topK int, threshold float64, filter Filter) ([]Hit, error)
	Get(ctx context.Context, id string) (*Document, error)
	Count(ctx context.Context) (int, error)
}
