package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/philippgille/chromem-go"
)

const tagSeparator = ","

// ChromemIndex keeps templates in an embedded chromem-go collection,
// optionally persisted to disk.
type ChromemIndex struct {
	col *chromem.Collection
}

// NewChromemIndex opens the named collection. An empty path keeps the index
// in memory only.
func NewChromemIndex(path, collection string) (*ChromemIndex, error) {
	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("opening chromem db at %s: %w", path, err)
		}
	}

	col, err := db.GetOrCreateCollection(collection, nil, refuseEmbedding)
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", collection, err)
	}
	slog.Info("chromem index ready", "collection", collection, "path", path, "documents", col.Count())
	return &ChromemIndex{col: col}, nil
}

// refuseEmbedding guards against chromem embedding content on its own;
// every document arrives with its vector already computed.
func refuseEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem index requires pre-computed embeddings")
}

func (i *ChromemIndex) Upsert(ctx context.Context, docs ...Document) error {
	for _, d := range docs {
		if len(d.Embedding) == 0 {
			return fmt.Errorf("document %s has no embedding", d.ID)
		}
		err := i.col.AddDocument(ctx, chromem.Document{
			ID:        d.ID,
			Metadata:  toMetadata(d.Payload),
			Embedding: d.Embedding,
			Content:   d.Payload.Content,
		})
		if err != nil {
			return fmt.Errorf("adding document %s: %w", d.ID, err)
		}
	}
	return nil
}

func (i *ChromemIndex) Search(ctx context.Context, vector []float32, topK int, threshold float64, filter Filter) ([]Hit, error) {
	total := i.col.Count()
	if total == 0 || topK <= 0 {
		return nil, nil
	}

	// Tags are stored joined in one metadata field, so they are matched after
	// the query and the candidate pool must cover the whole collection.
	n := min(topK, total)
	if len(filter.Tags) > 0 {
		n = total
	}

	results, err := i.col.QueryEmbedding(ctx, vector, n, whereClause(filter), nil)
	if err != nil {
		return nil, fmt.Errorf("querying chromem: %w", err)
	}

	hits := make([]Hit, 0, min(len(results), topK))
	for _, r := range results {
		score := float64(r.Similarity)
		if score < threshold {
			continue
		}
		p := fromMetadata(r.Content, r.Metadata)
		if !filter.Matches(p) {
			continue
		}
		hits = append(hits, Hit{ID: r.ID, Score: score, Payload: p})
		if len(hits) == topK {
			break
		}
	}
	return hits, nil
}

func (i *ChromemIndex) Get(ctx context.Context, id string) (*Document, error) {
	doc, err := i.col.GetByID(ctx, id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("getting document %s: %w", id, err)
	}
	return &Document{
		ID:        doc.ID,
		Payload:   fromMetadata(doc.Content, doc.Metadata),
		Embedding: doc.Embedding,
	}, nil
}

func (i *ChromemIndex) Count(context.Context) (int, error) {
	return i.col.Count(), nil
}

func whereClause(f Filter) map[string]string {
	where := map[string]string{}
	if f.Channel != "" {
		where["channel"] = f.Channel
	}
	if f.Category != "" {
		where["category"] = f.Category
	}
	if f.Tone != "" {
		where["tone"] = f.Tone
	}
	if f.Language != "" {
		where["language"] = f.Language
	}
	if len(where) == 0 {
		return nil
	}
	return where
}

func toMetadata(p Payload) map[string]string {
	return map[string]string{
		"channel":  p.Channel,
		"category": p.Category,
		"tone":     p.Tone,
		"language": p.Language,
		"tags":     strings.Join(p.Tags, tagSeparator),
	}
}

func fromMetadata(content string, m map[string]string) Payload {
	p := Payload{
		Content:  content,
		Channel:  m["channel"],
		Category: m["category"],
		Tone:     m["tone"],
		Language: m["language"],
	}
	if tags := m["tags"]; tags != "" {
		p.Tags = strings.Split(tags, tagSeparator)
	}
	return p
}
