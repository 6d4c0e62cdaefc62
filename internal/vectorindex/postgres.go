package vectorindex

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// PostgresIndex implements Index on the notification_templates table using
// pgx and the pgvector extension. Scores are 1 - cosine distance.
type PostgresIndex struct {
	pool *pgxpool.Pool
}

func NewPostgresIndex(pool *pgxpool.Pool) *PostgresIndex {
	return &PostgresIndex{pool: pool}
}

func (i *PostgresIndex) Upsert(ctx context.Context, docs ...Document) error {
	if len(docs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, d := range docs {
		if len(d.Embedding) == 0 {
			return fmt.Errorf("document %s has no embedding", d.ID)
		}
		batch.Queue(
			`INSERT INTO notification_templates (id, content, channel, category, tone, language, tags, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (id) DO UPDATE SET
			   content = EXCLUDED.content,
			   channel = EXCLUDED.channel,
			   category = EXCLUDED.category,
			   tone = EXCLUDED.tone,
			   language = EXCLUDED.language,
			   tags = EXCLUDED.tags,
			   embedding = EXCLUDED.embedding,
			   updated_at = now()`,
			d.ID, d.Payload.Content, d.Payload.Channel, d.Payload.Category, d.Payload.Tone,
			d.Payload.Language, nonNilTags(d.Payload.Tags), pgvector.NewVector(d.Embedding),
		)
	}

	br := i.pool.SendBatch(ctx, batch)
	defer br.Close()
	for _, d := range docs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upserting template %s: %w", d.ID, err)
		}
	}
	return nil
}

func (i *PostgresIndex) Search(ctx context.Context, vector []float32, topK int, threshold float64, filter Filter) ([]Hit, error) {
	if topK <= 0 {
		return nil, nil
	}

	vec := pgvector.NewVector(vector)
	rows, err := i.pool.Query(ctx,
		`SELECT id, content, channel, category, tone, language, tags,
		        1 - (embedding <=> $1) AS similarity
		 FROM notification_templates
		 WHERE 1 - (embedding <=> $1) >= $2
		   AND ($3 = '' OR channel = $3)
		   AND ($4 = '' OR category = $4)
		   AND ($5 = '' OR tone = $5)
		   AND ($6 = '' OR language = $6)
		   AND tags @> $7
		 ORDER BY embedding <=> $1, id
		 LIMIT $8`,
		vec, threshold, filter.Channel, filter.Category, filter.Tone, filter.Language,
		nonNilTags(filter.Tags), topK,
	)
	if err != nil {
		return nil, fmt.Errorf("searching templates: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		p := &h.Payload
		if err := rows.Scan(&h.ID, &p.Content, &p.Channel, &p.Category, &p.Tone, &p.Language, &p.Tags, &h.Score); err != nil {
			return nil, fmt.Errorf("scanning search hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (i *PostgresIndex) Get(ctx context.Context, id string) (*Document, error) {
	var d Document
	var vec pgvector.Vector
	p := &d.Payload
	err := i.pool.QueryRow(ctx,
		`SELECT id, content, channel, category, tone, language, tags, embedding::text
		 FROM notification_templates
		 WHERE id = $1`,
		id,
	).Scan(&d.ID, &p.Content, &p.Channel, &p.Category, &p.Tone, &p.Language, &p.Tags, &vec)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("getting template %s: %w", id, err)
	}
	d.Embedding = vec.Slice()
	return &d, nil
}

func (i *PostgresIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := i.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notification_templates`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting templates: %w", err)
	}
	return n, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
