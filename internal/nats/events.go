package nats

import (
	"time"

	"github.com/aiox-platform/notigen/internal/vectorindex"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// Stream names.
const (
	StreamEvents    = "NOTIGEN_EVENTS"
	StreamTemplates = "NOTIGEN_TEMPLATES"
)

// Subject constants.
const (
	SubjectGenerationEvent = "notigen.events.generation"
	SubjectTemplateUpsert  = "notigen.templates.upsert"
)

// GenerationEvent is published after every generation attempt for external
// analytics consumers.
type GenerationEvent struct {
	ID             string    `json:"id"`
	Mode           string    `json:"mode"` // sync, stream, conversation
	Outcome        string    `json:"outcome"`
	ErrorCode      string    `json:"error_code,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Query          string    `json:"query"`
	Model          string    `json:"model,omitempty"`
	SourceIDs      []string  `json:"source_ids,omitempty"`
	InputTokens    int       `json:"input_tokens"`
	OutputTokens   int       `json:"output_tokens"`
	Cost           float64   `json:"cost"`
	CacheHit       bool      `json:"cache_hit"`
	RetryCount     int       `json:"retry_count"`
	LatencyMs      int64     `json:"latency_ms"`
	Timestamp      time.Time `json:"timestamp"`
}

// TemplateUpsert carries templates to embed and write into the vector index.
type TemplateUpsert struct {
	Templates []TemplateRecord `json:"templates"`
}

type TemplateRecord struct {
	ID string `json:"id"`
	vectorindex.Payload
}
