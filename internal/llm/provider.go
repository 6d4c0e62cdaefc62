package llm

import "context"

type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

type Message struct {
	Role    Role
	Content string
}

// Params are the sampling parameters sent with every request.
type Params struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	TopP        float64 `json:"top_p"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type Completion struct {
	Content      string
	Model        string
	FinishReason string
	Usage        Usage
}

// StreamChunk is one element of a provider stream. A chunk with Done set
// carries the final usage report when the provider supplies one; a chunk with
// Err set ends the stream.
type StreamChunk struct {
	Content      string
	Done         bool
	FinishReason string
	Usage        *Usage
	Err          error
}

// Provider is a text completion backend. Stream must close the channel when it
// finishes and must stop sending once ctx is cancelled.
type Provider interface {
	Complete(ctx context.Context, messages []Message, params Params) (*Completion, error)
	Stream(ctx context.Context, messages []Message, params Params) (<-chan StreamChunk, error)
	Model() string
}
