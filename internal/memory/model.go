package memory

import "time"

// Turn is one user query and assistant response pair. Turns are appended and
// never modified; pruning may evict them.
type Turn struct {
	UserQuery         string    `json:"user_query"`
	AssistantResponse string    `json:"assistant_response,omitempty"`
	Sources           []string  `json:"sources,omitempty"`
	TokensUsed        int       `json:"tokens_used,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

type Metadata struct {
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	TotalTurns     int       `json:"total_turns"` // includes pruned turns
	Title          string    `json:"title,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
}

type History struct {
	ConversationID string   `json:"conversation_id"`
	UserID         string   `json:"user_id"`
	Turns          []Turn   `json:"turns"`
	TotalTokens    int      `json:"total_tokens"`
	Metadata       Metadata `json:"metadata"`
}

// CreateConversationRequest is used by the API to start a conversation.
type CreateConversationRequest struct {
	UserID string   `json:"user_id" validate:"required,min=1,max=128"`
	Title  string   `json:"title,omitempty" validate:"max=200"`
	Tags   []string `json:"tags,omitempty" validate:"max=20,dive,max=64"`
}
