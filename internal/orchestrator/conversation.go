package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/aiox-platform/notigen/internal/memory"
)

var ErrConversationsDisabled = errors.New("conversation memory is not configured")

// MaxHistoryLength bounds, in runes, the transcript prepended to a
// conversational request. Older text is cut first.
const MaxHistoryLength = 6000

func (o *Orchestrator) conversations() (Conversations, error) {
	if o.deps.Conversations == nil {
		return nil, ErrConversationsDisabled
	}
	return o.deps.Conversations, nil
}

// StartConversation creates a conversation for userID.
func (o *Orchestrator) StartConversation(ctx context.Context, userID string, meta memory.Metadata) (string, error) {
	conv, err := o.conversations()
	if err != nil {
		return "", err
	}
	return conv.Create(ctx, userID, meta)
}

// GenerateInConversation generates with the conversation's recent turns
// prepended to the request, then records the exchange as a new turn.
func (o *Orchestrator) GenerateInConversation(ctx context.Context, conversationID, query string, opts Options) (*Result, error) {
	conv, err := o.conversations()
	if err != nil {
		return nil, err
	}

	if err := o.validator.Validate(query, opts); err != nil {
		o.stats.failure()
		return nil, err
	}

	recent, err := conv.GetRecentContext(ctx, conversationID, memory.DefaultRecentTurns)
	if err != nil {
		o.stats.failure()
		return nil, err
	}

	res, err := o.generate(ctx, "conversation", query, recent, opts, conversationID)
	if err != nil {
		return nil, err
	}

	_, err = conv.AddTurn(ctx, conversationID, memory.Turn{
		UserQuery:         query,
		AssistantResponse: res.Content,
		Sources:           sourceIDs(res.Sources),
		TokensUsed:        res.Metadata.Tokens.TotalTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("recording conversation turn: %w", err)
	}
	return res, nil
}

func withHistory(recent, query string) string {
	if recent == "" {
		return query
	}
	return "Previous conversation:\n" + trimHistory(recent, MaxHistoryLength) + "\n\nCurrent request: " + query
}

// trimHistory keeps the last limit runes of transcript, starting at a line
// boundary when one is available.
func trimHistory(transcript string, limit int) string {
	if utf8.RuneCountInString(transcript) <= limit {
		return transcript
	}
	runes := []rune(transcript)
	tail := string(runes[len(runes)-limit:])
	if i := strings.IndexByte(tail, '\n'); i >= 0 && i < len(tail)-1 {
		tail = tail[i+1:]
	}
	return tail
}

func (o *Orchestrator) GetConversation(ctx context.Context, id string) (*memory.History, error) {
	conv, err := o.conversations()
	if err != nil {
		return nil, err
	}
	return conv.Get(ctx, id)
}

func (o *Orchestrator) ListConversations(ctx context.Context, userID string) ([]*memory.History, error) {
	conv, err := o.conversations()
	if err != nil {
		return nil, err
	}
	return conv.List(ctx, userID)
}

func (o *Orchestrator) DeleteConversation(ctx context.Context, id string) error {
	conv, err := o.conversations()
	if err != nil {
		return err
	}
	return conv.Delete(ctx, id)
}

func (o *Orchestrator) ClearUserConversations(ctx context.Context, userID string) (int, error) {
	conv, err := o.conversations()
	if err != nil {
		return 0, err
	}
	return conv.ClearUser(ctx, userID)
}
