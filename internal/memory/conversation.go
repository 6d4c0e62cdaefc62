package memory

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aiox-platform/notigen/internal/kvstore"
	"github.com/aiox-platform/notigen/internal/metrics"
)

var ErrConversationNotFound = errors.New("conversation not found")

// DefaultRecentTurns is the number of turns GetRecentContext renders by default.
const DefaultRecentTurns = 3

func convKey(id string) string {
	return "conv:" + id
}

// userIndexPrefix is the key prefix of userID's conversation index. The user
// id is hashed so it never reaches a key pattern, where glob metacharacters
// or a separator in the id would match other users' entries.
func userIndexPrefix(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return "convidx:" + hex.EncodeToString(sum[:]) + ":"
}

func userIndexKey(userID, id string) string {
	return userIndexPrefix(userID) + id
}

// Memory stores conversation histories in a key-value store with a sliding
// TTL and prunes them to stay within the configured turn and token limits.
type Memory struct {
	store   kvstore.Store
	cfg     Config
	tenants map[string]Config
	now     func() time.Time

	// serializes read-modify-write of histories within this process
	mu sync.Mutex
}

type Option func(*Memory)

// WithTenantLimits applies per-user limits in place of the service-wide ones.
func WithTenantLimits(limits map[string]Config) Option {
	return func(m *Memory) {
		for userID, c := range limits {
			m.tenants[userID] = c.over(m.cfg)
		}
	}
}

func New(store kvstore.Store, cfg Config, opts ...Option) *Memory {
	m := &Memory{
		store:   store,
		cfg:     cfg.withDefaults(),
		tenants: make(map[string]Config),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Config() Config { return m.cfg }

// LimitsFor returns the limits that apply to userID's conversations.
func (m *Memory) LimitsFor(userID string) Config {
	if c, ok := m.tenants[userID]; ok {
		return c
	}
	return m.cfg
}

// Create starts an empty conversation for userID and returns its id.
func (m *Memory) Create(ctx context.Context, userID string, meta Metadata) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("user id is required")
	}

	now := m.now()
	meta.CreatedAt = now
	meta.LastActivityAt = now
	meta.TotalTurns = 0

	h := &History{
		ConversationID: uuid.NewString(),
		UserID:         userID,
		Turns:          []Turn{},
		Metadata:       meta,
	}
	if err := m.save(ctx, h); err != nil {
		return "", err
	}

	slog.Debug("conversation created", "conversation_id", h.ConversationID, "user_id", userID)
	return h.ConversationID, nil
}

func (m *Memory) Get(ctx context.Context, id string) (*History, error) {
	data, err := m.store.Get(ctx, convKey(id))
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("loading conversation %s: %w", id, err)
	}

	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decoding conversation %s: %w", id, err)
	}
	return &h, nil
}

// AddTurn appends turn with a server timestamp, prunes the history if it is
// over a limit, saves it and refreshes its TTL.
func (m *Memory) AddTurn(ctx context.Context, id string, turn Turn) (*History, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	turn.Timestamp = m.now()
	h.Turns = append(h.Turns, turn)
	h.TotalTokens += turn.TokensUsed
	h.Metadata.TotalTurns++
	h.Metadata.LastActivityAt = turn.Timestamp

	if dropped := prune(h, m.LimitsFor(h.UserID)); dropped > 0 {
		metrics.ConversationPrunesTotal.Add(float64(dropped))
		slog.Debug("conversation pruned",
			"conversation_id", id, "dropped", dropped,
			"turns", len(h.Turns), "total_tokens", h.TotalTokens)
	}

	if err := m.save(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

// prune drops the oldest turns once the history exceeds either limit: first
// down to MaxTurns, then until tokens are at most half of MaxTokens or a
// single turn remains. It returns the number of turns dropped.
func prune(h *History, cfg Config) int {
	if len(h.Turns) <= cfg.MaxTurns && h.TotalTokens <= cfg.MaxTokens {
		return 0
	}

	drop := 0
	for len(h.Turns)-drop > cfg.MaxTurns {
		h.TotalTokens -= h.Turns[drop].TokensUsed
		drop++
	}
	target := cfg.MaxTokens / 2
	for h.TotalTokens > target && len(h.Turns)-drop > 1 {
		h.TotalTokens -= h.Turns[drop].TokensUsed
		drop++
	}

	h.Turns = slices.Clone(h.Turns[drop:])
	return drop
}

// GetRecentContext renders the last n turns as a transcript suitable for a
// follow-up prompt. n <= 0 uses DefaultRecentTurns.
func (m *Memory) GetRecentContext(ctx context.Context, id string, n int) (string, error) {
	h, err := m.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return RecentContext(h, n), nil
}

func RecentContext(h *History, n int) string {
	if n <= 0 {
		n = DefaultRecentTurns
	}
	turns := h.Turns
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}

	parts := make([]string, 0, len(turns))
	for i, t := range turns {
		var sb strings.Builder
		fmt.Fprintf(&sb, "Turn %d:\nUser: %s", i+1, t.UserQuery)
		if t.AssistantResponse != "" {
			fmt.Fprintf(&sb, "\nAssistant: %s", t.AssistantResponse)
		}
		parts = append(parts, sb.String())
	}
	return strings.Join(parts, "\n\n")
}

// List returns the user's live conversations, most recently active first.
// Index entries whose conversation has expired are removed.
func (m *Memory) List(ctx context.Context, userID string) ([]*History, error) {
	prefix := userIndexPrefix(userID)
	keys, err := m.store.Keys(ctx, prefix+"*")
	if err != nil {
		return nil, fmt.Errorf("listing conversations for %s: %w", userID, err)
	}

	out := make([]*History, 0, len(keys))
	var stale []string
	for _, k := range keys {
		id, ok := strings.CutPrefix(k, prefix)
		if !ok {
			continue
		}
		h, err := m.Get(ctx, id)
		if errors.Is(err, ErrConversationNotFound) {
			stale = append(stale, k)
			continue
		}
		if err != nil {
			return nil, err
		}
		if h.UserID != userID {
			continue
		}
		out = append(out, h)
	}

	if len(stale) > 0 {
		if err := m.store.Del(ctx, stale...); err != nil {
			slog.Warn("removing stale conversation index entries", "user_id", userID, "error", err)
		}
	}

	slices.SortFunc(out, func(a, b *History) int {
		if c := b.Metadata.LastActivityAt.Compare(a.Metadata.LastActivityAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ConversationID, b.ConversationID)
	})
	return out, nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	h, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := m.store.Del(ctx, convKey(id), userIndexKey(h.UserID, id)); err != nil {
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}
	return nil
}

// ClearUser deletes every conversation owned by userID and returns how many
// were removed.
func (m *Memory) ClearUser(ctx context.Context, userID string) (int, error) {
	prefix := userIndexPrefix(userID)
	keys, err := m.store.Keys(ctx, prefix+"*")
	if err != nil {
		return 0, fmt.Errorf("listing conversations for %s: %w", userID, err)
	}

	del := make([]string, 0, len(keys)*2)
	removed := 0
	for _, k := range keys {
		id, ok := strings.CutPrefix(k, prefix)
		if !ok {
			continue
		}
		h, err := m.Get(ctx, id)
		switch {
		case errors.Is(err, ErrConversationNotFound):
			del = append(del, k)
		case err != nil:
			return 0, err
		case h.UserID == userID:
			del = append(del, k, convKey(id))
			removed++
		}
	}
	if len(del) == 0 {
		return 0, nil
	}
	if err := m.store.Del(ctx, del...); err != nil {
		return 0, fmt.Errorf("clearing conversations for %s: %w", userID, err)
	}
	return removed, nil
}

func (m *Memory) save(ctx context.Context, h *History) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encoding conversation %s: %w", h.ConversationID, err)
	}
	ttl := m.LimitsFor(h.UserID).TTL()
	if err := m.store.Set(ctx, convKey(h.ConversationID), data, ttl); err != nil {
		return fmt.Errorf("saving conversation %s: %w", h.ConversationID, err)
	}
	if err := m.store.Set(ctx, userIndexKey(h.UserID, h.ConversationID), []byte{1}, ttl); err != nil {
		return fmt.Errorf("indexing conversation %s: %w", h.ConversationID, err)
	}
	return nil
}
