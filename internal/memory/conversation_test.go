package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/aiox-platform/notigen/internal/kvstore"
)

func setupMiniredis(t *testing.T) (*Memory, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(kvstore.NewRedisStore(client), DefaultConfig()), mr
}

func sumTokens(turns []Turn) int {
	total := 0
	for _, t := range turns {
		total += t.TokensUsed
	}
	return total
}

func TestMemory_CreateAndGet(t *testing.T) {
	mem, _ := setupMiniredis(t)
	ctx := context.Background()

	id, err := mem.Create(ctx, "user-1", Metadata{Title: "Shipping", Tags: []string{"orders"}})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	h, err := mem.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, h.ConversationID)
	assert.Equal(t, "user-1", h.UserID)
	assert.Empty(t, h.Turns)
	assert.Zero(t, h.TotalTokens)
	assert.Equal(t, "Shipping", h.Metadata.Title)
	assert.False(t, h.Metadata.CreatedAt.IsZero())
}

func TestMemory_CreateRequiresUser(t *testing.T) {
	mem, _ := setupMiniredis(t)
	_, err := mem.Create(context.Background(), " ", Metadata{})
	assert.Error(t, err)
}

func TestMemory_AddTurnAppends(t *testing.T) {
	mem, _ := setupMiniredis(t)
	ctx := context.Background()
	id, err := mem.Create(ctx, "user-1", Metadata{})
	require.NoError(t, err)

	_, err = mem.AddTurn(ctx, id, Turn{UserQuery: "order shipped", AssistantResponse: "Your order is on its way.", TokensUsed: 120})
	require.NoError(t, err)
	h, err := mem.AddTurn(ctx, id, Turn{UserQuery: "make it shorter", AssistantResponse: "Shipped!", TokensUsed: 80})
	require.NoError(t, err)

	require.Len(t, h.Turns, 2)
	assert.Equal(t, 200, h.TotalTokens)
	assert.Equal(t, 2, h.Metadata.TotalTurns)
	assert.False(t, h.Turns[1].Timestamp.IsZero())
	assert.Equal(t, h.Turns[1].Timestamp, h.Metadata.LastActivityAt)
}

func TestMemory_AddTurnMissingConversation(t *testing.T) {
	mem, _ := setupMiniredis(t)
	_, err := mem.AddTurn(context.Background(), "missing", Turn{UserQuery: "x"})
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestMemory_PrunesSeededOversizedConversation(t *testing.T) {
	mem, _ := setupMiniredis(t)
	ctx := context.Background()
	id, err := mem.Create(ctx, "user-1", Metadata{})
	require.NoError(t, err)

	h, err := mem.Get(ctx, id)
	require.NoError(t, err)
	for i := range 25 {
		h.Turns = append(h.Turns, Turn{UserQuery: fmt.Sprintf("q%d", i), TokensUsed: 400})
	}
	h.TotalTokens = 25 * 400
	require.NoError(t, mem.save(ctx, h))

	h, err = mem.AddTurn(ctx, id, Turn{UserQuery: "trigger", TokensUsed: 400})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(h.Turns), 20)
	assert.LessOrEqual(t, h.TotalTokens, 4000)
	assert.Equal(t, sumTokens(h.Turns), h.TotalTokens)
	assert.Equal(t, "trigger", h.Turns[len(h.Turns)-1].UserQuery)
}

func TestMemory_TurnLimitTriggersPruning(t *testing.T) {
	mem, _ := setupMiniredis(t)
	ctx := context.Background()
	id, err := mem.Create(ctx, "user-1", Metadata{})
	require.NoError(t, err)

	var h *History
	for i := range 21 {
		h, err = mem.AddTurn(ctx, id, Turn{UserQuery: fmt.Sprintf("q%d", i), TokensUsed: 100})
		require.NoError(t, err)
	}
	// 21 turns exceed the turn bound, so pruning runs down to half the token cap.
	assert.Len(t, h.Turns, 20)
	assert.Equal(t, 2000, h.TotalTokens)
	assert.Equal(t, "q1", h.Turns[0].UserQuery)
	assert.Equal(t, 21, h.Metadata.TotalTurns)
}

func TestMemory_SingleHugeTurnIsKept(t *testing.T) {
	mem, _ := setupMiniredis(t)
	ctx := context.Background()
	id, err := mem.Create(ctx, "user-1", Metadata{})
	require.NoError(t, err)

	_, err = mem.AddTurn(ctx, id, Turn{UserQuery: "a", TokensUsed: 3000})
	require.NoError(t, err)
	h, err := mem.AddTurn(ctx, id, Turn{UserQuery: "b", TokensUsed: 7000})
	require.NoError(t, err)

	require.Len(t, h.Turns, 1)
	assert.Equal(t, "b", h.Turns[0].UserQuery)
	assert.Equal(t, 7000, h.TotalTokens)
}

func TestMemory_TTLExpiresAndAddTurnRefreshes(t *testing.T) {
	mem, mr := setupMiniredis(t)
	ctx := context.Background()
	id, err := mem.Create(ctx, "user-1", Metadata{})
	require.NoError(t, err)

	mr.FastForward(50 * time.Minute)
	_, err = mem.AddTurn(ctx, id, Turn{UserQuery: "still here"})
	require.NoError(t, err)

	mr.FastForward(50 * time.Minute)
	_, err = mem.Get(ctx, id)
	require.NoError(t, err)

	mr.FastForward(61 * time.Minute)
	_, err = mem.Get(ctx, id)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestMemory_GetRecentContext(t *testing.T) {
	mem, _ := setupMiniredis(t)
	ctx := context.Background()
	id, err := mem.Create(ctx, "user-1", Metadata{})
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		_, err := mem.AddTurn(ctx, id, Turn{
			UserQuery:         fmt.Sprintf("question %d", i),
			AssistantResponse: fmt.Sprintf("answer %d", i),
		})
		require.NoError(t, err)
	}

	got, err := mem.GetRecentContext(ctx, id, 2)
	require.NoError(t, err)
	assert.Equal(t, "Turn 1:\nUser: question 3\nAssistant: answer 3\n\nTurn 2:\nUser: question 4\nAssistant: answer 4", got)

	got, err = mem.GetRecentContext(ctx, id, 0)
	require.NoError(t, err)
	assert.Contains(t, got, "Turn 3:\nUser: question 4")
	assert.NotContains(t, got, "question 1")
}

func TestRecentContext_OmitsMissingResponse(t *testing.T) {
	h := &History{Turns: []Turn{{UserQuery: "pending"}}}
	assert.Equal(t, "Turn 1:\nUser: pending", RecentContext(h, 3))
	assert.Empty(t, RecentContext(&History{}, 3))
}

func TestMemory_ListSortedByActivity(t *testing.T) {
	mem := New(kvstore.NewMemoryStore(), DefaultConfig())
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mem.now = func() time.Time { return clock }
	ctx := context.Background()

	first, err := mem.Create(ctx, "user-1", Metadata{})
	require.NoError(t, err)
	clock = clock.Add(time.Minute)
	second, err := mem.Create(ctx, "user-1", Metadata{})
	require.NoError(t, err)
	_, err = mem.Create(ctx, "user-2", Metadata{})
	require.NoError(t, err)

	clock = clock.Add(time.Minute)
	_, err = mem.AddTurn(ctx, first, Turn{UserQuery: "bump"})
	require.NoError(t, err)

	list, err := mem.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first, list[0].ConversationID)
	assert.Equal(t, second, list[1].ConversationID)
}

func TestMemory_ListDropsExpiredIndexEntries(t *testing.T) {
	store := kvstore.NewMemoryStore()
	mem := New(store, DefaultConfig())
	ctx := context.Background()

	id, err := mem.Create(ctx, "user-1", Metadata{})
	require.NoError(t, err)
	require.NoError(t, store.Del(ctx, convKey(id)))

	list, err := mem.List(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, list)

	keys, err := store.Keys(ctx, userIndexPrefix("user-1")+"*")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMemory_DeleteAndClear(t *testing.T) {
	mem, _ := setupMiniredis(t)
	ctx := context.Background()

	a, err := mem.Create(ctx, "user-1", Metadata{})
	require.NoError(t, err)
	_, err = mem.Create(ctx, "user-1", Metadata{})
	require.NoError(t, err)
	other, err := mem.Create(ctx, "user-2", Metadata{})
	require.NoError(t, err)

	require.NoError(t, mem.Delete(ctx, a))
	_, err = mem.Get(ctx, a)
	assert.ErrorIs(t, err, ErrConversationNotFound)
	assert.ErrorIs(t, mem.Delete(ctx, a), ErrConversationNotFound)

	n, err := mem.ClearUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := mem.List(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = mem.Get(ctx, other)
	assert.NoError(t, err)
}

func TestMemory_UserIDsAreNotPatterns(t *testing.T) {
	backends := map[string]func(t *testing.T) *Memory{
		"memory": func(*testing.T) *Memory { return New(kvstore.NewMemoryStore(), DefaultConfig()) },
		"redis": func(t *testing.T) *Memory {
			mem, _ := setupMiniredis(t)
			return mem
		},
	}

	for name, newMem := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("prefix of another user", func(t *testing.T) {
				mem := newMem(t)
				scoped, err := mem.Create(ctx, "tenant:42", Metadata{})
				require.NoError(t, err)
				plain, err := mem.Create(ctx, "tenant", Metadata{})
				require.NoError(t, err)

				list, err := mem.List(ctx, "tenant")
				require.NoError(t, err)
				require.Len(t, list, 1)
				assert.Equal(t, plain, list[0].ConversationID)

				list, err = mem.List(ctx, "tenant:42")
				require.NoError(t, err)
				require.Len(t, list, 1)
				assert.Equal(t, scoped, list[0].ConversationID)
			})

			t.Run("glob metacharacters", func(t *testing.T) {
				mem := newMem(t)
				_, err := mem.Create(ctx, "alice", Metadata{})
				require.NoError(t, err)
				_, err = mem.Create(ctx, "bob", Metadata{})
				require.NoError(t, err)

				for _, id := range []string{"*", "?lice", "[ab]*"} {
					n, err := mem.ClearUser(ctx, id)
					require.NoError(t, err)
					assert.Zero(t, n, id)

					list, err := mem.List(ctx, id)
					require.NoError(t, err)
					assert.Empty(t, list, id)
				}

				list, err := mem.List(ctx, "alice")
				require.NoError(t, err)
				assert.Len(t, list, 1)
				list, err = mem.List(ctx, "bob")
				require.NoError(t, err)
				assert.Len(t, list, 1)
			})
		})
	}
}

func TestMemory_ClearUserSkipsForeignEntries(t *testing.T) {
	store := kvstore.NewMemoryStore()
	mem := New(store, DefaultConfig())
	ctx := context.Background()

	owned, err := mem.Create(ctx, "alice", Metadata{})
	require.NoError(t, err)
	foreign, err := mem.Create(ctx, "bob", Metadata{})
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, userIndexKey("alice", foreign), []byte{1}, time.Hour))

	list, err := mem.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, owned, list[0].ConversationID)

	n, err := mem.ClearUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = mem.Get(ctx, foreign)
	assert.NoError(t, err)
}

func TestMemory_TenantLimits(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	limits, err := ParseTenantLimits(DefaultConfig(), []byte(`{"acme": {"max_turns": 2, "ttl_sec": 600}}`))
	require.NoError(t, err)
	mem := New(kvstore.NewRedisStore(client), DefaultConfig(), WithTenantLimits(limits))
	ctx := context.Background()

	assert.Equal(t, Config{MaxTurns: 2, MaxTokens: 8000, TTLSec: 600}, mem.LimitsFor("acme"))
	assert.Equal(t, DefaultConfig(), mem.LimitsFor("globex"))

	acme, err := mem.Create(ctx, "acme", Metadata{})
	require.NoError(t, err)
	globex, err := mem.Create(ctx, "globex", Metadata{})
	require.NoError(t, err)

	for i := range 3 {
		_, err = mem.AddTurn(ctx, acme, Turn{UserQuery: fmt.Sprintf("q%d", i), TokensUsed: 10})
		require.NoError(t, err)
		_, err = mem.AddTurn(ctx, globex, Turn{UserQuery: fmt.Sprintf("q%d", i), TokensUsed: 10})
		require.NoError(t, err)
	}

	h, err := mem.Get(ctx, acme)
	require.NoError(t, err)
	assert.Len(t, h.Turns, 2)
	assert.Equal(t, 600*time.Second, mr.TTL(convKey(acme)))

	h, err = mem.Get(ctx, globex)
	require.NoError(t, err)
	assert.Len(t, h.Turns, 3)
	assert.Equal(t, time.Hour, mr.TTL(convKey(globex)))
}

func TestMemory_StorageErrorsPropagate(t *testing.T) {
	mem, mr := setupMiniredis(t)
	mr.Close()

	_, err := mem.Create(context.Background(), "user-1", Metadata{})
	require.Error(t, err)

	_, err = mem.Get(context.Background(), "any")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrConversationNotFound))
}

func TestMemory_LimitsHoldAfterEveryTurn(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := Config{
			MaxTurns:  rapid.IntRange(1, 20).Draw(t, "maxTurns"),
			MaxTokens: rapid.IntRange(100, 8000).Draw(t, "maxTokens"),
			TTLSec:    3600,
		}
		mem := New(kvstore.NewMemoryStore(), cfg)
		ctx := context.Background()
		id, err := mem.Create(ctx, "u", Metadata{})
		if err != nil {
			t.Fatal(err)
		}

		n := rapid.IntRange(1, 60).Draw(t, "turns")
		for i := range n {
			tokens := rapid.IntRange(0, cfg.MaxTokens).Draw(t, fmt.Sprintf("tokens%d", i))
			h, err := mem.AddTurn(ctx, id, Turn{UserQuery: "q", TokensUsed: tokens})
			if err != nil {
				t.Fatal(err)
			}
			if len(h.Turns) > cfg.MaxTurns {
				t.Fatalf("turns %d > %d", len(h.Turns), cfg.MaxTurns)
			}
			if h.TotalTokens > cfg.MaxTokens {
				t.Fatalf("tokens %d > %d", h.TotalTokens, cfg.MaxTokens)
			}
			if h.TotalTokens != sumTokens(h.Turns) {
				t.Fatalf("total %d != sum %d", h.TotalTokens, sumTokens(h.Turns))
			}
			if len(h.Turns) == 0 {
				t.Fatal("latest turn was pruned")
			}
		}
	})
}
