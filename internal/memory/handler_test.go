package memory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiox-platform/notigen/internal/kvstore"
)

func newTestRouter(t *testing.T) (http.Handler, *Memory) {
	t.Helper()
	mem := New(kvstore.NewMemoryStore(), DefaultConfig())
	h := NewHandler(mem)

	r := chi.NewRouter()
	r.Post("/conversations", h.Create)
	r.Get("/conversations", h.List)
	r.Delete("/conversations", h.Clear)
	r.Get("/conversations/{conversationID}", h.Get)
	r.Get("/conversations/{conversationID}/context", h.Context)
	r.Delete("/conversations/{conversationID}", h.Delete)
	return r, mem
}

func doRequest(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CreateAndGet(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doRequest(r, http.MethodPost, "/conversations", `{"user_id":"user-1","title":"Orders"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created.Data["conversation_id"]
	require.NotEmpty(t, id)

	rec = doRequest(r, http.MethodGet, "/conversations/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"title":"Orders"`)
}

func TestHandler_CreateValidation(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doRequest(r, http.MethodPost, "/conversations", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"VALIDATION"`)

	rec = doRequest(r, http.MethodPost, "/conversations", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_GetMissing(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doRequest(r, http.MethodGet, "/conversations/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "conversation not found")
}

func TestHandler_ListContextDeleteClear(t *testing.T) {
	r, mem := newTestRouter(t)
	ctx := context.Background()

	id, err := mem.Create(ctx, "user-1", Metadata{})
	require.NoError(t, err)
	_, err = mem.AddTurn(ctx, id, Turn{UserQuery: "hello", AssistantResponse: "hi"})
	require.NoError(t, err)
	_, err = mem.Create(ctx, "user-1", Metadata{})
	require.NoError(t, err)

	rec := doRequest(r, http.MethodGet, "/conversations?user_id=user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_count":2`)

	rec = doRequest(r, http.MethodGet, "/conversations", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(r, http.MethodGet, "/conversations/"+id+"/context?turns=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `Turn 1:\nUser: hello\nAssistant: hi`)

	rec = doRequest(r, http.MethodDelete, "/conversations/"+id, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(r, http.MethodDelete, "/conversations?user_id=user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"deleted":1`)
}
