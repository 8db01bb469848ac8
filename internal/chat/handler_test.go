package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/ciro-tutor/internal/agents"
	"github.com/wolfman30/ciro-tutor/internal/config"
	"github.com/wolfman30/ciro-tutor/internal/orchestrator"
	"github.com/wolfman30/ciro-tutor/internal/session"
	"github.com/wolfman30/ciro-tutor/pkg/logging"
)

func newFacade(t *testing.T, store session.Store) *orchestrator.Facade {
	t.Helper()
	cfg := config.DefaultRouting()
	profiles := agents.ProfilesFromConfig(cfg)
	handlers := make(map[string]agents.Handler, len(profiles))
	for _, p := range profiles {
		name := p.Name
		handlers[name] = agents.HandlerFunc(func(ctx context.Context, req agents.Request) (agents.Answer, error) {
			return agents.Answer{
				Text:      fmt.Sprintf("%s says: %s", name, req.Subquery),
				Citations: []session.Citation{{Title: name + " guide", Source: "https://uni.edu/" + name}},
			}, nil
		})
	}
	reg, err := agents.NewRegistry(profiles, handlers)
	require.NoError(t, err)
	return orchestrator.New(store, reg, cfg, orchestrator.WithLogger(logging.New("error")))
}

func newServer(t *testing.T, store session.Store) http.Handler {
	t.Helper()
	f := newFacade(t, store)
	r := chi.NewRouter()
	NewHandler(f, f.Registry().Names(), logging.New("error")).Routes(r)
	return r
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

type chatResponse struct {
	Response      string             `json:"response"`
	SessionID     string             `json:"session_id"`
	UsedAgents    []string           `json:"used_agents"`
	Citations     []session.Citation `json:"citations"`
	Clarification bool               `json:"clarification"`
}

func TestHandleChat(t *testing.T) {
	h := newServer(t, session.NewMemoryStore())

	w := post(t, h, "/chat", `{"message":"How do I find internships?","session_id":"sess1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp chatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "sess1", resp.SessionID)
	assert.Equal(t, []string{"university"}, resp.UsedAgents)
	assert.Equal(t, "university says: How do I find internships?", resp.Response)
	require.Len(t, resp.Citations, 1)
	assert.Equal(t, "university guide", resp.Citations[0].Title)
}

func TestHandleChat_GeneratesSessionID(t *testing.T) {
	h := newServer(t, session.NewMemoryStore())

	w := post(t, h, "/chat", `{"message":"hello"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, []string{"ciro"}, resp.UsedAgents)
}

func TestHandleChat_BadRequests(t *testing.T) {
	h := newServer(t, session.NewMemoryStore())

	assert.Equal(t, http.StatusBadRequest, post(t, h, "/chat", `{not json`).Code)
	assert.Equal(t, http.StatusBadRequest, post(t, h, "/chat", `{"message":"   "}`).Code)
}

func TestHandleChat_Clarification(t *testing.T) {
	h := newServer(t, session.NewMemoryStore())

	w := post(t, h, "/chat", `{"message":"help me with my schedule","session_id":"s-amb"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Clarification)
	assert.NotNil(t, resp.UsedAgents)
	assert.Empty(t, resp.UsedAgents)
}

type downStore struct{}

func (downStore) Load(ctx context.Context, id string) (*session.Session, error) {
	return nil, fmt.Errorf("session: load: %w: %w", session.ErrStoreUnavailable, errors.New("i/o timeout"))
}

func (downStore) Save(ctx context.Context, s *session.Session) error {
	return fmt.Errorf("session: save: %w", session.ErrStoreUnavailable)
}

func TestHandleChat_StoreUnavailable(t *testing.T) {
	h := newServer(t, downStore{})

	w := post(t, h, "/chat", `{"message":"How do I find internships?","session_id":"s1"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, orchestrator.StoreUnavailableText, resp.Response)
	assert.Equal(t, "s1", resp.SessionID)
	assert.Empty(t, resp.UsedAgents)
	assert.NotContains(t, w.Body.String(), "i/o timeout")
}

func TestHandleAgent(t *testing.T) {
	h := newServer(t, session.NewMemoryStore())

	w := post(t, h, "/agent/teacher", `{"message":"hello","session_id":"s-direct"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var resp chatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"teacher"}, resp.UsedAgents)

	w = post(t, h, "/agent/astrologer", `{"message":"hello"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleHistory(t *testing.T) {
	h := newServer(t, session.NewMemoryStore())
	require.Equal(t, http.StatusOK, post(t, h, "/chat", `{"message":"hello","session_id":"s-hist"}`).Code)

	req := httptest.NewRequest(http.MethodGet, "/chat/s-hist/history", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		SessionID string           `json:"session_id"`
		Messages  []HistoryMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "user", resp.Messages[0].Role)
	assert.Equal(t, "hello", resp.Messages[0].Text)
	assert.Equal(t, "system", resp.Messages[1].Role)
	assert.Equal(t, []string{"ciro"}, resp.Messages[1].UsedAgents)
}

func TestHandleHistory_UnknownSessionIsEmpty(t *testing.T) {
	h := newServer(t, session.NewMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/chat/nobody/history", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"messages":[]`)
}

func TestHandleHealth(t *testing.T) {
	h := newServer(t, session.NewMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status string   `json:"status"`
		Agents []string `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []string{"motivator", "teacher", "academic_coach", "university", "ciro", "knowledge_check"}, resp.Agents)
}

func TestWebSocketChat(t *testing.T) {
	srv := httptest.NewServer(newServer(t, session.NewMemoryStore()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws?session=s-ws"
	conn, err := websocket.Dial(url, "", srv.URL)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, websocket.JSON.Send(conn, InboundMessage{Type: "ping"}))
	var pong OutboundMessage
	require.NoError(t, websocket.JSON.Receive(conn, &pong))
	assert.Equal(t, "pong", pong.Type)

	require.NoError(t, websocket.JSON.Send(conn, InboundMessage{Type: "message", Text: "Can you explain recursion?"}))
	var typing, reply OutboundMessage
	require.NoError(t, websocket.JSON.Receive(conn, &typing))
	assert.Equal(t, "typing", typing.Type)
	require.NoError(t, websocket.JSON.Receive(conn, &reply))
	assert.Equal(t, "message", reply.Type)
	assert.Equal(t, "s-ws", reply.SessionID)
	assert.Equal(t, []string{"teacher"}, reply.UsedAgents)

	require.NoError(t, websocket.JSON.Send(conn, InboundMessage{Type: "message", Text: "hi", AgentID: "astrologer"}))
	var errMsg OutboundMessage
	require.NoError(t, websocket.JSON.Receive(conn, &typing))
	require.NoError(t, websocket.JSON.Receive(conn, &errMsg))
	assert.Equal(t, "error", errMsg.Type)
}

type brokenService struct {
	*orchestrator.Facade
}

func (brokenService) Handle(ctx context.Context, sessionID, message string) (orchestrator.Reply, error) {
	return orchestrator.Reply{SessionID: sessionID}, errors.New("classifier: nil pointer dereference")
}

func TestHandleChat_InternalErrorKeepsReplyShape(t *testing.T) {
	r := chi.NewRouter()
	f := newFacade(t, session.NewMemoryStore())
	NewHandler(brokenService{f}, nil, logging.New("error")).Routes(r)

	w := post(t, r, "/chat", `{"message":"hello","session_id":"s-500"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, orchestrator.FallbackText, resp.Response)
	assert.Equal(t, "s-500", resp.SessionID)
	assert.NotNil(t, resp.UsedAgents)
	assert.Empty(t, resp.UsedAgents)
	assert.NotContains(t, w.Body.String(), "nil pointer")
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHandleSessions(t *testing.T) {
	h := newServer(t, session.NewMemoryStore())

	w := get(t, h, "/sessions")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"sessions":[]}`, w.Body.String())

	require.Equal(t, http.StatusOK, post(t, h, "/chat", `{"message":"hello","session_id":"s-b"}`).Code)
	require.Equal(t, http.StatusOK, post(t, h, "/chat", `{"message":"hi","session_id":"s-a"}`).Code)

	w = get(t, h, "/sessions")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"sessions":["s-a","s-b"]}`, w.Body.String())

	w = get(t, h, "/sessions/s-a")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		SessionID string           `json:"session_id"`
		Messages  []HistoryMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "s-a", body.SessionID)
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "hi", body.Messages[0].Text)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/sessions/s-missing").Code)
}

func TestHandleSessions_StoreWithoutListing(t *testing.T) {
	h := newServer(t, downStore{})
	assert.Equal(t, http.StatusNotImplemented, get(t, h, "/sessions").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/sessions/s1").Code)
}
