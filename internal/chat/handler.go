// Package chat exposes the routing engine over HTTP and WebSocket.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/ciro-tutor/internal/orchestrator"
	"github.com/wolfman30/ciro-tutor/internal/session"
	"github.com/wolfman30/ciro-tutor/pkg/logging"
)

// Service runs chat turns. *orchestrator.Facade implements it.
type Service interface {
	Handle(ctx context.Context, sessionID, message string) (orchestrator.Reply, error)
	Direct(ctx context.Context, sessionID, agentID, message string) (orchestrator.Reply, error)
	History(ctx context.Context, sessionID string) ([]session.Turn, error)
	Sessions(ctx context.Context) ([]string, error)
}

// Handler serves the chat API.
type Handler struct {
	service Service
	agents  []string
	logger  *logging.Logger
}

// ChatRequest is the body of POST /chat and POST /agent/{agentID}.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// InboundMessage is what a WebSocket client sends.
type InboundMessage struct {
	Type    string `json:"type"` // "message", "ping"
	Text    string `json:"text"`
	AgentID string `json:"agent_id,omitempty"`
}

// OutboundMessage is what we push to a WebSocket client.
type OutboundMessage struct {
	Type          string             `json:"type"` // "session", "typing", "message", "history", "error", "pong"
	Text          string             `json:"text,omitempty"`
	SessionID     string             `json:"session_id,omitempty"`
	UsedAgents    []string           `json:"used_agents,omitempty"`
	Citations     []session.Citation `json:"citations,omitempty"`
	Clarification bool               `json:"clarification,omitempty"`
	Messages      []HistoryMessage   `json:"messages,omitempty"`
}

// HistoryMessage is one recorded turn.
type HistoryMessage struct {
	Role       string             `json:"role"`
	Text       string             `json:"text"`
	Timestamp  string             `json:"timestamp"`
	UsedAgents []string           `json:"used_agents,omitempty"`
	Citations  []session.Citation `json:"citations,omitempty"`
}

const maxBodyBytes = 64 << 10

func NewHandler(service Service, agents []string, logger *logging.Logger) *Handler {
	if service == nil {
		panic("chat: service cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, agents: append([]string(nil), agents...), logger: logger}
}

// Routes mounts the chat endpoints without middleware.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.HandleHealth)
	r.Post("/chat", h.HandleChat)
	r.Get("/chat/ws", h.HandleWebSocket)
	r.Get("/chat/{sessionID}/history", h.HandleHistory)
	r.Post("/agent/{agentID}", h.HandleAgent)
	r.Get("/sessions", h.HandleSessions)
	r.Get("/sessions/{sessionID}", h.HandleSession)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "agents": h.agents})
}

// HandleChat routes one message through the full pipeline.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	reply, err := h.service.Handle(r.Context(), req.SessionID, req.Message)
	h.respond(w, reply, err)
}

// HandleAgent sends the message straight to one handler.
func (h *Handler) HandleAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	reply, err := h.service.Direct(r.Context(), req.SessionID, agentID, req.Message)
	h.respond(w, reply, err)
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session id required")
		return
	}
	turns, err := h.service.History(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("chat: failed to load history", "error", err, "session_id", sessionID)
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrStoreUnavailable) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, "failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   historyMessages(turns),
	})
}

// HandleSession is HandleHistory for a session that must already exist.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	turns, err := h.service.History(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("chat: failed to load session", "error", err, "session_id", sessionID)
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrStoreUnavailable) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, "failed to load session")
		return
	}
	if len(turns) == 0 {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   historyMessages(turns),
	})
}

// HandleSessions lists the stored session ids.
func (h *Handler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := h.service.Sessions(r.Context())
	switch {
	case errors.Is(err, orchestrator.ErrListUnsupported):
		writeError(w, http.StatusNotImplemented, "session listing is not supported by this store")
		return
	case errors.Is(err, session.ErrStoreUnavailable):
		h.logger.Error("chat: failed to list sessions", "error", err)
		writeError(w, http.StatusServiceUnavailable, "failed to list sessions")
		return
	case err != nil:
		h.logger.Error("chat: failed to list sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": ids})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (ChatRequest, bool) {
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return req, false
	}
	return req, true
}

// respond maps facade errors to status codes. Raw errors never reach the
// client; turn failures still answer with a reply body.
func (h *Handler) respond(w http.ResponseWriter, reply orchestrator.Reply, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, reply)
	case errors.Is(err, orchestrator.ErrUnknownAgent):
		writeError(w, http.StatusNotFound, "unknown agent")
	case errors.Is(err, orchestrator.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "message is required")
	case errors.Is(err, session.ErrStoreUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, reply)
	default:
		h.logger.Error("chat: turn failed", "error", err, "session_id", reply.SessionID)
		writeJSON(w, http.StatusInternalServerError, orchestrator.Reply{
			Text:         orchestrator.FallbackText,
			SessionID:    reply.SessionID,
			HandlersUsed: []string{},
		})
	}
}

// HandleWebSocket serves a live chat session. The session id comes from the
// "session" query parameter; the facade assigns one when absent.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request) {
	ctx := r.Context()
	sessionID := strings.TrimSpace(r.URL.Query().Get("session"))

	if sessionID != "" {
		if turns, err := h.service.History(ctx, sessionID); err == nil && len(turns) > 0 {
			_ = websocket.JSON.Send(conn, OutboundMessage{Type: "history", SessionID: sessionID, Messages: historyMessages(turns)})
		}
	}

	h.logger.Info("chat: websocket opened", "session_id", sessionID)
	for {
		var msg InboundMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			h.logger.Debug("chat: websocket closed", "session_id", sessionID, "error", err)
			return
		}

		if msg.Type == "ping" {
			_ = websocket.JSON.Send(conn, OutboundMessage{Type: "pong"})
			continue
		}
		if msg.Type != "message" || strings.TrimSpace(msg.Text) == "" {
			continue
		}

		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "typing", SessionID: sessionID})

		var (
			reply orchestrator.Reply
			err   error
		)
		if msg.AgentID != "" {
			reply, err = h.service.Direct(ctx, sessionID, msg.AgentID, msg.Text)
		} else {
			reply, err = h.service.Handle(ctx, sessionID, msg.Text)
		}
		if reply.SessionID != "" && reply.SessionID != sessionID {
			sessionID = reply.SessionID
			_ = websocket.JSON.Send(conn, OutboundMessage{Type: "session", SessionID: sessionID})
		}

		out := OutboundMessage{
			Type:          "message",
			Text:          reply.Text,
			SessionID:     sessionID,
			UsedAgents:    reply.HandlersUsed,
			Citations:     reply.Citations,
			Clarification: reply.Clarification,
		}
		switch {
		case errors.Is(err, orchestrator.ErrUnknownAgent):
			out = OutboundMessage{Type: "error", SessionID: sessionID, Text: "unknown agent"}
		case err != nil && !errors.Is(err, session.ErrStoreUnavailable):
			h.logger.Error("chat: websocket turn failed", "error", err, "session_id", sessionID)
			out = OutboundMessage{Type: "error", SessionID: sessionID, Text: "Sorry, something went wrong. Please try again."}
		}
		if err := websocket.JSON.Send(conn, out); err != nil {
			return
		}
	}
}

func historyMessages(turns []session.Turn) []HistoryMessage {
	out := make([]HistoryMessage, 0, len(turns))
	for _, t := range turns {
		out = append(out, HistoryMessage{
			Role:       t.Role,
			Text:       t.Text,
			Timestamp:  t.Timestamp.Format(time.RFC3339),
			UsedAgents: t.HandlersUsed,
			Citations:  t.Citations,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
