package events

import (
	"context"
	"time"
)

const TurnRecordedType = "ciro.turn.recorded.v1"

// HandlerResult summarizes one dispatched handler for downstream consumers.
type HandlerResult struct {
	Handler   string `json:"handler"`
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

// TurnRecordedV1 is emitted once per completed chat turn.
type TurnRecordedV1 struct {
	EventID       string          `json:"event_id"`
	SessionID     string          `json:"session_id"`
	TurnIndex     int             `json:"turn_index"`
	Message       string          `json:"message"`
	Reply         string          `json:"reply"`
	Decision      string          `json:"decision"`
	HandlersUsed  []string        `json:"handlers_used"`
	Results       []HandlerResult `json:"results,omitempty"`
	Clarification bool            `json:"clarification"`
	Urgent        bool            `json:"urgent"`
	LatencyMS     int64           `json:"latency_ms"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// TurnSink receives completed turns. Sinks run after the session is saved
// and their failures never change the reply.
type TurnSink interface {
	RecordTurn(ctx context.Context, evt TurnRecordedV1) error
}
