package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/ciro-tutor/internal/events"
	"github.com/wolfman30/ciro-tutor/internal/observability/metrics"
	"github.com/wolfman30/ciro-tutor/pkg/logging"
)

const (
	EscalationSent    = "sent"
	EscalationFailed  = "failed"
	EscalationSkipped = "skipped"
)

// Escalator alerts staff when a turn was routed as urgent. It is a turn
// sink: non-urgent turns are ignored.
type Escalator struct {
	sender  AlertSender
	to      Recipient
	metrics *metrics.RoutingMetrics
	logger  *logging.Logger
}

var _ events.TurnSink = (*Escalator)(nil)

// NewEscalator returns an escalator that alerts to. An empty address
// disables delivery but urgent turns are still logged; an empty role means
// DefaultRole.
func NewEscalator(sender AlertSender, to Recipient, m *metrics.RoutingMetrics, logger *logging.Logger) *Escalator {
	if sender == nil {
		panic("notify: alert sender cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	to.Address = strings.TrimSpace(to.Address)
	to.Role = strings.TrimSpace(to.Role)
	if to.Role == "" {
		to.Role = DefaultRole
	}
	return &Escalator{sender: sender, to: to, metrics: m, logger: logger}
}

func (e *Escalator) RecordTurn(ctx context.Context, evt events.TurnRecordedV1) error {
	if !evt.Urgent {
		return nil
	}
	if e.to.Address == "" {
		e.logger.Warn("urgent turn not escalated: no recipient configured", "session_id", evt.SessionID, "role", e.to.Role)
		e.metrics.ObserveEscalation(EscalationSkipped)
		return nil
	}

	alert := Alert{
		Recipient:  e.to,
		SessionID:  evt.SessionID,
		TurnIndex:  evt.TurnIndex,
		Message:    evt.Message,
		Reply:      evt.Reply,
		Handlers:   evt.HandlersUsed,
		OccurredAt: evt.OccurredAt,
	}
	if err := e.sender.SendAlert(ctx, alert); err != nil {
		e.metrics.ObserveEscalation(EscalationFailed)
		return fmt.Errorf("notify: escalate session %s: %w", evt.SessionID, err)
	}
	e.metrics.ObserveEscalation(EscalationSent)
	e.logger.Info("urgent turn escalated", "session_id", evt.SessionID, "role", e.to.Role)
	return nil
}
