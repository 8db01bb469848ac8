// Package archive keeps a queryable record of every chat turn in Postgres.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/ciro-tutor/internal/events"
	"github.com/wolfman30/ciro-tutor/pkg/logging"
)

var archiveTracer = otel.Tracer("ciro.internal.archive")

// db is the subset of *pgxpool.Pool the store uses.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store writes turn records to the turn_archive table.
type Store struct {
	db     db
	logger *logging.Logger
}

var _ events.TurnSink = (*Store)(nil)

func NewStore(pool db, logger *logging.Logger) *Store {
	if pool == nil {
		panic("archive: pgx pool required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{db: pool, logger: logger}
}

const insertTurnSQL = `
	INSERT INTO turn_archive (
		event_id, session_id, turn_index, message, reply, decision,
		handlers_used, results, clarification, urgent, latency_ms, occurred_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (event_id) DO NOTHING
`

// RecordTurn inserts one turn. Replays of the same event id are ignored.
func (s *Store) RecordTurn(ctx context.Context, evt events.TurnRecordedV1) error {
	ctx, span := archiveTracer.Start(ctx, "archive.record_turn")
	defer span.End()
	span.SetAttributes(attribute.String("ciro.session_id", evt.SessionID))

	results, err := json.Marshal(evt.Results)
	if err != nil {
		return fmt.Errorf("archive: marshal results: %w", err)
	}
	handlers := evt.HandlersUsed
	if handlers == nil {
		handlers = []string{}
	}
	occurred := evt.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	_, err = s.db.Exec(ctx, insertTurnSQL,
		evt.EventID, evt.SessionID, evt.TurnIndex, evt.Message, evt.Reply, evt.Decision,
		handlers, results, evt.Clarification, evt.Urgent, evt.LatencyMS, occurred,
	)
	if err != nil {
		return fmt.Errorf("archive: insert turn: %w", err)
	}
	s.logger.Debug("turn archived", "session_id", evt.SessionID, "turn", evt.TurnIndex)
	return nil
}

// HandlerUsage counts turns per handler that answered since the given time.
type HandlerUsage struct {
	Handler string
	Turns   int64
}

const handlerUsageSQL = `
	SELECT handler, count(*) AS turns
	FROM turn_archive, unnest(handlers_used) AS handler
	WHERE occurred_at >= $1
	GROUP BY handler
	ORDER BY turns DESC, handler
`

func (s *Store) HandlerUsage(ctx context.Context, since time.Time) ([]HandlerUsage, error) {
	rows, err := s.db.Query(ctx, handlerUsageSQL, since)
	if err != nil {
		return nil, fmt.Errorf("archive: handler usage: %w", err)
	}
	defer rows.Close()

	var out []HandlerUsage
	for rows.Next() {
		var u HandlerUsage
		if err := rows.Scan(&u.Handler, &u.Turns); err != nil {
			return nil, fmt.Errorf("archive: scan handler usage: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
