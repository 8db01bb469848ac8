package bootstrap

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/ciro-tutor/internal/archive"
	appconfig "github.com/wolfman30/ciro-tutor/internal/config"
	"github.com/wolfman30/ciro-tutor/internal/events"
	"github.com/wolfman30/ciro-tutor/internal/notify"
	"github.com/wolfman30/ciro-tutor/internal/observability/metrics"
	"github.com/wolfman30/ciro-tutor/pkg/logging"
)

// Sinks holds the turn sinks plus anything the caller must close.
type Sinks struct {
	List []events.TurnSink
	Pool *pgxpool.Pool
}

// Close releases the archive pool, if any.
func (s *Sinks) Close() {
	if s != nil && s.Pool != nil {
		s.Pool.Close()
	}
}

// BuildTurnSinks wires the optional archive, event queue and escalation
// sinks from configuration.
func BuildTurnSinks(ctx context.Context, cfg *appconfig.Config, awsCfg *aws.Config, m *metrics.RoutingMetrics, logger *logging.Logger) (*Sinks, error) {
	if logger == nil {
		logger = logging.Default()
	}
	out := &Sinks{}

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: connect archive database: %w", err)
		}
		out.Pool = pool
		out.List = append(out.List, archive.NewStore(pool, logger))
		logger.Info("turn archive enabled")
	}

	if cfg.TurnEventsQueueURL != "" {
		if awsCfg == nil {
			out.Close()
			return nil, fmt.Errorf("bootstrap: TURN_EVENTS_QUEUE_URL requires AWS config")
		}
		out.List = append(out.List, events.NewSQSPublisher(sqs.NewFromConfig(*awsCfg), cfg.TurnEventsQueueURL))
		logger.Info("turn events enabled", "queue", cfg.TurnEventsQueueURL)
	}

	sender := BuildEmailSender(cfg, awsCfg, logger)
	to := notify.Recipient{Role: cfg.EscalationRole, Address: cfg.EscalationEmailTo}
	out.List = append(out.List, notify.NewEscalator(sender, to, m, logger))
	return out, nil
}

// BuildEmailSender picks the escalation mail transport. Misconfigured
// providers degrade to the stub.
func BuildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) notify.AlertSender {
	from := notify.From{Email: cfg.EmailFrom, Name: cfg.EmailFromName}
	switch cfg.EmailProvider {
	case "sendgrid":
		s, err := notify.NewSendGridSender(cfg.SendGridAPIKey, from, logger)
		if err == nil {
			return s
		}
		logger.Warn("EMAIL_PROVIDER=sendgrid is not usable; using stub sender", "error", err)
	case "ses":
		if awsCfg != nil {
			return notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), from, logger)
		}
		logger.Warn("EMAIL_PROVIDER=ses but AWS config is missing; using stub sender")
	}
	return notify.NewStubSender(logger)
}
