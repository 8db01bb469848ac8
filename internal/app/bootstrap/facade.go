package bootstrap

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/ciro-tutor/internal/agents"
	appconfig "github.com/wolfman30/ciro-tutor/internal/config"
	"github.com/wolfman30/ciro-tutor/internal/events"
	"github.com/wolfman30/ciro-tutor/internal/llm"
	"github.com/wolfman30/ciro-tutor/internal/observability/metrics"
	"github.com/wolfman30/ciro-tutor/internal/orchestrator"
	"github.com/wolfman30/ciro-tutor/internal/routing"
	"github.com/wolfman30/ciro-tutor/pkg/logging"
)

// Deps carries the already-built collaborators a facade needs. Nil fields
// fall back to in-process defaults.
type Deps struct {
	Redis   *redis.Client
	AWS     *aws.Config
	LLM     llm.Client
	Metrics *metrics.RoutingMetrics
	Sinks   []events.TurnSink
}

// BuildRegistry loads the routing table and binds every profile to an
// LLM-backed handler. Retrieval is attached when RETRIEVAL_BASE_URL is set.
func BuildRegistry(cfg *appconfig.Config, client llm.Client, logger *logging.Logger) (*agents.Registry, *appconfig.Routing, error) {
	if logger == nil {
		logger = logging.Default()
	}
	routingCfg, err := appconfig.LoadRouting(cfg.RoutingConfigPath)
	if err != nil {
		return nil, nil, err
	}

	var retriever agents.Retriever
	if cfg.RetrievalBaseURL != "" {
		rc, err := agents.NewRetrievalClient(agents.RetrievalConfig{
			BaseURL: cfg.RetrievalBaseURL,
			APIKey:  cfg.RetrievalAPIKey,
			Timeout: cfg.RetrievalTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap: retrieval client: %w", err)
		}
		retriever = rc
		logger.Info("retrieval enabled", "base_url", cfg.RetrievalBaseURL)
	}

	profiles := agents.ProfilesFromConfig(routingCfg)
	reg, err := agents.NewRegistry(profiles, agents.BuildHandlers(profiles, client, retriever, logger))
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: registry: %w", err)
	}
	return reg, routingCfg, nil
}

// BuildClassifier returns the keyword classifier unless CLASSIFIER_MODE=llm.
func BuildClassifier(cfg *appconfig.Config, client llm.Client, reg *agents.Registry, routingCfg *appconfig.Routing, logger *logging.Logger) (routing.Classifier, error) {
	switch cfg.ClassifierMode {
	case "", "keyword":
		return routing.NewKeywordClassifier(reg, routingCfg), nil
	case "llm":
		return routing.NewLLMClassifier(client, reg, routingCfg, logger), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown classifier mode %q", cfg.ClassifierMode)
	}
}

// BuildFacade assembles the full turn pipeline.
func BuildFacade(ctx context.Context, cfg *appconfig.Config, deps Deps, logger *logging.Logger) (*orchestrator.Facade, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	client := deps.LLM
	if client == nil {
		var err error
		client, err = BuildLLMClient(ctx, cfg, deps.AWS, logger)
		if err != nil {
			return nil, err
		}
	}

	reg, routingCfg, err := BuildRegistry(cfg, client, logger)
	if err != nil {
		return nil, err
	}
	classifier, err := BuildClassifier(cfg, client, reg, routingCfg, logger)
	if err != nil {
		return nil, err
	}
	store, err := BuildSessionStore(cfg, deps.Redis, deps.AWS, logger)
	if err != nil {
		return nil, err
	}
	locker, err := BuildLocker(cfg, deps.Redis, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("routing ready",
		"handlers", reg.Names(),
		"classifier", cfg.ClassifierMode,
		"session_store", cfg.SessionStore,
		"sinks", len(deps.Sinks),
	)
	return orchestrator.New(store, reg, routingCfg,
		orchestrator.WithLocker(locker),
		orchestrator.WithClassifier(classifier),
		orchestrator.WithTurnSinks(deps.Sinks...),
		orchestrator.WithMetrics(deps.Metrics),
		orchestrator.WithLogger(logger),
	), nil
}
