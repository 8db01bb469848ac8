package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/ciro-tutor/internal/config"
	"github.com/wolfman30/ciro-tutor/internal/llm"
	"github.com/wolfman30/ciro-tutor/pkg/logging"
)

// BuildLLMClient wires the completion provider named by LLM_PROVIDER,
// wrapped with LLM_FALLBACK_PROVIDER when one is set. Missing credentials
// degrade to the stub client so the service still starts.
func BuildLLMClient(ctx context.Context, cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (llm.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	primary, err := buildProvider(ctx, cfg.LLMProvider, cfg, awsCfg, logger)
	if err != nil {
		return nil, err
	}
	fallbackName := strings.TrimSpace(cfg.LLMFallbackProvider)
	if fallbackName == "" || fallbackName == cfg.LLMProvider {
		return primary, nil
	}
	fallback, err := buildProvider(ctx, fallbackName, cfg, awsCfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("llm fallback enabled", "primary", cfg.LLMProvider, "fallback", fallbackName)
	return llm.NewFallbackClient(primary, fallback, logger), nil
}

func buildProvider(ctx context.Context, name string, cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (llm.Client, error) {
	switch name {
	case "openai", "":
		if cfg.OpenAIAPIKey == "" {
			logger.Warn("no OpenAI API key configured; using stub completions")
			return llm.NewStubClient(), nil
		}
		logger.Info("using openai completions", "model", cfg.OpenAIModel)
		return llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	case "bedrock":
		if cfg.BedrockModelID == "" || awsCfg == nil {
			logger.Warn("no Bedrock model configured; using stub completions")
			return llm.NewStubClient(), nil
		}
		logger.Info("using bedrock completions", "model", cfg.BedrockModelID)
		return llm.NewBedrockClient(bedrockruntime.NewFromConfig(*awsCfg), cfg.BedrockModelID), nil
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			logger.Warn("no Gemini API key configured; using stub completions")
			return llm.NewStubClient(), nil
		}
		logger.Info("using gemini completions", "model", cfg.GeminiModel)
		return llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	case "stub":
		return llm.NewStubClient(), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown llm provider %q", name)
	}
}
