package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/restaurant-chatbot/internal/config"
	"github.com/wolfman30/restaurant-chatbot/internal/conversation"
	"github.com/wolfman30/restaurant-chatbot/internal/observability/metrics"
	"github.com/wolfman30/restaurant-chatbot/pkg/logging"
)

// ErrProviderNotConfigured means the provider was selected but its
// credentials or model are missing.
var ErrProviderNotConfigured = errors.New("bootstrap: llm provider not configured")

// BuildLLMClient constructs the raw client for one provider name.
func BuildLLMClient(ctx context.Context, provider string, cfg *appconfig.Config) (conversation.LLMClient, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, fmt.Errorf("%w: OPENAI_API_KEY is empty", ErrProviderNotConfigured)
		}
		return conversation.NewOpenAILLMClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)

	case "bedrock":
		if strings.TrimSpace(cfg.BedrockModelID) == "" {
			return nil, fmt.Errorf("%w: BEDROCK_MODEL_ID is empty", ErrProviderNotConfigured)
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		return conversation.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID), nil

	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, fmt.Errorf("%w: GEMINI_API_KEY is empty", ErrProviderNotConfigured)
		}
		return conversation.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)

	case "", "none":
		return nil, fmt.Errorf("%w: no provider selected", ErrProviderNotConfigured)
	default:
		return nil, fmt.Errorf("bootstrap: unknown llm provider %q", provider)
	}
}

// BuildLanguageModel wires the primary provider, an optional fallback
// provider and the retry policy. It returns nil when no provider can be
// built, in which case intent classification and small talk use the
// rule-based paths.
func BuildLanguageModel(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, m *metrics.ChatbotMetrics) *conversation.LanguageModel {
	if logger == nil {
		logger = logging.Default()
	}
	primary, err := BuildLLMClient(ctx, cfg.LLMProvider, cfg)
	if err != nil {
		logger.Warn("language model disabled, using rule-based fallbacks", "provider", cfg.LLMProvider, "error", err)
		return nil
	}

	client := primary
	if fb := strings.TrimSpace(cfg.FallbackLLMProvider); fb != "" && fb != cfg.LLMProvider {
		secondary, err := BuildLLMClient(ctx, fb, cfg)
		if err != nil {
			logger.Warn("fallback language model unavailable", "provider", fb, "error", err)
		} else {
			client = conversation.NewFallbackLLMClient(primary, secondary, logger)
			logger.Info("fallback language model enabled", "provider", fb)
		}
	}

	logger.Info("language model enabled", "provider", cfg.LLMProvider, "max_retries", cfg.LLMMaxRetries)
	return conversation.NewLanguageModel(client, conversation.LanguageModelConfig{
		Temperature: cfg.LLMTemperature,
		MaxTokens:   int32(cfg.LLMMaxTokens),
		Timeout:     cfg.LLMTimeout,
		MaxRetries:  cfg.LLMMaxRetries,
	}, logger, m)
}
