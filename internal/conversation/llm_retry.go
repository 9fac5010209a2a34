package conversation

import (
	"context"
	"errors"
	"math"
	"net"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/restaurant-chatbot/internal/observability/metrics"
	"github.com/wolfman30/restaurant-chatbot/pkg/logging"
)

var llmTracer = otel.Tracer("restaurant.internal.conversation.llm")

// RetryPolicy decides how failed provider calls are retried.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(kind ErrorKind, attempt int) time.Duration
	Retryable   func(kind ErrorKind) bool
	Sleep       func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy retries rate limits with exponential backoff (1s, 2s,
// 4s, ...) and connection failures after a fixed second.
func DefaultRetryPolicy(maxAttempts int) RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		Backoff:     defaultBackoff,
		Retryable:   defaultRetryable,
		Sleep:       sleepContext,
	}
}

func defaultBackoff(kind ErrorKind, attempt int) time.Duration {
	if kind == ErrorKindRateLimit {
		return time.Duration(math.Pow(2, float64(attempt))) * time.Second
	}
	return time.Second
}

func defaultRetryable(kind ErrorKind) bool {
	return kind == ErrorKindRateLimit || kind == ErrorKindConnection
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ClassifyError maps a provider error onto an ErrorKind.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindConnection
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorKindConnection
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return ErrorKindRateLimit
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"), strings.Contains(msg, "timeout"):
		return ErrorKindConnection
	}
	return ErrorKindUnknown
}

// Run calls fn until it succeeds, fails with a non-retryable kind, or
// MaxAttempts is reached. The returned error is always an *LLMError.
func (p RetryPolicy) Run(ctx context.Context, fn func(ctx context.Context) (LLMResponse, error), onRetry func(kind ErrorKind, attempt int, wait time.Duration, err error)) (LLMResponse, error) {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = defaultRetryable
	}
	backoff := p.Backoff
	if backoff == nil {
		backoff = defaultBackoff
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	var lastKind ErrorKind
	for attempt := 0; attempt < attempts; attempt++ {
		resp, err := fn(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr, lastKind = err, ClassifyError(err)
		if ctx.Err() != nil || !retryable(lastKind) || attempt == attempts-1 {
			return LLMResponse{}, &LLMError{Kind: lastKind, Attempts: attempt + 1, Err: lastErr}
		}
		wait := backoff(lastKind, attempt)
		if onRetry != nil {
			onRetry(lastKind, attempt, wait, err)
		}
		if err := sleep(ctx, wait); err != nil {
			return LLMResponse{}, &LLMError{Kind: lastKind, Attempts: attempt + 1, Err: lastErr}
		}
	}
	return LLMResponse{}, &LLMError{Kind: lastKind, Attempts: attempts, Err: lastErr}
}

// LanguageModelConfig holds per-call defaults for LanguageModel.
type LanguageModelConfig struct {
	Model       string
	Temperature float32
	MaxTokens   int32
	Timeout     time.Duration
	MaxRetries  int
}

// LanguageModel wraps an LLMClient with defaults, per-attempt timeouts and
// the retry policy.
type LanguageModel struct {
	client  LLMClient
	cfg     LanguageModelConfig
	policy  RetryPolicy
	logger  *logging.Logger
	metrics *metrics.ChatbotMetrics
}

func NewLanguageModel(client LLMClient, cfg LanguageModelConfig, logger *logging.Logger, m *metrics.ChatbotMetrics) *LanguageModel {
	if client == nil {
		panic("conversation: llm client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	return &LanguageModel{
		client:  client,
		cfg:     cfg,
		policy:  DefaultRetryPolicy(cfg.MaxRetries),
		logger:  logger,
		metrics: m,
	}
}

// WithRetryPolicy replaces the default retry policy.
func (m *LanguageModel) WithRetryPolicy(p RetryPolicy) *LanguageModel {
	m.policy = p
	return m
}

type chatOptions struct {
	system      []string
	temperature *float32
	maxTokens   int32
	maxAttempts int
}

// ChatOption customises a single Chat call.
type ChatOption func(*chatOptions)

func WithSystemPrompt(prompt string) ChatOption {
	return func(o *chatOptions) {
		if strings.TrimSpace(prompt) != "" {
			o.system = append(o.system, prompt)
		}
	}
}

func WithTemperature(t float32) ChatOption {
	return func(o *chatOptions) { o.temperature = &t }
}

func WithMaxTokens(n int32) ChatOption {
	return func(o *chatOptions) { o.maxTokens = n }
}

func WithMaxRetries(n int) ChatOption {
	return func(o *chatOptions) { o.maxAttempts = n }
}

// Chat sends messages to the provider and returns the trimmed reply text.
func (m *LanguageModel) Chat(ctx context.Context, messages []ChatMessage, opts ...ChatOption) (string, error) {
	ctx, span := llmTracer.Start(ctx, "conversation.llm")
	defer span.End()

	o := chatOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	req := LLMRequest{
		Model:       m.cfg.Model,
		System:      o.system,
		Messages:    messages,
		MaxTokens:   m.cfg.MaxTokens,
		Temperature: m.cfg.Temperature,
	}
	if o.temperature != nil {
		req.Temperature = *o.temperature
	}
	if o.maxTokens > 0 {
		req.MaxTokens = o.maxTokens
	}
	policy := m.policy
	if o.maxAttempts > 0 {
		policy.MaxAttempts = o.maxAttempts
	}

	start := time.Now()
	resp, err := policy.Run(ctx, func(ctx context.Context) (LLMResponse, error) {
		callCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
		resp, err := m.client.Complete(callCtx, req)
		if err != nil {
			m.metrics.ObserveLLMAttempt("error")
			return LLMResponse{}, err
		}
		if strings.TrimSpace(resp.Text) == "" {
			m.metrics.ObserveLLMAttempt("empty")
			return LLMResponse{}, &ProviderError{Provider: "llm", Kind: ErrorKindUnknown, Err: errors.New("empty response")}
		}
		m.metrics.ObserveLLMAttempt("ok")
		return resp, nil
	}, func(kind ErrorKind, attempt int, wait time.Duration, err error) {
		m.metrics.ObserveLLMRetry(string(kind))
		m.logger.Warn("llm call failed, retrying",
			"kind", kind,
			"attempt", attempt+1,
			"wait_ms", wait.Milliseconds(),
			"error", err,
		)
	})
	latency := time.Since(start)

	if span.IsRecording() {
		span.SetAttributes(
			attribute.String("restaurant.llm.model", req.Model),
			attribute.Float64("restaurant.llm.latency_ms", float64(latency.Milliseconds())),
			attribute.Int("restaurant.llm.output_tokens", int(resp.Usage.OutputTokens)),
		)
	}
	if err != nil {
		span.RecordError(err)
		m.logger.Warn("llm completion failed", "model", req.Model, "latency_ms", latency.Milliseconds(), "error", err)
		return "", err
	}
	m.logger.Debug("llm completion finished",
		"model", req.Model,
		"latency_ms", latency.Milliseconds(),
		"total_tokens", resp.Usage.TotalTokens,
		"stop_reason", resp.StopReason,
	)
	return strings.TrimSpace(resp.Text), nil
}
