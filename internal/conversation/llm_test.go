package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/restaurant-chatbot/pkg/logging"
)

// scriptedLLMClient returns errs in order, then text.
type scriptedLLMClient struct {
	mu    sync.Mutex
	errs  []error
	text  string
	calls int
	last  LLMRequest
}

func (c *scriptedLLMClient) Complete(_ context.Context, req LLMRequest) (LLMResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.last = req
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		return LLMResponse{}, err
	}
	return LLMResponse{Text: c.text}, nil
}

type sleepRecorder struct {
	waits []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func testModel(client LLMClient, rec *sleepRecorder) *LanguageModel {
	policy := DefaultRetryPolicy(3)
	policy.Sleep = rec.sleep
	return NewLanguageModel(client, LanguageModelConfig{Model: "test-model"}, logging.Discard(), nil).
		WithRetryPolicy(policy)
}

func rateLimited() error {
	return &ProviderError{Provider: "test", Kind: ErrorKindRateLimit, Status: 429, Err: errors.New("slow down")}
}

func TestLanguageModel_RetriesRateLimitWithExponentialBackoff(t *testing.T) {
	client := &scriptedLLMClient{errs: []error{rateLimited(), rateLimited()}, text: " hello "}
	rec := &sleepRecorder{}

	text, err := testModel(client, rec).Chat(context.Background(), []ChatMessage{{Role: ChatRoleUser, Content: "hi"}})

	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, 3, client.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.waits)
}

func TestLanguageModel_InvalidRequestNeverRetries(t *testing.T) {
	client := &scriptedLLMClient{errs: []error{
		&ProviderError{Provider: "test", Kind: ErrorKindInvalidRequest, Status: 400, Err: errors.New("bad prompt")},
	}, text: "unreachable"}
	rec := &sleepRecorder{}

	_, err := testModel(client, rec).Chat(context.Background(), []ChatMessage{{Role: ChatRoleUser, Content: "hi"}})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLLMUnavailable))
	var llmErr *LLMError
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, ErrorKindInvalidRequest, llmErr.Kind)
	assert.Equal(t, 1, llmErr.Attempts)
	assert.Contains(t, llmErr.Error(), "bad prompt")
	assert.Equal(t, 1, client.calls)
	assert.Empty(t, rec.waits)
}

func TestLanguageModel_ConnectionErrorsUseFixedPauseAndExhaust(t *testing.T) {
	connErr := &ProviderError{Provider: "test", Kind: ErrorKindConnection, Err: errors.New("connection reset")}
	client := &scriptedLLMClient{errs: []error{connErr, connErr, connErr}}
	rec := &sleepRecorder{}

	_, err := testModel(client, rec).Chat(context.Background(), []ChatMessage{{Role: ChatRoleUser, Content: "hi"}})

	var llmErr *LLMError
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, ErrorKindConnection, llmErr.Kind)
	assert.Equal(t, 3, llmErr.Attempts)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, rec.waits)
}

func TestLanguageModel_EmptyReplyIsAnError(t *testing.T) {
	client := &scriptedLLMClient{text: "   "}
	_, err := testModel(client, &sleepRecorder{}).Chat(context.Background(), []ChatMessage{{Role: ChatRoleUser, Content: "hi"}})
	assert.ErrorIs(t, err, ErrLLMUnavailable)
	assert.Equal(t, 1, client.calls)
}

func TestLanguageModel_AppliesChatOptions(t *testing.T) {
	client := &scriptedLLMClient{text: "ok"}
	_, err := testModel(client, &sleepRecorder{}).Chat(context.Background(),
		[]ChatMessage{{Role: ChatRoleUser, Content: "hi"}},
		WithSystemPrompt("be brief"),
		WithSystemPrompt("  "),
		WithTemperature(0.1),
		WithMaxTokens(42),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"be brief"}, client.last.System)
	assert.InDelta(t, 0.1, client.last.Temperature, 1e-6)
	assert.Equal(t, int32(42), client.last.MaxTokens)
	assert.Equal(t, "test-model", client.last.Model)
}

func TestLanguageModel_WithMaxRetriesOverridesPolicy(t *testing.T) {
	client := &scriptedLLMClient{errs: []error{rateLimited(), rateLimited()}, text: "ok"}
	rec := &sleepRecorder{}
	_, err := testModel(client, rec).Chat(context.Background(),
		[]ChatMessage{{Role: ChatRoleUser, Content: "hi"}}, WithMaxRetries(1))
	assert.ErrorIs(t, err, ErrLLMUnavailable)
	assert.Equal(t, 1, client.calls)
	assert.Empty(t, rec.waits)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"provider kind wins", &ProviderError{Kind: ErrorKindInvalidRequest, Err: errors.New("x")}, ErrorKindInvalidRequest},
		{"deadline", context.DeadlineExceeded, ErrorKindConnection},
		{"rate limit text", errors.New("429 Too Many Requests"), ErrorKindRateLimit},
		{"connection text", errors.New("dial tcp: connection refused"), ErrorKindConnection},
		{"unknown", errors.New("boom"), ErrorKindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}

func TestRetryPolicy_StopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 5, Sleep: func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}}
	calls := 0
	_, err := policy.Run(ctx, func(context.Context) (LLMResponse, error) {
		calls++
		return LLMResponse{}, rateLimited()
	}, nil)
	assert.ErrorIs(t, err, ErrLLMUnavailable)
	assert.Equal(t, 1, calls)
}

type fakeOpenAIAPI struct {
	resp openai.ChatCompletionResponse
	err  error
	req  openai.ChatCompletionRequest
}

func (f *fakeOpenAIAPI) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	return f.resp, f.err
}

func TestOpenAILLMClient_Complete(t *testing.T) {
	api := &fakeOpenAIAPI{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: " Hi! "}, FinishReason: openai.FinishReasonStop}},
		Usage:   openai.Usage{PromptTokens: 10, CompletionTokens: 3, TotalTokens: 13},
	}}
	client := newOpenAILLMClientWithAPI(api, "")

	resp, err := client.Complete(context.Background(), LLMRequest{
		System:      []string{"persona"},
		Messages:    []ChatMessage{{Role: ChatRoleUser, Content: "hello"}},
		Temperature: -1,
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi!", resp.Text)
	assert.Equal(t, int32(13), resp.Usage.TotalTokens)
	assert.Equal(t, openai.GPT4oMini, api.req.Model)
	require.Len(t, api.req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, api.req.Messages[0].Role)
	assert.Zero(t, api.req.Temperature)
}

func TestOpenAILLMClient_ClassifiesStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{429, ErrorKindRateLimit},
		{400, ErrorKindInvalidRequest},
		{401, ErrorKindInvalidRequest},
		{503, ErrorKindConnection},
		{418, ErrorKindUnknown},
	}
	for _, tt := range tests {
		api := &fakeOpenAIAPI{err: &openai.APIError{HTTPStatusCode: tt.status, Message: "nope"}}
		_, err := newOpenAILLMClientWithAPI(api, "gpt").Complete(context.Background(), LLMRequest{
			Messages: []ChatMessage{{Role: ChatRoleUser, Content: "hello"}},
		})
		assert.Equal(t, tt.want, ClassifyError(err), "status %d", tt.status)
	}
}

func TestClassifyBedrockError(t *testing.T) {
	tests := []struct {
		code string
		want ErrorKind
	}{
		{"ThrottlingException", ErrorKindRateLimit},
		{"ValidationException", ErrorKindInvalidRequest},
		{"ModelTimeoutException", ErrorKindConnection},
		{"SomethingElse", ErrorKindUnknown},
	}
	for _, tt := range tests {
		err := classifyBedrockError(&smithy.GenericAPIError{Code: tt.code, Message: "x"})
		assert.Equal(t, tt.want, ClassifyError(err), tt.code)
	}
}

func TestFallbackLLMClient(t *testing.T) {
	primary := &scriptedLLMClient{errs: []error{rateLimited()}}
	fallback := &scriptedLLMClient{text: "from fallback"}
	client := NewFallbackLLMClient(primary, fallback, logging.Discard())

	resp, err := client.Complete(context.Background(), LLMRequest{Model: "primary-model"})
	require.NoError(t, err)
	assert.Equal(t, "from fallback", resp.Text)
	assert.Empty(t, fallback.last.Model)

	passthrough := NewFallbackLLMClient(&scriptedLLMClient{errs: []error{rateLimited()}}, nil, logging.Discard())
	_, err = passthrough.Complete(context.Background(), LLMRequest{})
	assert.Error(t, err)
}
