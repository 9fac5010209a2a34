package conversation

import (
	"context"
	"errors"
	"fmt"
)

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is the provider-neutral message representation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

type LLMRequest struct {
	Model    string
	System   []string
	Messages []ChatMessage
	// MaxTokens of zero leaves the provider default.
	MaxTokens int32
	// A negative Temperature leaves the provider default.
	Temperature float32
	TopP        float32
}

type LLMResponse struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

// LLMClient is a single chat-completion provider call with no retries.
type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}

// ErrorKind groups provider failures by how they should be retried.
type ErrorKind string

const (
	ErrorKindRateLimit      ErrorKind = "rate_limit"
	ErrorKindConnection     ErrorKind = "connection"
	ErrorKindInvalidRequest ErrorKind = "invalid_request"
	ErrorKindUnknown        ErrorKind = "unknown"
)

// ErrLLMUnavailable matches every *LLMError via errors.Is.
var ErrLLMUnavailable = errors.New("conversation: language model unavailable")

// ProviderError is returned by provider clients with the failure classified.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("conversation: %s %s (status %d): %v", e.Provider, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("conversation: %s %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// LLMError is returned by LanguageModel after retries are exhausted or a
// non-retryable failure occurs.
type LLMError struct {
	Kind     ErrorKind
	Attempts int
	Err      error
}

func (e *LLMError) Error() string {
	return fmt.Sprintf("conversation: llm %s after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *LLMError) Unwrap() error { return e.Err }

func (e *LLMError) Is(target error) bool { return target == ErrLLMUnavailable }
