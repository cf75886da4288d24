package llm

import (
	"context"
	"strconv"
)

// Provider is the interface all LLM backends must implement.
type Provider interface {
	// Name returns the provider id (e.g. "openai", "anthropic").
	Name() string

	// FetchModels lists the models available to apiKey.
	FetchModels(ctx context.Context, apiKey string) ([]ModelConfig, error)

	// StreamChat starts a streaming chat completion and returns immediately.
	// Results are delivered through cb from another goroutine.
	StreamChat(ctx context.Context, apiKey string, req *ChatRequest, cb Callbacks) (*StreamHandle, error)
}

// LLMError is the normalized shape of every provider failure. Adapters
// convert SDK and transport errors into it so classification never has to
// know which backend produced the error.
type LLMError struct {
	Type    ErrorType
	Status  int    // HTTP-equivalent status, 0 if unknown
	Message string // short description
	Raw     any    // decoded JSON body (map[string]any) or raw string
	Err     error
}

func (e *LLMError) Error() string {
	msg := e.Message
	if e.Status != 0 {
		msg = strconv.Itoa(e.Status) + " " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *LLMError) Unwrap() error {
	return e.Err
}

// ErrorType tags an LLMError.
type ErrorType int

const (
	ErrorProvider ErrorType = iota // backend-reported failure, see Raw
	ErrorAuth                      // 401/403
	ErrorNetwork                   // connection refused, DNS, timeout, etc.
)

func (t ErrorType) String() string {
	switch t {
	case ErrorAuth:
		return "auth"
	case ErrorNetwork:
		return "network"
	default:
		return "provider"
	}
}
