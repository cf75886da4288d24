package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"strings"
)

// statusError builds the normalized error for a backend response with an
// HTTP status. rawBody is kept decoded so the classifier can dig into it.
func statusError(status int, rawBody string, err error) *LLMError {
	raw := decodeRaw(rawBody)
	llmErr := &LLMError{
		Type:    ErrorProvider,
		Status:  status,
		Raw:     raw,
		Message: ExtractMessage(raw),
		Err:     err,
	}
	if status == 401 || status == 403 {
		llmErr.Type = ErrorAuth
	}
	return llmErr
}

// transportError normalizes an error that carries no backend status.
func transportError(err error) *LLMError {
	var llmErr *LLMError
	if errors.As(err, &llmErr) {
		return llmErr
	}
	if isNetworkError(err) {
		return &LLMError{Type: ErrorNetwork, Message: "network error", Err: err}
	}
	return &LLMError{Type: ErrorProvider, Message: err.Error(), Raw: err.Error(), Err: err}
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "connection reset")
}

func decodeRaw(body string) any {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(body), &v); err == nil {
		if m, ok := v.(map[string]any); ok {
			return m
		}
	}
	return body
}
