package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrorKind is the outcome of classifying a stream failure.
type ErrorKind int

const (
	KindGeneric ErrorKind = iota
	KindModelNotFound
)

func (k ErrorKind) String() string {
	if k == KindModelNotFound {
		return "model_not_found"
	}
	return "generic"
}

// ClassifiedError is the normalized {kind, message} result of Classify.
type ClassifiedError struct {
	Kind    ErrorKind
	Message string
}

// FallbackErrorMessage is used when no message can be extracted.
const FallbackErrorMessage = "An unexpected error occurred"

// embeddedJSON matches messages such as `400 {"error":{"message":"..."}}`.
var embeddedJSON = regexp.MustCompile(`(?s)^\s*(\d{3})\s+(\{.*\})\s*$`)

// Classify turns a provider failure into a ClassifiedError. A not-found status
// wins outright; otherwise the extracted message is scanned for wording that
// means the model id was rejected.
func Classify(err error, provider, modelID string) ClassifiedError {
	var raw any
	status := 0

	var llmErr *LLMError
	if errors.As(err, &llmErr) {
		status = llmErr.Status
		raw = llmErr.Raw
		if raw == nil && llmErr.Message != "" {
			raw = llmErr.Message
		}
	} else if err != nil {
		raw = err.Error()
	}
	c := classify(raw, status)
	if c.Kind == KindModelNotFound && c.Message == FallbackErrorMessage && modelID != "" {
		c.Message = "model " + modelID + " was not found on " + provider
	}
	return c
}

// ClassifyValue classifies an error value as reported by a backend: a decoded
// JSON object, a string, or nil.
func ClassifyValue(v any) ClassifiedError {
	return classify(v, 0)
}

func classify(raw any, status int) ClassifiedError {
	if status == 0 {
		status = statusOf(raw)
	}
	msg := ExtractMessage(raw)
	if status == 404 || mentionsMissingModel(msg) {
		return ClassifiedError{Kind: KindModelNotFound, Message: msg}
	}
	return ClassifiedError{Kind: KindGeneric, Message: msg}
}

// ExtractMessage pulls a human-readable message out of an error value.
// Lookup order: error.message, message (unwrapping "<status> {json}"), a bare
// string, error_message, detail, then the whole value serialized as JSON.
func ExtractMessage(v any) string {
	switch t := v.(type) {
	case nil:
		return FallbackErrorMessage
	case string:
		if strings.TrimSpace(t) == "" {
			return FallbackErrorMessage
		}
		return t
	case error:
		return ExtractMessage(t.Error())
	case map[string]any:
		if nested, ok := t["error"].(map[string]any); ok {
			if m, ok := nested["message"].(string); ok && m != "" {
				return m
			}
		}
		if m, ok := t["message"].(string); ok && m != "" {
			return unwrapEmbedded(m)
		}
		if m, ok := t["error_message"].(string); ok && m != "" {
			return m
		}
		if m, ok := t["detail"].(string); ok && m != "" {
			return m
		}
	}
	data, err := json.Marshal(v)
	if err != nil || len(data) == 0 || string(data) == "null" {
		return FallbackErrorMessage
	}
	return string(data)
}

func unwrapEmbedded(msg string) string {
	match := embeddedJSON.FindStringSubmatch(msg)
	if match == nil {
		return msg
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(match[2]), &body); err != nil {
		return msg
	}
	if nested, ok := body["error"].(map[string]any); ok {
		if m, ok := nested["message"].(string); ok && m != "" {
			return m
		}
	}
	if m, ok := body["message"].(string); ok && m != "" {
		return m
	}
	return msg
}

// statusOf finds an explicit status on a decoded error object.
func statusOf(v any) int {
	m, ok := v.(map[string]any)
	if !ok {
		return 0
	}
	for _, key := range []string{"status", "statusCode", "code"} {
		if s := asStatus(m[key]); s != 0 {
			return s
		}
	}
	if nested, ok := m["error"].(map[string]any); ok {
		for _, key := range []string{"status", "code"} {
			if s := asStatus(nested[key]); s != 0 {
				return s
			}
		}
	}
	return 0
}

func asStatus(v any) int {
	switch s := v.(type) {
	case float64:
		return int(s)
	case int:
		return s
	case string:
		if s == "NOT_FOUND" {
			return 404
		}
	}
	return 0
}

func mentionsMissingModel(msg string) bool {
	lower := strings.ToLower(msg)
	if !strings.Contains(lower, "model") {
		return false
	}
	return strings.Contains(lower, "not found") ||
		strings.Contains(lower, "does not exist") ||
		strings.Contains(lower, "invalid model")
}
