package llm

import (
	"net/http"
	"sort"
	"strings"
	"time"
)

// streamErrorPrefix is how the OpenAI and Anthropic SDKs report an error event
// received in the middle of a stream.
const streamErrorPrefix = "received error while streaming: "

// inStreamError decodes an error event body reported mid-stream.
func inStreamError(err error) (*LLMError, bool) {
	body, ok := strings.CutPrefix(err.Error(), streamErrorPrefix)
	if !ok {
		return nil, false
	}
	raw := decodeRaw(body)
	return &LLMError{
		Type:    ErrorProvider,
		Status:  statusOf(raw),
		Raw:     raw,
		Message: ExtractMessage(raw),
		Err:     err,
	}, true
}

// newHTTPClient bounds the wait for response headers only, so long streams
// are never cut off by the client.
func newHTTPClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if timeout > 0 {
		transport.ResponseHeaderTimeout = timeout
	}
	return &http.Client{Transport: transport}
}

// SortModels deduplicates models by id and orders them newest first when
// creation times are known, by id otherwise.
func SortModels(models []ModelConfig) []ModelConfig {
	seen := make(map[string]bool, len(models))
	out := make([]ModelConfig, 0, len(models))
	for _, m := range models {
		if m.ID == "" || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		if m.Name == "" {
			m.Name = m.ID
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ci, cj := out[i].Created, out[j].Created
		if !ci.Equal(cj) {
			return ci.After(cj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
