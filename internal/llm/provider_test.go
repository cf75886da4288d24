package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/genai"

	"pagechat/internal/config"
)

func sseServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func openAIChunk(content string) string {
	return fmt.Sprintf(`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[{"index":0,"delta":{"content":%q},"finish_reason":null}]}`, content)
}

func TestOpenAIStreamChat(t *testing.T) {
	var gotAuth string
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range []string{"Hello", ", ", "world"} {
			fmt.Fprintf(w, "data: %s\n\n", openAIChunk(d))
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL})
	rec := &recorder{}
	h, err := p.StreamChat(context.Background(), "sk-test", &ChatRequest{
		Model:    "gpt-test",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	}, rec.callbacks())
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, h)

	if gotAuth != "Bearer sk-test" {
		t.Fatalf("authorization header = %q", gotAuth)
	}
	if len(rec.errs) != 0 {
		t.Fatalf("unexpected errors: %v", rec.errs)
	}
	if len(rec.ends) != 1 || rec.ends[0] != "Hello, world" {
		t.Fatalf("ends = %v", rec.ends)
	}
}

func TestOpenAIStreamModelNotFound(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"message":"The model `+"`gpt-gone`"+` does not exist","type":"invalid_request_error","code":"model_not_found"}}`)
	})

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL})
	rec := &recorder{}
	h, err := p.StreamChat(context.Background(), "sk-test", &ChatRequest{
		Model:    "gpt-gone",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	}, rec.callbacks())
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, h)

	if len(rec.errs) != 1 {
		t.Fatalf("expected one error, got %v (ends %v)", rec.errs, rec.ends)
	}
	var llmErr *LLMError
	if !errors.As(rec.errs[0], &llmErr) || llmErr.Status != 404 {
		t.Fatalf("expected 404 LLMError, got %#v", rec.errs[0])
	}
	c := Classify(rec.errs[0], "openai", "gpt-gone")
	if c.Kind != KindModelNotFound {
		t.Fatalf("kind = %v", c.Kind)
	}
	if !strings.Contains(c.Message, "does not exist") {
		t.Fatalf("message = %q", c.Message)
	}
}

func TestOpenAIFetchModels(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","data":[
			{"id":"gpt-old","object":"model","created":100,"owned_by":"openai"},
			{"id":"text-embedding-3-small","object":"model","created":300,"owned_by":"openai"},
			{"id":"gpt-new","object":"model","created":200,"owned_by":"openai"},
			{"id":"gpt-new","object":"model","created":200,"owned_by":"openai"}
		]}`)
	})

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL})
	models, err := p.FetchModels(context.Background(), "sk-test")
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 chat models, got %+v", models)
	}
	if models[0].ID != "gpt-new" || models[1].ID != "gpt-old" {
		t.Fatalf("order = %s, %s", models[0].ID, models[1].ID)
	}
}

func TestOpenAIFetchModelsAuth(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`)
	})

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL})
	_, err := p.FetchModels(context.Background(), "bad")
	var llmErr *LLMError
	if !errors.As(err, &llmErr) {
		t.Fatalf("expected LLMError, got %v", err)
	}
	if llmErr.Type != ErrorAuth {
		t.Fatalf("type = %v, want auth", llmErr.Type)
	}
}

func TestOpenAIFetchModelsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: url})
	_, err := p.FetchModels(context.Background(), "sk-test")
	var llmErr *LLMError
	if !errors.As(err, &llmErr) || llmErr.Type != ErrorNetwork {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestOpenRouterHeaders(t *testing.T) {
	var referer, title string
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		referer = r.Header.Get("HTTP-Referer")
		title = r.Header.Get("X-Title")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[{"id":"meta/llama","name":"Llama","created":5,"context_length":8192}]}`)
	})

	p := NewOpenRouterProvider(OpenRouterConfig{BaseURL: srv.URL, AppURL: "https://example.com", AppTitle: "pagechat"})
	models, err := p.FetchModels(context.Background(), "or-key")
	if err != nil {
		t.Fatal(err)
	}
	if referer != "https://example.com" || title != "pagechat" {
		t.Fatalf("headers = %q, %q", referer, title)
	}
	if len(models) != 1 || models[0].Name != "Llama" || models[0].ContextWindow != 8192 {
		t.Fatalf("models = %+v", models)
	}
}

func TestAnthropicFetchModels(t *testing.T) {
	var gotKey string
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[
			{"id":"claude-old","type":"model","display_name":"Claude Old","created_at":"2024-01-01T00:00:00Z"},
			{"id":"claude-new","type":"model","display_name":"Claude New","created_at":"2025-06-01T00:00:00Z"}
		],"has_more":false,"first_id":"claude-old","last_id":"claude-new"}`)
	})

	p := NewAnthropicProvider(AnthropicConfig{BaseURL: srv.URL})
	models, err := p.FetchModels(context.Background(), "ak-test")
	if err != nil {
		t.Fatal(err)
	}
	if gotKey != "ak-test" {
		t.Fatalf("x-api-key = %q", gotKey)
	}
	if len(models) != 2 || models[0].ID != "claude-new" || models[0].Name != "Claude New" {
		t.Fatalf("models = %+v", models)
	}
}

func TestAnthropicStreamModelNotFound(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"type":"error","error":{"type":"not_found_error","message":"model: claude-gone"}}`)
	})

	p := NewAnthropicProvider(AnthropicConfig{BaseURL: srv.URL})
	rec := &recorder{}
	h, err := p.StreamChat(context.Background(), "ak-test", &ChatRequest{
		Model:    "claude-gone",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	}, rec.callbacks())
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, h)

	if len(rec.errs) != 1 {
		t.Fatalf("expected one error, got %v", rec.errs)
	}
	c := Classify(rec.errs[0], "anthropic", "claude-gone")
	if c.Kind != KindModelNotFound || c.Message != "model: claude-gone" {
		t.Fatalf("classified = %+v", c)
	}
}

func TestZeroTemperatureIsSent(t *testing.T) {
	zero := 0.0
	tests := []struct {
		name string
		new  func(baseURL string) Provider
	}{
		{"openai", func(u string) Provider { return NewOpenAIProvider(OpenAIConfig{BaseURL: u}) }},
		{"anthropic", func(u string) Provider { return NewAnthropicProvider(AnthropicConfig{BaseURL: u}) }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			bodies := make(chan string, 4)
			srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
				data, _ := io.ReadAll(r.Body)
				bodies <- string(data)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"error":{"message":"stop here"}}`)
			})

			rec := &recorder{}
			h, err := tc.new(srv.URL).StreamChat(context.Background(), "key", &ChatRequest{
				Model:       "m",
				Messages:    []Message{{Role: RoleUser, Content: "hi"}},
				Temperature: &zero,
			}, rec.callbacks())
			if err != nil {
				t.Fatal(err)
			}
			waitDone(t, h)

			body := <-bodies
			if !strings.Contains(body, `"temperature":0`) {
				t.Fatalf("request body lacks temperature: %s", body)
			}
		})
	}
}

func TestUnsetTemperatureIsOmitted(t *testing.T) {
	bodies := make(chan string, 4)
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		bodies <- string(data)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	rec := &recorder{}
	h, err := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL}).StreamChat(context.Background(), "key", &ChatRequest{
		Model:    "m",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	}, rec.callbacks())
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, h)
	if body := <-bodies; strings.Contains(body, "temperature") {
		t.Fatalf("unexpected temperature in %s", body)
	}
}

func TestNormalizeGeminiError(t *testing.T) {
	err := normalizeGeminiError(genai.APIError{Code: 404, Status: "NOT_FOUND", Message: "models/gemini-x is not found for API version v1beta"})
	if err.Status != 404 {
		t.Fatalf("status = %d", err.Status)
	}
	if err.Message != "models/gemini-x is not found for API version v1beta" {
		t.Fatalf("message = %q", err.Message)
	}

	auth := normalizeGeminiError(genai.APIError{Code: 400, Status: "INVALID_ARGUMENT", Message: "API key not valid. Please pass a valid API key."})
	if auth.Type != ErrorAuth {
		t.Fatalf("type = %v, want auth", auth.Type)
	}
}

func TestGeminiConvertMessages(t *testing.T) {
	p := NewGeminiProvider(GeminiConfig{})
	contents := p.convertMessages(&ChatRequest{Messages: []Message{
		{Role: RoleUser, Content: "q"},
		{Role: RoleAssistant, Content: ""},
		{Role: RoleAssistant, Content: "a"},
	}})
	if len(contents) != 2 {
		t.Fatalf("expected 2 contents, got %d", len(contents))
	}
	if contents[1].Role != string(genai.RoleModel) {
		t.Fatalf("assistant role = %q", contents[1].Role)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(configForTest())
	for _, name := range KnownProviders {
		p, ok := r.Get(name)
		if !ok {
			t.Fatalf("provider %s missing", name)
		}
		if p.Name() != name {
			t.Fatalf("provider %s reports name %s", name, p.Name())
		}
	}
	if _, ok := r.Get("nope"); ok {
		t.Fatal("unexpected provider")
	}
	if _, err := NewProvider("nope", configForTest()); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestRegistryRegisterReplaces(t *testing.T) {
	r := NewRegistry(configForTest())
	custom := NewOpenAIProvider(OpenAIConfig{Name: "openai", BaseURL: "http://127.0.0.1:1"})
	r.Register(custom)
	if p, _ := r.Get("openai"); p != Provider(custom) {
		t.Fatal("Register did not replace the openai provider")
	}
	if len(r.Names()) != len(KnownProviders) {
		t.Fatalf("names = %v", r.Names())
	}

	var empty Registry
	empty.Register(custom)
	if _, ok := empty.Get("openai"); !ok {
		t.Fatal("zero Registry should accept Register")
	}
}

func configForTest() config.LLMConfig {
	return config.Defaults().LLM
}
