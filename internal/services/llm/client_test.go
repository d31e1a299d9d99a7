package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"dublaj/internal/config"
	"dublaj/internal/stage"
)

func testConfig(baseURL string) config.LLM {
	return config.LLM{
		APIKey:            "test-key",
		BaseURL:           baseURL,
		Model:             "anthropic/claude-sonnet",
		InputCostPerMTok:  3.0,
		OutputCostPerMTok: 15.0,
	}
}

func TestCompleteReturnsTextAndUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("missing auth header: %q", auth)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
            "choices": [{"message": {"content": "Merhaba dünya"}, "finish_reason": "stop"}],
            "usage": {"prompt_tokens": 120, "completion_tokens": 48}
        }`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	resp, err := client.Complete(context.Background(), stage.ChatRequest{Prompt: "Çevir: Hallo Welt"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Text != "Merhaba dünya" {
		t.Errorf("unexpected text %q", resp.Text)
	}
	if resp.InputTokens != 120 || resp.OutputTokens != 48 {
		t.Errorf("usage not parsed: %+v", resp)
	}
}

func TestCompleteRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "ok"}}]}`))
	}))
	defer server.Close()

	var slept []time.Duration
	client := NewClient(testConfig(server.URL), WithSleeper(func(d time.Duration) {
		slept = append(slept, d)
	}))

	resp, err := client.Complete(context.Background(), stage.ChatRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Text != "ok" {
		t.Errorf("unexpected text %q", resp.Text)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
	if len(slept) != 2 || slept[1] <= slept[0] {
		t.Errorf("expected growing backoff, got %v", slept)
	}
}

func TestCompleteHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "ok"}}]}`))
	}))
	defer server.Close()

	var slept []time.Duration
	client := NewClient(testConfig(server.URL), WithSleeper(func(d time.Duration) {
		slept = append(slept, d)
	}))

	if _, err := client.Complete(context.Background(), stage.ChatRequest{Prompt: "x"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(slept) != 1 || slept[0] != 3*time.Second {
		t.Errorf("Retry-After not honored: %v", slept)
	}
}

func TestCompleteDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), WithSleeper(func(time.Duration) {}))
	if _, err := client.Complete(context.Background(), stage.ChatRequest{Prompt: "x"}); err == nil {
		t.Fatal("expected error on 400")
	}
	if calls.Load() != 1 {
		t.Errorf("client errors must not be retried, got %d attempts", calls.Load())
	}
}

func TestCompleteRequiresAPIKey(t *testing.T) {
	client := NewClient(config.LLM{})
	if _, err := client.Complete(context.Background(), stage.ChatRequest{Prompt: "x"}); err == nil {
		t.Fatal("expected error with no api key")
	}
}

func TestCostUSD(t *testing.T) {
	client := NewClient(testConfig("http://unused"))
	got := client.CostUSD(1_000_000, 200_000)
	want := 3.0 + 0.2*15.0
	if got < want-0.0001 || got > want+0.0001 {
		t.Errorf("cost: got %f, want %f", got, want)
	}
}

func TestDecodeLLMJSONQuirks(t *testing.T) {
	type payload struct {
		Title string `json:"title"`
	}

	tests := []struct {
		name    string
		content string
	}{
		{"plain", `{"title": "Bölüm 1"}`},
		{"fenced", "```json\n{\"title\": \"Bölüm 1\"}\n```"},
		{"prose wrapped", "Here is the JSON you asked for: {\"title\": \"Bölüm 1\"} hope it helps"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var out payload
			if err := DecodeLLMJSON(tc.content, &out); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if out.Title != "Bölüm 1" {
				t.Errorf("unexpected title %q", out.Title)
			}
		})
	}

	var out payload
	if err := DecodeLLMJSON("not json at all", &out); err == nil {
		t.Fatal("expected error for unparseable payload")
	}
}
