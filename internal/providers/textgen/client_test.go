package textgen

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func gameCode() string {
	return "const canvas = document.getElementById('game');\n" +
		"const ctx = canvas.getContext('2d');\n" +
		strings.Repeat("function update(dt) { /* move the player */ }\n", 10)
}

func chatBody(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
		"usage": map[string]any{"prompt_tokens": 120, "completion_tokens": 480},
	}
}

func newTestClient(t *testing.T, serverURL string, maxAttempts int, slept *[]time.Duration) *Client {
	t.Helper()
	client, err := NewClient(Options{
		APIKey:      "test-key",
		BaseURL:     serverURL,
		MaxAttempts: maxAttempts,
		Sleep: func(d time.Duration) {
			*slept = append(*slept, d)
		},
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestGenerateTextSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode(chatBody(gameCode()))
	}))
	defer srv.Close()

	var slept []time.Duration
	client := newTestClient(t, srv.URL, 3, &slept)

	completion, err := client.GenerateText(context.Background(), "you build games", "a ninja platformer")
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if !strings.Contains(completion.Content, "canvas") {
		t.Fatalf("unexpected content: %q", completion.Content)
	}
	if completion.Usage.InputTokens != 120 || completion.Usage.OutputTokens != 480 {
		t.Fatalf("unexpected usage: %+v", completion.Usage)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if len(slept) != 0 {
		t.Fatalf("unexpected backoff waits: %v", slept)
	}
}

func TestRetryBudgetExhaustedOnRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	var slept []time.Duration
	client := newTestClient(t, srv.URL, 3, &slept)

	_, err := client.GenerateText(context.Background(), "sys", "user")
	if err == nil {
		t.Fatal("expected error")
	}
	var exhausted *RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("error %T, want *RetryExhaustedError", err)
	}
	if exhausted.Attempts != 3 {
		t.Fatalf("Attempts = %d, want 3", exhausted.Attempts)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	// Exponential backoff between attempts: 2^1, 2^2 seconds.
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(slept) != len(want) || slept[0] != want[0] || slept[1] != want[1] {
		t.Fatalf("backoff = %v, want %v", slept, want)
	}
}

func TestNoRetryOnBadRequest(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"malformed"}}`))
	}))
	defer srv.Close()

	var slept []time.Duration
	client := newTestClient(t, srv.URL, 3, &slept)

	_, err := client.GenerateText(context.Background(), "sys", "user")
	if err == nil {
		t.Fatal("expected error")
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusBadRequest {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if len(slept) != 0 {
		t.Fatalf("unexpected backoff waits: %v", slept)
	}
}

func TestContentRejectionConsumesRetryBudget(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			// Too short and missing the engine marker.
			_ = json.NewEncoder(w).Encode(chatBody("sorry, I cannot do that"))
			return
		}
		_ = json.NewEncoder(w).Encode(chatBody(gameCode()))
	}))
	defer srv.Close()

	var slept []time.Duration
	client := newTestClient(t, srv.URL, 3, &slept)

	completion, err := client.GenerateText(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if completion == nil || completion.Content == "" {
		t.Fatal("expected completion after retries")
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestMissingEngineMarkerRejected(t *testing.T) {
	long := strings.Repeat("let player = { x: 0, y: 0 };\n", 20)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatBody(long))
	}))
	defer srv.Close()

	var slept []time.Duration
	client := newTestClient(t, srv.URL, 2, &slept)

	_, err := client.GenerateText(context.Background(), "sys", "user")
	var exhausted *RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("error %v, want retry exhaustion", err)
	}
	if exhausted.Attempts != 2 {
		t.Fatalf("Attempts = %d, want 2", exhausted.Attempts)
	}
}

func TestOnRetryFiresPerRetriedAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var retries int
	client, err := NewClient(Options{
		APIKey:      "test-key",
		BaseURL:     srv.URL,
		MaxAttempts: 3,
		Sleep:       func(time.Duration) {},
		OnRetry:     func() { retries++ },
		Logger:      zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = client.GenerateText(context.Background(), "sys", "user")
	if err == nil {
		t.Fatal("expected error")
	}
	// 3 attempts means 2 retries; the first attempt is not a retry.
	if retries != 2 {
		t.Fatalf("retries = %d, want 2", retries)
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(Options{}); err == nil {
		t.Fatal("expected error for missing api key")
	}
}
