package completion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClientWithBaseURL("test-key", "test-model", srv.URL)
}

func completionResponse(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
	return string(b)
}

func TestComplete_Success(t *testing.T) {
	var gotReq chatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completionResponse("hello from the model")))
	})

	text, err := client.Complete(context.Background(), "system prompt", "user prompt", Options{Temperature: 0.3, MaxTokens: 500})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if text != "hello from the model" {
		t.Errorf("text = %q, want %q", text, "hello from the model")
	}

	if gotReq.Model != "test-model" {
		t.Errorf("model = %q, want test-model", gotReq.Model)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" || gotReq.Messages[1].Role != "user" {
		t.Errorf("unexpected messages: %+v", gotReq.Messages)
	}
	if gotReq.Temperature != 0.3 {
		t.Errorf("temperature = %v, want 0.3", gotReq.Temperature)
	}
	if gotReq.MaxTokens != 500 {
		t.Errorf("max_tokens = %v, want 500", gotReq.MaxTokens)
	}
}

func TestComplete_UpstreamError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"boom"}}`))
	})

	_, err := client.Complete(context.Background(), "sys", "user", Options{Temperature: 0.5})
	if err == nil {
		t.Fatal("expected error")
	}
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("error is %T, want *ServiceError", err)
	}
	if svcErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", svcErr.StatusCode)
	}
	if !strings.Contains(svcErr.Body, "boom") {
		t.Errorf("error body %q should contain upstream message", svcErr.Body)
	}
}

func TestComplete_MissingMessageField(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	})

	_, err := client.Complete(context.Background(), "sys", "user", Options{Temperature: 0.5})
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("error is %T, want *ServiceError", err)
	}
}

func TestComplete_RetriesOnRateLimit(t *testing.T) {
	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(completionResponse("eventually")))
	})

	text, err := client.Complete(context.Background(), "sys", "user", Options{Temperature: 0.5})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if text != "eventually" {
		t.Errorf("text = %q, want %q", text, "eventually")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestComplete_ValidatesInput(t *testing.T) {
	client := NewClient("key", "model")

	if _, err := client.Complete(context.Background(), "", "user", Options{Temperature: 0.5}); err == nil {
		t.Error("expected error for empty system prompt")
	}
	if _, err := client.Complete(context.Background(), "sys", "", Options{Temperature: 0.5}); err == nil {
		t.Error("expected error for empty user prompt")
	}
	if _, err := client.Complete(context.Background(), "sys", "user", Options{Temperature: 1.5}); err == nil {
		t.Error("expected error for out-of-range temperature")
	}
}
