package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tripdesk/replyd/internal/pipeline"
)

type recordedRequest struct {
	Method    string
	Path      string
	Body      string
	Auth      string
	UserAgent string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method:    r.Method,
			Path:      r.URL.RequestURI(),
			Body:      body.String(),
			Auth:      r.Header.Get("Authorization"),
			UserAgent: r.Header.Get("User-Agent"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestDraftRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/replies": `{"id":"run-1","success":true,"stage_results":[],"final_draft":{"subject":"Re: Bali","body":"<p>Hi</p>"},"average_confidence":0.9}`,
	})

	client := ts.client()

	req := map[string]any{
		"original_email": map[string]any{
			"subject": "Bali trip",
			"body":    "Can you price a week in Bali?",
			"sender":  "alice@example.com",
		},
		"client_id": "client-1",
	}

	resp, err := client.post(ctx, "/v1/replies", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var run pipeline.Run
	if err := decodeJSON(resp, &run); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if run.ID != "run-1" || !run.Success {
		t.Errorf("unexpected run: %+v", run)
	}
	if run.FinalDraft == nil || run.FinalDraft.Subject != "Re: Bali" {
		t.Errorf("unexpected draft: %+v", run.FinalDraft)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Method != "POST" || r.Path != "/v1/replies" {
		t.Errorf("unexpected request %s %s", r.Method, r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
	if r.UserAgent != "replyd-cli/"+version {
		t.Errorf("user agent = %q, want %q", r.UserAgent, "replyd-cli/"+version)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["client_id"] != "client-1" {
		t.Errorf("body.client_id = %v, want client-1", body["client_id"])
	}
	email, ok := body["original_email"].(map[string]any)
	if !ok || email["subject"] != "Bali trip" {
		t.Errorf("body.original_email = %v", body["original_email"])
	}
}

func TestPrefsSetRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PATCH /v1/preferences": `{"status":"updated"}`,
	})

	client := ts.client()

	resp, err := client.patch(ctx, "/v1/preferences", map[string]string{"tone": "warm"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["status"] != "updated" {
		t.Errorf("status = %q, want updated", result["status"])
	}

	r := ts.requests[0]
	if r.Method != "PATCH" || r.Path != "/v1/preferences" {
		t.Errorf("unexpected request %s %s", r.Method, r.Path)
	}
	if !strings.Contains(r.Body, `"tone":"warm"`) {
		t.Errorf("unexpected body %q", r.Body)
	}
}

func TestDecodeJSONErrorStatus(t *testing.T) {
	ts := newTestServer(t, nil)

	client := ts.client()
	resp, err := client.get(ctx, "/v1/exchanges/missing")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var v any
	err = decodeJSON(resp, &v)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error should carry status code, got %v", err)
	}
}

func TestDeleteRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"DELETE /v1/documents/doc-1": `{"status":"deleted"}`,
	})

	client := ts.client()
	resp, err := client.delete(ctx, "/v1/documents/doc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["status"] != "deleted" {
		t.Errorf("status = %q, want deleted", result["status"])
	}
}

func TestCountLabel(t *testing.T) {
	if got := countLabel(5, 100); got != "5" {
		t.Errorf("countLabel(5, 100) = %q", got)
	}
	if got := countLabel(100, 100); got != "100+" {
		t.Errorf("countLabel(100, 100) = %q", got)
	}
}
