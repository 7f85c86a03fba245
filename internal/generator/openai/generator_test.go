package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	api "github.com/guidepost-ai/guidepost/internal/api/openai"
	"github.com/guidepost-ai/guidepost/internal/core/ports"
)

func newTestGenerator(t *testing.T, handler http.HandlerFunc) *Generator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := api.NewClient("test-key", api.WithBaseURL(srv.URL))
	return New(client, "gpt-4o")
}

func TestGenerate(t *testing.T) {
	var gotReq api.ChatCompletionRequest
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id": "cmpl-1",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]any{"role": "assistant", "content": `{"stuck_point":"checkout"}`}, "finish_reason": "stop"},
			},
		})
	})

	raw, err := g.Generate(context.Background(), &ports.GenerateRequest{
		System:      "you analyze sessions",
		User:        "diagnose this",
		Temperature: 0.3,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	var parsed map[string]string
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("output not JSON: %v", err)
	}
	if parsed["stuck_point"] != "checkout" {
		t.Errorf("got %v", parsed)
	}

	if gotReq.Model != "gpt-4o" {
		t.Errorf("model = %q", gotReq.Model)
	}
	if gotReq.ResponseFormat == nil || gotReq.ResponseFormat.Type != "json_object" {
		t.Error("expected json_object response format")
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" || gotReq.Messages[1].Role != "user" {
		t.Errorf("unexpected messages: %+v", gotReq.Messages)
	}
	if gotReq.Temperature == nil || *gotReq.Temperature != 0.3 {
		t.Error("temperature not forwarded")
	}
}

func TestGenerate_APIError(t *testing.T) {
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`))
	})

	if _, err := g.Generate(context.Background(), &ports.GenerateRequest{System: "s", User: "u"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestGenerate_NoChoices(t *testing.T) {
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"cmpl-2","choices":[]}`))
	})

	if _, err := g.Generate(context.Background(), &ports.GenerateRequest{System: "s", User: "u"}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}
