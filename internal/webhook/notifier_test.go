package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/guidepost-ai/guidepost/internal/core/domain"
)

func TestNotifier_PostsAlertText(t *testing.T) {
	var got payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := New(server.URL)
	alert := &domain.Alert{
		Subject:  "User u1 stuck on pricing page",
		Body:     "3 nudges did not unstick them.",
		Priority: "high",
	}
	if err := n.Notify(context.Background(), alert); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	if !strings.Contains(got.Text, "User u1 stuck on pricing page") {
		t.Errorf("text missing subject: %q", got.Text)
	}
	if !strings.Contains(got.Text, "high") || !strings.Contains(got.Text, "3 nudges") {
		t.Errorf("text = %q", got.Text)
	}
}

func TestNotifier_NonOKStatusIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	n := New(server.URL)
	if err := n.Notify(context.Background(), &domain.Alert{Subject: "x"}); err == nil {
		t.Fatal("expected error for 502 response")
	}
}
