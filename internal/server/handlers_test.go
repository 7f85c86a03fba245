package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/guidepost-ai/guidepost/internal/core/domain"
	"github.com/guidepost-ai/guidepost/internal/core/ports"
	"github.com/guidepost-ai/guidepost/internal/storage/memory"
)

type mockEventLog struct {
	appended []domain.Event
	err      error
}

func (l *mockEventLog) EnsureGroup(ctx context.Context) error { return nil }
func (l *mockEventLog) Read(ctx context.Context, count int64, block time.Duration) ([]ports.StreamEntry, error) {
	return nil, nil
}
func (l *mockEventLog) Ack(ctx context.Context, entryID string) error { return nil }
func (l *mockEventLog) Append(ctx context.Context, ev *domain.Event) error {
	if l.err != nil {
		return l.err
	}
	l.appended = append(l.appended, *ev)
	return nil
}

type mockSessionStore struct {
	puts map[string]domain.SessionState
	ttls map[string]time.Duration
}

func newMockSessionStore() *mockSessionStore {
	return &mockSessionStore{
		puts: make(map[string]domain.SessionState),
		ttls: make(map[string]time.Duration),
	}
}

func (s *mockSessionStore) Get(ctx context.Context, userID string) (domain.SessionState, error) {
	return s.puts[userID], nil
}

func (s *mockSessionStore) Put(ctx context.Context, userID string, state domain.SessionState, ttl time.Duration) error {
	s.puts[userID] = state
	s.ttls[userID] = ttl
	return nil
}

func testServer(t *testing.T) (*Server, *memory.Store, *mockEventLog, *mockSessionStore) {
	t.Helper()
	store := memory.New()
	log := &mockEventLog{}
	sessions := newMockSessionStore()

	if err := store.CreateCompany(context.Background(), &domain.Company{
		ID:                  "c1",
		Name:                "Acme",
		APIKeyHash:          HashAPIKey("test-key"),
		Tone:                domain.DefaultTone(),
		EscalationThreshold: 3,
	}); err != nil {
		t.Fatalf("CreateCompany() error = %v", err)
	}

	srv := New(0, slog.New(slog.DiscardHandler), store, log, sessions, nil)
	return srv, store, log, sessions
}

func doRequest(t *testing.T, srv *Server, method, path, apiKey string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)
	return rec
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, _, _, _ := testServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestAuthRejectsMissingAndBadKeys(t *testing.T) {
	srv, _, _, _ := testServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/config", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no key status = %d, want 401", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/config", "wrong-key", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad key status = %d, want 401", rec.Code)
	}
}

func TestAuthAcceptsBearerToken(t *testing.T) {
	srv, _, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
	req.Header.Set("Authorization", "Bearer test-key")
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestIngestEvents(t *testing.T) {
	srv, _, log, sessions := testServer(t)

	body := map[string]any{
		"events": []map[string]any{
			{
				"user_id":    "u1",
				"company_id": "spoofed",
				"session_id": "s1",
				"event_type": "help_click",
			},
		},
	}
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/events", "test-key", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp ingestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "accepted" || resp.EventsReceived != 1 {
		t.Errorf("response = %+v", resp)
	}

	if len(log.appended) != 1 {
		t.Fatalf("appended = %d, want 1", len(log.appended))
	}
	// The authenticated company wins over whatever the client sent.
	if log.appended[0].CompanyID != "c1" {
		t.Errorf("company = %q, want c1", log.appended[0].CompanyID)
	}
	if log.appended[0].Timestamp.IsZero() {
		t.Error("timestamp must be defaulted")
	}

	state, ok := sessions.puts["u1"]
	if !ok {
		t.Fatal("session state not written")
	}
	if state.LastEvent != "help_click" || state.SessionID != "s1" || state.CompanyID != "c1" {
		t.Errorf("session = %+v", state)
	}
	if sessions.ttls["u1"] != time.Hour {
		t.Errorf("session ttl = %v, want 1h", sessions.ttls["u1"])
	}
}

func TestIngestRejectsBadBatches(t *testing.T) {
	srv, _, _, _ := testServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/events", "test-key", map[string]any{"events": []any{}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty batch status = %d, want 400", rec.Code)
	}

	big := make([]map[string]any, 51)
	for i := range big {
		big[i] = map[string]any{"user_id": "u1", "session_id": "s1", "event_type": "click"}
	}
	rec = doRequest(t, srv, http.MethodPost, "/api/v1/events", "test-key", map[string]any{"events": big})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("oversized batch status = %d, want 400", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/events", "test-key", map[string]any{
		"events": []map[string]any{{"session_id": "s1", "event_type": "click"}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing user_id status = %d, want 400", rec.Code)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	srv, _, _, _ := testServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/config", "test-key", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d", rec.Code)
	}
	var company domain.Company
	if err := json.Unmarshal(rec.Body.Bytes(), &company); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if company.Tone.Voice != "friendly" {
		t.Errorf("tone = %+v", company.Tone)
	}

	rec = doRequest(t, srv, http.MethodPut, "/api/v1/config", "test-key", map[string]any{
		"tone_settings":        map[string]any{"voice": "direct", "formality": "formal"},
		"escalation_threshold": 5,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/config", "test-key", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &company); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if company.Tone.Voice != "direct" || company.EscalationThreshold != 5 {
		t.Errorf("company = %+v", company)
	}
}

func TestConfigRejectsOutOfRangeThreshold(t *testing.T) {
	srv, _, _, _ := testServer(t)
	for _, v := range []int{-1, 0, 11} {
		rec := doRequest(t, srv, http.MethodPut, "/api/v1/config", "test-key", map[string]any{
			"escalation_threshold": v,
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("threshold %d status = %d, want 400", v, rec.Code)
		}
	}
}

func TestBaselineLifecycle(t *testing.T) {
	srv, _, _, _ := testServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/baselines", "test-key", map[string]any{
		"name": "v1",
		"event_sequence": []map[string]any{
			{"event_type": "signup", "label": "Sign up", "order": 1},
			{"event_type": "invite_team", "label": "Invite team", "order": 2},
		},
		"is_active": true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created domain.Baseline
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" || created.CompanyID != "c1" || !created.Active {
		t.Errorf("baseline = %+v", created)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/baselines", "test-key", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list struct {
		Baselines []domain.Baseline `json:"baselines"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Baselines) != 1 {
		t.Errorf("baselines = %d, want 1", len(list.Baselines))
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/baselines/"+created.ID+"/activate", "test-key", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("activate status = %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/baselines/missing/activate", "test-key", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("activate missing status = %d, want 404", rec.Code)
	}
}

func TestBaselineRejectsEmptySequence(t *testing.T) {
	srv, _, _, _ := testServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/baselines", "test-key", map[string]any{
		"name":           "empty",
		"event_sequence": []any{},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestListEscalations(t *testing.T) {
	srv, store, _, _ := testServer(t)
	ctx := context.Background()

	store.InsertEscalation(ctx, &domain.Escalation{
		ID: "e1", UserID: "u1", CompanyID: "c1",
		StuckPoint: "pricing_page", Status: domain.EscalationStatusOpen,
	})
	store.InsertEscalation(ctx, &domain.Escalation{
		ID: "e2", UserID: "u2", CompanyID: "other", Status: domain.EscalationStatusOpen,
	})

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/escalations", "test-key", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Escalations []domain.Escalation `json:"escalations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Escalations) != 1 || resp.Escalations[0].ID != "e1" {
		t.Errorf("escalations = %+v", resp.Escalations)
	}
}
