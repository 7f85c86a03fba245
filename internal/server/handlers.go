package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/guidepost-ai/guidepost/internal/core/domain"
	"github.com/guidepost-ai/guidepost/internal/core/ports"
)

const (
	maxBatchSize     = 50
	ingestSessionTTL = time.Hour
)

// Handlers carries the collaborators the HTTP endpoints need.
type Handlers struct {
	store    ports.Store
	log      ports.EventLog
	sessions ports.SessionStore
	logger   *slog.Logger
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ingestRequest struct {
	Events []domain.Event `json:"events"`
}

type ingestResponse struct {
	Status         string `json:"status"`
	EventsReceived int    `json:"events_received"`
}

// IngestEvents accepts a batch of 1 to 50 events, appends each to the
// event log, records it durably, and refreshes the user's session
// state. The company on each event is the authenticated one; a client
// cannot write into another tenant.
func (h *Handlers) IngestEvents(w http.ResponseWriter, r *http.Request) {
	company := GetCompany(r.Context())

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, "events must not be empty")
		return
	}
	if len(req.Events) > maxBatchSize {
		writeError(w, http.StatusBadRequest, "too many events in one batch")
		return
	}

	ctx := r.Context()
	for i := range req.Events {
		ev := &req.Events[i]
		if ev.UserID == "" || ev.SessionID == "" || ev.EventType == "" {
			writeError(w, http.StatusBadRequest, "user_id, session_id and event_type are required")
			return
		}
		ev.CompanyID = company.ID
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now().UTC()
		}

		if err := h.log.Append(ctx, ev); err != nil {
			AddError(ctx, err)
			writeError(w, http.StatusServiceUnavailable, "event log unavailable")
			return
		}
		if err := h.store.InsertEvent(ctx, ev); err != nil {
			h.logger.Error("event persist failed",
				slog.String("user_id", ev.UserID),
				slog.String("error", err.Error()))
		}
		if err := h.store.UpsertSession(ctx, ev); err != nil {
			h.logger.Error("session row upsert failed",
				slog.String("user_id", ev.UserID),
				slog.String("error", err.Error()))
		}
		state := domain.SessionState{
			LastEvent:     ev.EventType,
			LastTimestamp: ev.Timestamp.UTC().Format(time.RFC3339),
			SessionID:     ev.SessionID,
			CompanyID:     ev.CompanyID,
		}
		if err := h.sessions.Put(ctx, ev.UserID, state, ingestSessionTTL); err != nil {
			h.logger.Error("session state write failed",
				slog.String("user_id", ev.UserID),
				slog.String("error", err.Error()))
		}
	}

	AddLogField(ctx, "company_id", company.ID)
	writeJSON(w, http.StatusAccepted, ingestResponse{
		Status:         "accepted",
		EventsReceived: len(req.Events),
	})
}

func (h *Handlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, GetCompany(r.Context()))
}

type configUpdate struct {
	Name                *string              `json:"name,omitempty"`
	Tone                *domain.ToneSettings `json:"tone_settings,omitempty"`
	EscalationThreshold *int                 `json:"escalation_threshold,omitempty"`
}

// UpdateConfig applies a partial update to the authenticated company's
// configuration. Omitted fields are left untouched.
func (h *Handlers) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	company := GetCompany(r.Context())

	var upd configUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if upd.Name != nil {
		company.Name = *upd.Name
	}
	if upd.Tone != nil {
		company.Tone = *upd.Tone
	}
	if upd.EscalationThreshold != nil {
		if *upd.EscalationThreshold < 1 || *upd.EscalationThreshold > 10 {
			writeError(w, http.StatusBadRequest, "escalation_threshold must be between 1 and 10")
			return
		}
		company.EscalationThreshold = *upd.EscalationThreshold
	}

	if err := h.store.UpdateCompany(r.Context(), company); err != nil {
		AddError(r.Context(), err)
		writeError(w, http.StatusInternalServerError, "failed to update configuration")
		return
	}
	writeJSON(w, http.StatusOK, company)
}

func (h *Handlers) ListBaselines(w http.ResponseWriter, r *http.Request) {
	company := GetCompany(r.Context())

	baselines, err := h.store.ListBaselines(r.Context(), company.ID)
	if err != nil {
		AddError(r.Context(), err)
		writeError(w, http.StatusInternalServerError, "failed to list baselines")
		return
	}
	if baselines == nil {
		baselines = []domain.Baseline{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"baselines": baselines})
}

type createBaselineRequest struct {
	Name     string                `json:"name"`
	Sequence []domain.BaselineStep `json:"event_sequence"`
	Active   bool                  `json:"is_active"`
}

func (h *Handlers) CreateBaseline(w http.ResponseWriter, r *http.Request) {
	company := GetCompany(r.Context())

	var req createBaselineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Sequence) == 0 {
		writeError(w, http.StatusBadRequest, "event_sequence must not be empty")
		return
	}

	b := &domain.Baseline{
		ID:        uuid.NewString(),
		CompanyID: company.ID,
		Name:      req.Name,
		Sequence:  req.Sequence,
		Active:    req.Active,
	}
	if err := h.store.CreateBaseline(r.Context(), b); err != nil {
		AddError(r.Context(), err)
		writeError(w, http.StatusInternalServerError, "failed to create baseline")
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *Handlers) ActivateBaseline(w http.ResponseWriter, r *http.Request) {
	company := GetCompany(r.Context())
	baselineID := chi.URLParam(r, "baseline_id")

	err := h.store.ActivateBaseline(r.Context(), company.ID, baselineID)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "baseline not found")
		return
	}
	if err != nil {
		AddError(r.Context(), err)
		writeError(w, http.StatusInternalServerError, "failed to activate baseline")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "activated", "baseline_id": baselineID})
}

func (h *Handlers) ListEscalations(w http.ResponseWriter, r *http.Request) {
	company := GetCompany(r.Context())

	escalations, err := h.store.OpenEscalations(r.Context(), company.ID)
	if err != nil {
		AddError(r.Context(), err)
		writeError(w, http.StatusInternalServerError, "failed to list escalations")
		return
	}
	if escalations == nil {
		escalations = []domain.Escalation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"escalations": escalations})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
