package workflow

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/guidepost-ai/guidepost/internal/core/domain"
	"github.com/guidepost-ai/guidepost/internal/core/ports"
)

// NudgeCounterTTL is the expiry window of the per-(user, stuck point)
// nudge counter. The counter resets implicitly when the TTL lapses; the
// durable nudge log stays authoritative for history.
const NudgeCounterTTL = 24 * time.Hour

// CounterKey is the counter-store key for a (user, stuck point) pair.
func CounterKey(userID, stuckPoint string) string {
	return "nudge_count:" + userID + ":" + stuckPoint
}

// nudgePayload is the wire shape pushed over the real-time channel.
type nudgePayload struct {
	Type            string `json:"type"`
	NudgeID         string `json:"nudge_id"`
	NudgeType       string `json:"nudge_type"`
	Content         string `json:"content"`
	StuckPoint      string `json:"stuck_point"`
	TargetElementID string `json:"target_element_id,omitempty"`
}

// DeliverStage persists the drafted nudge, bumps the nudge counter, and
// pushes the nudge toward the user. Any failure yields a not-delivered
// result with a zero count so the run still reaches a terminal state.
type DeliverStage struct {
	store     ports.Store
	counters  ports.CounterStore
	publisher ports.NudgePublisher
	logger    *slog.Logger
}

// NewDeliverStage creates the deliver stage.
func NewDeliverStage(store ports.Store, counters ports.CounterStore, publisher ports.NudgePublisher, logger *slog.Logger) *DeliverStage {
	return &DeliverStage{store: store, counters: counters, publisher: publisher, logger: logger}
}

// Name implements Stage.
func (s *DeliverStage) Name() string { return string(NodeDeliver) }

// Run implements Stage.
func (s *DeliverStage) Run(ctx context.Context, state *domain.PipelineState) *domain.StateUpdate {
	stuckPoint := "unknown"
	if state.Nudge != nil && state.Nudge.StuckPoint != "" {
		stuckPoint = state.Nudge.StuckPoint
	} else if state.Diagnosis != nil && state.Diagnosis.StuckPoint != "" {
		stuckPoint = state.Diagnosis.StuckPoint
	}

	if state.Nudge == nil {
		return s.failed(state, stuckPoint, "no nudge drafted")
	}

	rec := &domain.NudgeRecord{
		ID:              uuid.NewString(),
		UserID:          state.UserID,
		CompanyID:       state.CompanyID,
		SessionID:       state.SessionID,
		StuckPoint:      stuckPoint,
		Type:            state.Nudge.Type,
		Content:         state.Nudge.Content,
		TargetElementID: state.Nudge.TargetElementID,
		Diagnosis:       state.Diagnosis,
		Status:          "sent",
		SentAt:          time.Now().UTC(),
	}
	if err := s.store.InsertNudge(ctx, rec); err != nil {
		return s.failed(state, stuckPoint, "persist nudge: "+err.Error())
	}

	count, err := s.counters.Increment(ctx, CounterKey(state.UserID, stuckPoint), NudgeCounterTTL)
	if err != nil {
		return s.failed(state, stuckPoint, "increment nudge counter: "+err.Error())
	}

	payload, err := json.Marshal(nudgePayload{
		Type:            "nudge",
		NudgeID:         rec.ID,
		NudgeType:       string(rec.Type),
		Content:         rec.Content,
		StuckPoint:      stuckPoint,
		TargetElementID: rec.TargetElementID,
	})
	if err != nil {
		return s.failed(state, stuckPoint, "encode nudge payload: "+err.Error())
	}
	if err := s.publisher.Publish(ctx, state.UserID, payload); err != nil {
		return s.failed(state, stuckPoint, "publish nudge: "+err.Error())
	}

	s.logger.Info("nudge delivered",
		slog.String("user_id", state.UserID),
		slog.String("stuck_point", stuckPoint),
		slog.Int64("nudge_count", count))

	return &domain.StateUpdate{Delivery: &domain.DeliveryResult{
		NudgeID:    rec.ID,
		NudgeCount: count,
		Delivered:  true,
		StuckPoint: stuckPoint,
	}}
}

func (s *DeliverStage) failed(state *domain.PipelineState, stuckPoint, reason string) *domain.StateUpdate {
	s.logger.Error("nudge delivery failed",
		slog.String("user_id", state.UserID),
		slog.String("stuck_point", stuckPoint),
		slog.String("error", reason))
	return &domain.StateUpdate{Delivery: &domain.DeliveryResult{
		Delivered:  false,
		NudgeCount: 0,
		StuckPoint: stuckPoint,
		Error:      reason,
	}}
}
