package workflow

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/guidepost-ai/guidepost/internal/core/domain"
	"github.com/guidepost-ai/guidepost/internal/core/ports"
	"github.com/guidepost-ai/guidepost/internal/prompt"
)

const escalateTemperature = 0.3

// escalationHistoryLimit is how many recent nudges feed the alert.
const escalationHistoryLimit = 5

// EscalateStage hands the user off to a human. Creating the durable
// escalation record matters more than alert quality: a drafting failure
// still writes a minimal record with a defaulted subject.
type EscalateStage struct {
	gen      ports.TextGenerator
	prompts  *prompt.Builder
	store    ports.Store
	notifier ports.AlertNotifier
	timeout  time.Duration
	logger   *slog.Logger
}

// NewEscalateStage creates the escalate stage. notifier may be nil when
// no external alert channel is configured.
func NewEscalateStage(gen ports.TextGenerator, prompts *prompt.Builder, store ports.Store, notifier ports.AlertNotifier, timeout time.Duration, logger *slog.Logger) *EscalateStage {
	if timeout <= 0 {
		timeout = defaultGenerateTimeout
	}
	return &EscalateStage{gen: gen, prompts: prompts, store: store, notifier: notifier, timeout: timeout, logger: logger}
}

// Name implements Stage.
func (s *EscalateStage) Name() string { return string(NodeEscalate) }

// Run implements Stage.
func (s *EscalateStage) Run(ctx context.Context, state *domain.PipelineState) *domain.StateUpdate {
	stuckPoint := "unknown"
	inferredReason := "unknown"
	if state.Diagnosis != nil {
		if state.Diagnosis.StuckPoint != "" {
			stuckPoint = state.Diagnosis.StuckPoint
		}
		if state.Diagnosis.InferredReason != "" {
			inferredReason = state.Diagnosis.InferredReason
		}
	}

	history, err := s.store.RecentNudges(ctx, state.UserID, stuckPoint, escalationHistoryLimit)
	if err != nil {
		s.logger.Warn("failed to load nudge history for escalation",
			slog.String("user_id", state.UserID),
			slog.String("error", err.Error()))
		history = nil
	}

	alert := s.draftAlert(ctx, state, history, stuckPoint)

	esc := &domain.Escalation{
		ID:             uuid.NewString(),
		UserID:         state.UserID,
		CompanyID:      state.CompanyID,
		StuckPoint:     stuckPoint,
		InferredReason: inferredReason,
		NudgeLog:       history,
		Status:         domain.EscalationStatusOpen,
		CreatedAt:      time.Now().UTC(),
	}
	if alert == nil {
		esc.InferredReason = "Escalation drafting failed; original reason: " + inferredReason
		alert = &domain.Alert{
			Subject:  "Alert: user " + state.UserID + " needs help with " + stuckPoint,
			Body:     "Automated alert drafting failed. Nudges for this stuck point have exceeded the escalation threshold; please review the user's session.",
			Priority: "medium",
		}
	}

	if err := s.store.InsertEscalation(ctx, esc); err != nil {
		s.logger.Error("failed to persist escalation",
			slog.String("user_id", state.UserID),
			slog.String("error", err.Error()))
		return &domain.StateUpdate{
			Escalation: &domain.EscalationResult{},
			Completed:  true,
			Error:      "persist escalation: " + err.Error(),
		}
	}

	notified := false
	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, alert); err != nil {
			s.logger.Warn("escalation notification failed",
				slog.String("escalation_id", esc.ID),
				slog.String("error", err.Error()))
		} else {
			notified = true
		}
	}

	s.logger.Info("escalation created",
		slog.String("user_id", state.UserID),
		slog.String("escalation_id", esc.ID),
		slog.Bool("notified", notified))

	return &domain.StateUpdate{
		Escalation: &domain.EscalationResult{
			EscalationID: esc.ID,
			Alert:        alert,
			Notified:     notified,
		},
		Completed: true,
	}
}

// draftAlert returns nil when the generator fails or returns a payload
// that cannot be parsed.
func (s *EscalateStage) draftAlert(ctx context.Context, state *domain.PipelineState, history []domain.NudgeRecord, stuckPoint string) *domain.Alert {
	system, user := s.prompts.Escalation(state, history)

	gctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.gen.Generate(gctx, &ports.GenerateRequest{
		System:      system,
		User:        user,
		Temperature: escalateTemperature,
	})
	if err != nil {
		s.logger.Error("escalation alert generation failed",
			slog.String("user_id", state.UserID),
			slog.String("error", err.Error()))
		return nil
	}

	var alert domain.Alert
	if err := json.Unmarshal(raw, &alert); err != nil {
		s.logger.Error("escalation alert was not valid JSON",
			slog.String("user_id", state.UserID),
			slog.String("error", err.Error()))
		return nil
	}
	if alert.Subject == "" {
		alert.Subject = "Alert: user " + state.UserID + " needs help with " + stuckPoint
	}
	if alert.Priority == "" {
		alert.Priority = "medium"
	}
	return &alert
}
