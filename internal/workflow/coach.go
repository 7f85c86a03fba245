package workflow

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/guidepost-ai/guidepost/internal/core/domain"
	"github.com/guidepost-ai/guidepost/internal/core/ports"
	"github.com/guidepost-ai/guidepost/internal/prompt"
)

const coachTemperature = 0.7

// fallbackNudgeContent is sent whenever nudge drafting fails; a stuck
// user is never left without a message.
const fallbackNudgeContent = "Need some help? Try checking out the getting started guide!"

// CoachStage drafts a tone-aware nudge from the diagnosis.
type CoachStage struct {
	gen     ports.TextGenerator
	prompts *prompt.Builder
	timeout time.Duration
	logger  *slog.Logger
}

// NewCoachStage creates the coach stage.
func NewCoachStage(gen ports.TextGenerator, prompts *prompt.Builder, timeout time.Duration, logger *slog.Logger) *CoachStage {
	if timeout <= 0 {
		timeout = defaultGenerateTimeout
	}
	return &CoachStage{gen: gen, prompts: prompts, timeout: timeout, logger: logger}
}

// Name implements Stage.
func (s *CoachStage) Name() string { return string(NodeCoach) }

// Run implements Stage.
func (s *CoachStage) Run(ctx context.Context, state *domain.PipelineState) *domain.StateUpdate {
	stuckPoint := "unknown"
	if state.Diagnosis != nil && state.Diagnosis.StuckPoint != "" {
		stuckPoint = state.Diagnosis.StuckPoint
	}

	system, user := s.prompts.Coach(state)

	gctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.gen.Generate(gctx, &ports.GenerateRequest{
		System:      system,
		User:        user,
		Temperature: coachTemperature,
	})
	if err != nil {
		s.logger.Error("nudge generation failed",
			slog.String("user_id", state.UserID),
			slog.String("error", err.Error()))
		return &domain.StateUpdate{Nudge: fallbackNudge(stuckPoint)}
	}

	var n domain.Nudge
	if err := json.Unmarshal(raw, &n); err != nil {
		s.logger.Error("nudge output was not valid JSON",
			slog.String("user_id", state.UserID),
			slog.String("error", err.Error()))
		return &domain.StateUpdate{Nudge: fallbackNudge(stuckPoint)}
	}

	if n.Content == "" {
		return &domain.StateUpdate{Nudge: fallbackNudge(stuckPoint)}
	}
	switch n.Type {
	case domain.NudgeTooltip, domain.NudgeInAppChat, domain.NudgeEmailDraft:
	default:
		n.Type = domain.NudgeInAppChat
	}
	n.StuckPoint = stuckPoint

	s.logger.Info("nudge drafted",
		slog.String("user_id", state.UserID),
		slog.String("nudge_type", string(n.Type)))

	return &domain.StateUpdate{Nudge: &n}
}

func fallbackNudge(stuckPoint string) *domain.Nudge {
	return &domain.Nudge{
		Type:       domain.NudgeInAppChat,
		Content:    fallbackNudgeContent,
		StuckPoint: stuckPoint,
	}
}
