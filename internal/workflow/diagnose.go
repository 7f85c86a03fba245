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

const diagnoseTemperature = 0.3

// defaultGenerateTimeout bounds a single text-generation call. A stage
// that times out is treated as a contained failure, never left pending.
const defaultGenerateTimeout = 30 * time.Second

// DiagnoseStage asks the text generator where and why the user is
// stuck. A malformed diagnosis must never be mistaken for a confident
// one, so every failure path yields a zero-confidence diagnosis.
type DiagnoseStage struct {
	gen     ports.TextGenerator
	prompts *prompt.Builder
	timeout time.Duration
	logger  *slog.Logger
}

// NewDiagnoseStage creates the diagnose stage. A non-positive timeout
// falls back to the default.
func NewDiagnoseStage(gen ports.TextGenerator, prompts *prompt.Builder, timeout time.Duration, logger *slog.Logger) *DiagnoseStage {
	if timeout <= 0 {
		timeout = defaultGenerateTimeout
	}
	return &DiagnoseStage{gen: gen, prompts: prompts, timeout: timeout, logger: logger}
}

// Name implements Stage.
func (s *DiagnoseStage) Name() string { return string(NodeDiagnose) }

// Run implements Stage.
func (s *DiagnoseStage) Run(ctx context.Context, state *domain.PipelineState) *domain.StateUpdate {
	system, user := s.prompts.Diagnosis(state)

	gctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.gen.Generate(gctx, &ports.GenerateRequest{
		System:      system,
		User:        user,
		Temperature: diagnoseTemperature,
	})
	if err != nil {
		s.logger.Error("diagnosis generation failed",
			slog.String("user_id", state.UserID),
			slog.String("error", err.Error()))
		return &domain.StateUpdate{Diagnosis: &domain.Diagnosis{
			StuckPoint:      "unknown",
			InferredReason:  "Diagnosis failed: " + err.Error(),
			ConfidenceScore: 0,
		}}
	}

	var d domain.Diagnosis
	if err := json.Unmarshal(raw, &d); err != nil {
		s.logger.Error("diagnosis output was not valid JSON",
			slog.String("user_id", state.UserID),
			slog.String("error", err.Error()))
		return &domain.StateUpdate{Diagnosis: &domain.Diagnosis{
			StuckPoint:      "unknown",
			InferredReason:  "Diagnosis failed: invalid generator response",
			ConfidenceScore: 0,
		}}
	}

	if d.StuckPoint == "" {
		d.StuckPoint = "unknown"
	}
	// Confidence outside [0,1] is clamped rather than trusted.
	if d.ConfidenceScore < 0 {
		d.ConfidenceScore = 0
	} else if d.ConfidenceScore > 1 {
		d.ConfidenceScore = 1
	}

	s.logger.Info("diagnosis complete",
		slog.String("user_id", state.UserID),
		slog.String("stuck_point", d.StuckPoint),
		slog.Float64("confidence", d.ConfidenceScore))

	return &domain.StateUpdate{Diagnosis: &d}
}
