package workflow

import (
	"log/slog"

	"github.com/guidepost-ai/guidepost/internal/core/domain"
)

// MinConfidence is the diagnosis confidence below which the user is
// judged not actually stuck and the run ends after diagnose.
const MinConfidence = 0.6

// RouteAfterDiagnose proceeds to coaching only for a present,
// sufficiently confident diagnosis. An absent diagnosis and a
// low-confidence one are both normal terminal outcomes.
func RouteAfterDiagnose(state *domain.PipelineState) Transition {
	if state.Diagnosis == nil || state.Diagnosis.ConfidenceScore < MinConfidence {
		return TransitionStop
	}
	return TransitionProceed
}

// RouteAfterDeliver escalates when the nudge counter has passed the
// company's threshold; a count equal to the threshold does not escalate.
func RouteAfterDeliver(state *domain.PipelineState) Transition {
	threshold := state.EscalationThreshold
	if threshold <= 0 {
		threshold = domain.DefaultEscalationThreshold
	}
	if state.Delivery != nil && state.Delivery.NudgeCount > int64(threshold) {
		return TransitionProceed
	}
	return TransitionStop
}

// NewOnboardingEngine compiles the standard nudge graph:
//
//	diagnose -> {coach | end}
//	coach    -> deliver
//	deliver  -> {escalate | end}
//	escalate -> end
func NewOnboardingEngine(diagnose, coach, deliver, escalate Stage, logger *slog.Logger) *Engine {
	e := NewEngine(EngineConfig{Entry: NodeDiagnose, Logger: logger})

	e.AddNode(NodeDiagnose, diagnose).
		AddRouter(NodeDiagnose, RouteAfterDiagnose).
		AddEdge(NodeDiagnose, TransitionProceed, NodeCoach).
		AddEdge(NodeDiagnose, TransitionStop, NodeEnd)

	e.AddNode(NodeCoach, coach).
		AddEdge(NodeCoach, TransitionProceed, NodeDeliver)

	e.AddNode(NodeDeliver, deliver).
		AddRouter(NodeDeliver, RouteAfterDeliver).
		AddEdge(NodeDeliver, TransitionProceed, NodeEscalate).
		AddEdge(NodeDeliver, TransitionStop, NodeEnd)

	e.AddNode(NodeEscalate, escalate).
		AddEdge(NodeEscalate, TransitionProceed, NodeEnd)

	return e
}
