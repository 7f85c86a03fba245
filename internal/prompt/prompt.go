// Package prompt builds the role-tagged prompt pairs sent to the text
// generator. Event summaries are token-bounded so a long session can
// never blow the model's context window.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"

	"github.com/guidepost-ai/guidepost/internal/core/domain"
)

// maxSummaryEvents caps how many trailing session events are included
// in the diagnosis prompt.
const maxSummaryEvents = 30

// maxHistoryNudges caps how many prior nudges appear in an escalation
// prompt.
const maxHistoryNudges = 5

const diagnosisSystem = `You are an expert User Experience Analyst for B2B SaaS products.

Your job is to analyze a user's event stream during their onboarding session and compare it against the "Success Baseline" — the ideal path a successful user takes.

You must identify:
1. WHERE the user is stuck (the specific step or screen)
2. WHY they appear to be stuck (inferred from their behavior patterns)
3. How CONFIDENT you are in your diagnosis (0.0 to 1.0)

Output ONLY valid JSON in this exact format:
{
    "stuck_point": "descriptive name of where user is stuck",
    "inferred_reason": "clear explanation of why the user appears stuck based on their behavior",
    "confidence_score": 0.85
}

Key behavioral signals to look for:
- Repeated visits to the same page without progression
- Long inactivity periods on a specific step
- Clicking help/cancel/back buttons
- Hovering or interacting with elements without completing actions
- Skipping expected steps in the baseline

If the user appears to be progressing normally, set confidence_score below 0.3.`

const coachSystem = `You are a friendly, expert onboarding coach for a B2B SaaS product.

Your job is to write a SHORT, helpful nudge message that will guide a stuck user to their next step.

Rules:
1. Be concise — max 2 sentences for tooltips, max 3 for chat messages.
2. Be specific — reference the exact feature or step the user is stuck on.
3. Be encouraging — never make the user feel bad for being stuck.
4. Match the tone/voice settings provided.
5. Suggest a concrete next action.

Output ONLY valid JSON in this exact format:
{
    "nudge_type": "tooltip" | "in_app_chat" | "email_draft",
    "content": "Your helpful nudge message here",
    "target_element_id": "element_id_to_attach_tooltip_to_or_null"
}

Choose nudge_type based on:
- "tooltip": for UI-specific confusion (attach to the confusing element)
- "in_app_chat": for general workflow confusion or multi-step guidance
- "email_draft": only if the user has been away for >10 minutes`

const escalationSystem = `You are a Customer Success assistant. A user is stuck and automated nudges have not helped.

Write a concise alert for a Customer Success Manager (CSM). Include:
1. A brief summary of the problem
2. What was tried (nudges sent)
3. A recommended action for the CSM

Keep it professional and under 150 words.

Output ONLY valid JSON:
{
    "subject": "Alert: User needs help with [area]",
    "body": "Your concise alert message here",
    "priority": "high" | "medium" | "low"
}`

// Builder renders prompts. It holds a tokenizer codec for bounding the
// variable-length sections.
type Builder struct {
	codec     tokenizer.Codec
	maxTokens int
}

// NewBuilder creates a prompt builder. maxTokens bounds the token count
// of the event-summary section of the diagnosis prompt.
func NewBuilder(maxTokens int) (*Builder, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	return &Builder{codec: codec, maxTokens: maxTokens}, nil
}

// Diagnosis renders the diagnose-stage prompt pair.
func (b *Builder) Diagnosis(state *domain.PipelineState) (system, user string) {
	events := state.SessionEvents
	if len(events) > maxSummaryEvents {
		events = events[len(events)-maxSummaryEvents:]
	}

	lines := make([]string, 0, len(events))
	for _, e := range events {
		meta, _ := json.Marshal(e.Metadata)
		target := e.TargetElementID
		if target == "" {
			target = "unknown"
		}
		lines = append(lines, fmt.Sprintf("[%s] %s on '%s' | metadata: %s",
			e.Timestamp.Format("2006-01-02T15:04:05Z07:00"), e.EventType, target, meta))
	}
	summary := b.boundTokens(strings.Join(lines, "\n"))

	user = fmt.Sprintf(`Analyze this user's onboarding session:

**User ID:** %s
**Last Event:** %s

**Success Baseline (expected path):**
%s

**User's Event Stream (most recent last):**
%s

Provide your diagnosis as JSON.`,
		state.UserID,
		orUnknown(state.SessionState.LastEvent),
		BaselineSummary(state.BaselineSequence),
		summary)

	return diagnosisSystem, user
}

// Coach renders the coach-stage prompt pair.
func (b *Builder) Coach(state *domain.PipelineState) (system, user string) {
	d := state.Diagnosis
	if d == nil {
		d = &domain.Diagnosis{StuckPoint: "unknown", InferredReason: "unknown"}
	}

	emoji := "no"
	if state.Tone.Emoji {
		emoji = "yes"
	}
	tone := fmt.Sprintf("Voice: %s, Formality: %s, Use emoji: %s",
		orDefault(state.Tone.Voice, "friendly"),
		orDefault(state.Tone.Formality, "casual"),
		emoji)

	user = fmt.Sprintf(`Generate a nudge for this stuck user:

**Diagnosis:**
- Stuck at: %s
- Reason: %s
- Confidence: %.2f

**Tone Settings:** %s

**User:** %s (session %s)

Generate the nudge as JSON.`,
		orUnknown(d.StuckPoint), orUnknown(d.InferredReason), d.ConfidenceScore,
		tone, state.UserID, state.SessionID)

	return coachSystem, user
}

// Escalation renders the escalate-stage prompt pair from the diagnosis
// and the most recent nudges sent for this stuck point.
func (b *Builder) Escalation(state *domain.PipelineState, history []domain.NudgeRecord) (system, user string) {
	d := state.Diagnosis
	if d == nil {
		d = &domain.Diagnosis{StuckPoint: "unknown", InferredReason: "unknown"}
	}

	if len(history) > maxHistoryNudges {
		history = history[:maxHistoryNudges]
	}
	lines := make([]string, 0, len(history))
	for _, n := range history {
		content := n.Content
		if len(content) > 80 {
			content = content[:80] + "..."
		}
		lines = append(lines, fmt.Sprintf("- [%s] %s (sent: %s, status: %s)",
			n.Type, content, n.SentAt.Format("2006-01-02T15:04:05Z07:00"), n.Status))
	}
	nudgeSummary := "No previous nudges recorded"
	if len(lines) > 0 {
		nudgeSummary = b.boundTokens(strings.Join(lines, "\n"))
	}

	user = fmt.Sprintf(`A user needs escalation to a human CSM:

**User ID:** %s
**Stuck Point:** %s
**Reason:** %s
**Nudges Sent (not effective):**
%s

Draft an alert for the CSM.`,
		state.UserID, orUnknown(d.StuckPoint), orUnknown(d.InferredReason), nudgeSummary)

	return escalationSystem, user
}

// BaselineSummary renders a baseline sequence as a readable path. An
// empty baseline is valid input and degrades to a placeholder.
func BaselineSummary(steps []domain.BaselineStep) string {
	if len(steps) == 0 {
		return "(no baseline configured)"
	}
	labels := make([]string, 0, len(steps))
	for _, s := range steps {
		label := s.Label
		if label == "" {
			label = s.EventType
		}
		labels = append(labels, label)
	}
	return strings.Join(labels, " -> ")
}

// boundTokens keeps at most maxTokens trailing tokens of s. The tail is
// kept because event summaries put the most recent activity last.
func (b *Builder) boundTokens(s string) string {
	ids, _, err := b.codec.Encode(s)
	if err != nil || len(ids) <= b.maxTokens {
		return s
	}
	out, err := b.codec.Decode(ids[len(ids)-b.maxTokens:])
	if err != nil {
		return s
	}
	return out
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
