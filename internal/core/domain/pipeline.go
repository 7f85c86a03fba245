package domain

import "time"

// NudgeType classifies how a nudge is delivered to the user.
type NudgeType string

const (
	NudgeTooltip    NudgeType = "tooltip"
	NudgeInAppChat  NudgeType = "in_app_chat"
	NudgeEmailDraft NudgeType = "email_draft"
)

// Diagnosis is the structured output of the diagnose stage. A
// zero-confidence diagnosis is a valid terminal outcome, not an error.
type Diagnosis struct {
	StuckPoint      string  `json:"stuck_point"`
	InferredReason  string  `json:"inferred_reason"`
	ConfidenceScore float64 `json:"confidence_score"`
}

// Nudge is a drafted remedial message, not yet delivered.
type Nudge struct {
	Type            NudgeType `json:"nudge_type"`
	Content         string    `json:"content"`
	TargetElementID string    `json:"target_element_id,omitempty"`
	StuckPoint      string    `json:"stuck_point"`
}

// DeliveryResult records the outcome of the deliver stage. NudgeCount
// carries the current value of the per-(user, stuck point) counter and
// feeds the escalation routing decision.
type DeliveryResult struct {
	NudgeID    string `json:"nudge_id,omitempty"`
	NudgeCount int64  `json:"nudge_count"`
	Delivered  bool   `json:"delivered"`
	StuckPoint string `json:"stuck_point"`
	Error      string `json:"error,omitempty"`
}

// Alert is the human-readable summary drafted for a CSM.
type Alert struct {
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	Priority string `json:"priority"`
}

// EscalationResult records the outcome of the escalate stage.
type EscalationResult struct {
	EscalationID string `json:"escalation_id,omitempty"`
	Alert        *Alert `json:"alert,omitempty"`
	Notified     bool   `json:"notified"`
}

// PipelineState is the single mutable record threaded through one
// workflow run. It is owned exclusively by that run and is never shared
// across runs or mutated concurrently.
type PipelineState struct {
	// Inputs, assembled before the run starts.
	UserID              string
	CompanyID           string
	SessionID           string
	SessionEvents       []Event
	BaselineSequence    []BaselineStep
	SessionState        SessionState
	Tone                ToneSettings
	EscalationThreshold int

	// Intermediate stage outputs.
	Diagnosis *Diagnosis
	Nudge     *Nudge
	Delivery  *DeliveryResult

	// Terminal outputs.
	Escalation *EscalationResult
	Completed  bool
	Error      string
}

// StateUpdate is the partial update a stage returns. Nil pointer fields
// leave the corresponding state field untouched.
type StateUpdate struct {
	Diagnosis  *Diagnosis
	Nudge      *Nudge
	Delivery   *DeliveryResult
	Escalation *EscalationResult
	Completed  bool
	Error      string
}

// Apply merges a partial update into the state.
func (s *PipelineState) Apply(u *StateUpdate) {
	if u == nil {
		return
	}
	if u.Diagnosis != nil {
		s.Diagnosis = u.Diagnosis
	}
	if u.Nudge != nil {
		s.Nudge = u.Nudge
	}
	if u.Delivery != nil {
		s.Delivery = u.Delivery
	}
	if u.Escalation != nil {
		s.Escalation = u.Escalation
	}
	if u.Completed {
		s.Completed = true
	}
	if u.Error != "" {
		s.Error = u.Error
	}
}

// NudgeRecord is the durable row written for every delivered nudge. The
// durable log is authoritative for history; the volatile counter is not.
type NudgeRecord struct {
	ID              string     `json:"nudge_id"`
	UserID          string     `json:"user_id"`
	CompanyID       string     `json:"company_id"`
	SessionID       string     `json:"session_id"`
	StuckPoint      string     `json:"stuck_point"`
	Type            NudgeType  `json:"nudge_type"`
	Content         string     `json:"content"`
	TargetElementID string     `json:"target_element_id,omitempty"`
	Diagnosis       *Diagnosis `json:"diagnosis,omitempty"`
	Status          string     `json:"status"`
	SentAt          time.Time  `json:"sent_at"`
}

// EscalationStatusOpen is the status every new escalation starts in.
const EscalationStatusOpen = "open"

// Escalation is the durable record handed to a human operator.
type Escalation struct {
	ID             string        `json:"id"`
	UserID         string        `json:"user_id"`
	CompanyID      string        `json:"company_id"`
	StuckPoint     string        `json:"stuck_point"`
	InferredReason string        `json:"inferred_reason"`
	NudgeLog       []NudgeRecord `json:"nudge_log,omitempty"`
	Status         string        `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
}
