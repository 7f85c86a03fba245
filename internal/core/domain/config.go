package domain

import "time"

// DefaultEscalationThreshold applies when a company has no configured
// threshold. A nudge count strictly greater than the threshold escalates.
const DefaultEscalationThreshold = 3

// ToneSettings shape the voice of generated nudges.
type ToneSettings struct {
	Voice     string `json:"voice"`
	Formality string `json:"formality"`
	Emoji     bool   `json:"emoji"`
}

// DefaultTone is used when a company has no tone configuration.
func DefaultTone() ToneSettings {
	return ToneSettings{Voice: "friendly", Formality: "casual", Emoji: true}
}

// Company is a tenant: the owner of events, baselines, and nudge
// configuration. APIKeyHash is the sha256 hex of the ingest API key.
type Company struct {
	ID                  string       `json:"id"`
	Name                string       `json:"name"`
	APIKeyHash          string       `json:"-"`
	Tone                ToneSettings `json:"tone_settings"`
	EscalationThreshold int          `json:"escalation_threshold"`
	CreatedAt           time.Time    `json:"created_at"`
}

// BaselineStep is one step in a company's ideal onboarding path.
type BaselineStep struct {
	EventType       string `json:"event_type"`
	TargetElementID string `json:"target_element_id,omitempty"`
	Label           string `json:"label,omitempty"`
	Order           int    `json:"order"`
}

// Baseline is a named ideal-path sequence. At most one baseline per
// company is active at a time.
type Baseline struct {
	ID        string         `json:"id"`
	CompanyID string         `json:"company_id"`
	Name      string         `json:"name"`
	Sequence  []BaselineStep `json:"event_sequence"`
	Active    bool           `json:"is_active"`
	CreatedAt time.Time      `json:"created_at"`
}
