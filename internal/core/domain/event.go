// Package domain defines the typed records shared across the guidepost
// services: ingested events, volatile session state, and the pipeline
// records produced by the nudge workflow.
package domain

import "time"

// Event is a single user interaction captured by the client SDK.
// Events are immutable once emitted; ordering within a session matters.
type Event struct {
	UserID          string         `json:"user_id"`
	CompanyID       string         `json:"company_id"`
	SessionID       string         `json:"session_id"`
	EventType       string         `json:"event_type"`
	TargetElementID string         `json:"target_element_id,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// SessionState is the volatile per-user session summary kept in the
// counter store. LastTimestamp is kept as the raw string written at
// ingest time: the trigger policy treats an unparsable value as
// "no signal", so parsing is deferred to the policy.
type SessionState struct {
	LastEvent     string `json:"last_event"`
	LastTimestamp string `json:"last_timestamp"`
	SessionID     string `json:"session_id"`
	CompanyID     string `json:"company_id"`
}

// IsZero reports whether no session state was found for the user.
func (s SessionState) IsZero() bool {
	return s.LastEvent == "" && s.LastTimestamp == "" && s.SessionID == "" && s.CompanyID == ""
}
