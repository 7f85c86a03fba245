// Package trigger decides whether an incoming event should start a
// nudge pipeline run. The policy is a pure function of its inputs so it
// can be tested without the stream.
package trigger

import (
	"time"

	"github.com/guidepost-ai/guidepost/internal/core/domain"
)

// InactivityThreshold is how long a session may sit idle before the
// next event counts as a stale-inactivity signal.
const InactivityThreshold = 120 * time.Second

// stuckEventTypes are the event types that trigger unconditionally.
var stuckEventTypes = map[string]struct{}{
	"help_click":        {},
	"cancel_click":      {},
	"back_click":        {},
	"error_encountered": {},
}

// IsStuckEvent reports whether the event type is in the stuck vocabulary.
func IsStuckEvent(eventType string) bool {
	_, ok := stuckEventTypes[eventType]
	return ok
}

// ShouldTrigger reports whether the pipeline should run for this event.
// Stuck-vocabulary events trigger regardless of session state. Otherwise
// the session's last timestamp decides: more than InactivityThreshold of
// elapsed time triggers, and a missing or unparsable timestamp is
// treated as no signal.
func ShouldTrigger(ev *domain.Event, session domain.SessionState, now time.Time) bool {
	if IsStuckEvent(ev.EventType) {
		return true
	}

	if session.LastTimestamp == "" {
		return false
	}
	last, err := time.Parse(time.RFC3339, session.LastTimestamp)
	if err != nil {
		return false
	}
	return now.Sub(last) > InactivityThreshold
}
