package consumer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/guidepost-ai/guidepost/internal/core/domain"
)

// DecodeEvent turns a raw stream field map into an Event. Identity
// fields are required; a missing one makes the entry undecodable and
// the consumer drops it. The timestamp and metadata fields are lenient:
// garbage there degrades to zero values rather than poisoning the entry.
func DecodeEvent(values map[string]string) (*domain.Event, error) {
	ev := &domain.Event{
		UserID:          values["user_id"],
		CompanyID:       values["company_id"],
		SessionID:       values["session_id"],
		EventType:       values["event_type"],
		TargetElementID: values["target_element_id"],
	}
	if ev.UserID == "" {
		return nil, fmt.Errorf("stream entry missing user_id")
	}
	if ev.SessionID == "" {
		return nil, fmt.Errorf("stream entry missing session_id")
	}
	if ev.EventType == "" {
		return nil, fmt.Errorf("stream entry missing event_type")
	}

	if raw := values["timestamp"]; raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			ev.Timestamp = ts
		}
	}
	if raw := values["metadata"]; raw != "" {
		var meta map[string]any
		if err := json.Unmarshal([]byte(raw), &meta); err == nil {
			ev.Metadata = meta
		}
	}

	return ev, nil
}
