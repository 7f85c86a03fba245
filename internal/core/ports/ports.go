// Package ports defines the interfaces between the guidepost core and
// its external collaborators: the event log, the counter store, the
// text generator, persistence, and the push channel.
package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/guidepost-ai/guidepost/internal/core/domain"
)

// StreamEntry is one raw entry read from the event log. Values is the
// flat field map as stored on the stream; decoding into a domain.Event
// is the consumer's job.
type StreamEntry struct {
	ID     string
	Values map[string]string
}

// EventLog is the durable, ordered, consumer-group event stream.
type EventLog interface {
	// EnsureGroup creates the consumer group at the log origin if it
	// does not already exist. An existing group is not an error.
	EnsureGroup(ctx context.Context) error

	// Read blocks for up to block waiting for at most count new entries
	// assigned to this consumer. An empty batch returns (nil, nil).
	Read(ctx context.Context, count int64, block time.Duration) ([]StreamEntry, error)

	// Ack advances the group cursor past the entry.
	Ack(ctx context.Context, entryID string) error

	// Append publishes an event onto the log.
	Append(ctx context.Context, ev *domain.Event) error
}

// SessionStore reads and writes the volatile per-user session summary.
type SessionStore interface {
	Get(ctx context.Context, userID string) (domain.SessionState, error)
	Put(ctx context.Context, userID string, state domain.SessionState, ttl time.Duration) error
}

// CounterStore provides atomic counters with expiry. Increment must be
// atomic across concurrent callers for the same key and refreshes the
// TTL on every call.
type CounterStore interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// NudgePublisher pushes a delivered nudge payload toward the user's
// real-time channel.
type NudgePublisher interface {
	Publish(ctx context.Context, userID string, payload []byte) error
}

// AlertNotifier forwards an escalation alert to an external channel
// such as a team chat webhook. Delivery is best effort.
type AlertNotifier interface {
	Notify(ctx context.Context, alert *domain.Alert) error
}

// GenerateRequest is a role-tagged prompt pair. The generator constrains
// the model output to a single JSON object.
type GenerateRequest struct {
	System      string
	User        string
	Temperature float32
}

// TextGenerator produces structured JSON from a prompt pair. Callers
// must treat malformed output as a recoverable failure, never a crash.
type TextGenerator interface {
	Generate(ctx context.Context, req *GenerateRequest) (json.RawMessage, error)
}
