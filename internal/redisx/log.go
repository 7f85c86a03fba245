// Package redisx implements the event log, session store, counter and
// pub/sub ports on Redis. The stream and key layout is shared with the
// producers that feed guidepost, so the names here are wire contract,
// not implementation detail.
package redisx

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/guidepost-ai/guidepost/internal/core/domain"
	"github.com/guidepost-ai/guidepost/internal/core/ports"
)

const (
	// DefaultStream is the stream producers append onboarding events to.
	DefaultStream = "events_stream"
	// DefaultGroup is the consumer group the workers read through.
	DefaultGroup = "ai_workers"
)

// StreamLog is the Redis Streams implementation of ports.EventLog.
type StreamLog struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
}

// NewStreamLog creates a log bound to one stream, group and consumer
// name. Empty stream or group fall back to the shared defaults.
func NewStreamLog(client *redis.Client, stream, group, consumer string) *StreamLog {
	if stream == "" {
		stream = DefaultStream
	}
	if group == "" {
		group = DefaultGroup
	}
	return &StreamLog{client: client, stream: stream, group: group, consumer: consumer}
}

// EnsureGroup creates the consumer group from the start of the stream,
// creating the stream itself if needed. An already-existing group is
// not an error.
func (l *StreamLog) EnsureGroup(ctx context.Context) error {
	err := l.client.XGroupCreateMkStream(ctx, l.stream, l.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %q: %w", l.group, err)
	}
	return nil
}

// Read blocks up to block for at most count new entries addressed to
// this consumer. An empty result is (nil, nil).
func (l *StreamLog) Read(ctx context.Context, count int64, block time.Duration) ([]ports.StreamEntry, error) {
	streams, err := l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    l.group,
		Consumer: l.consumer,
		Streams:  []string{l.stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var entries []ports.StreamEntry
	for _, s := range streams {
		for _, msg := range s.Messages {
			entries = append(entries, ports.StreamEntry{ID: msg.ID, Values: flatten(msg.Values)})
		}
	}
	return entries, nil
}

// Ack acknowledges one entry for the group.
func (l *StreamLog) Ack(ctx context.Context, entryID string) error {
	return l.client.XAck(ctx, l.stream, l.group, entryID).Err()
}

// Append adds an event to the stream in the producer wire format.
func (l *StreamLog) Append(ctx context.Context, ev *domain.Event) error {
	values := map[string]any{
		"user_id":    ev.UserID,
		"company_id": ev.CompanyID,
		"session_id": ev.SessionID,
		"event_type": ev.EventType,
	}
	if ev.TargetElementID != "" {
		values["target_element_id"] = ev.TargetElementID
	}
	if !ev.Timestamp.IsZero() {
		values["timestamp"] = ev.Timestamp.UTC().Format(time.RFC3339)
	}
	if len(ev.Metadata) > 0 {
		meta, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("marshal event metadata: %w", err)
		}
		values["metadata"] = string(meta)
	}
	return l.client.XAdd(ctx, &redis.XAddArgs{Stream: l.stream, Values: values}).Err()
}

func flatten(values map[string]interface{}) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}
