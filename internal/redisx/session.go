package redisx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/guidepost-ai/guidepost/internal/core/domain"
)

// SessionTTL is how long a session hash survives after its last write.
const SessionTTL = time.Hour

// SessionStore keeps per-user session state in Redis hashes keyed
// session:{user_id}.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client, ttl: SessionTTL}
}

func sessionKey(userID string) string { return "session:" + userID }

// Get returns the session state for a user. A missing key is a zero
// state, not an error.
func (s *SessionStore) Get(ctx context.Context, userID string) (domain.SessionState, error) {
	fields, err := s.client.HGetAll(ctx, sessionKey(userID)).Result()
	if err != nil {
		return domain.SessionState{}, err
	}
	return domain.SessionState{
		LastEvent:     fields["last_event"],
		LastTimestamp: fields["last_timestamp"],
		SessionID:     fields["session_id"],
		CompanyID:     fields["company_id"],
	}, nil
}

// Put overwrites the session hash and refreshes its TTL. A zero ttl
// uses the store default.
func (s *SessionStore) Put(ctx context.Context, userID string, state domain.SessionState, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.ttl
	}
	key := sessionKey(userID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"last_event", state.LastEvent,
		"last_timestamp", state.LastTimestamp,
		"session_id", state.SessionID,
		"company_id", state.CompanyID,
	)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}
