// Package memory is an in-memory ports.Store used in tests and for
// running the server without a database file.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/guidepost-ai/guidepost/internal/core/domain"
	"github.com/guidepost-ai/guidepost/internal/core/ports"
)

// Store keeps everything in maps guarded by one RWMutex.
type Store struct {
	mu          sync.RWMutex
	companies   map[string]*domain.Company
	baselines   map[string][]domain.Baseline
	events      []domain.Event
	sessions    map[string]domain.Event
	nudges      []domain.NudgeRecord
	escalations []domain.Escalation
}

var _ ports.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		companies: make(map[string]*domain.Company),
		baselines: make(map[string][]domain.Baseline),
		sessions:  make(map[string]domain.Event),
	}
}

// CreateCompany registers a tenant. Not part of ports.Store; tests and
// provisioning use it.
func (s *Store) CreateCompany(ctx context.Context, c *domain.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	cp := *c
	s.companies[c.ID] = &cp
	return nil
}

func (s *Store) CompanyByID(ctx context.Context, id string) (*domain.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.companies[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) CompanyByAPIKeyHash(ctx context.Context, keyHash string) (*domain.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.companies {
		if c.APIKeyHash == keyHash {
			cp := *c
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) UpdateCompany(ctx context.Context, c *domain.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.companies[c.ID]
	if !ok {
		return domain.ErrNotFound
	}
	existing.Name = c.Name
	existing.Tone = c.Tone
	existing.EscalationThreshold = c.EscalationThreshold
	return nil
}

func (s *Store) ActiveBaseline(ctx context.Context, companyID string) (*domain.Baseline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.baselines[companyID] {
		if b.Active {
			cp := b
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListBaselines(ctx context.Context, companyID string) ([]domain.Baseline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Baseline, len(s.baselines[companyID]))
	copy(out, s.baselines[companyID])
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) CreateBaseline(ctx context.Context, b *domain.Baseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	if b.Active {
		list := s.baselines[b.CompanyID]
		for i := range list {
			list[i].Active = false
		}
	}
	s.baselines[b.CompanyID] = append(s.baselines[b.CompanyID], *b)
	return nil
}

func (s *Store) ActivateBaseline(ctx context.Context, companyID, baselineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.baselines[companyID]
	found := false
	for i := range list {
		list[i].Active = list[i].ID == baselineID
		if list[i].ID == baselineID {
			found = true
		}
	}
	if !found {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) InsertEvent(ctx context.Context, ev *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *ev)
	return nil
}

func (s *Store) SessionEvents(ctx context.Context, userID, sessionID string) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Event
	for _, ev := range s.events {
		if ev.UserID == userID && ev.SessionID == sessionID {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (s *Store) UpsertSession(ctx context.Context, ev *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[ev.UserID] = *ev
	return nil
}

func (s *Store) InsertNudge(ctx context.Context, n *domain.NudgeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.SentAt.IsZero() {
		n.SentAt = time.Now().UTC()
	}
	s.nudges = append(s.nudges, *n)
	return nil
}

func (s *Store) RecentNudges(ctx context.Context, userID, stuckPoint string, limit int) ([]domain.NudgeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 5
	}
	var out []domain.NudgeRecord
	for _, n := range s.nudges {
		if n.UserID == userID && n.StuckPoint == stuckPoint {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SentAt.After(out[j].SentAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) InsertEscalation(ctx context.Context, e *domain.Escalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.escalations = append(s.escalations, *e)
	return nil
}

func (s *Store) OpenEscalations(ctx context.Context, companyID string) ([]domain.Escalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Escalation
	for _, e := range s.escalations {
		if e.CompanyID == companyID && e.Status == domain.EscalationStatusOpen {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) Close() error { return nil }
