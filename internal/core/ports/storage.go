package ports

import (
	"context"

	"github.com/guidepost-ai/guidepost/internal/core/domain"
)

// Store is the persistence collaborator. Stage code and the API server
// use it; the stream consumer reads from it only while assembling
// pipeline state.
type Store interface {
	// Companies.
	CompanyByID(ctx context.Context, id string) (*domain.Company, error)
	CompanyByAPIKeyHash(ctx context.Context, keyHash string) (*domain.Company, error)
	UpdateCompany(ctx context.Context, c *domain.Company) error

	// Baselines. ActiveBaseline returns domain.ErrNotFound when the
	// company has none; callers must treat that as an empty baseline.
	ActiveBaseline(ctx context.Context, companyID string) (*domain.Baseline, error)
	ListBaselines(ctx context.Context, companyID string) ([]domain.Baseline, error)
	CreateBaseline(ctx context.Context, b *domain.Baseline) error
	ActivateBaseline(ctx context.Context, companyID, baselineID string) error

	// Events and sessions.
	InsertEvent(ctx context.Context, ev *domain.Event) error
	SessionEvents(ctx context.Context, userID, sessionID string) ([]domain.Event, error)
	UpsertSession(ctx context.Context, ev *domain.Event) error

	// Nudges. RecentNudges returns newest-first.
	InsertNudge(ctx context.Context, n *domain.NudgeRecord) error
	RecentNudges(ctx context.Context, userID, stuckPoint string, limit int) ([]domain.NudgeRecord, error)

	// Escalations.
	InsertEscalation(ctx context.Context, e *domain.Escalation) error
	OpenEscalations(ctx context.Context, companyID string) ([]domain.Escalation, error)

	Close() error
}
