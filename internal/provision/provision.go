// Package provision creates tenants. It is the admin-side path that
// mints a company API key and writes the company row the auth
// middleware resolves keys against.
package provision

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/guidepost-ai/guidepost/internal/core/domain"
	"github.com/guidepost-ai/guidepost/internal/server"
)

const apiKeyPrefix = "gp_"

// CompanyCreator is the store-side insert. Both the sqlite and memory
// stores implement it outside ports.Store; provisioning never runs on
// the request path.
type CompanyCreator interface {
	CreateCompany(ctx context.Context, c *domain.Company) error
}

// NewAPIKey mints a fresh company API key. The raw key is shown once
// at provisioning time; only its hash is stored.
func NewAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return apiKeyPrefix + hex.EncodeToString(buf), nil
}

// Company inserts a new tenant with default tone settings. An empty
// apiKey mints one; a non-positive threshold takes the default. Returns
// the created company and the raw API key.
func Company(ctx context.Context, store CompanyCreator, name, apiKey string, threshold int) (*domain.Company, string, error) {
	if name == "" {
		return nil, "", fmt.Errorf("company name is required")
	}
	if apiKey == "" {
		var err error
		apiKey, err = NewAPIKey()
		if err != nil {
			return nil, "", err
		}
	}
	if threshold <= 0 {
		threshold = domain.DefaultEscalationThreshold
	}

	c := &domain.Company{
		ID:                  uuid.NewString(),
		Name:                name,
		APIKeyHash:          server.HashAPIKey(apiKey),
		Tone:                domain.DefaultTone(),
		EscalationThreshold: threshold,
	}
	if err := store.CreateCompany(ctx, c); err != nil {
		return nil, "", fmt.Errorf("create company: %w", err)
	}
	return c, apiKey, nil
}
