package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/guidepost-ai/guidepost/internal/core/domain"
	"github.com/guidepost-ai/guidepost/internal/core/ports"
)

const companyContextKey contextKey = "company"

// HashAPIKey returns the stored form of an API key. Only the hash is
// ever persisted.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// AuthMiddleware resolves the API key to a company and injects it into
// the request context. The key is taken from X-API-Key or from an
// Authorization Bearer token.
func AuthMiddleware(store ports.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				auth := r.Header.Get("Authorization")
				apiKey = strings.TrimPrefix(auth, "Bearer ")
			}
			if apiKey == "" {
				http.Error(w, "Missing API key", http.StatusUnauthorized)
				return
			}

			company, err := store.CompanyByAPIKeyHash(r.Context(), HashAPIKey(apiKey))
			if err != nil {
				http.Error(w, "Invalid API key", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), companyContextKey, company)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetCompany retrieves the authenticated company from context.
// Returns nil if no company is set.
func GetCompany(ctx context.Context) *domain.Company {
	if c, ok := ctx.Value(companyContextKey).(*domain.Company); ok {
		return c
	}
	return nil
}
