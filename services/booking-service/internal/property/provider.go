package property

import (
	"context"

	"github.com/stayloop/stayloop/services/booking-service/internal/model"
	"github.com/stayloop/stayloop/services/booking-service/internal/storage"
)

// Provider answers property lookups (owner, nightly price, guest cap) during
// booking and block validation.
type Provider interface {
	Get(ctx context.Context, propertyID string) (model.Property, error)
}

type cacheProvider struct {
	repo *storage.PropertyCacheRepository
}

// NewCacheProvider reads from the event-fed local property read model.
func NewCacheProvider(repo *storage.PropertyCacheRepository) Provider {
	return &cacheProvider{repo: repo}
}

func (p *cacheProvider) Get(ctx context.Context, propertyID string) (model.Property, error) {
	return p.repo.Get(ctx, propertyID)
}
