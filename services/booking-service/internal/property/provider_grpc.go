//go:build protogen

package property

import (
	"context"
	"log/slog"
	"time"

	"github.com/stayloop/stayloop/libs/grpcx"
	propertyv1 "github.com/stayloop/stayloop/protos/gen/property/v1"
	"github.com/stayloop/stayloop/services/booking-service/internal/model"
	"github.com/stayloop/stayloop/services/booking-service/internal/storage"
)

type grpcProvider struct {
	client   propertyv1.PropertyServiceClient
	fallback Provider
}

// NewPropertyProvider dials property-service when an address is configured,
// falling back to the local read model when the dial fails or a lookup
// errors (the cache may lag a just-created listing).
func NewPropertyProvider(logger *slog.Logger, repo *storage.PropertyCacheRepository, addr string) (Provider, error) {
	local := NewCacheProvider(repo)
	if addr == "" {
		return local, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := grpcx.Dial(ctx, addr, grpcx.DialOptions{Timeout: 5 * time.Second})
	if err != nil {
		logger.Warn("grpc property provider unavailable, using local cache", "err", err)
		return local, nil
	}

	logger.Info("grpc property provider enabled", "addr", addr)
	return &grpcProvider{client: propertyv1.NewPropertyServiceClient(conn), fallback: local}, nil
}

func (p *grpcProvider) Get(ctx context.Context, propertyID string) (model.Property, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	resp, err := p.client.GetProperty(reqCtx, &propertyv1.PropertyRequest{PropertyId: propertyID})
	if err != nil {
		return p.fallback.Get(ctx, propertyID)
	}
	return model.Property{
		PropertyID:        resp.GetPropertyId(),
		OwnerID:           resp.GetOwnerId(),
		NightlyPriceCents: resp.GetNightlyPriceCents(),
		Currency:          resp.GetCurrency(),
		MaxGuests:         int(resp.GetMaxGuests()),
		IsActive:          resp.GetIsActive(),
	}, nil
}
