package storage

import (
	"context"

	"github.com/stayloop/stayloop/libs/db"
	"github.com/stayloop/stayloop/services/booking-service/internal/model"
)

// PropertyCacheRepository maintains the local property read model fed by
// property.upserted.v1 events. Booking validation reads owner and price from
// here instead of calling property-service on every request.
type PropertyCacheRepository struct {
	pool *db.Pool
}

func NewPropertyCacheRepository(pool *db.Pool) *PropertyCacheRepository {
	return &PropertyCacheRepository{pool: pool}
}

func (r *PropertyCacheRepository) Upsert(ctx context.Context, p model.Property) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO property_cache (property_id, owner_id, nightly_price_cents, currency, max_guests, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (property_id)
		DO UPDATE SET owner_id = EXCLUDED.owner_id,
			nightly_price_cents = EXCLUDED.nightly_price_cents,
			currency = EXCLUDED.currency,
			max_guests = EXCLUDED.max_guests,
			is_active = EXCLUDED.is_active,
			updated_at = now()
	`, p.PropertyID, p.OwnerID, p.NightlyPriceCents, p.Currency, p.MaxGuests, p.IsActive)
	return err
}

func (r *PropertyCacheRepository) Get(ctx context.Context, propertyID string) (model.Property, error) {
	var p model.Property
	err := r.pool.QueryRow(ctx, `
		SELECT property_id, owner_id, nightly_price_cents, currency, max_guests, is_active, updated_at
		FROM property_cache
		WHERE property_id = $1
	`, propertyID).Scan(
		&p.PropertyID,
		&p.OwnerID,
		&p.NightlyPriceCents,
		&p.Currency,
		&p.MaxGuests,
		&p.IsActive,
		&p.UpdatedAt,
	)
	if err != nil {
		return model.Property{}, err
	}
	return p, nil
}
