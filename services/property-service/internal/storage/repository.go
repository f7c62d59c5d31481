package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stayloop/stayloop/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

type Property struct {
	ID                string
	OwnerID           string
	Title             string
	Description       string
	Location          string
	NightlyPriceCents int64
	Currency          string
	MaxGuests         int
	IsActive          bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (r *Repository) Create(ctx context.Context, tx pgx.Tx, p *Property) (string, error) {
	id := uuid.NewString()
	_, err := tx.Exec(ctx, `
		INSERT INTO properties (id, owner_id, title, description, location, nightly_price_cents, currency, max_guests, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true)
	`, id, p.OwnerID, p.Title, p.Description, p.Location, p.NightlyPriceCents, p.Currency, p.MaxGuests)
	if err != nil {
		return "", err
	}
	return id, nil
}

const propertyColumns = `id::text, owner_id::text, title, description, location,
	nightly_price_cents, currency, max_guests, is_active, created_at, updated_at`

func scanProperty(row pgx.Row) (Property, error) {
	var p Property
	err := row.Scan(
		&p.ID,
		&p.OwnerID,
		&p.Title,
		&p.Description,
		&p.Location,
		&p.NightlyPriceCents,
		&p.Currency,
		&p.MaxGuests,
		&p.IsActive,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

func (r *Repository) Get(ctx context.Context, propertyID string) (Property, error) {
	return scanProperty(r.pool.QueryRow(ctx, `
		SELECT `+propertyColumns+`
		FROM properties
		WHERE id = $1
	`, propertyID))
}

func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, propertyID string) (Property, error) {
	return scanProperty(tx.QueryRow(ctx, `
		SELECT `+propertyColumns+`
		FROM properties
		WHERE id = $1
		FOR UPDATE
	`, propertyID))
}

// Update rewrites the mutable listing fields. Ownership is checked by the
// caller against the loaded row.
func (r *Repository) Update(ctx context.Context, tx pgx.Tx, p Property) error {
	_, err := tx.Exec(ctx, `
		UPDATE properties
		SET title = $2,
			description = $3,
			location = $4,
			nightly_price_cents = $5,
			currency = $6,
			max_guests = $7,
			is_active = $8,
			updated_at = now()
		WHERE id = $1
	`, p.ID, p.Title, p.Description, p.Location, p.NightlyPriceCents, p.Currency, p.MaxGuests, p.IsActive)
	return err
}

func (r *Repository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]Property, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx, `
		SELECT `+propertyColumns+`
		FROM properties
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, ownerID, limit)
}

func (r *Repository) ListActive(ctx context.Context, location string, limit int) ([]Property, error) {
	if limit <= 0 {
		limit = 100
	}
	if location != "" {
		return r.list(ctx, `
			SELECT `+propertyColumns+`
			FROM properties
			WHERE is_active AND location ILIKE '%' || $1 || '%'
			ORDER BY created_at DESC
			LIMIT $2
		`, location, limit)
	}
	return r.list(ctx, `
		SELECT `+propertyColumns+`
		FROM properties
		WHERE is_active
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
}

func (r *Repository) list(ctx context.Context, sql string, args ...any) ([]Property, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
