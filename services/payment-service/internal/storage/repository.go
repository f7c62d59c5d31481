package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

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

// BillableBooking is the read model fed by booking.created.v1. Checkout only
// works against bookings this service has heard about.
type BillableBooking struct {
	BookingID        string
	PropertyID       string
	GuestID          string
	TotalAmountCents int64
	Currency         string
	Status           string
	HoldExpiresAt    *time.Time
	UpdatedAt        time.Time
}

func (r *Repository) UpsertBillableBooking(ctx context.Context, b BillableBooking) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO billable_bookings (booking_id, property_id, guest_id, total_amount_cents, currency, hold_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (booking_id)
		DO UPDATE SET total_amount_cents = EXCLUDED.total_amount_cents,
		              currency = EXCLUDED.currency,
		              hold_expires_at = EXCLUDED.hold_expires_at,
		              updated_at = now()
	`, b.BookingID, b.PropertyID, b.GuestID, b.TotalAmountCents, defaultIfEmpty(b.Currency, "usd"), b.HoldExpiresAt)
	return err
}

func (r *Repository) GetBillableBooking(ctx context.Context, bookingID string) (BillableBooking, error) {
	var b BillableBooking
	var holdExpiresAt *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT booking_id::text, property_id::text, guest_id::text, total_amount_cents, currency, status, hold_expires_at, updated_at
		FROM billable_bookings
		WHERE booking_id = $1
	`, bookingID).Scan(&b.BookingID, &b.PropertyID, &b.GuestID, &b.TotalAmountCents, &b.Currency, &b.Status, &holdExpiresAt, &b.UpdatedAt)
	if err != nil {
		return BillableBooking{}, err
	}
	b.HoldExpiresAt = holdExpiresAt
	return b, nil
}

func (r *Repository) MarkBillablePaid(ctx context.Context, tx pgx.Tx, bookingID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE billable_bookings
		SET status = 'paid', updated_at = now()
		WHERE booking_id = $1 AND status = 'unpaid'
	`, bookingID)
	return err
}

func (r *Repository) MarkBillableExpired(ctx context.Context, bookingID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE billable_bookings
		SET status = 'expired', updated_at = now()
		WHERE booking_id = $1 AND status = 'unpaid'
	`, bookingID)
	return err
}

type CheckoutSession struct {
	StripeSessionID string
	BookingID       string
	GuestID         string
	AmountCents     int64
	Currency        string
	Status          string
	URL             string
	ReturnToken     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
	CanceledAt      *time.Time
	ExpiredAt       *time.Time
}

func (r *Repository) UpsertCheckoutSession(ctx context.Context, tx pgx.Tx, s CheckoutSession) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO checkout_sessions (stripe_session_id, booking_id, guest_id, amount_cents, currency, status, url, return_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (stripe_session_id)
		DO UPDATE SET status = EXCLUDED.status,
		              url = EXCLUDED.url,
		              updated_at = now()
	`, s.StripeSessionID, s.BookingID, s.GuestID, s.AmountCents, defaultIfEmpty(s.Currency, "usd"), s.Status, s.URL, s.ReturnToken)
	return err
}

func (r *Repository) MarkCheckoutSessionCompleted(ctx context.Context, tx pgx.Tx, stripeSessionID string, completedAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE checkout_sessions
		SET status = 'completed',
		    completed_at = $2,
		    updated_at = now()
		WHERE stripe_session_id = $1
	`, stripeSessionID, completedAt)
	return err
}

func (r *Repository) MarkCheckoutSessionExpired(ctx context.Context, tx pgx.Tx, stripeSessionID string, expiredAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE checkout_sessions
		SET status = 'expired',
		    expired_at = $2,
		    updated_at = now()
		WHERE stripe_session_id = $1 AND status <> 'completed'
	`, stripeSessionID, expiredAt)
	return err
}

func (r *Repository) AckCheckoutReturn(ctx context.Context, tx pgx.Tx, stripeSessionID string, token string, result string, seenAt time.Time) error {
	// Token keeps this public endpoint from being used to tamper with other
	// sessions. The Stripe webhook stays the source of truth for completion.
	if strings.TrimSpace(result) == "" {
		result = "unknown"
	}
	_, err := tx.Exec(ctx, `
		UPDATE checkout_sessions
		SET status = CASE
		      WHEN $3 = 'cancel' AND status <> 'completed' THEN 'canceled'
		      ELSE status
		    END,
		    canceled_at = CASE
		      WHEN $3 = 'cancel' AND status <> 'completed' THEN COALESCE(canceled_at, $4)
		      ELSE canceled_at
		    END,
		    updated_at = now()
		WHERE stripe_session_id = $1 AND return_token = $2
	`, stripeSessionID, token, result, seenAt)
	return err
}

func (r *Repository) GetCheckoutSession(ctx context.Context, stripeSessionID string) (CheckoutSession, error) {
	var s CheckoutSession
	var completedAt, canceledAt, expiredAt *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT stripe_session_id, booking_id::text, guest_id::text, amount_cents, currency, status,
		       url, return_token, created_at, updated_at, completed_at, canceled_at, expired_at
		FROM checkout_sessions
		WHERE stripe_session_id = $1
	`, stripeSessionID).Scan(
		&s.StripeSessionID,
		&s.BookingID,
		&s.GuestID,
		&s.AmountCents,
		&s.Currency,
		&s.Status,
		&s.URL,
		&s.ReturnToken,
		&s.CreatedAt,
		&s.UpdatedAt,
		&completedAt,
		&canceledAt,
		&expiredAt,
	)
	if err != nil {
		return CheckoutSession{}, err
	}
	s.CompletedAt = completedAt
	s.CanceledAt = canceledAt
	s.ExpiredAt = expiredAt
	return s, nil
}

type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}

var ErrDuplicateProviderEvent = errors.New("duplicate provider event")

func (r *Repository) InsertProviderEvent(ctx context.Context, tx pgx.Tx, evt ProviderEvent) error {
	var payload any
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		// keep the raw JSON error as a hard failure: webhooks must be well-formed.
		return err
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`, evt.Provider, evt.ProviderEventID, evt.EventType, payload)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateProviderEvent
	}
	return nil
}

type AuditEvent struct {
	EventType string
	ActorType string
	ActorID   string
	BookingID string
	Metadata  []byte
}

func (r *Repository) InsertAuditEvent(ctx context.Context, tx pgx.Tx, evt AuditEvent) error {
	var payload any
	if len(evt.Metadata) == 0 {
		payload = map[string]any{}
	} else if err := json.Unmarshal(evt.Metadata, &payload); err != nil {
		return err
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO audit_events (event_type, actor_type, actor_id, booking_id, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`, evt.EventType, defaultIfEmpty(evt.ActorType, "system"), evt.ActorID, evt.BookingID, payload)
	return err
}

func defaultIfEmpty(s string, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
