package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stayloop/stayloop/libs/db"
	"github.com/stayloop/stayloop/services/booking-service/internal/model"
)

// Querier is satisfied by both *db.Pool and pgx.Tx, so unavailability reads
// can run standalone on the read path and inside the booking transaction on
// the write path.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type BookingRepository struct {
	pool *db.Pool
}

type IdempotencyRecord struct {
	GuestID         string
	IdempotencyKey  string
	BookingID       string
	StatusCode      int
	ResponsePayload []byte
}

func NewBookingRepository(pool *db.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

func (r *BookingRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// Pool exposes the underlying pool as a Querier for read-path snapshots.
func (r *BookingRepository) Pool() *db.Pool { return r.pool }

// LockProperty serializes booking writers on one property for the duration of
// the transaction. With the lock held, re-validating against committed rows
// closes the check-then-act window; the exclusion constraint stays as the
// final arbiter in case any writer skips this path.
func (r *BookingRepository) LockProperty(ctx context.Context, tx pgx.Tx, propertyID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, propertyID)
	return err
}

func (r *BookingRepository) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, guestID, key string) (IdempotencyRecord, bool, error) {
	rec, err := r.selectIdempotencyForUpdate(ctx, tx, guestID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (guest_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (guest_id, idempotency_key) DO NOTHING
	`, guestID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = r.selectIdempotencyForUpdate(ctx, tx, guestID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (r *BookingRepository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, guestID, key, bookingID string, statusCode int, response []byte) error {
	_, err := tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET booking_id = NULLIF($3, '')::uuid,
			status_code = $4,
			response_payload = $5,
			updated_at = now()
		WHERE guest_id = $1 AND idempotency_key = $2
	`, guestID, key, bookingID, statusCode, response)
	return err
}

func (r *BookingRepository) Create(ctx context.Context, tx pgx.Tx, b *model.Booking) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO bookings
			(property_id, guest_id, check_in, check_out, guests, status, total_amount_cents, currency, hold_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, b.PropertyID, b.GuestID, b.CheckIn, b.CheckOut, b.Guests, b.Status,
		b.TotalAmountCents, b.Currency, b.HoldExpiresAt).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

const bookingColumns = `id, property_id, guest_id, check_in, check_out, guests, status,
	total_amount_cents, currency, hold_expires_at, cancelled_at, COALESCE(cancellation_reason, ''), created_at`

func scanBooking(row pgx.Row) (model.Booking, error) {
	var b model.Booking
	err := row.Scan(
		&b.ID,
		&b.PropertyID,
		&b.GuestID,
		&b.CheckIn,
		&b.CheckOut,
		&b.Guests,
		&b.Status,
		&b.TotalAmountCents,
		&b.Currency,
		&b.HoldExpiresAt,
		&b.CancelledAt,
		&b.CancelReason,
		&b.CreatedAt,
	)
	return b, err
}

func (r *BookingRepository) Get(ctx context.Context, bookingID string) (model.Booking, error) {
	return scanBooking(r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
	`, bookingID))
}

func (r *BookingRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, bookingID string) (model.Booking, error) {
	return scanBooking(tx.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
		FOR UPDATE
	`, bookingID))
}

// Confirm moves a pending booking to confirmed, releasing its payment hold.
// Returns false when the booking is no longer pending (already confirmed,
// cancelled, or expired).
func (r *BookingRepository) Confirm(ctx context.Context, tx pgx.Tx, bookingID string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE bookings
		SET status = 'confirmed',
			hold_expires_at = NULL
		WHERE id = $1 AND status = 'pending'
	`, bookingID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *BookingRepository) Complete(ctx context.Context, tx pgx.Tx, bookingID string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE bookings
		SET status = 'completed'
		WHERE id = $1 AND status = 'confirmed' AND check_out < current_date
	`, bookingID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *BookingRepository) Cancel(ctx context.Context, tx pgx.Tx, bookingID, reason string) (time.Time, error) {
	var cancelledAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE bookings
		SET status = 'cancelled',
			cancelled_at = now(),
			cancellation_reason = $2
		WHERE id = $1
		RETURNING cancelled_at
	`, bookingID, reason).Scan(&cancelledAt)
	return cancelledAt, err
}

// ExpireHold cancels a booking that is still pending after its payment hold
// lapsed. Returns false when the booking was confirmed or cancelled in the
// meantime.
func (r *BookingRepository) ExpireHold(ctx context.Context, tx pgx.Tx, bookingID string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE bookings
		SET status = 'cancelled',
			cancelled_at = now(),
			cancellation_reason = 'payment hold expired'
		WHERE id = $1
			AND status = 'pending'
			AND hold_expires_at IS NOT NULL
			AND hold_expires_at <= now()
	`, bookingID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListLiveBookings returns the bookings still holding dates on the property,
// from the given day on. Cancelled bookings never block.
func (r *BookingRepository) ListLiveBookings(ctx context.Context, q Querier, propertyID string, from time.Time) ([]model.Booking, error) {
	rows, err := q.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE property_id = $1
			AND status IN ('pending', 'confirmed', 'completed')
			AND check_out >= $2
		ORDER BY check_in ASC
	`, propertyID, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return bookings, nil
}

func (r *BookingRepository) ListByGuest(ctx context.Context, guestID string, limit int) ([]model.Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.list(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE guest_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, guestID, limit)
}

func (r *BookingRepository) ListByProperty(ctx context.Context, propertyID string, limit int) ([]model.Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.list(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE property_id = $1
		ORDER BY check_in DESC
		LIMIT $2
	`, propertyID, limit)
}

func (r *BookingRepository) list(ctx context.Context, sql string, args ...any) ([]model.Booking, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return bookings, nil
}

// IsConflict recognizes an exclusion constraint violation: a concurrent
// writer won the race for overlapping dates after validation passed.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func (r *BookingRepository) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, guestID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := tx.QueryRow(ctx, `
		SELECT guest_id::text,
			idempotency_key,
			COALESCE(booking_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE guest_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, guestID, key).Scan(
		&rec.GuestID,
		&rec.IdempotencyKey,
		&rec.BookingID,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}
