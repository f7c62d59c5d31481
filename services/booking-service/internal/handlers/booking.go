package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stayloop/stayloop/libs/events"
	"github.com/stayloop/stayloop/services/booking-service/internal/availability"
	"github.com/stayloop/stayloop/services/booking-service/internal/cache"
	"github.com/stayloop/stayloop/services/booking-service/internal/model"
	"github.com/stayloop/stayloop/services/booking-service/internal/property"
	"github.com/stayloop/stayloop/services/booking-service/internal/storage"
)

type BookingHandler struct {
	repo       *storage.BookingRepository
	blocks     *storage.BlockRepository
	outboxRepo *events.OutboxRepository
	calendars  *cache.CalendarCache
	props      property.Provider
	logger     *slog.Logger
	holdTTL    time.Duration
}

func NewBookingHandler(repo *storage.BookingRepository, blocks *storage.BlockRepository, outboxRepo *events.OutboxRepository, calendars *cache.CalendarCache, props property.Provider, logger *slog.Logger, holdTTL time.Duration) *BookingHandler {
	if holdTTL <= 0 {
		holdTTL = 30 * time.Minute
	}
	return &BookingHandler{
		repo:       repo,
		blocks:     blocks,
		outboxRepo: outboxRepo,
		calendars:  calendars,
		props:      props,
		logger:     logger,
		holdTTL:    holdTTL,
	}
}

type createBookingRequest struct {
	PropertyID string `json:"property_id"`
	CheckIn    string `json:"check_in"`
	CheckOut   string `json:"check_out"`
	Guests     int    `json:"guests"`
}

type createBookingResponse struct {
	BookingID        string `json:"booking_id"`
	Status           string `json:"status"`
	DayCount         int    `json:"day_count"`
	TotalAmountCents int64  `json:"total_amount_cents"`
	Currency         string `json:"currency"`
	HoldExpiresAt    string `json:"hold_expires_at"`
}

type cancelBookingRequest struct {
	BookingID string `json:"booking_id"`
	Reason    string `json:"reason"`
}

type cancelBookingResponse struct {
	BookingID   string `json:"booking_id"`
	Status      string `json:"status"`
	CancelledAt string `json:"cancelled_at"`
}

type bookingItem struct {
	BookingID        string `json:"booking_id"`
	PropertyID       string `json:"property_id"`
	CheckIn          string `json:"check_in"`
	CheckOut         string `json:"check_out"`
	Guests           int    `json:"guests"`
	Status           string `json:"status"`
	TotalAmountCents int64  `json:"total_amount_cents"`
	Currency         string `json:"currency"`
	CancelledAt      string `json:"cancelled_at,omitempty"`
	CreatedAt        string `json:"created_at"`
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	guestID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if guestID == "" {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.PropertyID = strings.TrimSpace(req.PropertyID)
	if req.PropertyID == "" {
		http.Error(w, "property_id required", http.StatusBadRequest)
		return
	}
	if req.Guests <= 0 {
		req.Guests = 1
	}
	checkIn, err := parseDay(req.CheckIn)
	if err != nil {
		http.Error(w, "invalid check_in (want YYYY-MM-DD)", http.StatusBadRequest)
		return
	}
	checkOut, err := parseDay(req.CheckOut)
	if err != nil {
		http.Error(w, "invalid check_out (want YYYY-MM-DD)", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	prop, err := h.props.Get(ctx, req.PropertyID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "property not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load property", http.StatusInternalServerError)
		return
	}
	if !prop.IsActive {
		http.Error(w, "property is not accepting bookings", http.StatusUnprocessableEntity)
		return
	}
	if prop.MaxGuests > 0 && req.Guests > prop.MaxGuests {
		http.Error(w, "guest count exceeds property capacity", http.StatusUnprocessableEntity)
		return
	}

	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" {
		rec, exists, err := h.repo.LockIdempotencyKey(ctx, tx, guestID, idempotencyKey)
		if err != nil {
			http.Error(w, "failed to lock idempotency key", http.StatusInternalServerError)
			return
		}
		if exists && rec.StatusCode > 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.ResponsePayload)
			return
		}
	}

	// Serialize writers on this property, then validate against committed
	// state. The exclusion constraint on bookings remains the final arbiter.
	if err := h.repo.LockProperty(ctx, tx, req.PropertyID); err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}

	today := time.Now().UTC()
	index, err := buildIndex(ctx, h.repo, h.blocks, tx, req.PropertyID, today)
	if err != nil {
		http.Error(w, "failed to load availability", http.StatusInternalServerError)
		return
	}

	acc, err := availability.ValidateBooking(index, availability.BookingRequest{
		PropertyID:  req.PropertyID,
		Start:       checkIn,
		End:         checkOut,
		RequestedBy: guestID,
	})
	if err != nil {
		status, msg := rejectionStatus(err)
		if idempotencyKey != "" && h.finalizeIdempotencyError(ctx, tx, guestID, idempotencyKey, status, msg) {
			_ = tx.Commit(ctx)
		}
		http.Error(w, msg, status)
		return
	}

	holdExpiresAt := time.Now().UTC().Add(h.holdTTL)
	booking := &model.Booking{
		PropertyID:       req.PropertyID,
		GuestID:          guestID,
		CheckIn:          availability.Day(checkIn),
		CheckOut:         availability.Day(checkOut),
		Guests:           req.Guests,
		Status:           model.BookingStatusPending,
		TotalAmountCents: prop.NightlyPriceCents * int64(acc.DayCount),
		Currency:         prop.Currency,
		HoldExpiresAt:    &holdExpiresAt,
	}

	id, err := h.repo.Create(ctx, tx, booking)
	if err != nil {
		if storage.IsConflict(err) {
			// Lost the race to a writer outside the advisory lock.
			http.Error(w, "these dates are no longer available", http.StatusConflict)
			return
		}
		http.Error(w, "failed to create booking", http.StatusInternalServerError)
		return
	}

	evtPayload, err := json.Marshal(map[string]any{
		"booking_id":         id,
		"property_id":        booking.PropertyID,
		"guest_id":           booking.GuestID,
		"check_in":           booking.CheckIn.Format(dayFormat),
		"check_out":          booking.CheckOut.Format(dayFormat),
		"total_amount_cents": booking.TotalAmountCents,
		"currency":           booking.Currency,
		"hold_expires_at":    holdExpiresAt.Format(time.RFC3339),
	})
	if err != nil {
		http.Error(w, "failed to build event payload", http.StatusInternalServerError)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, events.Event{
		AggregateType: "booking",
		AggregateID:   id,
		EventType:     "booking.created.v1",
		Payload:       evtPayload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	respBody, err := json.Marshal(createBookingResponse{
		BookingID:        id,
		Status:           model.BookingStatusPending,
		DayCount:         acc.DayCount,
		TotalAmountCents: booking.TotalAmountCents,
		Currency:         booking.Currency,
		HoldExpiresAt:    holdExpiresAt.Format(time.RFC3339),
	})
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	if idempotencyKey != "" {
		if err := h.repo.FinalizeIdempotency(ctx, tx, guestID, idempotencyKey, id, http.StatusCreated, respBody); err != nil {
			http.Error(w, "failed to finalize idempotency key", http.StatusInternalServerError)
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if storage.IsConflict(err) {
			http.Error(w, "these dates are no longer available", http.StatusConflict)
			return
		}
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	h.calendars.Invalidate(ctx, booking.PropertyID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(respBody)
}

// rejectionStatus maps engine rejections onto the one conflict vocabulary the
// gateway exposes, whether the collision was caught pre-flight or at commit.
func rejectionStatus(err error) (int, string) {
	switch {
	case errors.Is(err, availability.ErrInvertedRange):
		return http.StatusUnprocessableEntity, "check_out must not precede check_in"
	case errors.Is(err, availability.ErrPastDate):
		return http.StatusUnprocessableEntity, "cannot book dates in the past"
	case availability.IsConflict(err):
		return http.StatusConflict, "these dates are no longer available"
	default:
		return http.StatusInternalServerError, "validation failed"
	}
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	role := strings.TrimSpace(r.Header.Get("X-Role"))
	if userID == "" {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	var req cancelBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BookingID = strings.TrimSpace(req.BookingID)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.BookingID == "" {
		http.Error(w, "booking_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	booking, err := h.repo.GetForUpdate(ctx, tx, req.BookingID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "booking not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load booking", http.StatusInternalServerError)
		return
	}

	if !h.mayCancel(ctx, booking, userID, role) {
		http.Error(w, "not allowed to cancel this booking", http.StatusForbidden)
		return
	}

	if booking.Status == model.BookingStatusCancelled && booking.CancelledAt != nil {
		h.writeCancelResponse(w, booking.ID, booking.CancelledAt.UTC())
		return
	}
	if booking.Status == model.BookingStatusCompleted {
		http.Error(w, "completed stays cannot be cancelled", http.StatusConflict)
		return
	}

	cancelledAt, err := h.repo.Cancel(ctx, tx, booking.ID, req.Reason)
	if err != nil {
		http.Error(w, "failed to cancel booking", http.StatusInternalServerError)
		return
	}

	cancelPayload, err := json.Marshal(map[string]any{
		"booking_id":         booking.ID,
		"property_id":        booking.PropertyID,
		"guest_id":           booking.GuestID,
		"check_in":           booking.CheckIn.Format(dayFormat),
		"check_out":          booking.CheckOut.Format(dayFormat),
		"total_amount_cents": booking.TotalAmountCents,
		"currency":           booking.Currency,
		"cancelled_at":       cancelledAt.UTC().Format(time.RFC3339),
		"reason":             req.Reason,
	})
	if err != nil {
		http.Error(w, "failed to build cancellation event", http.StatusInternalServerError)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, events.Event{
		AggregateType: "booking",
		AggregateID:   booking.ID,
		EventType:     "booking.cancelled.v1",
		Payload:       cancelPayload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	h.calendars.Invalidate(ctx, booking.PropertyID)
	h.writeCancelResponse(w, booking.ID, cancelledAt.UTC())
}

// mayCancel allows the guest who made the booking, the property owner, or an
// admin.
func (h *BookingHandler) mayCancel(ctx context.Context, booking model.Booking, userID, role string) bool {
	if role == "admin" || booking.GuestID == userID {
		return true
	}
	prop, err := h.props.Get(ctx, booking.PropertyID)
	if err != nil {
		return false
	}
	return prop.OwnerID == userID
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	var (
		bookings []model.Booking
		err      error
	)
	if propertyID := strings.TrimSpace(r.URL.Query().Get("property_id")); propertyID != "" {
		// Host view: only the owner (or admin) sees a property's bookings.
		prop, perr := h.props.Get(r.Context(), propertyID)
		if perr != nil || (prop.OwnerID != userID && r.Header.Get("X-Role") != "admin") {
			http.Error(w, "not allowed to list this property", http.StatusForbidden)
			return
		}
		bookings, err = h.repo.ListByProperty(r.Context(), propertyID, limit)
	} else {
		bookings, err = h.repo.ListByGuest(r.Context(), userID, limit)
	}
	if err != nil {
		http.Error(w, "failed to list bookings", http.StatusInternalServerError)
		return
	}

	items := make([]bookingItem, 0, len(bookings))
	for _, b := range bookings {
		item := bookingItem{
			BookingID:        b.ID,
			PropertyID:       b.PropertyID,
			CheckIn:          b.CheckIn.Format(dayFormat),
			CheckOut:         b.CheckOut.Format(dayFormat),
			Guests:           b.Guests,
			Status:           b.Status,
			TotalAmountCents: b.TotalAmountCents,
			Currency:         b.Currency,
			CreatedAt:        b.CreatedAt.UTC().Format(time.RFC3339),
		}
		if b.CancelledAt != nil {
			item.CancelledAt = b.CancelledAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *BookingHandler) writeCancelResponse(w http.ResponseWriter, bookingID string, cancelledAt time.Time) {
	writeJSON(w, http.StatusOK, cancelBookingResponse{
		BookingID:   bookingID,
		Status:      model.BookingStatusCancelled,
		CancelledAt: cancelledAt.Format(time.RFC3339),
	})
}

func (h *BookingHandler) finalizeIdempotencyError(ctx context.Context, tx pgx.Tx, guestID, key string, statusCode int, msg string) bool {
	body, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return false
	}
	if err := h.repo.FinalizeIdempotency(ctx, tx, guestID, key, "", statusCode, body); err != nil {
		h.logger.Error("failed to finalize idempotency (error)", "err", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body := marshalJSON(w, v)
	if body == nil {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func marshalJSON(w http.ResponseWriter, v any) []byte {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return nil
	}
	return body
}
