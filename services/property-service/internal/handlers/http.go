package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stayloop/stayloop/libs/events"
	"github.com/stayloop/stayloop/services/property-service/internal/storage"
)

// Handler is the host-facing listing management surface. Every mutation
// publishes property.upserted.v1 through the outbox so downstream read models
// (booking-service's property cache) stay current.
type Handler struct {
	repo       *storage.Repository
	outboxRepo *events.OutboxRepository
	logger     *slog.Logger
}

func New(repo *storage.Repository, outboxRepo *events.OutboxRepository, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, outboxRepo: outboxRepo, logger: logger}
}

type propertyPayload struct {
	Title             string `json:"title"`
	Description       string `json:"description"`
	Location          string `json:"location"`
	NightlyPriceCents int64  `json:"nightly_price_cents"`
	Currency          string `json:"currency"`
	MaxGuests         int    `json:"max_guests"`
}

type propertyItem struct {
	PropertyID        string `json:"property_id"`
	OwnerID           string `json:"owner_id"`
	Title             string `json:"title"`
	Description       string `json:"description,omitempty"`
	Location          string `json:"location,omitempty"`
	NightlyPriceCents int64  `json:"nightly_price_cents"`
	Currency          string `json:"currency"`
	MaxGuests         int    `json:"max_guests"`
	IsActive          bool   `json:"is_active"`
	CreatedAt         string `json:"created_at"`
}

func toItem(p storage.Property) propertyItem {
	return propertyItem{
		PropertyID:        p.ID,
		OwnerID:           p.OwnerID,
		Title:             p.Title,
		Description:       p.Description,
		Location:          p.Location,
		NightlyPriceCents: p.NightlyPriceCents,
		Currency:          p.Currency,
		MaxGuests:         p.MaxGuests,
		IsActive:          p.IsActive,
		CreatedAt:         p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ownerID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if ownerID == "" {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	var req propertyPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		http.Error(w, "title required", http.StatusBadRequest)
		return
	}
	if req.NightlyPriceCents < 0 {
		http.Error(w, "nightly_price_cents must not be negative", http.StatusBadRequest)
		return
	}
	if req.Currency == "" {
		req.Currency = "usd"
	}
	if req.MaxGuests <= 0 {
		req.MaxGuests = 2
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	prop := &storage.Property{
		OwnerID:           ownerID,
		Title:             req.Title,
		Description:       strings.TrimSpace(req.Description),
		Location:          strings.TrimSpace(req.Location),
		NightlyPriceCents: req.NightlyPriceCents,
		Currency:          strings.ToLower(req.Currency),
		MaxGuests:         req.MaxGuests,
		IsActive:          true,
	}
	id, err := h.repo.Create(ctx, tx, prop)
	if err != nil {
		http.Error(w, "failed to create property", http.StatusInternalServerError)
		return
	}
	prop.ID = id

	if err := h.insertUpsertedEvent(ctx, tx, *prop); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	prop.CreatedAt = time.Now().UTC()
	writeJSON(w, http.StatusCreated, toItem(*prop))
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ownerID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if ownerID == "" {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}
	propertyID := strings.TrimSpace(r.URL.Query().Get("property_id"))
	if propertyID == "" {
		http.Error(w, "property_id required", http.StatusBadRequest)
		return
	}

	var req propertyPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	prop, err := h.repo.GetForUpdate(ctx, tx, propertyID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "property not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load property", http.StatusInternalServerError)
		return
	}
	if prop.OwnerID != ownerID && r.Header.Get("X-Role") != "admin" {
		http.Error(w, "not the property owner", http.StatusForbidden)
		return
	}

	if title := strings.TrimSpace(req.Title); title != "" {
		prop.Title = title
	}
	if desc := strings.TrimSpace(req.Description); desc != "" {
		prop.Description = desc
	}
	if loc := strings.TrimSpace(req.Location); loc != "" {
		prop.Location = loc
	}
	if req.NightlyPriceCents > 0 {
		prop.NightlyPriceCents = req.NightlyPriceCents
	}
	if req.Currency != "" {
		prop.Currency = strings.ToLower(req.Currency)
	}
	if req.MaxGuests > 0 {
		prop.MaxGuests = req.MaxGuests
	}

	if err := h.repo.Update(ctx, tx, prop); err != nil {
		http.Error(w, "failed to update property", http.StatusInternalServerError)
		return
	}
	if err := h.insertUpsertedEvent(ctx, tx, prop); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toItem(prop))
}

// Deactivate takes a listing off the market. Existing bookings stand; the
// flag only stops new ones.
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ownerID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if ownerID == "" {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}
	propertyID := strings.TrimSpace(r.URL.Query().Get("property_id"))
	if propertyID == "" {
		http.Error(w, "property_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	prop, err := h.repo.GetForUpdate(ctx, tx, propertyID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "property not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load property", http.StatusInternalServerError)
		return
	}
	if prop.OwnerID != ownerID && r.Header.Get("X-Role") != "admin" {
		http.Error(w, "not the property owner", http.StatusForbidden)
		return
	}

	if prop.IsActive != active {
		prop.IsActive = active
		if err := h.repo.Update(ctx, tx, prop); err != nil {
			http.Error(w, "failed to update property", http.StatusInternalServerError)
			return
		}
		if err := h.insertUpsertedEvent(ctx, tx, prop); err != nil {
			http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
			return
		}
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toItem(prop))
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	propertyID := strings.TrimSpace(r.URL.Query().Get("property_id"))
	if propertyID == "" {
		http.Error(w, "property_id required", http.StatusBadRequest)
		return
	}

	prop, err := h.repo.Get(r.Context(), propertyID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "property not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load property", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toItem(prop))
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	var (
		props []storage.Property
		err   error
	)
	if r.URL.Query().Get("mine") == "true" {
		ownerID := strings.TrimSpace(r.Header.Get("X-User-Id"))
		if ownerID == "" {
			http.Error(w, "missing user identity", http.StatusUnauthorized)
			return
		}
		props, err = h.repo.ListByOwner(r.Context(), ownerID, limit)
	} else {
		props, err = h.repo.ListActive(r.Context(), strings.TrimSpace(r.URL.Query().Get("location")), limit)
	}
	if err != nil {
		http.Error(w, "failed to list properties", http.StatusInternalServerError)
		return
	}

	items := make([]propertyItem, 0, len(props))
	for _, p := range props {
		items = append(items, toItem(p))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) insertUpsertedEvent(ctx context.Context, tx pgx.Tx, p storage.Property) error {
	payload, err := json.Marshal(map[string]any{
		"property_id":         p.ID,
		"owner_id":            p.OwnerID,
		"title":               p.Title,
		"location":            p.Location,
		"nightly_price_cents": p.NightlyPriceCents,
		"currency":            p.Currency,
		"max_guests":          p.MaxGuests,
		"is_active":           p.IsActive,
	})
	if err != nil {
		return err
	}
	return h.outboxRepo.Insert(ctx, tx, events.Event{
		AggregateType: "property",
		AggregateID:   p.ID,
		EventType:     "property.upserted.v1",
		Payload:       payload,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
