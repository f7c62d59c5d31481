package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
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

// BlockHandler covers host calendar management: removing date ranges from
// availability and releasing them again.
type BlockHandler struct {
	repo       *storage.BookingRepository
	blocks     *storage.BlockRepository
	outboxRepo *events.OutboxRepository
	calendars  *cache.CalendarCache
	props      property.Provider
	logger     *slog.Logger
}

func NewBlockHandler(repo *storage.BookingRepository, blocks *storage.BlockRepository, outboxRepo *events.OutboxRepository, calendars *cache.CalendarCache, props property.Provider, logger *slog.Logger) *BlockHandler {
	return &BlockHandler{
		repo:       repo,
		blocks:     blocks,
		outboxRepo: outboxRepo,
		calendars:  calendars,
		props:      props,
		logger:     logger,
	}
}

type createBlockRequest struct {
	PropertyID string `json:"property_id"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	Reason     string `json:"reason"`
}

type blockResponse struct {
	BlockID    string `json:"block_id"`
	PropertyID string `json:"property_id"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	Reason     string `json:"reason,omitempty"`
}

func (h *BlockHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	hostID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if hostID == "" {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	var req createBlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.PropertyID = strings.TrimSpace(req.PropertyID)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.PropertyID == "" {
		http.Error(w, "property_id required", http.StatusBadRequest)
		return
	}
	start, err := parseDay(req.StartDate)
	if err != nil {
		http.Error(w, "invalid start_date (want YYYY-MM-DD)", http.StatusBadRequest)
		return
	}
	end, err := parseDay(req.EndDate)
	if err != nil {
		http.Error(w, "invalid end_date (want YYYY-MM-DD)", http.StatusBadRequest)
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
	isOwner := prop.OwnerID == hostID || r.Header.Get("X-Role") == "admin"

	tx, err := h.blocks.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Same serialization as booking writes: a guest booking committing
	// between validation and insert must not slip under a new block.
	if err := h.repo.LockProperty(ctx, tx, req.PropertyID); err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}

	index, err := buildIndex(ctx, h.repo, h.blocks, tx, req.PropertyID, time.Now().UTC())
	if err != nil {
		http.Error(w, "failed to load availability", http.StatusInternalServerError)
		return
	}

	if _, err := availability.ValidateBlock(index, availability.BlockRequest{
		PropertyID:  req.PropertyID,
		Start:       start,
		End:         end,
		Reason:      req.Reason,
		RequestedBy: hostID,
	}, isOwner); err != nil {
		switch {
		case err == availability.ErrNotOwner:
			http.Error(w, "only the property owner can block dates", http.StatusForbidden)
		case err == availability.ErrInvertedRange:
			http.Error(w, "end_date must not precede start_date", http.StatusUnprocessableEntity)
		case availability.IsConflict(err):
			http.Error(w, "a guest booking already holds these dates", http.StatusConflict)
		default:
			http.Error(w, "validation failed", http.StatusInternalServerError)
		}
		return
	}

	blk, err := h.blocks.CreateMerged(ctx, tx, &model.Block{
		PropertyID: req.PropertyID,
		HostID:     prop.OwnerID,
		StartDate:  availability.Day(start),
		EndDate:    availability.Day(end),
		Reason:     req.Reason,
	})
	if err != nil {
		http.Error(w, "failed to create block", http.StatusInternalServerError)
		return
	}

	if err := h.insertBlockEvent(ctx, tx, "calendar.blocked.v1", blk); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	h.calendars.Invalidate(ctx, blk.PropertyID)
	writeJSON(w, http.StatusCreated, blockResponse{
		BlockID:    blk.ID,
		PropertyID: blk.PropertyID,
		StartDate:  blk.StartDate.Format(dayFormat),
		EndDate:    blk.EndDate.Format(dayFormat),
		Reason:     blk.Reason,
	})
}

func (h *BlockHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	hostID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if hostID == "" {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}
	propertyID := strings.TrimSpace(r.URL.Query().Get("property_id"))
	blockID := strings.TrimSpace(r.URL.Query().Get("block_id"))
	if propertyID == "" || blockID == "" {
		http.Error(w, "property_id and block_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	prop, err := h.props.Get(ctx, propertyID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "property not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load property", http.StatusInternalServerError)
		return
	}
	if prop.OwnerID != hostID && r.Header.Get("X-Role") != "admin" {
		http.Error(w, "only the property owner can unblock dates", http.StatusForbidden)
		return
	}

	removed, err := h.blocks.Delete(ctx, propertyID, blockID, prop.OwnerID)
	if err != nil {
		http.Error(w, "failed to delete block", http.StatusInternalServerError)
		return
	}
	if !removed {
		http.Error(w, "block not found", http.StatusNotFound)
		return
	}

	h.calendars.Invalidate(ctx, propertyID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *BlockHandler) insertBlockEvent(ctx context.Context, tx pgx.Tx, eventType string, blk model.Block) error {
	payload, err := json.Marshal(map[string]any{
		"block_id":    blk.ID,
		"property_id": blk.PropertyID,
		"host_id":     blk.HostID,
		"start_date":  blk.StartDate.Format(dayFormat),
		"end_date":    blk.EndDate.Format(dayFormat),
		"reason":      blk.Reason,
	})
	if err != nil {
		return err
	}
	return h.outboxRepo.Insert(ctx, tx, events.Event{
		AggregateType: "block",
		AggregateID:   blk.ID,
		EventType:     eventType,
		Payload:       payload,
	})
}

// ListBlocks returns the property's future blocks for the host calendar view.
func (h *BlockHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	hostID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	propertyID := strings.TrimSpace(r.URL.Query().Get("property_id"))
	if propertyID == "" {
		http.Error(w, "property_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	prop, err := h.props.Get(ctx, propertyID)
	if err != nil || (prop.OwnerID != hostID && r.Header.Get("X-Role") != "admin") {
		http.Error(w, "only the property owner can list blocks", http.StatusForbidden)
		return
	}

	blocks, err := h.blocks.ListBlocks(ctx, h.repo.Pool(), propertyID, availability.Day(time.Now().UTC()))
	if err != nil {
		http.Error(w, "failed to list blocks", http.StatusInternalServerError)
		return
	}

	items := make([]blockResponse, 0, len(blocks))
	for _, blk := range blocks {
		items = append(items, blockResponse{
			BlockID:    blk.ID,
			PropertyID: blk.PropertyID,
			StartDate:  blk.StartDate.Format(dayFormat),
			EndDate:    blk.EndDate.Format(dayFormat),
			Reason:     blk.Reason,
		})
	}
	writeJSON(w, http.StatusOK, items)
}
