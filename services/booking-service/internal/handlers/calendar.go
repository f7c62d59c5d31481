package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stayloop/stayloop/services/booking-service/internal/availability"
	"github.com/stayloop/stayloop/services/booking-service/internal/cache"
	"github.com/stayloop/stayloop/services/booking-service/internal/storage"
)

// CalendarHandler serves the read path: point/range availability checks and
// the month projection for calendar rendering. Everything here is computed
// from a fresh snapshot; only the rendered month grid is cached.
type CalendarHandler struct {
	repo      *storage.BookingRepository
	blocks    *storage.BlockRepository
	calendars *cache.CalendarCache
	logger    *slog.Logger
}

func NewCalendarHandler(repo *storage.BookingRepository, blocks *storage.BlockRepository, calendars *cache.CalendarCache, logger *slog.Logger) *CalendarHandler {
	return &CalendarHandler{repo: repo, blocks: blocks, calendars: calendars, logger: logger}
}

type availabilityResponse struct {
	Available        bool   `json:"available"`
	DayCount         int    `json:"day_count,omitempty"`
	Reason           string `json:"reason,omitempty"`
	ConflictKind     string `json:"conflict_kind,omitempty"`
	ConflictStart    string `json:"conflict_start,omitempty"`
	ConflictEnd      string `json:"conflict_end,omitempty"`
	ConflictRecordID string `json:"conflict_record_id,omitempty"`
}

type calendarDay struct {
	Date        string `json:"date"`
	Unavailable bool   `json:"unavailable"`
	Kind        string `json:"kind"`
}

type calendarResponse struct {
	PropertyID string        `json:"property_id"`
	Year       int           `json:"year"`
	Month      int           `json:"month"`
	Days       []calendarDay `json:"days"`
	Ranges     []rangeItem   `json:"unavailable_ranges"`
}

type rangeItem struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type selectableResponse struct {
	Selectable bool   `json:"selectable"`
	Start      string `json:"start,omitempty"`
	End        string `json:"end,omitempty"`
}

// Check answers whether a candidate range could be booked right now. The
// answer is advisory: the same validation re-runs inside the booking
// transaction, where the exclusion constraint settles races.
func (h *CalendarHandler) Check(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	propertyID := strings.TrimSpace(r.URL.Query().Get("property_id"))
	if propertyID == "" {
		http.Error(w, "property_id required", http.StatusBadRequest)
		return
	}
	start, err := parseDay(strings.TrimSpace(r.URL.Query().Get("start")))
	if err != nil {
		http.Error(w, "invalid start (want YYYY-MM-DD)", http.StatusBadRequest)
		return
	}
	end, err := parseDay(strings.TrimSpace(r.URL.Query().Get("end")))
	if err != nil {
		http.Error(w, "invalid end (want YYYY-MM-DD)", http.StatusBadRequest)
		return
	}

	index, err := buildIndex(r.Context(), h.repo, h.blocks, h.repo.Pool(), propertyID, time.Now().UTC())
	if err != nil {
		http.Error(w, "failed to load availability", http.StatusInternalServerError)
		return
	}

	acc, err := availability.ValidateBooking(index, availability.BookingRequest{
		PropertyID: propertyID,
		Start:      start,
		End:        end,
	})
	if err != nil {
		writeJSON(w, http.StatusOK, h.rejectionResponse(err))
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse{Available: true, DayCount: acc.DayCount})
}

func (h *CalendarHandler) rejectionResponse(err error) availabilityResponse {
	resp := availabilityResponse{Available: false}
	var ce *availability.ConflictError
	switch {
	case errors.Is(err, availability.ErrInvertedRange):
		resp.Reason = "inverted_range"
	case errors.Is(err, availability.ErrPastDate):
		resp.Reason = "past_date"
	case errors.As(err, &ce):
		resp.Reason = "conflict"
		resp.ConflictKind = string(ce.Record.Kind)
		resp.ConflictStart = ce.Record.Interval.Start.Format(dayFormat)
		resp.ConflictEnd = ce.Record.Interval.End.Format(dayFormat)
		resp.ConflictRecordID = ce.Record.ID
	default:
		resp.Reason = "invalid"
	}
	return resp
}

// Month renders one month of per-day availability plus the merged shading
// ranges. Served from Redis when the property's calendar version matches.
func (h *CalendarHandler) Month(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	propertyID := strings.TrimSpace(r.URL.Query().Get("property_id"))
	if propertyID == "" {
		http.Error(w, "property_id required", http.StatusBadRequest)
		return
	}
	year, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("year")))
	if err != nil || year < 2000 || year > 2200 {
		http.Error(w, "invalid year", http.StatusBadRequest)
		return
	}
	monthNum, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("month")))
	if err != nil || monthNum < 1 || monthNum > 12 {
		http.Error(w, "invalid month", http.StatusBadRequest)
		return
	}
	month := time.Month(monthNum)

	ctx := r.Context()
	if body, ok := h.calendars.Get(ctx, propertyID, year, month); ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
		return
	}

	index, err := buildIndex(ctx, h.repo, h.blocks, h.repo.Pool(), propertyID, time.Now().UTC())
	if err != nil {
		http.Error(w, "failed to load availability", http.StatusInternalServerError)
		return
	}

	grid := availability.MonthGrid(index, year, month)
	days := make([]calendarDay, 0, len(grid))
	for _, cell := range grid {
		days = append(days, calendarDay{
			Date:        cell.Date.Format(dayFormat),
			Unavailable: cell.Unavailable,
			Kind:        string(cell.Kind),
		})
	}
	ranges := make([]rangeItem, 0)
	for _, iv := range index.UnavailableRanges() {
		ranges = append(ranges, rangeItem{Start: iv.Start.Format(dayFormat), End: iv.End.Format(dayFormat)})
	}

	resp := calendarResponse{
		PropertyID: propertyID,
		Year:       year,
		Month:      monthNum,
		Days:       days,
		Ranges:     ranges,
	}
	body := marshalJSON(w, resp)
	if body == nil {
		return
	}
	h.calendars.Set(ctx, propertyID, year, month, body)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// Selectable clamps an in-progress range selection: the maximal conflict-free
// interval starting at the anchor date.
func (h *CalendarHandler) Selectable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	propertyID := strings.TrimSpace(r.URL.Query().Get("property_id"))
	if propertyID == "" {
		http.Error(w, "property_id required", http.StatusBadRequest)
		return
	}
	from, err := parseDay(strings.TrimSpace(r.URL.Query().Get("from")))
	if err != nil {
		http.Error(w, "invalid from (want YYYY-MM-DD)", http.StatusBadRequest)
		return
	}

	index, err := buildIndex(r.Context(), h.repo, h.blocks, h.repo.Pool(), propertyID, time.Now().UTC())
	if err != nil {
		http.Error(w, "failed to load availability", http.StatusInternalServerError)
		return
	}

	iv, ok := availability.SelectableRange(index, from)
	if !ok {
		writeJSON(w, http.StatusOK, selectableResponse{Selectable: false})
		return
	}
	writeJSON(w, http.StatusOK, selectableResponse{
		Selectable: true,
		Start:      iv.Start.Format(dayFormat),
		End:        iv.End.Format(dayFormat),
	})
}
