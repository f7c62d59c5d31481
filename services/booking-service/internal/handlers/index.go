package handlers

import (
	"context"
	"time"

	"github.com/stayloop/stayloop/services/booking-service/internal/availability"
	"github.com/stayloop/stayloop/services/booking-service/internal/storage"
)

const dayFormat = "2006-01-02"

func parseDay(raw string) (time.Time, error) {
	return time.ParseInLocation(dayFormat, raw, time.UTC)
}

// buildIndex assembles the availability snapshot for one property: live
// bookings plus host blocks, both from today on. Passing a transaction as the
// querier makes the snapshot consistent with the write about to happen under
// the property advisory lock.
func buildIndex(ctx context.Context, bookings *storage.BookingRepository, blocks *storage.BlockRepository, q storage.Querier, propertyID string, today time.Time) (*availability.Index, error) {
	day := availability.Day(today)

	live, err := bookings.ListLiveBookings(ctx, q, propertyID, day)
	if err != nil {
		return nil, err
	}
	blocked, err := blocks.ListBlocks(ctx, q, propertyID, day)
	if err != nil {
		return nil, err
	}

	records := make([]availability.Record, 0, len(live)+len(blocked))
	for _, b := range live {
		records = append(records, availability.Record{
			ID:       b.ID,
			Kind:     availability.KindBooking,
			Interval: availability.DateInterval{Start: b.CheckIn, End: b.CheckOut},
		})
	}
	for _, blk := range blocked {
		records = append(records, availability.Record{
			ID:       blk.ID,
			Kind:     availability.KindBlocked,
			Reason:   blk.Reason,
			Interval: availability.DateInterval{Start: blk.StartDate, End: blk.EndDate},
		})
	}
	return availability.BuildIndex(records, day)
}
