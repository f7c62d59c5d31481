package availability

import (
	"errors"
	"testing"
)

func TestValidateBooking_ConflictOnSharedDay(t *testing.T) {
	ix := mustBuild(t, []Record{
		{ID: "bkg", Kind: KindBooking, Interval: DateInterval{Start: date(2025, 6, 10), End: date(2025, 6, 12)}},
	}, date(2025, 6, 1))

	_, err := ValidateBooking(ix, BookingRequest{Start: date(2025, 6, 12), End: date(2025, 6, 14)})
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if ce.Record.ID != "bkg" {
		t.Fatalf("conflict must identify the colliding record, got %q", ce.Record.ID)
	}
	if !IsConflict(err) {
		t.Fatal("IsConflict must match a ConflictError")
	}
}

func TestValidateBooking_AcceptsDisjointRange(t *testing.T) {
	ix := mustBuild(t, []Record{
		{ID: "bkg", Kind: KindBooking, Interval: DateInterval{Start: date(2025, 6, 10), End: date(2025, 6, 12)}},
	}, date(2025, 6, 1))

	acc, err := ValidateBooking(ix, BookingRequest{Start: date(2025, 6, 13), End: date(2025, 6, 15)})
	if err != nil {
		t.Fatalf("expected acceptance, got %v", err)
	}
	if acc.DayCount != 3 {
		t.Fatalf("expected day count 3, got %d", acc.DayCount)
	}
}

func TestValidateBooking_PastStart(t *testing.T) {
	ix := mustBuild(t, nil, date(2025, 6, 1))
	_, err := ValidateBooking(ix, BookingRequest{Start: date(2025, 5, 30), End: date(2025, 6, 2)})
	if !errors.Is(err, ErrPastDate) {
		t.Fatalf("expected ErrPastDate, got %v", err)
	}
}

func TestValidateBooking_StartingTodayAccepted(t *testing.T) {
	ix := mustBuild(t, nil, date(2025, 6, 1))
	acc, err := ValidateBooking(ix, BookingRequest{Start: date(2025, 6, 1), End: date(2025, 6, 1)})
	if err != nil {
		t.Fatalf("a booking starting today must be accepted, got %v", err)
	}
	if acc.DayCount != 1 {
		t.Fatalf("expected day count 1, got %d", acc.DayCount)
	}
}

func TestValidateBooking_InvertedRange(t *testing.T) {
	ix := mustBuild(t, nil, date(2025, 6, 1))
	_, err := ValidateBooking(ix, BookingRequest{Start: date(2025, 6, 10), End: date(2025, 6, 8)})
	if !errors.Is(err, ErrInvertedRange) {
		t.Fatalf("expected ErrInvertedRange, got %v", err)
	}
}

func TestValidateBooking_BlockAlsoConflicts(t *testing.T) {
	ix := mustBuild(t, []Record{
		{ID: "blk", Kind: KindBlocked, Interval: DateInterval{Start: date(2025, 6, 10), End: date(2025, 6, 12)}},
	}, date(2025, 6, 1))

	_, err := ValidateBooking(ix, BookingRequest{Start: date(2025, 6, 11), End: date(2025, 6, 13)})
	if !IsConflict(err) {
		t.Fatalf("host blocks must reject guest bookings, got %v", err)
	}
}

func TestValidateBlock_RejectsOverBooking(t *testing.T) {
	// Scenario: block 07-01..07-05 over a booking 07-03..07-04.
	ix := mustBuild(t, []Record{
		{ID: "bkg", Kind: KindBooking, Interval: DateInterval{Start: date(2025, 7, 3), End: date(2025, 7, 4)}},
	}, date(2025, 6, 1))

	_, err := ValidateBlock(ix, BlockRequest{Start: date(2025, 7, 1), End: date(2025, 7, 5)}, true)
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if ce.Record.Kind != KindBooking {
		t.Fatalf("conflict must carry the booking record, got %s", ce.Record.Kind)
	}
}

func TestValidateBlock_OverlappingBlockAccepted(t *testing.T) {
	ix := mustBuild(t, []Record{
		{ID: "blk", Kind: KindBlocked, Interval: DateInterval{Start: date(2025, 7, 1), End: date(2025, 7, 5)}},
	}, date(2025, 6, 1))

	// Re-blocking already-blocked dates is idempotent, storage merges.
	if _, err := ValidateBlock(ix, BlockRequest{Start: date(2025, 7, 3), End: date(2025, 7, 8)}, true); err != nil {
		t.Fatalf("overlapping blocks must be accepted, got %v", err)
	}
}

func TestValidateBlock_NotOwner(t *testing.T) {
	ix := mustBuild(t, nil, date(2025, 6, 1))
	_, err := ValidateBlock(ix, BlockRequest{Start: date(2025, 7, 1), End: date(2025, 7, 2)}, false)
	if !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
}
