package availability

import (
	"testing"
	"time"
)

func TestMonthGrid(t *testing.T) {
	ix := mustBuild(t, []Record{
		{ID: "bkg", Kind: KindBooking, Interval: DateInterval{Start: date(2025, 6, 10), End: date(2025, 6, 12)}},
	}, date(2025, 6, 5))

	grid := MonthGrid(ix, 2025, time.June)
	if len(grid) != 30 {
		t.Fatalf("June has 30 days, got %d cells", len(grid))
	}

	byDay := func(d int) Cell { return grid[d-1] }

	if !byDay(1).Unavailable {
		t.Fatal("June 1 is before today and must be unavailable")
	}
	if byDay(1).Kind != KindAvailable {
		t.Fatalf("past day with no record classifies available, got %s", byDay(1).Kind)
	}
	if byDay(5).Unavailable {
		t.Fatal("today with no record must be selectable")
	}
	if !byDay(11).Unavailable || byDay(11).Kind != KindBooking {
		t.Fatalf("June 11 sits inside the booking, got unavailable=%v kind=%s",
			byDay(11).Unavailable, byDay(11).Kind)
	}
	if byDay(13).Unavailable {
		t.Fatal("day after checkout must be selectable")
	}
}

func TestSelectableRange_ClampsBeforeNextRecord(t *testing.T) {
	ix := mustBuild(t, []Record{
		{ID: "bkg", Kind: KindBooking, Interval: DateInterval{Start: date(2025, 6, 10), End: date(2025, 6, 12)}},
	}, date(2025, 6, 1))

	iv, ok := SelectableRange(ix, date(2025, 6, 5))
	if !ok {
		t.Fatal("June 5 is free, selection must start")
	}
	if !iv.Start.Equal(date(2025, 6, 5)) || !iv.End.Equal(date(2025, 6, 9)) {
		t.Fatalf("expected 2025-06-05..2025-06-09, got %s..%s",
			iv.Start.Format("2006-01-02"), iv.End.Format("2006-01-02"))
	}
}

func TestSelectableRange_UnavailableAnchor(t *testing.T) {
	ix := mustBuild(t, []Record{
		{ID: "bkg", Kind: KindBooking, Interval: DateInterval{Start: date(2025, 6, 10), End: date(2025, 6, 12)}},
	}, date(2025, 6, 1))

	if _, ok := SelectableRange(ix, date(2025, 6, 11)); ok {
		t.Fatal("anchoring on a booked day must fail")
	}
	if _, ok := SelectableRange(ix, date(2025, 5, 20)); ok {
		t.Fatal("anchoring in the past must fail")
	}
}

func TestSelectableRange_OpenEndedHitsHorizon(t *testing.T) {
	ix := mustBuild(t, nil, date(2025, 6, 1))

	iv, ok := SelectableRange(ix, date(2025, 6, 1))
	if !ok {
		t.Fatal("empty index must allow selection")
	}
	if !iv.End.Equal(date(2025, 6, 1).AddDate(0, 0, selectableHorizon)) {
		t.Fatalf("open-ended selection must stop at the horizon, got %s", iv.End.Format("2006-01-02"))
	}
}

func TestSelectableRange_IgnoresEarlierRecords(t *testing.T) {
	ix := mustBuild(t, []Record{
		{ID: "early", Kind: KindBooking, Interval: DateInterval{Start: date(2025, 6, 2), End: date(2025, 6, 3)}},
		{ID: "late", Kind: KindBlocked, Interval: DateInterval{Start: date(2025, 6, 20), End: date(2025, 6, 25)}},
	}, date(2025, 6, 1))

	iv, ok := SelectableRange(ix, date(2025, 6, 10))
	if !ok {
		t.Fatal("June 10 is free, selection must start")
	}
	if !iv.End.Equal(date(2025, 6, 19)) {
		t.Fatalf("selection must clamp before the next record only, got %s", iv.End.Format("2006-01-02"))
	}
}
