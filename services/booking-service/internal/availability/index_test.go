package availability

import (
	"errors"
	"testing"
	"time"
)

func mustBuild(t *testing.T, records []Record, today time.Time) *Index {
	t.Helper()
	ix, err := BuildIndex(records, today)
	if err != nil {
		t.Fatalf("BuildIndex failed: %v", err)
	}
	return ix
}

func TestBuildIndex_DropsPastRecordsAndSorts(t *testing.T) {
	today := date(2025, 6, 1)
	ix := mustBuild(t, []Record{
		{ID: "b2", Kind: KindBooking, Interval: DateInterval{Start: date(2025, 6, 20), End: date(2025, 6, 22)}},
		{ID: "old", Kind: KindBooking, Interval: DateInterval{Start: date(2025, 5, 10), End: date(2025, 5, 12)}},
		{ID: "b1", Kind: KindBlocked, Interval: DateInterval{Start: date(2025, 6, 5), End: date(2025, 6, 7)}},
	}, today)

	recs := ix.Records()
	if len(recs) != 2 {
		t.Fatalf("expected past record dropped, got %d records", len(recs))
	}
	if recs[0].ID != "b1" || recs[1].ID != "b2" {
		t.Fatalf("expected records sorted by start, got %s, %s", recs[0].ID, recs[1].ID)
	}
}

func TestBuildIndex_KeepsRecordSpanningToday(t *testing.T) {
	today := date(2025, 6, 1)
	ix := mustBuild(t, []Record{
		{ID: "span", Kind: KindBooking, Interval: DateInterval{Start: date(2025, 5, 30), End: date(2025, 6, 2)}},
	}, today)
	if len(ix.Records()) != 1 {
		t.Fatal("a record ending today or later must stay in the index")
	}
}

func TestBuildIndex_RejectsMalformedRecord(t *testing.T) {
	_, err := BuildIndex([]Record{
		{ID: "bad", Kind: KindBooking, Interval: DateInterval{Start: date(2025, 6, 10), End: date(2025, 6, 8)}},
	}, date(2025, 6, 1))
	if !errors.Is(err, ErrInvertedRange) {
		t.Fatalf("expected ErrInvertedRange, got %v", err)
	}
}

func TestBuildIndex_Deterministic(t *testing.T) {
	records := []Record{
		{ID: "a", Kind: KindBooking, Interval: DateInterval{Start: date(2025, 6, 10), End: date(2025, 6, 12)}},
		{ID: "b", Kind: KindBlocked, Interval: DateInterval{Start: date(2025, 6, 1), End: date(2025, 6, 2)}},
	}
	today := date(2025, 6, 1)
	first := mustBuild(t, records, today)
	second := mustBuild(t, records, today)

	if len(first.Records()) != len(second.Records()) {
		t.Fatal("two builds of the same input must agree")
	}
	for i := range first.Records() {
		if first.Records()[i].ID != second.Records()[i].ID {
			t.Fatalf("build order differs at %d", i)
		}
	}
}

func TestIsDateUnavailable_PastAlwaysUnavailable(t *testing.T) {
	ix := mustBuild(t, nil, date(2025, 6, 1))
	if !ix.IsDateUnavailable(date(2025, 5, 31)) {
		t.Fatal("dates before today must be unavailable even with no records")
	}
	if ix.IsDateUnavailable(date(2025, 6, 1)) {
		t.Fatal("today itself is bookable with no records")
	}
}

func TestIsDateUnavailable_InsideRecord(t *testing.T) {
	ix := mustBuild(t, []Record{
		{ID: "b", Kind: KindBooking, Interval: DateInterval{Start: date(2025, 6, 10), End: date(2025, 6, 12)}},
	}, date(2025, 6, 1))

	for _, d := range []time.Time{date(2025, 6, 10), date(2025, 6, 11), date(2025, 6, 12)} {
		if !ix.IsDateUnavailable(d) {
			t.Fatalf("%s should be unavailable", d.Format("2006-01-02"))
		}
	}
	if ix.IsDateUnavailable(date(2025, 6, 13)) {
		t.Fatal("day after checkout should be available")
	}
}

func TestClassify_BookingWinsTie(t *testing.T) {
	ix := mustBuild(t, []Record{
		{ID: "blk", Kind: KindBlocked, Interval: DateInterval{Start: date(2025, 6, 10), End: date(2025, 6, 14)}},
		{ID: "bkg", Kind: KindBooking, Interval: DateInterval{Start: date(2025, 6, 12), End: date(2025, 6, 13)}},
	}, date(2025, 6, 1))

	if got := ix.Classify(date(2025, 6, 12)); got != KindBooking {
		t.Fatalf("booking must win a classification tie, got %s", got)
	}
	if got := ix.Classify(date(2025, 6, 10)); got != KindBlocked {
		t.Fatalf("expected blocked, got %s", got)
	}
	if got := ix.Classify(date(2025, 6, 20)); got != KindAvailable {
		t.Fatalf("expected available, got %s", got)
	}
}

func TestUnavailableRanges_MergesAdjacentBlocks(t *testing.T) {
	// Scenario: two back-to-back blocks shade as one span.
	ix := mustBuild(t, []Record{
		{ID: "blk1", Kind: KindBlocked, Interval: DateInterval{Start: date(2025, 8, 1), End: date(2025, 8, 3)}},
		{ID: "blk2", Kind: KindBlocked, Interval: DateInterval{Start: date(2025, 8, 4), End: date(2025, 8, 6)}},
	}, date(2025, 7, 1))

	ranges := ix.UnavailableRanges()
	if len(ranges) != 1 {
		t.Fatalf("expected one merged range, got %d", len(ranges))
	}
	if !ranges[0].Start.Equal(date(2025, 8, 1)) || !ranges[0].End.Equal(date(2025, 8, 6)) {
		t.Fatalf("expected 2025-08-01..2025-08-06, got %s..%s",
			ranges[0].Start.Format("2006-01-02"), ranges[0].End.Format("2006-01-02"))
	}
	// Merging is a rendering concern only: the records stay distinct.
	if len(ix.Records()) != 2 {
		t.Fatalf("records must stay unmerged, got %d", len(ix.Records()))
	}
}
