package availability

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func mustInterval(t *testing.T, start, end time.Time) DateInterval {
	t.Helper()
	iv, err := NewInterval(start, end)
	if err != nil {
		t.Fatalf("NewInterval(%s, %s): %v", start, end, err)
	}
	return iv
}

func TestNewInterval_NormalizesTimeOfDay(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	raw := time.Date(2025, 6, 10, 18, 30, 0, 0, loc)

	iv, err := NewInterval(raw, raw)
	if err != nil {
		t.Fatalf("NewInterval failed: %v", err)
	}
	// 18:30 UTC+5 is 13:30 UTC, still June 10 in UTC.
	if !iv.Start.Equal(date(2025, 6, 10)) {
		t.Fatalf("expected start 2025-06-10T00:00Z, got %s", iv.Start.Format(time.RFC3339))
	}
	if iv.DayCount() != 1 {
		t.Fatalf("single-day interval should count 1 day, got %d", iv.DayCount())
	}
}

func TestNewInterval_RejectsInverted(t *testing.T) {
	_, err := NewInterval(date(2025, 6, 12), date(2025, 6, 10))
	if err != ErrInvertedRange {
		t.Fatalf("expected ErrInvertedRange, got %v", err)
	}
}

func TestOverlaps_SharedDay(t *testing.T) {
	a := mustInterval(t, date(2025, 6, 10), date(2025, 6, 12))
	b := mustInterval(t, date(2025, 6, 12), date(2025, 6, 14))
	c := mustInterval(t, date(2025, 6, 13), date(2025, 6, 15))

	if !a.Overlaps(b) {
		t.Fatal("intervals sharing day 06-12 must overlap")
	}
	if !b.Overlaps(a) {
		t.Fatal("overlap must be symmetric")
	}
	if a.Overlaps(c) {
		t.Fatal("adjacent but disjoint intervals must not overlap")
	}
}

func TestDayCount(t *testing.T) {
	iv := mustInterval(t, date(2025, 6, 13), date(2025, 6, 15))
	if iv.DayCount() != 3 {
		t.Fatalf("expected 3 days, got %d", iv.DayCount())
	}
}

func TestMerge_AdjacentAndOverlapping(t *testing.T) {
	merged := Merge([]DateInterval{
		mustInterval(t, date(2025, 8, 4), date(2025, 8, 6)),
		mustInterval(t, date(2025, 8, 1), date(2025, 8, 3)),
		mustInterval(t, date(2025, 8, 2), date(2025, 8, 5)),
	})
	if len(merged) != 1 {
		t.Fatalf("expected 1 merged interval, got %d", len(merged))
	}
	if !merged[0].Start.Equal(date(2025, 8, 1)) || !merged[0].End.Equal(date(2025, 8, 6)) {
		t.Fatalf("expected 2025-08-01..2025-08-06, got %s..%s",
			merged[0].Start.Format("2006-01-02"), merged[0].End.Format("2006-01-02"))
	}
}

func TestMerge_KeepsGaps(t *testing.T) {
	merged := Merge([]DateInterval{
		mustInterval(t, date(2025, 8, 1), date(2025, 8, 3)),
		mustInterval(t, date(2025, 8, 5), date(2025, 8, 6)),
	})
	// 08-04 is free, so a one-day gap keeps the intervals apart.
	if len(merged) != 2 {
		t.Fatalf("expected 2 intervals, got %d", len(merged))
	}
}

func TestMerge_ContainedInterval(t *testing.T) {
	merged := Merge([]DateInterval{
		mustInterval(t, date(2025, 8, 1), date(2025, 8, 10)),
		mustInterval(t, date(2025, 8, 3), date(2025, 8, 5)),
	})
	if len(merged) != 1 {
		t.Fatalf("expected 1 interval, got %d", len(merged))
	}
	if !merged[0].End.Equal(date(2025, 8, 10)) {
		t.Fatalf("contained interval must not shrink the outer end, got %s", merged[0].End.Format("2006-01-02"))
	}
}

func TestMerge_Idempotent(t *testing.T) {
	input := []DateInterval{
		mustInterval(t, date(2025, 8, 5), date(2025, 8, 6)),
		mustInterval(t, date(2025, 8, 1), date(2025, 8, 3)),
		mustInterval(t, date(2025, 9, 1), date(2025, 9, 2)),
	}
	once := Merge(input)
	twice := Merge(once)
	if len(once) != len(twice) {
		t.Fatalf("merge not idempotent: %d vs %d intervals", len(once), len(twice))
	}
	for i := range once {
		if !once[i].Start.Equal(twice[i].Start) || !once[i].End.Equal(twice[i].End) {
			t.Fatalf("merge not idempotent at %d: %v vs %v", i, once[i], twice[i])
		}
	}
	// Result intervals never overlap or touch.
	for i := 1; i < len(once); i++ {
		if !once[i].Start.After(once[i-1].End.AddDate(0, 0, 1)) {
			t.Fatalf("merged intervals %d and %d overlap or touch", i-1, i)
		}
	}
}

func TestMerge_DoesNotModifyInput(t *testing.T) {
	input := []DateInterval{
		mustInterval(t, date(2025, 8, 5), date(2025, 8, 6)),
		mustInterval(t, date(2025, 8, 1), date(2025, 8, 3)),
	}
	Merge(input)
	if !input[0].Start.Equal(date(2025, 8, 5)) {
		t.Fatal("Merge must not reorder the caller's slice")
	}
}
