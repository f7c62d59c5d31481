// Package availability is the pure date-range availability and
// booking-conflict engine. It performs no I/O: callers fetch unavailability
// records, build an immutable Index snapshot, and every query or validation
// runs against that snapshot. The same validation runs on the optimistic
// request path and again inside the storage transaction, with the bookings
// exclusion constraint as the final arbiter.
package availability

import (
	"errors"
	"sort"
	"time"
)

// ErrInvertedRange is returned for any interval whose end date precedes its
// start date.
var ErrInvertedRange = errors.New("end date before start date")

// DateInterval is an inclusive range of calendar days. Both bounds are
// normalized to UTC midnight; time-of-day never participates in comparisons.
type DateInterval struct {
	Start time.Time
	End   time.Time
}

// Day strips time-of-day, normalizing t to UTC midnight.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NewInterval normalizes both bounds to calendar days and rejects inverted
// ranges. A single day is the interval [d, d].
func NewInterval(rawStart, rawEnd time.Time) (DateInterval, error) {
	start, end := Day(rawStart), Day(rawEnd)
	if end.Before(start) {
		return DateInterval{}, ErrInvertedRange
	}
	return DateInterval{Start: start, End: end}, nil
}

// Overlaps reports whether the two closed intervals share at least one
// calendar day: a.Start <= b.End && b.Start <= a.End.
func (iv DateInterval) Overlaps(other DateInterval) bool {
	return !iv.Start.After(other.End) && !other.Start.After(iv.End)
}

// Contains reports whether date falls inside the closed interval.
func (iv DateInterval) Contains(date time.Time) bool {
	d := Day(date)
	return !d.Before(iv.Start) && !d.After(iv.End)
}

// DayCount is the number of calendar days covered, inclusive of both bounds.
// A one-night stay checking in and out on consecutive days counts 2.
func (iv DateInterval) DayCount() int {
	return int(iv.End.Sub(iv.Start)/(24*time.Hour)) + 1
}

// Merge sorts the intervals by start and collapses overlapping or
// day-adjacent neighbours (next.Start <= prev.End + 1 day) into the minimal
// covering set. Back-to-back ranges render as one blocked span even though
// they stay distinct records for conflict checks. The input is not modified;
// Merge(Merge(x)) == Merge(x).
func Merge(intervals []DateInterval) []DateInterval {
	if len(intervals) == 0 {
		return nil
	}

	sorted := make([]DateInterval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	merged := []DateInterval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &merged[len(merged)-1]
		if !iv.Start.After(last.End.AddDate(0, 0, 1)) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}
