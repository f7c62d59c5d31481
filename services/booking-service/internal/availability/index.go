package availability

import (
	"fmt"
	"sort"
	"time"
)

// Kind distinguishes why a date range is unavailable.
type Kind string

const (
	// KindBooking marks a range held by a live guest booking.
	KindBooking Kind = "booking"
	// KindBlocked marks a range the host manually removed from availability.
	KindBlocked Kind = "blocked"
	// KindAvailable is the Classify result for a date covered by no record.
	KindAvailable Kind = "available"
)

// Record is one unavailability entry for a property.
type Record struct {
	ID       string
	Interval DateInterval
	Kind     Kind
	Reason   string
}

// Index is an immutable per-property snapshot of unavailability records,
// sorted by start date. It carries the "today" it was built against so every
// derived answer is consistent with one clock reading. Safe for concurrent
// use.
type Index struct {
	today   time.Time
	records []Record
}

// BuildIndex normalizes and sorts the records into a snapshot. Records whose
// interval ends strictly before today are dropped: past stays do not affect
// future availability (historical displays query raw rows, not the index).
// Any malformed record interval fails the whole build.
func BuildIndex(records []Record, today time.Time) (*Index, error) {
	day := Day(today)

	kept := make([]Record, 0, len(records))
	for _, r := range records {
		iv, err := NewInterval(r.Interval.Start, r.Interval.End)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", r.ID, err)
		}
		if iv.End.Before(day) {
			continue
		}
		r.Interval = iv
		kept = append(kept, r)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Interval.Start.Before(kept[j].Interval.Start)
	})

	return &Index{today: day, records: kept}, nil
}

// Today returns the normalized day the snapshot was built against.
func (ix *Index) Today() time.Time { return ix.today }

// Records returns the unmerged record list in start order. Callers must not
// modify the returned slice.
func (ix *Index) Records() []Record { return ix.records }

// IsDateUnavailable reports whether date cannot be booked: any day strictly
// before today is always unavailable, otherwise the date must fall outside
// every record interval.
func (ix *Index) IsDateUnavailable(date time.Time) bool {
	d := Day(date)
	if d.Before(ix.today) {
		return true
	}
	for _, r := range ix.records {
		if r.Interval.Contains(d) {
			return true
		}
	}
	return false
}

// Classify returns why a date is unavailable, or KindAvailable. When both a
// booking and a block cover the same day the booking wins: confirmed revenue
// is never overridden by a later manual block.
func (ix *Index) Classify(date time.Time) Kind {
	d := Day(date)
	found := KindAvailable
	for _, r := range ix.records {
		if !r.Interval.Contains(d) {
			continue
		}
		if r.Kind == KindBooking {
			return KindBooking
		}
		if found == KindAvailable {
			found = r.Kind
		}
	}
	return found
}

// UnavailableRanges returns the merged covering set of all record intervals,
// for calendar shading. Conflict checks use Records instead; merging would
// erase which record a proposed range collides with.
func (ix *Index) UnavailableRanges() []DateInterval {
	ivs := make([]DateInterval, len(ix.records))
	for i, r := range ix.records {
		ivs[i] = r.Interval
	}
	return Merge(ivs)
}
