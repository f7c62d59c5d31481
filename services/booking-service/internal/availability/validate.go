package availability

import (
	"errors"
	"fmt"
	"time"
)

// ErrPastDate is returned when a requested range starts before today.
var ErrPastDate = errors.New("range starts in the past")

// ErrNotOwner is returned when a block request comes from someone other than
// the property owner.
var ErrNotOwner = errors.New("requester does not own the property")

// ConflictError reports that a proposed range overlaps an existing
// unavailability record. It carries the record so callers can tell the user
// which dates collided and why.
type ConflictError struct {
	Record Record
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("dates conflict with %s %s..%s",
		e.Record.Kind,
		e.Record.Interval.Start.Format("2006-01-02"),
		e.Record.Interval.End.Format("2006-01-02"))
}

// IsConflict reports whether err is a ConflictError. Storage maps a lost
// insert race (exclusion violation) to the same answer, so callers see one
// conflict vocabulary whether the collision was caught pre-flight or at
// commit.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// BookingRequest is a candidate guest booking, not yet persisted.
type BookingRequest struct {
	PropertyID  string
	Start       time.Time
	End         time.Time
	RequestedBy string
}

// BlockRequest is a candidate host block.
type BlockRequest struct {
	PropertyID  string
	Start       time.Time
	End         time.Time
	Reason      string
	RequestedBy string
}

// Acceptance is the positive validation result. DayCount is inclusive of both
// bounds; pricing (nightly price x DayCount) is the caller's concern.
type Acceptance struct {
	DayCount int
}

// ValidateBooking decides whether a guest booking request can proceed against
// the snapshot. It is pure: the single source of truth called on the
// optimistic request path and again inside the storage transaction.
//
// Rejections, in order checked: ErrInvertedRange, ErrPastDate, then
// *ConflictError for the first record whose interval overlaps the request.
// Both bookings and host blocks conflict with a new guest booking. The check
// runs over the unmerged record list so the returned conflict names a real
// record.
func ValidateBooking(ix *Index, req BookingRequest) (Acceptance, error) {
	iv, err := NewInterval(req.Start, req.End)
	if err != nil {
		return Acceptance{}, err
	}
	if iv.Start.Before(ix.Today()) {
		return Acceptance{}, ErrPastDate
	}
	for _, r := range ix.Records() {
		if iv.Overlaps(r.Interval) {
			return Acceptance{}, &ConflictError{Record: r}
		}
	}
	return Acceptance{DayCount: iv.DayCount()}, nil
}

// ValidateBlock decides whether a host may block the requested range.
// Non-owners are rejected outright. Blocks conflict only with booking-kind
// records: a host may not block dates a guest already holds, but re-blocking
// over an existing block is fine and is merged idempotently by storage.
// Blocks may also cover past dates; only guest bookings are forward-only.
func ValidateBlock(ix *Index, req BlockRequest, requesterIsOwner bool) (Acceptance, error) {
	if !requesterIsOwner {
		return Acceptance{}, ErrNotOwner
	}
	iv, err := NewInterval(req.Start, req.End)
	if err != nil {
		return Acceptance{}, err
	}
	for _, r := range ix.Records() {
		if r.Kind == KindBooking && iv.Overlaps(r.Interval) {
			return Acceptance{}, &ConflictError{Record: r}
		}
	}
	return Acceptance{DayCount: iv.DayCount()}, nil
}
