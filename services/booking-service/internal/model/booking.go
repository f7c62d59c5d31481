package model

import "time"

const (
	BookingStatusPending   = "pending"
	BookingStatusConfirmed = "confirmed"
	BookingStatusCompleted = "completed"
	BookingStatusCancelled = "cancelled"
)

type Booking struct {
	ID               string
	PropertyID       string
	GuestID          string
	CheckIn          time.Time
	CheckOut         time.Time
	Guests           int
	Status           string
	TotalAmountCents int64
	Currency         string
	HoldExpiresAt    *time.Time
	CancelledAt      *time.Time
	CancelReason     string
	CreatedAt        time.Time
}

// Live reports whether the booking still holds its dates against other
// bookings. Matches the partial exclusion constraint on the bookings table.
func (b Booking) Live() bool {
	return b.Status == BookingStatusPending || b.Status == BookingStatusConfirmed || b.Status == BookingStatusCompleted
}

type Block struct {
	ID         string
	PropertyID string
	HostID     string
	StartDate  time.Time
	EndDate    time.Time
	Reason     string
	CreatedAt  time.Time
}

// Property is the local read model fed by property.upserted.v1 events.
type Property struct {
	PropertyID        string
	OwnerID           string
	NightlyPriceCents int64
	Currency          string
	MaxGuests         int
	IsActive          bool
	UpdatedAt         time.Time
}
