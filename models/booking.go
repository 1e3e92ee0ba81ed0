package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type BookingStatus string

const (
	BookingStatusPending    BookingStatus = "pending"
	BookingStatusConfirmed  BookingStatus = "confirmed"
	BookingStatusCancelled  BookingStatus = "cancelled"
	BookingStatusCheckedOut BookingStatus = "checked_out"
)

// Valid reports whether s is one of the statuses the booking store accepts.
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusCancelled, BookingStatusCheckedOut:
		return true
	}
	return false
}

// CandidateBooking is the canonical shape every extractor produces.
// It is not persisted; the booking service turns it into a Booking.
type CandidateBooking struct {
	ExternalID    string          `json:"external_id"`
	GuestName     string          `json:"guest_name"`
	GuestEmail    string          `json:"guest_email,omitempty"`
	CheckIn       time.Time       `json:"check_in"`
	CheckOut      time.Time       `json:"check_out"`
	NumGuests     int             `json:"num_guests"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	Status        BookingStatus   `json:"status"`
	Channel       string          `json:"channel"`
	SourceMethod  SyncMethod      `json:"source_method"`
	LowConfidence bool            `json:"low_confidence,omitempty"`
}

// Nights returns the length of stay, or 0 when the dates are missing or inverted.
func (c *CandidateBooking) Nights() int {
	if c.CheckIn.IsZero() || c.CheckOut.IsZero() || !c.CheckIn.Before(c.CheckOut) {
		return 0
	}
	return int(c.CheckOut.Sub(c.CheckIn).Hours() / 24)
}

// ApplyDefaults fills the fields that have a canonical default. Extractors
// leave NumGuests at zero when the source did not report it; defaults are
// applied once candidates are merged.
func (c *CandidateBooking) ApplyDefaults() {
	if c.NumGuests <= 0 {
		c.NumGuests = 1
	}
	if c.Status == "" {
		c.Status = BookingStatusPending
	}
}

type Guest struct {
	ID        int64     `json:"id" db:"id"`
	FirstName string    `json:"first_name" db:"first_name"`
	LastName  string    `json:"last_name" db:"last_name"`
	Email     string    `json:"email" db:"email"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// FullName joins first and last name.
func (g *Guest) FullName() string {
	if g.LastName == "" {
		return g.FirstName
	}
	return g.FirstName + " " + g.LastName
}

// Booking is the persisted record, unique on (ExternalBookingID, Channel).
type Booking struct {
	ID                int64           `json:"id" db:"id"`
	ExternalBookingID string          `json:"external_booking_id" db:"external_booking_id"`
	Channel           ChannelID       `json:"channel" db:"channel"`
	UserID            int64           `json:"user_id" db:"user_id"`
	PropertyID        *int64          `json:"property_id" db:"property_id"`
	GuestID           int64           `json:"guest_id" db:"guest_id"`
	GuestName         string          `json:"guest_name" db:"guest_name"`
	GuestEmail        string          `json:"guest_email" db:"guest_email"`
	CheckIn           time.Time       `json:"check_in" db:"check_in"`
	CheckOut          time.Time       `json:"check_out" db:"check_out"`
	NumGuests         int             `json:"num_guests" db:"num_guests"`
	TotalPrice        decimal.Decimal `json:"total_price" db:"total_price"`
	Status            BookingStatus   `json:"status" db:"status"`
	SourceMethod      SyncMethod      `json:"source_method" db:"source_method"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
	LastSyncedAt      time.Time       `json:"last_synced_at" db:"last_synced_at"`
}

// CapturedBooking is a raw payload posted by the browser extension,
// waiting to be consumed by the extension extractor.
type CapturedBooking struct {
	ID           int64      `json:"id" db:"id"`
	ConnectionID int64      `json:"connection_id" db:"connection_id"`
	Payload      []byte     `json:"payload" db:"payload"`
	CapturedAt   time.Time  `json:"captured_at" db:"captured_at"`
	ConsumedAt   *time.Time `json:"consumed_at" db:"consumed_at"`
}
