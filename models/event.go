package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventBookingCreated EventType = "booking.created"
)

// BookingEvent is published when a sync creates a booking the ledger did
// not have before.
type BookingEvent struct {
	Type         EventType       `json:"type"`
	BookingID    int64           `json:"booking_id"`
	UserID       int64           `json:"user_id"`
	Channel      ChannelID       `json:"channel"`
	ExternalID   string          `json:"external_id"`
	GuestName    string          `json:"guest_name"`
	CheckIn      time.Time       `json:"check_in"`
	CheckOut     time.Time       `json:"check_out"`
	TotalPrice   decimal.Decimal `json:"total_price"`
	Status       BookingStatus   `json:"status"`
	SourceMethod SyncMethod      `json:"source_method"`
	At           time.Time       `json:"at"`
}
