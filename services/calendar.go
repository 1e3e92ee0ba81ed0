package services

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"channel_sync/models"
)

// calendarNamespace seeds the stable event UIDs of exported calendars.
var calendarNamespace = uuid.MustParse("6f1c9a52-3c1e-4c1b-9a57-0f4a8d2e7b10")

const prodID = "-//channel_sync//Booking Calendar 1.0//EN"

// EventUID is stable for a (channel, external id) pair so calendar clients
// update events in place across exports.
func EventUID(b *models.Booking) string {
	return uuid.NewSHA1(calendarNamespace, []byte(string(b.Channel)+":"+b.ExternalBookingID)).String() + "@channel-sync"
}

// WriteCalendar renders bookings as an RFC 5545 calendar with all-day events.
func WriteCalendar(w io.Writer, name string, bookings []models.Booking, now time.Time) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Props.SetText(ical.PropCalendarScale, "GREGORIAN")
	cal.Props.SetText(ical.PropMethod, "PUBLISH")
	if name != "" {
		cal.Props.SetText("X-WR-CALNAME", name)
	}

	stamp := now.UTC()
	for i := range bookings {
		b := &bookings[i]
		guest := b.GuestName
		if guest == "" {
			guest = "Guest"
		}

		ev := ical.NewEvent()
		ev.Props.SetText(ical.PropUID, EventUID(b))
		ev.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
		ev.Props.SetDate(ical.PropDateTimeStart, b.CheckIn)
		ev.Props.SetDate(ical.PropDateTimeEnd, b.CheckOut)
		ev.Props.SetText(ical.PropSummary, fmt.Sprintf("RESERVED - %s", guest))
		ev.Props.SetText(ical.PropDescription, fmt.Sprintf(
			"Channel: %s\nConfirmation: %s\nGuests: %d\nTotal: %s",
			b.Channel, b.ExternalBookingID, b.NumGuests, b.TotalPrice.StringFixed(2)))
		ev.Props.SetText(ical.PropStatus, eventStatus(b.Status))
		ev.Props.SetText(ical.PropTransparency, "OPAQUE")
		cal.Children = append(cal.Children, ev.Component)
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}
	return nil
}

func eventStatus(s models.BookingStatus) string {
	switch s {
	case models.BookingStatusConfirmed, models.BookingStatusCheckedOut:
		return "CONFIRMED"
	case models.BookingStatusCancelled:
		return "CANCELLED"
	default:
		return "TENTATIVE"
	}
}
