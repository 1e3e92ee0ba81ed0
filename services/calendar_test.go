package services

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/shopspring/decimal"

	"channel_sync/models"
)

func TestWriteCalendar(t *testing.T) {
	bookings := []models.Booking{
		{
			ExternalBookingID: "HM1234ABCD",
			Channel:           models.ChannelAirbnb,
			GuestName:         "Jane Doe",
			CheckIn:           date(2024, 6, 1),
			CheckOut:          date(2024, 6, 5),
			NumGuests:         2,
			TotalPrice:        decimal.RequireFromString("540"),
			Status:            models.BookingStatusConfirmed,
		},
		{
			ExternalBookingID: "4012345678",
			Channel:           models.ChannelBooking,
			GuestName:         "Curie, Marie",
			CheckIn:           date(2024, 7, 1),
			CheckOut:          date(2024, 7, 3),
			Status:            models.BookingStatusCancelled,
		},
	}

	var buf bytes.Buffer
	if err := WriteCalendar(&buf, "Host calendar", bookings, time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"BEGIN:VCALENDAR\r\n",
		"DTSTAMP:20240501T080000Z\r\n",
		"DTSTART;VALUE=DATE:20240601\r\n",
		"DTEND;VALUE=DATE:20240605\r\n",
		"SUMMARY:RESERVED - Jane Doe\r\n",
		"STATUS:CONFIRMED\r\n",
		"SUMMARY:RESERVED - Curie\\, Marie\r\n",
		"STATUS:CANCELLED\r\n",
		"END:VCALENDAR\r\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("calendar missing %q:\n%s", want, out)
		}
	}

	cal, err := ical.NewDecoder(strings.NewReader(out)).Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	events := cal.Events()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	desc, _ := events[0].Props.Text(ical.PropDescription)
	if desc != "Channel: airbnb\nConfirmation: HM1234ABCD\nGuests: 2\nTotal: 540.00" {
		t.Errorf("description = %q", desc)
	}
	if uid, _ := events[1].Props.Text(ical.PropUID); uid != EventUID(&bookings[1]) {
		t.Errorf("uid = %q", uid)
	}
}

func TestEventUIDIsStable(t *testing.T) {
	a := &models.Booking{Channel: models.ChannelAirbnb, ExternalBookingID: "HM1"}
	b := &models.Booking{Channel: models.ChannelAirbnb, ExternalBookingID: "HM1", GuestName: "changed"}
	c := &models.Booking{Channel: models.ChannelVRBO, ExternalBookingID: "HM1"}

	if EventUID(a) != EventUID(b) {
		t.Errorf("uid should depend only on channel and external id")
	}
	if EventUID(a) == EventUID(c) {
		t.Errorf("uid should differ across channels")
	}
}

func TestWriteCalendar_MultiByteSummaryRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	bookings := []models.Booking{{
		ExternalBookingID: "X",
		Channel:           models.ChannelAirbnb,
		GuestName:         strings.Repeat("é", 60),
		CheckIn:           date(2024, 6, 1),
		CheckOut:          date(2024, 6, 2),
	}}
	if err := WriteCalendar(&buf, "", bookings, time.Now()); err != nil {
		t.Fatalf("write: %v", err)
	}
	cal, err := ical.NewDecoder(&buf).Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	summary, _ := cal.Events()[0].Props.Text(ical.PropSummary)
	if summary != "RESERVED - "+strings.Repeat("é", 60) {
		t.Errorf("summary = %q", summary)
	}
	start, err := cal.Events()[0].DateTimeStart(time.UTC)
	if err != nil || !start.Equal(date(2024, 6, 1)) {
		t.Errorf("start = %v, %v", start, err)
	}
}
