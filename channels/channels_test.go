package channels

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"channel_sync/config"
	"channel_sync/models"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	path := filepath.Join("testdata", name)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return data
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAirbnbParseICalEvent_Reserved(t *testing.T) {
	a := NewAirbnb(nil)

	c := a.ParseICalEvent("Reserved - Jane Doe (HM1234ABCD)", "")
	if c == nil {
		t.Fatalf("expected candidate")
	}
	if c.ExternalID != "HM1234ABCD" {
		t.Fatalf("expected HM1234ABCD, got %s", c.ExternalID)
	}
	if c.GuestName != "Jane Doe" {
		t.Fatalf("expected Jane Doe, got %q", c.GuestName)
	}
	if c.Channel != "Airbnb" {
		t.Fatalf("expected channel Airbnb, got %s", c.Channel)
	}
	if c.Status != models.BookingStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", c.Status)
	}
	if c.SourceMethod != models.MethodICal {
		t.Fatalf("expected ical source, got %s", c.SourceMethod)
	}
}

func TestAirbnbParseICalEvent_BareReservedUsesDescription(t *testing.T) {
	a := NewAirbnb(nil)

	desc := "Reservation URL: https://www.airbnb.com/hosting/reservations/details/HMABCDEF12\nPhone Number (Last 4 Digits): 1234"
	c := a.ParseICalEvent("Reserved", desc)
	if c == nil {
		t.Fatalf("expected candidate")
	}
	if c.ExternalID != "HMABCDEF12" {
		t.Fatalf("expected HMABCDEF12, got %s", c.ExternalID)
	}
	if c.GuestName != "Airbnb Guest" {
		t.Fatalf("expected placeholder guest, got %q", c.GuestName)
	}
}

func TestAirbnbParseICalEvent_BlockedIsNotBooking(t *testing.T) {
	a := NewAirbnb(nil)

	for _, summary := range []string{"Airbnb (Not available)", "Blocked", "Owner block"} {
		if c := a.ParseICalEvent(summary, ""); c != nil {
			t.Fatalf("expected nil for %q, got %+v", summary, c)
		}
	}
}

func TestAirbnbEmail_IdentifyAndExtract(t *testing.T) {
	a := NewAirbnb(nil)

	if !a.Identify("Airbnb <automated@airbnb.com>", "Your reservation confirmed") {
		t.Fatalf("expected airbnb email to be identified")
	}
	if a.Identify("someone@example.com", "Your reservation confirmed") {
		t.Fatalf("sender alone must match")
	}
	if a.Identify("automated@airbnb.com", "Weekly newsletter") {
		t.Fatalf("subject alone must match")
	}

	f := a.ExtractFields(string(loadFixture(t, "airbnb_confirmation.txt")))
	if f == nil {
		t.Fatalf("expected fields")
	}
	if f.ConfirmationCode != "HMZZZZ9999" {
		t.Fatalf("expected HMZZZZ9999, got %s", f.ConfirmationCode)
	}
	if f.GuestName != "John Smith" {
		t.Fatalf("expected John Smith, got %q", f.GuestName)
	}
	if f.CheckIn != "Jun 10, 2024" || f.CheckOut != "Jun 14, 2024" {
		t.Fatalf("unexpected dates %q / %q", f.CheckIn, f.CheckOut)
	}
	if f.NumGuests != "2" {
		t.Fatalf("expected 2 guests, got %q", f.NumGuests)
	}
	if !ParsePrice(f.TotalPrice).Equal(decimal.RequireFromString("540.00")) {
		t.Fatalf("expected 540.00, got %s", f.TotalPrice)
	}
	if f.Cancelled {
		t.Fatalf("confirmation must not be flagged cancelled")
	}
}

func TestAirbnbEmail_InlineBody(t *testing.T) {
	a := NewAirbnb(nil)

	f := a.ExtractFields("Confirmation code: HMZZZZ9999 ... Total: $540.00")
	if f == nil {
		t.Fatalf("expected fields")
	}
	if f.ConfirmationCode != "HMZZZZ9999" {
		t.Fatalf("expected HMZZZZ9999, got %s", f.ConfirmationCode)
	}
	if !ParsePrice(f.TotalPrice).Equal(decimal.RequireFromString("540")) {
		t.Fatalf("expected 540.00, got %s", f.TotalPrice)
	}
}

func TestExtractFields_NoCodeReturnsNil(t *testing.T) {
	a := NewAirbnb(nil)
	if f := a.ExtractFields("Thanks for hosting! Total: $12"); f != nil {
		t.Fatalf("expected nil without confirmation code, got %+v", f)
	}
}

func TestAirbnbParseScrapeResult(t *testing.T) {
	a := NewAirbnb(nil)
	ref := date(2024, time.June, 1)

	got, err := a.ParseScrapeResult(string(loadFixture(t, "airbnb_reservations.html")), ref)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 cards, got %d", len(got))
	}

	first := got[0]
	if first.ExternalID != "HM1234ABCD" || first.GuestName != "Jane Doe" {
		t.Fatalf("unexpected first card %+v", first)
	}
	if !first.CheckIn.Equal(date(2024, time.June, 1)) || !first.CheckOut.Equal(date(2024, time.June, 5)) {
		t.Fatalf("unexpected dates %s - %s", first.CheckIn, first.CheckOut)
	}
	if !first.TotalPrice.Equal(decimal.RequireFromString("1234.50")) {
		t.Fatalf("expected 1234.50, got %s", first.TotalPrice)
	}
	if first.NumGuests != 3 || first.Status != models.BookingStatusConfirmed {
		t.Fatalf("unexpected guests/status %d/%s", first.NumGuests, first.Status)
	}

	second := got[1]
	if second.GuestName != "Mark Li" {
		t.Fatalf("expected collapsed name, got %q", second.GuestName)
	}
	if !second.CheckIn.Equal(date(2024, time.December, 30)) || !second.CheckOut.Equal(date(2025, time.January, 2)) {
		t.Fatalf("expected year rollover, got %s - %s", second.CheckIn, second.CheckOut)
	}
	if !second.TotalPrice.IsZero() || second.Status != models.BookingStatusPending || second.NumGuests != 0 {
		t.Fatalf("expected defaults for missing fields, got %+v", second)
	}

	third := got[2]
	if !third.CheckIn.IsZero() || third.Status != models.BookingStatusCancelled {
		t.Fatalf("expected zero dates and cancelled, got %+v", third)
	}
}

func TestAirbnbParseMobileResponse(t *testing.T) {
	a := NewAirbnb(nil)

	got, err := a.ParseMobileResponse(loadFixture(t, "airbnb_mobile.json"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 reservations, got %d", len(got))
	}
	if got[0].ExternalID != "HMAPI00001" || got[0].GuestEmail != "ana@example.com" {
		t.Fatalf("unexpected first reservation %+v", got[0])
	}
	if !got[0].TotalPrice.Equal(decimal.RequireFromString("612.30")) {
		t.Fatalf("expected 612.30, got %s", got[0].TotalPrice)
	}
	if got[0].Status != models.BookingStatusConfirmed || got[0].NumGuests != 2 {
		t.Fatalf("unexpected status/guests %s/%d", got[0].Status, got[0].NumGuests)
	}
	if got[1].GuestName != "Tom Berg" || got[1].Status != models.BookingStatusCancelled || got[1].NumGuests != 0 {
		t.Fatalf("unexpected second reservation %+v", got[1])
	}
	if got[1].SourceMethod != models.MethodMobileAPI {
		t.Fatalf("expected mobile_api source, got %s", got[1].SourceMethod)
	}
}

func TestAirbnbMobileProfile_FromConfig(t *testing.T) {
	a := NewAirbnb(&config.ChannelConfig{
		Name:      "Airbnb",
		Endpoints: map[string]string{"mobile_api": "http://127.0.0.1:9999/v2/"},
		MobileAPI: config.MobileAPIConfig{APIKey: "k", Locale: "en-US", Currency: "EUR", PageSize: 10},
	})

	p := a.MobileAPI()
	if p.URL() != "http://127.0.0.1:9999/v2/reservations?_format=for_mobile_host&_limit=10&role=host" {
		t.Fatalf("unexpected url %s", p.URL())
	}
	if p.Headers["X-Airbnb-API-Key"] != "k" || p.Headers["X-Airbnb-Currency"] != "EUR" {
		t.Fatalf("unexpected headers %v", p.Headers)
	}
	if p.TokenHeader != "X-Airbnb-OAuth-Token" {
		t.Fatalf("unexpected token header %s", p.TokenHeader)
	}
}

func TestBookingCom_ICalAndEmail(t *testing.T) {
	b := NewBookingCom(nil)

	c := b.ParseICalEvent("CLOSED - Booking: 4012345678", "")
	if c == nil || c.ExternalID != "4012345678" {
		t.Fatalf("unexpected candidate %+v", c)
	}
	if c.GuestName != "Booking.com Guest" || c.Channel != "Booking.com" {
		t.Fatalf("unexpected guest/channel %q/%q", c.GuestName, c.Channel)
	}
	if b.ParseICalEvent("CLOSED - Not available", "") != nil {
		t.Fatalf("expected nil for blocked dates")
	}

	if !b.Identify("Booking.com <noreply@booking.com>", "New booking! (4012345678)") {
		t.Fatalf("expected booking.com email to be identified")
	}
	f := b.ExtractFields(string(loadFixture(t, "bookingcom_confirmation.txt")))
	if f == nil {
		t.Fatalf("expected fields")
	}
	if f.ConfirmationCode != "4012345678" || f.GuestName != "Marie Curie" {
		t.Fatalf("unexpected fields %+v", f)
	}
	in, err := ParseDate(f.CheckIn)
	if err != nil || !in.Equal(date(2024, time.June, 1)) {
		t.Fatalf("unexpected check-in %q: %v", f.CheckIn, err)
	}
	if !ParsePrice(f.TotalPrice).Equal(decimal.RequireFromString("1234.50")) {
		t.Fatalf("expected 1234.50, got %s", f.TotalPrice)
	}
}

func TestVRBO_ICal(t *testing.T) {
	v := NewVRBO(nil)

	c := v.ParseICalEvent("VRBO - 12345678", "")
	if c == nil || c.ExternalID != "12345678" {
		t.Fatalf("unexpected candidate %+v", c)
	}

	c = v.ParseICalEvent("Reserved - Sam Vo", "Reservation ID: HA-7XK2P9")
	if c == nil || c.ExternalID != "HA-7XK2P9" || c.GuestName != "Sam Vo" {
		t.Fatalf("unexpected candidate %+v", c)
	}
}

func TestExpediaAndAgoda_ICal(t *testing.T) {
	if c := NewExpedia(nil).ParseICalEvent("Expedia reservation 7654321", ""); c == nil || c.ExternalID != "7654321" {
		t.Fatalf("unexpected expedia candidate %+v", c)
	}
	if c := NewAgoda(nil).ParseICalEvent("Agoda booking 998877", "Guest: Kim Lee"); c == nil || c.GuestName != "Kim Lee" {
		t.Fatalf("unexpected agoda candidate %+v", c)
	}
	if NewAgoda(nil).ScrapeProfile() != nil {
		t.Fatalf("agoda has no scrape profile")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(nil)

	if len(r.All()) != 5 {
		t.Fatalf("expected 5 adapters, got %d", len(r.All()))
	}
	if _, err := r.Get("tripadvisor"); err == nil {
		t.Fatalf("expected error for unknown channel")
	}
	a, err := r.Get(models.ChannelAirbnb)
	if err != nil {
		t.Fatalf("get airbnb: %v", err)
	}
	if _, ok := a.(MobileAPIAdapter); !ok {
		t.Fatalf("airbnb should expose the mobile API")
	}
	if got := r.Identify("noreply@booking.com", "New booking"); got == nil || got.ID() != models.ChannelBooking {
		t.Fatalf("expected booking.com, got %v", got)
	}
	if r.Identify("friend@example.com", "hello") != nil {
		t.Fatalf("expected no adapter")
	}
}
