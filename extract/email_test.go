package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"channel_sync/channels"
	"channel_sync/config"
	"channel_sync/models"
)

type fakeMailbox struct {
	messages [][]byte
	err      error
	got      MailQuery
}

func (f *fakeMailbox) Fetch(_ context.Context, _ *models.IMAPCredentials, q MailQuery) ([][]byte, error) {
	f.got = q
	return f.messages, f.err
}

func emailConn() *models.ChannelConnection {
	return &models.ChannelConnection{
		ID:               3,
		Channel:          models.ChannelAirbnb,
		EmailSyncEnabled: true,
		Credentials: models.Credentials{
			IMAP: &models.IMAPCredentials{Host: "imap.example.com", Username: "host", Password: "pw"},
		},
	}
}

func TestParseMessage_PrefersPlainText(t *testing.T) {
	msg, err := ParseMessage(loadFixture(t, "airbnb_confirmation.eml"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.From != "automated@airbnb.com" {
		t.Errorf("expected sender address, got %q", msg.From)
	}
	if msg.Subject != "Reservation confirmed - John Smith arrives Jun 10" {
		t.Errorf("unexpected subject %q", msg.Subject)
	}
	if !msg.Date.Equal(time.Date(2024, 5, 20, 9, 12, 0, 0, time.UTC)) {
		t.Errorf("unexpected date %v", msg.Date)
	}
	if want := "Confirmation code: HMZZZZ9999"; !strings.Contains(msg.Body, want) {
		t.Errorf("body missing %q: %q", want, msg.Body)
	}
}

func TestParseMessage_StripsHTML(t *testing.T) {
	msg, err := ParseMessage(loadFixture(t, "airbnb_cancelled.eml"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if strings.Contains(msg.Body, "var x") || strings.Contains(msg.Body, "color: red") {
		t.Errorf("script or style leaked into body: %q", msg.Body)
	}
	if !strings.Contains(msg.Body, "Guest: John Smith\n") {
		t.Errorf("expected one line per paragraph, got %q", msg.Body)
	}
}

func TestEmailExtractor_Extract(t *testing.T) {
	mb := &fakeMailbox{messages: [][]byte{
		loadFixture(t, "airbnb_confirmation.eml"),
		loadFixture(t, "newsletter.eml"),
		loadFixture(t, "bad_dates.eml"),
		loadFixture(t, "airbnb_cancelled.eml"),
	}}
	now := time.Date(2024, 5, 25, 0, 0, 0, 0, time.UTC)
	e := NewEmailExtractor(mb, config.EmailConfig{Window: 30 * 24 * time.Hour, PageSize: 20}, nil)
	e.now = func() time.Time { return now }

	res, err := e.Extract(context.Background(), emailConn(), channels.NewAirbnb(nil))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if mb.got.Limit != 20 || !mb.got.Since.Equal(now.Add(-30*24*time.Hour)) {
		t.Errorf("unexpected query %+v", mb.got)
	}
	if len(mb.got.Senders) == 0 {
		t.Errorf("expected sender filters")
	}

	if len(res.Candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d: %+v", len(res.Candidates), res.Candidates)
	}

	// newest message first
	cancelled, confirmed := res.Candidates[0], res.Candidates[1]
	if cancelled.Status != models.BookingStatusCancelled {
		t.Errorf("expected cancellation first, got %s", cancelled.Status)
	}
	if confirmed.ExternalID != "HMZZZZ9999" || confirmed.GuestName != "John Smith" {
		t.Errorf("unexpected candidate %+v", confirmed)
	}
	if !confirmed.CheckIn.Equal(date(2024, 6, 10)) || !confirmed.CheckOut.Equal(date(2024, 6, 14)) {
		t.Errorf("unexpected dates %v - %v", confirmed.CheckIn, confirmed.CheckOut)
	}
	if !confirmed.TotalPrice.Equal(decimal.RequireFromString("540")) {
		t.Errorf("expected 540, got %s", confirmed.TotalPrice)
	}
	if confirmed.NumGuests != 2 || confirmed.SourceMethod != models.MethodEmail {
		t.Errorf("unexpected candidate %+v", confirmed)
	}
}

func TestEmailExtractor_NotConfigured(t *testing.T) {
	e := NewEmailExtractor(&fakeMailbox{}, config.EmailConfig{}, nil)
	conn := emailConn()
	conn.EmailSyncEnabled = false

	if e.Available(conn, channels.NewAirbnb(nil)) {
		t.Fatalf("disabled email sync should not be available")
	}
	if _, err := e.Extract(context.Background(), conn, channels.NewAirbnb(nil)); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}

	conn = emailConn()
	conn.Credentials.IMAP.Password = ""
	if e.Available(conn, channels.NewAirbnb(nil)) {
		t.Fatalf("missing password should not be available")
	}
}

func TestEmailExtractor_MailboxErrorPropagates(t *testing.T) {
	e := NewEmailExtractor(&fakeMailbox{err: ErrLoginFailed}, config.EmailConfig{Window: time.Hour, PageSize: 5}, nil)
	_, err := e.Extract(context.Background(), emailConn(), channels.NewAirbnb(nil))
	if !errors.Is(err, ErrLoginFailed) {
		t.Fatalf("expected ErrLoginFailed, got %v", err)
	}
}

func TestFieldsToCandidate_YearlessRollsOver(t *testing.T) {
	f := &channels.Fields{ConfirmationCode: "HMX", CheckIn: "Dec 30", CheckOut: "Jan 2"}
	c, err := FieldsToCandidate(f, channels.NewAirbnb(nil), date(2024, 12, 1))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if !c.CheckIn.Equal(date(2024, 12, 30)) || !c.CheckOut.Equal(date(2025, 1, 2)) {
		t.Errorf("unexpected dates %v - %v", c.CheckIn, c.CheckOut)
	}
	if c.NumGuests != 0 || c.Status != models.BookingStatusConfirmed {
		t.Errorf("expected unknown guest count and confirmed, got %+v", c)
	}
}

func TestFieldsToCandidate_CheckInBorrowsCheckOutYear(t *testing.T) {
	adapter := channels.NewAirbnb(nil)
	f := adapter.ExtractFields("Confirmation code: HMABCDEF12\nJun 1 – Jun 5, 2025\nTotal: $540.00")
	if f == nil {
		t.Fatal("expected fields")
	}
	c, err := FieldsToCandidate(f, adapter, date(2024, 12, 10))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if !c.CheckIn.Equal(date(2025, 6, 1)) || !c.CheckOut.Equal(date(2025, 6, 5)) {
		t.Errorf("unexpected dates %v - %v", c.CheckIn, c.CheckOut)
	}

	f = &channels.Fields{ConfirmationCode: "HMX", CheckIn: "Dec 30", CheckOut: "Jan 2, 2025"}
	c, err = FieldsToCandidate(f, adapter, date(2025, 1, 5))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if !c.CheckIn.Equal(date(2024, 12, 30)) || !c.CheckOut.Equal(date(2025, 1, 2)) {
		t.Errorf("expected check-in stepped back a year, got %v - %v", c.CheckIn, c.CheckOut)
	}
}
