package channels

import (
	"net/url"
	"time"

	"channel_sync/models"
)

// Adapter holds everything platform-specific: how a channel writes its
// confirmation emails, calendar entries and reservation pages.
type Adapter interface {
	ID() models.ChannelID
	Name() string

	// Identify reports whether an email plausibly comes from this channel.
	// Both a sender pattern and a subject pattern must match.
	Identify(from, subject string) bool

	// ExtractFields applies the channel's field patterns to a plain-text body.
	// It returns nil when no confirmation code is found.
	ExtractFields(body string) *Fields

	// ParseICalEvent maps a VEVENT to a candidate without dates, or nil when
	// the entry is not a booking (blocked or unavailable dates).
	ParseICalEvent(summary, description string) *models.CandidateBooking

	// ParseScrapeResult maps a rendered reservations page to candidates.
	// ref supplies the year for dates printed without one.
	ParseScrapeResult(html string, ref time.Time) ([]models.CandidateBooking, error)

	// ScrapeProfile describes the login and reservations pages, or nil when
	// the channel cannot be scraped.
	ScrapeProfile() *ScrapeProfile

	EmailSearch() EmailSearch
}

// MobileAPIAdapter is implemented by channels with a reachable mobile API.
type MobileAPIAdapter interface {
	Adapter
	MobileAPI() MobileAPIProfile
	ParseMobileResponse(data []byte) ([]models.CandidateBooking, error)
}

// Fields are the raw strings pulled out of a confirmation email.
type Fields struct {
	ConfirmationCode string
	GuestName        string
	CheckIn          string
	CheckOut         string
	TotalPrice       string
	NumGuests        string
	Cancelled        bool
}

// EmailSearch is the IMAP filter set used to find a channel's confirmations.
type EmailSearch struct {
	Senders  []string
	Subjects []string
}

type ScrapeProfile struct {
	LoginURL         string
	ReservationsURL  string
	UsernameSelector string
	PasswordSelector string
	SubmitSelector   string
	ListSelector     string
	Cards            CardSelectors
}

// CardSelectors locate one reservation card and its fields on a scraped page.
type CardSelectors struct {
	Card         string
	GuestName    string
	Dates        string
	Confirmation string
	Price        string
	Status       string
	GuestCount   string
}

type MobileAPIProfile struct {
	BaseURL          string
	ReservationsPath string
	Query            url.Values
	Headers          map[string]string
	TokenHeader      string
}

// URL returns the reservations endpoint with its query string.
func (p MobileAPIProfile) URL() string {
	u := p.BaseURL + p.ReservationsPath
	if len(p.Query) > 0 {
		u += "?" + p.Query.Encode()
	}
	return u
}
