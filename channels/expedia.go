package channels

import (
	"regexp"

	"channel_sync/config"
	"channel_sync/models"
)

var expediaICal = regexp.MustCompile(`(?i)expedia.*?(\d{6,})`)

type Expedia struct {
	*vocabulary
}

func NewExpedia(cfg *config.ChannelConfig) *Expedia {
	name := "Expedia"
	if cfg != nil && cfg.Name != "" {
		name = cfg.Name
	}

	return &Expedia{vocabulary: &vocabulary{
		id:   models.ChannelExpedia,
		name: name,
		senders: compileAll(
			`(?i)@(?:[\w-]+\.)?expedia\.com\b`,
			`(?i)@(?:[\w-]+\.)?expediapartnercentral\.com\b`,
		),
		subjects: compileAll(
			`(?i)new (?:booking|reservation)`,
			`(?i)reservation confirmed`,
			`(?i)booking confirmation`,
			`(?i)cancel(?:l)?ed reservation|reservation cancel`,
		),
		fields: fieldPatterns{
			confirmation: compileAll(
				`(?i)itinerary(?: number| #)?[ \t]*:?[ \t]*(\d{6,15})\b`,
				`(?i)confirmation(?: number| #)?[ \t]*:?[ \t]*(\d{6,15})\b`,
				`(?i)reservation(?: id| number| #)?[ \t]*:?[ \t]*(\d{6,15})\b`,
			),
			guestName: compileAll(
				`(?i)guest name[ \t]*:?[ \t]*([^\n<]+)`,
				`(?i)(?:reserved|booked) by[ \t]*:?[ \t]*([^\n<]+)`,
			),
			checkIn:  compileAll(`(?i)check[- ]?in(?: date)?[ \t]*:?[ \t]*` + dateExpr),
			checkOut: compileAll(`(?i)check[- ]?out(?: date)?[ \t]*:?[ \t]*` + dateExpr),
			price:    compileAll(commonPrice...),
			guests:   compileAll(commonGuests...),
		},
		search: EmailSearch{
			Senders:  []string{"expedia.com", "expediapartnercentral.com"},
			Subjects: []string{"New reservation", "Reservation confirmed", "Booking confirmation"},
		},
		scrape: &ScrapeProfile{
			LoginURL:         cfg.Endpoint("login", "https://www.expediapartnercentral.com/Account/Logon"),
			ReservationsURL:  cfg.Endpoint("reservations", "https://apps.expediapartnercentral.com/lodging/bookings"),
			UsernameSelector: "input[name='username'], #emailControl",
			PasswordSelector: "input[name='password'], #passwordControl",
			SubmitSelector:   "button[type='submit']",
			ListSelector:     "table.bookings-table, [data-testid='bookings-table']",
			Cards: CardSelectors{
				Card:         "table.bookings-table tbody tr, [data-testid='booking-row']",
				GuestName:    ".guest-name",
				Dates:        ".stay-dates",
				Confirmation: ".reservation-id",
				Price:        ".booking-amount",
				Status:       ".booking-status",
			},
		},
	}}
}

func (e *Expedia) ParseICalEvent(summary, description string) *models.CandidateBooking {
	if blockedSummary.MatchString(summary) {
		return nil
	}
	m := expediaICal.FindStringSubmatch(summary)
	if m == nil {
		return nil
	}
	guest := firstMatch([]*regexp.Regexp{guestFromDesc}, description)
	if guest == "" {
		guest = e.name + " Guest"
	}
	return e.icalCandidate(m[1], guest, summary)
}
