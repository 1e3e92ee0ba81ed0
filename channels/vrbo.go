package channels

import (
	"regexp"

	"channel_sync/config"
	"channel_sync/models"
)

var (
	vrboICal          = regexp.MustCompile(`(?i)vrbo.*?(\d{7,})`)
	vrboReserved      = regexp.MustCompile(`(?i)^\s*reserved\s*-\s*(.+?)\s*$`)
	vrboReservationID = regexp.MustCompile(`(?i)reservation id[ \t]*:?[ \t]*([A-Z0-9-]{5,})`)
)

type VRBO struct {
	*vocabulary
}

func NewVRBO(cfg *config.ChannelConfig) *VRBO {
	name := "VRBO"
	if cfg != nil && cfg.Name != "" {
		name = cfg.Name
	}

	return &VRBO{vocabulary: &vocabulary{
		id:   models.ChannelVRBO,
		name: name,
		senders: compileAll(
			`(?i)@(?:[\w-]+\.)?vrbo\.com\b`,
			`(?i)@(?:[\w-]+\.)?homeaway\.com\b`,
		),
		subjects: compileAll(
			`(?i)new booking`,
			`(?i)reservation confirmed`,
			`(?i)you have a reservation`,
			`(?i)reservation cancel`,
		),
		fields: fieldPatterns{
			confirmation: compileAll(
				`(?i)itinerary(?: number)?[ \t]*:?[ \t]*(\d{7,12})\b`,
				`(?i)confirmation(?: number)?[ \t]*:?[ \t]*(\d{7,12})\b`,
				`(?i)reservation(?: id| number)?[ \t]*:?[ \t]*(\d{7,12})\b`,
				`(?i)\b(HA-[A-Z0-9]{6,10})\b`,
			),
			guestName: compileAll(
				`(?i)traveler(?: name)?[ \t]*:[ \t]*([^\n<]+)`,
				`(?im)^[ \t]*guest(?: name)?[ \t]*:[ \t]*([^\n<]+)`,
			),
			checkIn:  compileAll(`(?i)(?:check[- ]?in|arrive)[ \t]*:?[ \t]*` + dateExpr),
			checkOut: compileAll(`(?i)(?:check[- ]?out|depart)[ \t]*:?[ \t]*` + dateExpr),
			price: append(compileAll(
				`(?i)total rental amount[ \t]*:?[ \t]*[$€£]?[ \t]*(\d[\d,]*(?:\.\d{1,2})?)`,
			), compileAll(commonPrice...)...),
			guests: compileAll(append([]string{`(?i)(\d+)[ \t]+travell?ers?`}, commonGuests...)...),
		},
		search: EmailSearch{
			Senders:  []string{"vrbo.com", "homeaway.com"},
			Subjects: []string{"New booking", "Reservation confirmed", "You have a reservation"},
		},
		scrape: &ScrapeProfile{
			LoginURL:         cfg.Endpoint("login", "https://www.vrbo.com/login"),
			ReservationsURL:  cfg.Endpoint("reservations", "https://www.vrbo.com/p/reservations"),
			UsernameSelector: "input[type='email'], #loginFormEmailInput",
			PasswordSelector: "input[type='password'], #loginFormPasswordInput",
			SubmitSelector:   "button[type='submit']",
			ListSelector:     "[data-wdio='reservation-list'], .reservation-list",
			Cards: CardSelectors{
				Card:         "[data-wdio='reservation-card'], .reservation-card",
				GuestName:    ".guest-name",
				Dates:        ".reservation-dates",
				Confirmation: ".reservation-id",
				Price:        ".reservation-total",
				Status:       ".reservation-status",
				GuestCount:   ".guest-count",
			},
		},
	}}
}

// ParseICalEvent accepts "VRBO - 1234567" style summaries and
// "Reserved - Jane Doe" with the reservation id in the description.
func (v *VRBO) ParseICalEvent(summary, description string) *models.CandidateBooking {
	if blockedSummary.MatchString(summary) {
		return nil
	}
	guest := firstMatch([]*regexp.Regexp{guestFromDesc}, description)

	if m := vrboICal.FindStringSubmatch(summary); m != nil {
		if guest == "" {
			guest = v.name + " Guest"
		}
		return v.icalCandidate(m[1], guest, summary)
	}
	if m := vrboReserved.FindStringSubmatch(summary); m != nil {
		if guest == "" {
			guest = m[1]
		}
		id := firstMatch([]*regexp.Regexp{vrboReservationID}, description)
		return v.icalCandidate(id, guest, summary)
	}
	return nil
}
