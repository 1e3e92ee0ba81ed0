package channels

import (
	"regexp"

	"channel_sync/config"
	"channel_sync/models"
)

var bookingComICal = regexp.MustCompile(`(?i)booking[ \t]*:[ \t]*(\d+)`)

type BookingCom struct {
	*vocabulary
}

func NewBookingCom(cfg *config.ChannelConfig) *BookingCom {
	name := "Booking.com"
	if cfg != nil && cfg.Name != "" {
		name = cfg.Name
	}

	return &BookingCom{vocabulary: &vocabulary{
		id:   models.ChannelBooking,
		name: name,
		senders: compileAll(
			`(?i)@(?:[\w-]+\.)?booking\.com\b`,
		),
		subjects: compileAll(
			`(?i)new booking`,
			`(?i)reservation confirmed`,
			`(?i)booking confirmation`,
			`(?i)cancel(?:l)?ation`,
		),
		fields: fieldPatterns{
			confirmation: compileAll(
				`(?i)booking\.com reservation number[ \t]*:?[ \t]*(\d{8,12})\b`,
				`(?i)reservation(?: number)?[ \t]*:?[ \t]*(\d{8,12})\b`,
				`(?i)booking(?: number| id)?[ \t]*:?[ \t]*(\d{8,12})\b`,
			),
			guestName: compileAll(
				`(?i)guest name[ \t]*:?[ \t]*([^\n<]+)`,
				`(?i)booked by[ \t]*:?[ \t]*([^\n<]+)`,
			),
			checkIn:   compileAll(`(?i)(?:arrival|check[- ]?in)[ \t]*:?[ \t]*` + dateExpr),
			checkOut:  compileAll(`(?i)(?:departure|check[- ]?out)[ \t]*:?[ \t]*` + dateExpr),
			dateRange: compileAll(`(\d{1,2}[ \t]+[A-Za-z]+\.?[ \t]+\d{4})[ \t]*[-–][ \t]*(\d{1,2}[ \t]+[A-Za-z]+\.?[ \t]+\d{4})`),
			price: append(compileAll(
				`(?i)total price[ \t]*:?[ \t]*(?:[A-Z]{3}|[$€£])?[ \t]*(\d[\d,.]*)`,
			), compileAll(commonPrice...)...),
			guests: compileAll(commonGuests...),
		},
		search: EmailSearch{
			Senders:  []string{"booking.com"},
			Subjects: []string{"New booking", "Booking confirmation", "Cancellation"},
		},
		scrape: &ScrapeProfile{
			LoginURL:         cfg.Endpoint("login", "https://account.booking.com/sign-in"),
			ReservationsURL:  cfg.Endpoint("reservations", "https://admin.booking.com/hotel/hoteladmin/extranet_ng/manage/search_reservations.html"),
			UsernameSelector: "input[name='loginname'], #loginname",
			PasswordSelector: "input[name='password'], #password",
			SubmitSelector:   "button[type='submit']",
			ListSelector:     "table.reservations-table, [data-test-id='reservation-row']",
			Cards: CardSelectors{
				Card:         "[data-test-id='reservation-row'], table.reservations-table tbody tr",
				GuestName:    "[data-test-id='guest-name'], .guest-name",
				Dates:        "[data-test-id='stay-dates'], .stay-dates",
				Confirmation: "[data-test-id='reservation-number'], .reservation-number",
				Price:        "[data-test-id='price'], .price",
				Status:       "[data-test-id='status'], .status",
				GuestCount:   "[data-test-id='guests'], .guests",
			},
		},
	}}
}

// ParseICalEvent reads "... Booking: 123456789". Booking.com feeds carry no
// guest name.
func (b *BookingCom) ParseICalEvent(summary, description string) *models.CandidateBooking {
	if blockedSummary.MatchString(summary) {
		return nil
	}
	m := bookingComICal.FindStringSubmatch(summary)
	if m == nil {
		return nil
	}
	guest := firstMatch([]*regexp.Regexp{guestFromDesc}, description)
	if guest == "" {
		guest = b.name + " Guest"
	}
	return b.icalCandidate(m[1], guest, summary)
}
