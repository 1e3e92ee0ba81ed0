package channels

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"channel_sync/config"
	"channel_sync/models"
)

var (
	airbnbReserved   = regexp.MustCompile(`(?i)^\s*reserved\s*-\s*(.*?)\s*\((HM[A-Z0-9]+)\)`)
	airbnbDetailsURL = regexp.MustCompile(`(?i)details/(HM[A-Z0-9]+)`)
	airbnbBareCode   = regexp.MustCompile(`(?i)^\s*reserved\s*$`)
)

type Airbnb struct {
	*vocabulary
	mobile MobileAPIProfile
}

func NewAirbnb(cfg *config.ChannelConfig) *Airbnb {
	name := "Airbnb"
	if cfg != nil && cfg.Name != "" {
		name = cfg.Name
	}

	a := &Airbnb{
		vocabulary: &vocabulary{
			id:   models.ChannelAirbnb,
			name: name,
			senders: compileAll(
				`(?i)automated@airbnb\.com`,
				`(?i)noreply@airbnb\.com`,
				`(?i)express@airbnb\.com`,
				`(?i)@(?:[\w-]+\.)?mail\.airbnb\.com`,
			),
			subjects: compileAll(
				`(?i)reservation confirmed`,
				`(?i)new booking`,
				`(?i)new reservation`,
				`(?i)booking confirmed`,
				`(?i)instant book`,
				`(?i)reservation (?:was )?cancel`,
			),
			fields: fieldPatterns{
				confirmation: compileAll(
					`(?i)confirmation code[ \t]*:?[ \t]*([A-Z0-9]{6,12})\b`,
					`(?i)reservation code[ \t]*:?[ \t]*([A-Z0-9]{6,12})\b`,
					`\b(HM[A-Z0-9]{8,12})\b`,
				),
				guestName: compileAll(
					`(?im)^[ \t]*guest(?: name)?[ \t]*:[ \t]*([^\n<]+)`,
					`(?i)\bbooked by[ \t]*:?[ \t]*([^\n<]+)`,
					`(?i)new booking from[ \t]+([^\n<!]+)`,
				),
				checkIn:   compileAll(`(?i)check[- ]?in[ \t]*:?[ \t]*` + dateExpr),
				checkOut:  compileAll(`(?i)check[- ]?out[ \t]*:?[ \t]*` + dateExpr),
				dateRange: compileAll(`([A-Za-z]+\.?[ \t]+\d{1,2})[ \t]*[-–][ \t]*([A-Za-z]+\.?[ \t]+\d{1,2},?[ \t]+\d{4})`),
				price: append(compileAll(
					`(?i)total[ \t]*(?:\([A-Z]{3}\))?[ \t]*:?[ \t]*[$€£]?[ \t]*(\d[\d,]*(?:\.\d{1,2})?)`,
					`(?i)you(?:'ll)? earn[ \t]*:?[ \t]*[$€£]?[ \t]*(\d[\d,]*(?:\.\d{1,2})?)`,
				), compileAll(commonPrice...)...),
				guests: compileAll(commonGuests...),
			},
			search: EmailSearch{
				Senders:  []string{"automated@airbnb.com", "noreply@airbnb.com", "express@airbnb.com"},
				Subjects: []string{"Reservation confirmed", "New booking", "Reservation cancelled"},
			},
			scrape: &ScrapeProfile{
				LoginURL:         cfg.Endpoint("login", "https://www.airbnb.com/login"),
				ReservationsURL:  cfg.Endpoint("reservations", "https://www.airbnb.com/hosting/reservations"),
				UsernameSelector: "input[name='email'], #email",
				PasswordSelector: "input[name='password'], #password",
				SubmitSelector:   "[data-testid='signup-login-submit-btn'], button[type='submit']",
				ListSelector:     "[data-testid='reservation-list'], [data-testid='reservation-item']",
				Cards: CardSelectors{
					Card:         "[data-testid='reservation-card'], [data-testid='reservation-item']",
					GuestName:    "[data-testid='guest-name']",
					Dates:        "[data-testid='reservation-dates']",
					Confirmation: "[data-testid='confirmation-code']",
					Price:        "[data-testid='reservation-price']",
					Status:       "[data-testid='reservation-status']",
					GuestCount:   "[data-testid='guest-count']",
				},
			},
		},
	}
	a.mobile = airbnbMobileProfile(cfg)
	return a
}

func airbnbMobileProfile(cfg *config.ChannelConfig) MobileAPIProfile {
	var mc config.MobileAPIConfig
	if cfg != nil {
		mc = cfg.MobileAPI
	}
	pageSize := mc.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	headers := map[string]string{"Accept": "application/json"}
	if mc.APIKey != "" {
		headers["X-Airbnb-API-Key"] = mc.APIKey
	}
	if mc.UserAgent != "" {
		headers["User-Agent"] = mc.UserAgent
	}
	if mc.Locale != "" {
		headers["X-Airbnb-Locale"] = mc.Locale
	}
	if mc.Currency != "" {
		headers["X-Airbnb-Currency"] = mc.Currency
	}

	return MobileAPIProfile{
		BaseURL:          strings.TrimRight(cfg.Endpoint("mobile_api", "https://api.airbnb.com/v2"), "/"),
		ReservationsPath: "/reservations",
		Query: url.Values{
			"_format": {"for_mobile_host"},
			"_limit":  {strconv.Itoa(pageSize)},
			"role":    {"host"},
		},
		Headers:     headers,
		TokenHeader: "X-Airbnb-OAuth-Token",
	}
}

func (a *Airbnb) MobileAPI() MobileAPIProfile { return a.mobile }

// ParseICalEvent reads "Reserved - Jane Doe (HM1234ABCD)". A bare
// "Reserved" summary takes its code from the reservation link in the
// description. Blocked dates yield nil.
func (a *Airbnb) ParseICalEvent(summary, description string) *models.CandidateBooking {
	if blockedSummary.MatchString(summary) {
		return nil
	}
	if m := airbnbReserved.FindStringSubmatch(summary); m != nil {
		return a.icalCandidate(m[2], m[1], summary)
	}
	if airbnbBareCode.MatchString(summary) {
		guest := firstMatch([]*regexp.Regexp{guestFromDesc}, description)
		if m := airbnbDetailsURL.FindStringSubmatch(description); m != nil {
			if guest == "" {
				guest = a.name + " Guest"
			}
			return a.icalCandidate(m[1], guest, summary)
		}
		// reserved but anonymous: caller synthesizes a key from guest and dates
		if guest != "" {
			return a.icalCandidate("", guest, summary)
		}
	}
	return nil
}

type airbnbReservations struct {
	Reservations []struct {
		ConfirmationCode string `json:"confirmation_code"`
		Guest            struct {
			FullName  string `json:"full_name"`
			FirstName string `json:"first_name"`
			LastName  string `json:"last_name"`
			Email     string `json:"email"`
		} `json:"guest"`
		StartDate  string `json:"start_date"`
		EndDate    string `json:"end_date"`
		TotalPrice struct {
			Amount json.Number `json:"amount"`
		} `json:"total_price"`
		Status         string `json:"status"`
		NumberOfGuests int    `json:"number_of_guests"`
	} `json:"reservations"`
}

// ParseMobileResponse maps the host reservations payload to candidates.
// Entries without a confirmation code or with unreadable dates are skipped.
func (a *Airbnb) ParseMobileResponse(data []byte) ([]models.CandidateBooking, error) {
	var resp airbnbReservations
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode reservations: %w", err)
	}

	out := make([]models.CandidateBooking, 0, len(resp.Reservations))
	for _, r := range resp.Reservations {
		if r.ConfirmationCode == "" {
			continue
		}
		checkIn, err := ParseDate(r.StartDate)
		if err != nil {
			continue
		}
		checkOut, err := ParseDate(r.EndDate)
		if err != nil {
			continue
		}

		guest := r.Guest.FullName
		if guest == "" {
			guest = strings.TrimSpace(r.Guest.FirstName + " " + r.Guest.LastName)
		}

		price := decimal.Zero
		if r.TotalPrice.Amount != "" {
			if d, err := decimal.NewFromString(r.TotalPrice.Amount.String()); err == nil {
				price = d.Round(2)
			}
		}

		c := models.CandidateBooking{
			ExternalID:   strings.ToUpper(r.ConfirmationCode),
			GuestName:    cleanName(guest),
			GuestEmail:   r.Guest.Email,
			CheckIn:      checkIn,
			CheckOut:     checkOut,
			NumGuests:    r.NumberOfGuests,
			TotalPrice:   price,
			Status:       NormalizeStatus(r.Status),
			Channel:      a.name,
			SourceMethod: models.MethodMobileAPI,
		}
		out = append(out, c)
	}
	return out, nil
}
