package channels

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"channel_sync/models"
)

// dateExpr matches the date shapes channels print in confirmations:
// "Jun 1, 2024", "Saturday, June 1, 2024", "Sat, 1 Jun 2024", "06/01/2024", "2024-06-01".
const dateExpr = `((?:[A-Za-z]+,?[ \t]+)?(?:[A-Za-z]+\.?[ \t]+\d{1,2}|\d{1,2}[ \t]+[A-Za-z]+\.?),?[ \t]+\d{4}|\d{1,2}/\d{1,2}/\d{4}|\d{4}-\d{2}-\d{2}|\d{1,2}-\d{1,2}-\d{4})`

var (
	commonPrice = []string{
		`(?i)(?:total|amount|payout)[^\d\n]{0,24}?(\d[\d,.]*)`,
	}
	commonGuests = []string{
		`(?i)(\d+)[ \t]+(?:guests?|adults?|travell?ers?)\b`,
		`(?i)(?:guests?|travell?ers?|adults?)[ \t]*:?[ \t]+(\d+)\b`,
		`(?i)party size[ \t]*:?[ \t]+(\d+)`,
	}
	cancelPatterns = compileAll(
		`(?i)\b(?:reservation|booking)\b[^\n]{0,40}\bcancel(?:l)?ed\b`,
		`(?i)\bcancel(?:l)?ation (?:confirmed|notice)\b`,
	)
)

// fieldPatterns are tried per field in order; first match wins.
type fieldPatterns struct {
	confirmation []*regexp.Regexp
	guestName    []*regexp.Regexp
	checkIn      []*regexp.Regexp
	checkOut     []*regexp.Regexp
	dateRange    []*regexp.Regexp
	price        []*regexp.Regexp
	guests       []*regexp.Regexp
}

// vocabulary is the table-driven part shared by every adapter.
type vocabulary struct {
	id       models.ChannelID
	name     string
	senders  []*regexp.Regexp
	subjects []*regexp.Regexp
	fields   fieldPatterns
	search   EmailSearch
	scrape   *ScrapeProfile
}

func (v *vocabulary) ID() models.ChannelID { return v.id }

func (v *vocabulary) Name() string { return v.name }

func (v *vocabulary) EmailSearch() EmailSearch { return v.search }

func (v *vocabulary) ScrapeProfile() *ScrapeProfile { return v.scrape }

func (v *vocabulary) Identify(from, subject string) bool {
	return anyMatch(v.senders, from) && anyMatch(v.subjects, subject)
}

func (v *vocabulary) ExtractFields(body string) *Fields {
	body = NormalizeBody(body)

	code := firstMatch(v.fields.confirmation, body)
	if code == "" {
		return nil
	}

	f := &Fields{
		ConfirmationCode: strings.ToUpper(code),
		GuestName:        cleanName(firstMatch(v.fields.guestName, body)),
		CheckIn:          firstMatch(v.fields.checkIn, body),
		CheckOut:         firstMatch(v.fields.checkOut, body),
		TotalPrice:       firstMatch(v.fields.price, body),
		NumGuests:        firstMatch(v.fields.guests, body),
		Cancelled:        anyMatch(cancelPatterns, body),
	}

	if f.CheckIn == "" || f.CheckOut == "" {
		for _, re := range v.fields.dateRange {
			if m := re.FindStringSubmatch(body); len(m) > 2 {
				f.CheckIn, f.CheckOut = strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
				break
			}
		}
	}
	return f
}

// ParseScrapeResult parses reservation cards with the channel's selectors.
// Price, status and guest count are optional per card.
func (v *vocabulary) ParseScrapeResult(html string, ref time.Time) ([]models.CandidateBooking, error) {
	if v.scrape == nil {
		return nil, fmt.Errorf("%s: scraping not supported", v.name)
	}
	sel := v.scrape.Cards

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	var out []models.CandidateBooking
	doc.Find(sel.Card).Each(func(i int, card *goquery.Selection) {
		code := strings.ToUpper(fieldText(card, sel.Confirmation))
		guest := cleanName(fieldText(card, sel.GuestName))
		dates := fieldText(card, sel.Dates)

		checkIn, checkOut, err := ParseStayRange(dates, ref)
		if err != nil {
			checkIn, checkOut = time.Time{}, time.Time{}
		}

		c := models.CandidateBooking{
			ExternalID:   code,
			GuestName:    guest,
			CheckIn:      checkIn,
			CheckOut:     checkOut,
			TotalPrice:   ParsePrice(fieldText(card, sel.Price)),
			Status:       NormalizeStatus(fieldText(card, sel.Status)),
			Channel:      v.name,
			SourceMethod: models.MethodScrape,
		}
		if n, err := strconv.Atoi(strings.TrimSpace(priceRegex.FindString(fieldText(card, sel.GuestCount)))); err == nil && n > 0 {
			c.NumGuests = n
		}
		out = append(out, c)
	})

	return out, nil
}

func fieldText(card *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(spaceRegex.ReplaceAllString(card.Find(selector).First().Text(), " "))
}

func cleanName(s string) string {
	s = strings.TrimSpace(spaceRegex.ReplaceAllString(s, " "))
	return strings.Trim(s, " .,;:-")
}

// icalCandidate builds the dateless candidate an iCal event maps to.
func (v *vocabulary) icalCandidate(externalID, guest string, summary string) *models.CandidateBooking {
	status := models.BookingStatusConfirmed
	if strings.Contains(strings.ToLower(summary), "cancel") {
		status = models.BookingStatusCancelled
	}
	return &models.CandidateBooking{
		ExternalID:   strings.ToUpper(strings.TrimSpace(externalID)),
		GuestName:    cleanName(guest),
		Status:       status,
		Channel:      v.name,
		SourceMethod: models.MethodICal,
	}
}

var (
	blockedSummary = regexp.MustCompile(`(?i)not available|blocked|unavailable|closed to arrival|owner block`)
	guestFromDesc  = regexp.MustCompile(`(?i)guest(?:\s+name)?[ \t]*:[ \t]*([^\n]+)`)
)
