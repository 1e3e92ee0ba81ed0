package channels

import (
	"regexp"

	"channel_sync/config"
	"channel_sync/models"
)

var agodaICal = regexp.MustCompile(`(?i)agoda.*?(\d{6,})`)

// Agoda has no scrapeable host extranet; it syncs through iCal, email and
// the extension.
type Agoda struct {
	*vocabulary
}

func NewAgoda(cfg *config.ChannelConfig) *Agoda {
	name := "Agoda"
	if cfg != nil && cfg.Name != "" {
		name = cfg.Name
	}

	return &Agoda{vocabulary: &vocabulary{
		id:   models.ChannelAgoda,
		name: name,
		senders: compileAll(
			`(?i)@(?:[\w-]+\.)?agoda\.com\b`,
			`(?i)@(?:[\w-]+\.)?agoda-messaging\.com\b`,
		),
		subjects: compileAll(
			`(?i)new booking`,
			`(?i)booking confirm`,
			`(?i)booking id`,
			`(?i)cancel(?:l)?ation`,
		),
		fields: fieldPatterns{
			confirmation: compileAll(
				`(?i)booking id[ \t]*:?[ \t]*#?(\d{6,12})\b`,
				`(?i)booking (?:number|reference)[ \t]*:?[ \t]*#?(\d{6,12})\b`,
			),
			guestName: compileAll(
				`(?i)(?:customer|guest) name[ \t]*:?[ \t]*([^\n<]+)`,
				`(?im)^[ \t]*guest[ \t]*:[ \t]*([^\n<]+)`,
			),
			checkIn:  compileAll(`(?i)(?:check[- ]?in|arrival)(?: date)?[ \t]*:?[ \t]*` + dateExpr),
			checkOut: compileAll(`(?i)(?:check[- ]?out|departure)(?: date)?[ \t]*:?[ \t]*` + dateExpr),
			price: append(compileAll(
				`(?i)net rate[ \t]*:?[ \t]*(?:[A-Z]{3}|[$€£])?[ \t]*(\d[\d,.]*)`,
			), compileAll(commonPrice...)...),
			guests: compileAll(commonGuests...),
		},
		search: EmailSearch{
			Senders:  []string{"agoda.com", "agoda-messaging.com"},
			Subjects: []string{"Booking ID", "New booking", "Cancellation"},
		},
	}}
}

func (a *Agoda) ParseICalEvent(summary, description string) *models.CandidateBooking {
	if blockedSummary.MatchString(summary) {
		return nil
	}
	m := agodaICal.FindStringSubmatch(summary)
	if m == nil {
		return nil
	}
	guest := firstMatch([]*regexp.Regexp{guestFromDesc}, description)
	if guest == "" {
		guest = a.name + " Guest"
	}
	return a.icalCandidate(m[1], guest, summary)
}
