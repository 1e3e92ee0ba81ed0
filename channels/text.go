package channels

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"channel_sync/models"
)

// dateLayouts are tried in order after commas and periods are stripped.
// Month-first numeric layouts win over day-first ones.
var dateLayouts = []string{
	"January 2 2006",
	"Jan 2 2006",
	"Monday January 2 2006",
	"Mon Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
	"Monday 2 January 2006",
	"Mon 2 Jan 2006",
	"1/2/2006",
	"2/1/2006",
	"2006-01-02",
	"1-2-2006",
	"2-1-2006",
}

var monthDayLayouts = []string{
	"Jan 2",
	"January 2",
	"Mon Jan 2",
	"2 Jan",
	"2 January",
	"Mon 2 Jan",
}

var (
	spaceRegex      = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	blankLinesRegex = regexp.MustCompile(`\s*\n\s*`)
	priceRegex      = regexp.MustCompile(`\d[\d.,]*`)
	rangeSepRegex   = regexp.MustCompile(`\s*(?:–|—|\s-\s|\bto\b)\s*`)
	dayOnlyRegex    = regexp.MustCompile(`^\d{1,2}(?:,?\s+\d{4})?$`)
	trailingYear    = regexp.MustCompile(`\b(\d{4})$`)
)

func cleanDate(s string) string {
	s = strings.NewReplacer(",", " ", ".", " ").Replace(s)
	return strings.TrimSpace(spaceRegex.ReplaceAllString(s, " "))
}

// ParseDate tries each accepted layout in order; the first that parses wins.
func ParseDate(s string) (time.Time, error) {
	cleaned := cleanDate(s)
	if cleaned == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, cleaned); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// ParseMonthDay parses a date printed without a year, taking the year from ref.
func ParseMonthDay(s string, ref time.Time) (time.Time, error) {
	if t, err := ParseDate(s); err == nil {
		return t, nil
	}
	cleaned := cleanDate(s)
	for _, layout := range monthDayLayouts {
		if t, err := time.Parse(layout, cleaned); err == nil {
			return time.Date(ref.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// HasYear reports whether s carries its own year.
func HasYear(s string) bool {
	_, err := ParseDate(s)
	return err == nil
}

// ResolveStay parses check-in and check-out printed separately. A date
// without a year borrows it from the other date when that one has a year,
// otherwise from ref. The borrowed side moves by one year when the stay
// would otherwise run backwards.
func ResolveStay(in, out string, ref time.Time) (time.Time, time.Time, error) {
	inYear, outYear := HasYear(in), HasYear(out)

	var checkIn, checkOut time.Time
	var err error
	switch {
	case outYear && !inYear:
		if checkOut, err = ParseDate(out); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("check-out: %w", err)
		}
		if checkIn, err = ParseMonthDay(in, checkOut); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("check-in: %w", err)
		}
		if checkIn.After(checkOut) {
			checkIn = checkIn.AddDate(-1, 0, 0)
		}
	default:
		if checkIn, err = ParseMonthDay(in, ref); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("check-in: %w", err)
		}
		if checkOut, err = ParseMonthDay(out, checkIn); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("check-out: %w", err)
		}
		if !outYear && !checkOut.After(checkIn) {
			checkOut = checkOut.AddDate(1, 0, 0)
		}
	}
	return checkIn, checkOut, nil
}

// ParseStayRange parses "Jun 1 - Jun 5", "Jun 1 – 5, 2024" or
// "01/06/2024 - 05/06/2024" into check-in and check-out dates.
func ParseStayRange(s string, ref time.Time) (time.Time, time.Time, error) {
	parts := rangeSepRegex.Split(strings.TrimSpace(s), 2)
	if len(parts) != 2 {
		return time.Time{}, time.Time{}, fmt.Errorf("not a date range %q", s)
	}
	first, second := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])

	secondYear := trailingYear.FindStringSubmatch(cleanDate(second))
	if secondYear != nil && trailingYear.FindString(cleanDate(first)) == "" {
		year, _ := strconv.Atoi(secondYear[1])
		ref = time.Date(year, ref.Month(), ref.Day(), 0, 0, 0, 0, time.UTC)
	}

	checkIn, err := ParseMonthDay(first, ref)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	var checkOut time.Time
	if dayOnlyRegex.MatchString(cleanDate(second)) {
		// "Jun 1 – 5": check-out shares the check-in month
		day, _ := strconv.Atoi(strings.Fields(cleanDate(second))[0])
		checkOut = time.Date(checkIn.Year(), checkIn.Month(), day, 0, 0, 0, 0, time.UTC)
	} else {
		checkOut, err = ParseMonthDay(second, ref)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}

	// "Dec 30 - Jan 2" crosses a year boundary
	firstYear := trailingYear.FindString(cleanDate(first)) != ""
	switch {
	case secondYear == nil && !checkOut.After(checkIn):
		checkOut = checkOut.AddDate(1, 0, 0)
	case secondYear != nil && !firstYear && checkIn.After(checkOut):
		checkIn = checkIn.AddDate(-1, 0, 0)
	}
	return checkIn, checkOut, nil
}

// ParsePrice reads "$1,234.50", "€ 1.234,50", "€ 1.234" or "540" as a decimal.
// Unparseable input yields zero.
func ParsePrice(s string) decimal.Decimal {
	raw := priceRegex.FindString(s)
	if raw == "" {
		return decimal.Zero
	}

	lastDot := strings.LastIndex(raw, ".")
	lastComma := strings.LastIndex(raw, ",")
	switch {
	case lastComma > lastDot && len(raw)-lastComma-1 <= 2:
		// decimal comma: 1.234,50
		raw = strings.ReplaceAll(raw, ".", "")
		raw = strings.Replace(raw, ",", ".", 1)
	case lastComma < 0 && strings.Count(raw, ".") > 1:
		// 1.234.567
		raw = strings.ReplaceAll(raw, ".", "")
	case lastComma < 0 && lastDot >= 0 && len(raw)-lastDot-1 == 3:
		// thousands dot: 1.234
		raw = strings.ReplaceAll(raw, ".", "")
	default:
		raw = strings.ReplaceAll(raw, ",", "")
	}
	raw = strings.TrimRight(raw, ".")

	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d.Round(2)
}

// NormalizeStatus maps channel vocabulary onto booking statuses.
func NormalizeStatus(s string) models.BookingStatus {
	v := strings.ToLower(strings.TrimSpace(s))
	switch {
	case v == "":
		return models.BookingStatusPending
	case strings.Contains(v, "cancel"), strings.Contains(v, "declin"),
		strings.Contains(v, "denied"), strings.Contains(v, "expired"):
		return models.BookingStatusCancelled
	case strings.Contains(v, "complet"), strings.Contains(v, "checked out"),
		strings.Contains(v, "checked_out"), v == "past":
		return models.BookingStatusCheckedOut
	case strings.Contains(v, "pending"), strings.Contains(v, "request"),
		strings.Contains(v, "inquiry"), strings.Contains(v, "awaiting"):
		return models.BookingStatusPending
	case strings.Contains(v, "accept"), strings.Contains(v, "confirm"),
		strings.Contains(v, "reserved"), strings.Contains(v, "booked"),
		strings.Contains(v, "upcoming"), strings.Contains(v, "current"):
		return models.BookingStatusConfirmed
	}
	return models.BookingStatusPending
}

// NormalizeBody collapses runs of spaces and blank lines but keeps single
// newlines, which the field patterns use as terminators.
func NormalizeBody(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = spaceRegex.ReplaceAllString(s, " ")
	s = blankLinesRegex.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}

func firstMatch(patterns []*regexp.Regexp, text string) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); len(m) > 1 {
			if v := strings.TrimSpace(m[1]); v != "" {
				return v
			}
		}
	}
	return ""
}

func anyMatch(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}
