package services

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channel_sync/identity"
	"channel_sync/models"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestMerge_HigherPriorityWinsLowerFills(t *testing.T) {
	email := models.CandidateBooking{
		ExternalID:   "HM1234ABCD",
		GuestName:    "J. Doe",
		GuestEmail:   "jane@example.com",
		CheckIn:      date(2024, 6, 1),
		CheckOut:     date(2024, 6, 5),
		NumGuests:    3,
		TotalPrice:   decimal.RequireFromString("500"),
		Status:       models.BookingStatusConfirmed,
		SourceMethod: models.MethodEmail,
	}
	mobile := models.CandidateBooking{
		ExternalID:   "HM1234ABCD",
		GuestName:    "Jane Doe",
		CheckIn:      date(2024, 6, 1),
		CheckOut:     date(2024, 6, 5),
		TotalPrice:   decimal.RequireFromString("540"),
		Status:       models.BookingStatusCancelled,
		SourceMethod: models.MethodMobileAPI,
	}

	got := Merge([]models.CandidateBooking{email, mobile})
	require.Len(t, got, 1)

	m := got[0]
	assert.Equal(t, models.MethodMobileAPI, m.SourceMethod)
	assert.Equal(t, "Jane Doe", m.GuestName)
	assert.Equal(t, "jane@example.com", m.GuestEmail, "email fills the missing address")
	assert.True(t, m.TotalPrice.Equal(decimal.RequireFromString("540")))
	assert.Equal(t, models.BookingStatusCancelled, m.Status)
	assert.Equal(t, 3, m.NumGuests, "unknown guest count is filled")
}

func TestMerge_ReportedGuestCountIsNeverOverwritten(t *testing.T) {
	mobile := models.CandidateBooking{
		ExternalID:   "HM1234ABCD",
		CheckIn:      date(2024, 6, 1),
		CheckOut:     date(2024, 6, 5),
		NumGuests:    1,
		SourceMethod: models.MethodMobileAPI,
	}
	email := mobile
	email.NumGuests = 4
	email.SourceMethod = models.MethodEmail

	got := Merge([]models.CandidateBooking{email, mobile})
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].NumGuests)
	assert.Equal(t, models.BookingStatusPending, got[0].Status, "defaults applied after merge")
}

func TestMerge_DefaultsGuestCountWhenNobodyReports(t *testing.T) {
	ical := models.CandidateBooking{
		ExternalID:   "HM1234ABCD",
		CheckIn:      date(2024, 6, 1),
		CheckOut:     date(2024, 6, 5),
		SourceMethod: models.MethodICal,
	}
	got := Merge([]models.CandidateBooking{ical})
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].NumGuests)
}

func TestMerge_KeepsFirstSeenOrderAndStableTies(t *testing.T) {
	a1 := models.CandidateBooking{ExternalID: "A", GuestName: "first", SourceMethod: models.MethodEmail}
	b := models.CandidateBooking{ExternalID: "B", SourceMethod: models.MethodEmail}
	a2 := models.CandidateBooking{ExternalID: "A", GuestName: "second", SourceMethod: models.MethodEmail}

	got := Merge([]models.CandidateBooking{a1, b, a2})
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].ExternalID)
	assert.Equal(t, "first", got[0].GuestName)
	assert.Equal(t, "B", got[1].ExternalID)
}

func TestMerge_SynthesizesFallbackKey(t *testing.T) {
	anon := models.CandidateBooking{
		GuestName:    "José Núñez",
		CheckIn:      date(2024, 6, 1),
		CheckOut:     date(2024, 6, 3),
		SourceMethod: models.MethodICal,
	}
	same := anon
	same.GuestName = "jose nunez"
	same.TotalPrice = decimal.RequireFromString("120")
	same.SourceMethod = models.MethodScrape

	got := Merge([]models.CandidateBooking{anon, same, {GuestName: "no dates"}})
	require.Len(t, got, 2)

	assert.True(t, identity.IsFallbackKey(got[0].ExternalID))
	assert.True(t, got[0].LowConfidence)
	assert.Equal(t, "José Núñez", got[0].GuestName)
	assert.True(t, got[0].TotalPrice.Equal(decimal.RequireFromString("120")))

	assert.Empty(t, got[1].ExternalID, "unkeyed record is passed through")
	assert.ErrorIs(t, Validate(&got[1]), ErrMissingExternalID)
}

func TestValidate(t *testing.T) {
	ok := models.CandidateBooking{ExternalID: "X", CheckIn: date(2024, 6, 1), CheckOut: date(2024, 6, 2)}
	require.NoError(t, Validate(&ok))

	inverted := ok
	inverted.CheckOut = ok.CheckIn
	assert.True(t, errors.Is(Validate(&inverted), ErrInvalidDates))

	noDates := models.CandidateBooking{ExternalID: "X"}
	assert.True(t, errors.Is(Validate(&noDates), ErrInvalidDates))

	badStatus := ok
	badStatus.Status = "lost"
	assert.Error(t, Validate(&badStatus))
}
