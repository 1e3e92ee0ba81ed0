package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"channel_sync/models"
)

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "jose nunez", NormalizeName("  José   Núñez "))
	assert.Equal(t, "o brien", NormalizeName("O'Brien"))
	assert.Equal(t, "", NormalizeName("   "))
}

func TestFallbackKey_StableAcrossFormatting(t *testing.T) {
	in := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	out := time.Date(2024, 6, 5, 0, 0, 0, 0, time.UTC)

	a := FallbackKey("Jane Doe", in, out)
	b := FallbackKey("  jane   DOE", in, out)
	c := FallbackKey("Jane Doe", in, out.AddDate(0, 0, 1))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, IsFallbackKey(a))
	assert.False(t, IsFallbackKey("HM1234ABCD"))
}

func TestGuestEmail(t *testing.T) {
	assert.Equal(t, "jane@example.com", GuestEmail(" Jane@Example.com ", "HM1", models.ChannelAirbnb))
	assert.Equal(t, "hm1234abcd@airbnb.com", GuestEmail("", "HM1234ABCD", models.ChannelAirbnb))
	assert.Equal(t, "1234567890@booking.com", GuestEmail("not-an-email", "1234567890", models.ChannelBooking))
	assert.Equal(t, "unknown@vrbo.com", GuestEmail("", "!!", models.ChannelVRBO))
}

func TestSplitName(t *testing.T) {
	first, last := SplitName("Jane Mary Doe")
	assert.Equal(t, "Jane", first)
	assert.Equal(t, "Mary Doe", last)

	first, last = SplitName("Cher")
	assert.Equal(t, "Cher", first)
	assert.Equal(t, "", last)
}
