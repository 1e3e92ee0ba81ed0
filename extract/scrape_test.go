package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channel_sync/channels"
	"channel_sync/config"
	"channel_sync/models"
)

type fakePageSource struct {
	html    string
	err     error
	profile *channels.ScrapeProfile
	user    string
}

func (f *fakePageSource) Fetch(_ context.Context, profile *channels.ScrapeProfile, creds *models.LoginCredentials) (string, error) {
	f.profile = profile
	f.user = creds.Username
	return f.html, f.err
}

func scrapeConn() *models.ChannelConnection {
	return &models.ChannelConnection{
		ID:      5,
		Channel: models.ChannelAirbnb,
		Credentials: models.Credentials{
			Scrape: &models.LoginCredentials{Username: "host@example.com", Password: "pw"},
		},
	}
}

func TestScrapeExtractor_ParsesPage(t *testing.T) {
	page := `<html><body><div data-testid="reservations-list">
		<div data-testid="reservation-card">
			<span data-testid="guest-name">Jane Doe</span>
			<span data-testid="reservation-dates">Jun 1 – 5, 2024</span>
			<span data-testid="confirmation-code">HM1234ABCD</span>
			<span data-testid="reservation-status">Confirmed</span>
		</div>
		<div data-testid="reservation-card">
			<span data-testid="guest-name">Bob</span>
			<span data-testid="reservation-dates">Jul 3 – 7, 2024</span>
			<span data-testid="confirmation-code">HMBOB00001</span>
		</div>
	</div></body></html>`
	src := &fakePageSource{html: page}
	e := NewScrapeExtractor(src, config.ScrapeConfig{MaxCards: 1}, nil)
	adapter := channels.NewAirbnb(nil)

	res, err := e.Extract(context.Background(), scrapeConn(), adapter)
	require.NoError(t, err)
	require.True(t, res.Success)

	assert.Equal(t, adapter.ScrapeProfile(), src.profile)
	assert.Equal(t, "host@example.com", src.user)
	require.Len(t, res.Candidates, 1, "MaxCards caps the page")
	assert.Equal(t, "HM1234ABCD", res.Candidates[0].ExternalID)
	assert.Equal(t, date(2024, 6, 1), res.Candidates[0].CheckIn)
	assert.Equal(t, date(2024, 6, 5), res.Candidates[0].CheckOut)
	assert.Equal(t, models.MethodScrape, res.Candidates[0].SourceMethod)
}

func TestScrapeExtractor_LoginFailure(t *testing.T) {
	e := NewScrapeExtractor(&fakePageSource{err: ErrLoginFailed}, config.ScrapeConfig{}, nil)
	_, err := e.Extract(context.Background(), scrapeConn(), channels.NewAirbnb(nil))
	assert.True(t, errors.Is(err, ErrLoginFailed), "got %v", err)
}

func TestScrapeExtractor_Availability(t *testing.T) {
	e := NewScrapeExtractor(&fakePageSource{}, config.ScrapeConfig{}, nil)

	assert.True(t, e.Available(scrapeConn(), channels.NewAirbnb(nil)))
	assert.False(t, e.Available(&models.ChannelConnection{}, channels.NewAirbnb(nil)), "no credentials")
	assert.False(t, e.Available(scrapeConn(), channels.NewAgoda(nil)), "agoda has no scrape profile")
}
