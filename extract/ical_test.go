package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channel_sync/channels"
	"channel_sync/metrics"
	"channel_sync/models"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return data
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParseCalendar_UnfoldsAndUnescapes(t *testing.T) {
	events, err := ParseCalendar(strings.NewReader(string(loadFixture(t, "airbnb_feed.ics"))))
	require.NoError(t, err)
	require.Len(t, events, 7)

	assert.Equal(t, "Reserved - Jane Doe (HM1234ABCD)", events[0].Summary)
	assert.Equal(t, date(2024, 6, 1), events[0].Start)
	assert.Equal(t, date(2024, 6, 5), events[0].End)

	assert.Contains(t, events[1].Description, "reservations/details/HMABCDEF12\nPhone")
	assert.Equal(t, "Reserved - Mark Li, Jr. (HMQQQQ1111)", events[3].Summary)

	assert.True(t, events[4].Start.IsZero(), "2024-13-45 is not a date")
	assert.Equal(t, "2024-13-45", events[4].RawStart)
}

func TestParseCalendar_DateTimeValues(t *testing.T) {
	feed := "BEGIN:VCALENDAR\nBEGIN:VEVENT\nDTSTART:20240601T150000Z\nDTEND;TZID=Europe/Paris:20240605T110000\nSUMMARY:x\nEND:VEVENT\nEND:VCALENDAR\n"
	events, err := ParseCalendar(strings.NewReader(feed))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, date(2024, 6, 1), events[0].Start)
	assert.Equal(t, date(2024, 6, 5), events[0].End)
}

func TestParseCalendar_TZIDKeepsLocalDate(t *testing.T) {
	// 00:30 in Sydney is still the previous day in UTC.
	feed := "BEGIN:VCALENDAR\r\nBEGIN:VEVENT\r\nUID:a\r\n" +
		"DTSTART;TZID=Australia/Sydney:20240601T003000\r\n" +
		"DTEND;TZID=Not/AZone:20240605T100000\r\n" +
		"SUMMARY:x\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"
	events, err := ParseCalendar(strings.NewReader(feed))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, date(2024, 6, 1), events[0].Start)
	assert.Equal(t, date(2024, 6, 5), events[0].End, "unknown zones read as floating time")
}

func TestParseCalendar_MalformedFeed(t *testing.T) {
	_, err := ParseCalendar(strings.NewReader("BEGIN:VCALENDAR\nBEGIN:VEVENT\nthis is not a property\n"))
	assert.Error(t, err)

	events, err := ParseCalendar(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEventsToCandidates_SkipsBlockedAndBadDates(t *testing.T) {
	events, err := ParseCalendar(strings.NewReader(string(loadFixture(t, "airbnb_feed.ics"))))
	require.NoError(t, err)

	got := EventsToCandidates(events, channels.NewAirbnb(nil))
	require.Len(t, got, 5)

	jane := got[0]
	assert.Equal(t, "HM1234ABCD", jane.ExternalID)
	assert.Equal(t, "Jane Doe", jane.GuestName)
	assert.Equal(t, date(2024, 6, 1), jane.CheckIn)
	assert.Equal(t, date(2024, 6, 5), jane.CheckOut)
	assert.Equal(t, "Airbnb", jane.Channel)
	assert.Equal(t, models.BookingStatusConfirmed, jane.Status)
	assert.Equal(t, models.MethodICal, jane.SourceMethod)

	assert.Equal(t, "HMABCDEF12", got[1].ExternalID)
	for _, c := range got {
		assert.NotEqual(t, "HMBAD00000", c.ExternalID)
	}
}

func TestICalExtractor_ConditionalGet(t *testing.T) {
	feed := loadFixture(t, "airbnb_feed.ics")
	var full, notModified atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		full.Add(1)
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Type", "text/calendar")
		w.Write(feed)
	}))
	defer srv.Close()

	rec := metrics.NewPrometheus(prometheus.NewRegistry())
	e := NewICalExtractor(srv.Client(), NewFeedCache(4, 60), nil, rec)
	conn := &models.ChannelConnection{ID: 1, Channel: models.ChannelAirbnb, ICalURL: srv.URL + "/cal.ics"}
	adapter := channels.NewAirbnb(nil)

	for i := 0; i < 2; i++ {
		res, err := e.Extract(context.Background(), conn, adapter)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Len(t, res.Candidates, 5)
		assert.Nil(t, res.Commit)
	}
	assert.Equal(t, int32(1), full.Load())
	assert.Equal(t, int32(1), notModified.Load())
}

func TestICalExtractor_Non200IsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	e := NewICalExtractor(srv.Client(), nil, nil, nil)
	conn := &models.ChannelConnection{ICalURL: srv.URL}
	_, err := e.Extract(context.Background(), conn, channels.NewAirbnb(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestICalExtractor_Availability(t *testing.T) {
	e := NewICalExtractor(nil, nil, nil, nil)
	adapter := channels.NewAirbnb(nil)

	assert.False(t, e.Available(&models.ChannelConnection{}, adapter))
	assert.True(t, e.Available(&models.ChannelConnection{ICalURL: "https://x"}, adapter))

	_, err := e.Extract(context.Background(), &models.ChannelConnection{}, adapter)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestICalExtractor_HonoursContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	e := NewICalExtractor(srv.Client(), nil, nil, nil)
	_, err := e.Extract(ctx, &models.ChannelConnection{ICalURL: srv.URL}, channels.NewAirbnb(nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFeedCache_NilIsSafe(t *testing.T) {
	var c *FeedCache
	c.Set("u", &CachedFeed{Body: []byte("x")})
	_, ok := c.Get("u")
	assert.False(t, ok)

	c = NewFeedCache(4, 60)
	c.Set("u", &CachedFeed{ETag: "e", Body: []byte("BEGIN:VCALENDAR")})
	got, ok := c.Get("u")
	require.True(t, ok)
	assert.Equal(t, "e", got.ETag)
	assert.Equal(t, []byte("BEGIN:VCALENDAR"), got.Body)
}
