package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/rs/zerolog/log"

	"channel_sync/channels"
	"channel_sync/metrics"
	"channel_sync/models"
	"channel_sync/storage"
)

const maxFeedSize = 8 * 1024 * 1024

// Event is one VEVENT from a feed. Start and End are zero when the
// DTSTART/DTEND value could not be parsed.
type Event struct {
	UID         string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	RawStart    string
	RawEnd      string
}

// ParseCalendar reads the VEVENT components of every calendar in r.
func ParseCalendar(r io.Reader) ([]Event, error) {
	var events []Event
	dec := ical.NewDecoder(r)
	for {
		cal, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading calendar: %w", err)
		}
		for _, ev := range cal.Events() {
			events = append(events, toEvent(ev))
		}
	}
}

func toEvent(ev ical.Event) Event {
	text := func(name string) string {
		v, _ := ev.Props.Text(name)
		return v
	}
	out := Event{
		UID:         strings.TrimSpace(text(ical.PropUID)),
		Summary:     strings.TrimSpace(text(ical.PropSummary)),
		Description: text(ical.PropDescription),
	}
	if p := ev.Props.Get(ical.PropDateTimeStart); p != nil {
		out.RawStart = p.Value
		out.Start = eventDate(p)
	}
	if p := ev.Props.Get(ical.PropDateTimeEnd); p != nil {
		out.RawEnd = p.Value
		out.End = eventDate(p)
	}
	return out
}

// eventDate returns the calendar date of p, read in its TZID zone, at
// UTC midnight.
func eventDate(p *ical.Prop) time.Time {
	t, err := p.DateTime(time.UTC)
	if err != nil {
		// Unknown TZID names and bare dates without VALUE=DATE.
		day, _, _ := strings.Cut(p.Value, "T")
		if t, err = time.Parse("20060102", day); err != nil {
			return time.Time{}
		}
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ====================
// Extractor
// ====================

type ICalExtractor struct {
	client   *http.Client
	cache    *FeedCache
	archiver storage.Archiver
	metrics  metrics.Recorder
}

func NewICalExtractor(client *http.Client, cache *FeedCache, archiver storage.Archiver, rec metrics.Recorder) *ICalExtractor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if archiver == nil {
		archiver = storage.NoopArchiver{}
	}
	if rec == nil {
		rec = metrics.Noop{}
	}
	return &ICalExtractor{client: client, cache: cache, archiver: archiver, metrics: rec}
}

func (e *ICalExtractor) Method() models.SyncMethod { return models.MethodICal }

func (e *ICalExtractor) Available(conn *models.ChannelConnection, _ channels.Adapter) bool {
	return conn.ICalURL != ""
}

func (e *ICalExtractor) Extract(ctx context.Context, conn *models.ChannelConnection, adapter channels.Adapter) (*Result, error) {
	if conn.ICalURL == "" {
		return nil, ErrNotConfigured
	}

	body, err := e.fetch(ctx, conn.ICalURL)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}

	if err := e.archiver.Archive(ctx, adapter.ID(), models.MethodICal, body); err != nil {
		log.Warn().Err(err).Str("channel", string(adapter.ID())).Msg("archive feed")
	}

	events, err := ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	return succeeded(EventsToCandidates(events, adapter)), nil
}

// EventsToCandidates routes each event through the adapter. Non-booking
// entries are skipped; bookings with bad dates are dropped with a warning.
func EventsToCandidates(events []Event, adapter channels.Adapter) []models.CandidateBooking {
	var out []models.CandidateBooking
	for _, ev := range events {
		c := adapter.ParseICalEvent(ev.Summary, ev.Description)
		if c == nil {
			continue
		}

		if ev.Start.IsZero() || ev.End.IsZero() || !ev.Start.Before(ev.End) {
			log.Warn().
				Str("channel", string(adapter.ID())).
				Str("uid", ev.UID).
				Str("dtstart", ev.RawStart).
				Str("dtend", ev.RawEnd).
				Msg("dropping calendar event with invalid dates")
			continue
		}

		c.CheckIn = ev.Start
		c.CheckOut = ev.End
		out = append(out, *c)
	}
	return out
}

func (e *ICalExtractor) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")

	cached, hit := e.cache.Get(url)
	if hit {
		if cached.ETag != "" {
			req.Header.Set("If-None-Match", cached.ETag)
		}
		if cached.LastModified != "" {
			req.Header.Set("If-Modified-Since", cached.LastModified)
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && hit {
		e.metrics.IncCacheHits()
		return cached.Body, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar returned status %d", resp.StatusCode)
	}
	e.metrics.IncCacheMisses()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	etag, lastModified := resp.Header.Get("ETag"), resp.Header.Get("Last-Modified")
	if etag != "" || lastModified != "" {
		e.cache.Set(url, &CachedFeed{ETag: etag, LastModified: lastModified, Body: body})
	}
	return body, nil
}
